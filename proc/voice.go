package proc

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/cadence/sys"
)

var (
	musicMu sync.Mutex
	music   *Music
)

func init() {
	astiav.SetLogLevel(astiav.LogLevelFatal)

	sys.OnClientReady(func(ctx context.Context, client *bot.Client) {
		if SetupMusic(ctx, client) {
			sys.RegisterDaemon(sys.LogMusic, startMusicDaemon)
		}
	})
	sys.RegisterVoiceStateUpdateHandler(func(event *events.GuildVoiceStateUpdate) {
		if m := GetMusic(); m != nil {
			m.OnVoiceStateUpdate(event)
		}
	})
}

// SetupMusic builds the process-wide music manager on first call and reports whether it did.
func SetupMusic(ctx context.Context, client *bot.Client) bool {
	musicMu.Lock()
	defer musicMu.Unlock()
	if music != nil {
		return false
	}
	dir := sys.DefaultDownloadDir
	if sys.GlobalConfig != nil && sys.GlobalConfig.DownloadDir != "" {
		dir = sys.GlobalConfig.DownloadDir
	}
	music = NewMusic(ctx, MusicConfig{
		Resolver:    NewResolver(),
		Downloader:  YTDLPDownloader{},
		Notifier:    RestNotifier{Client: client},
		NewPlayer:   NewVoicePlayerFactory(client),
		DownloadDir: dir,
	})
	sys.LogVoice(sys.MsgVoiceFFmpegLogLevel)
	return true
}

// GetMusic returns the music manager, or nil before the client is ready.
func GetMusic() *Music {
	musicMu.Lock()
	defer musicMu.Unlock()
	return music
}

// startMusicDaemon clears leftovers of a previous run and disconnects every session on shutdown.
func startMusicDaemon(ctx context.Context) (bool, func(), func()) {
	m := GetMusic()
	if m == nil {
		return false, nil, nil
	}
	run := func() {
		m.ClearDownloads()
		<-ctx.Done()
	}
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(shutdownCtx)
	}
	return true, run, shutdown
}

const (
	opusSampleRate = 48000
	// 20ms of 48kHz audio
	opusFrameSamples = 960
	frameBuffer      = 100
)

// VoicePlayer streams local audio files into a disgo voice connection.
type VoicePlayer struct {
	GuildID snowflake.ID
	conn    voice.Conn

	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
}

// NewVoicePlayerFactory builds players on the client's voice manager.
func NewVoicePlayerFactory(client *bot.Client) func(guildID snowflake.ID) Player {
	return func(guildID snowflake.ID) Player {
		p := &VoicePlayer{GuildID: guildID, conn: client.VoiceManager.CreateConn(guildID)}
		p.cond = sync.NewCond(&p.mu)
		return p
	}
}

func (p *VoicePlayer) Open(ctx context.Context, channelID snowflake.ID) error {
	return p.conn.Open(ctx, channelID, false, false)
}

func (p *VoicePlayer) Close(ctx context.Context) {
	p.SetPaused(false)
	p.setProvider(nil)
	p.conn.Close(ctx)
	sys.LogVoice(sys.MsgVoiceLeft, p.GuildID)
}

func (p *VoicePlayer) SetPaused(paused bool) {
	p.mu.Lock()
	p.paused = paused
	p.cond.Broadcast()
	p.mu.Unlock()
}

// waitUnpaused blocks while paused. It returns false if ctx ends first.
func (p *VoicePlayer) waitUnpaused(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.paused && ctx.Err() == nil {
		p.cond.Wait()
	}
	return ctx.Err() == nil
}

func (p *VoicePlayer) Stream(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	provider := newStreamProvider(ctx, p)
	transcoded := make(chan error, 1)
	go func() {
		defer provider.push(nil)
		transcoded <- transcodeFile(ctx, path, provider.push)
	}()

	p.setProvider(provider)
	if err := p.conn.SetSpeaking(ctx, voice.SpeakingFlagMicrophone); err != nil {
		sys.LogVoice(sys.MsgVoiceSpeakingFail, err)
	}
	defer func() {
		p.setProvider(nil)
		_ = p.conn.SetSpeaking(context.Background(), 0)
	}()

	// The transcoder finishes ahead of playback; the provider ends once the last frame was sent.
	var err error
	pending := transcoded
	for {
		select {
		case <-provider.finished:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case err = <-pending:
			pending = nil
			if err != nil {
				sys.LogVoice(sys.MsgVoiceTranscodeFail, path, err)
				return err
			}
		}
	}
}

// setProvider swaps the frame provider, recovering from panics on a closed connection.
func (p *VoicePlayer) setProvider(provider voice.OpusFrameProvider) {
	defer func() {
		if r := recover(); r != nil {
			sys.LogVoice(sys.MsgLoaderPanicRecovered, r)
		}
	}()
	p.conn.SetOpusFrameProvider(provider)
}

// streamProvider hands transcoded opus frames to the voice connection.
type streamProvider struct {
	ctx      context.Context
	player   *VoicePlayer
	frames   chan []byte
	finished chan struct{}
	once     sync.Once
}

func newStreamProvider(ctx context.Context, player *VoicePlayer) *streamProvider {
	return &streamProvider{
		ctx:      ctx,
		player:   player,
		frames:   make(chan []byte, frameBuffer),
		finished: make(chan struct{}),
	}
}

func (sp *streamProvider) push(frame []byte) {
	select {
	case sp.frames <- frame:
	case <-sp.finished:
	case <-sp.ctx.Done():
	}
}

func (sp *streamProvider) ProvideOpusFrame() ([]byte, error) {
	if !sp.player.waitUnpaused(sp.ctx) {
		sp.Close()
		return nil, io.EOF
	}
	select {
	case f := <-sp.frames:
		if f == nil {
			sp.Close()
			return nil, io.EOF
		}
		return f, nil
	case <-sp.ctx.Done():
		sp.Close()
		return nil, io.EOF
	case <-time.After(100 * time.Millisecond):
		return nil, nil // Silence
	}
}

func (sp *streamProvider) Close() {
	sp.once.Do(func() { close(sp.finished) })
}

// --- Transcoding ---

func transcodeFile(ctx context.Context, path string, on func([]byte)) error {
	t := newOpusTranscoder()
	defer t.Close()
	if err := t.OpenInput(path); err != nil {
		return err
	}
	if err := t.SetupDecoder(); err != nil {
		return err
	}
	if err := t.SetupEncoder(); err != nil {
		return err
	}
	return t.Transcode(ctx, on)
}

// opusTranscoder decodes any audio file and re-encodes it as 48kHz stereo opus in 20ms frames.
type opusTranscoder struct {
	inputCtx               *astiav.FormatContext
	decoderCtx, encoderCtx *astiav.CodecContext
	audioStreamIndex       int
	packet                 *astiav.Packet
	frame                  *astiav.Frame
	resampleCtx            *astiav.SoftwareResampleContext
	resampleFrame          *astiav.Frame
	fifo                   *astiav.AudioFifo
	onFrame                func([]byte)
	pts                    int64
}

func newOpusTranscoder() *opusTranscoder {
	return &opusTranscoder{packet: astiav.AllocPacket(), frame: astiav.AllocFrame(), resampleFrame: astiav.AllocFrame()}
}

func (t *opusTranscoder) OpenInput(path string) error {
	t.inputCtx = astiav.AllocFormatContext()
	if t.inputCtx == nil {
		return errors.New("failed to alloc format context")
	}
	if err := t.inputCtx.OpenInput(path, nil, nil); err != nil {
		return err
	}
	if err := t.inputCtx.FindStreamInfo(nil); err != nil {
		return err
	}
	t.audioStreamIndex = -1
	for _, s := range t.inputCtx.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.audioStreamIndex = s.Index()
			break
		}
	}
	if t.audioStreamIndex == -1 {
		return errors.New(sys.ErrVoiceNoAudioStream)
	}
	return nil
}

func (t *opusTranscoder) SetupDecoder() error {
	p := t.inputCtx.Streams()[t.audioStreamIndex].CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return errors.New("no decoder")
	}
	t.decoderCtx = astiav.AllocCodecContext(d)
	_ = p.ToCodecContext(t.decoderCtx)
	return t.decoderCtx.Open(d, nil)
}

func (t *opusTranscoder) SetupEncoder() error {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return errors.New(sys.ErrVoiceEncoderNotFound)
	}
	t.encoderCtx = astiav.AllocCodecContext(e)
	t.encoderCtx.SetBitRate(128000)
	t.encoderCtx.SetSampleRate(opusSampleRate)
	t.encoderCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoderCtx.SetSampleFormat(astiav.SampleFormatS16)
	t.encoderCtx.SetTimeBase(astiav.NewRational(1, opusSampleRate))
	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("frame_size", "20", 0)
	if err := t.encoderCtx.Open(e, o); err != nil {
		return err
	}
	// Configured lazily by ConvertFrame from the first decoded frame.
	t.resampleCtx = astiav.AllocSoftwareResampleContext()
	if t.resampleCtx == nil {
		return errors.New("failed to allocate resampler")
	}
	return nil
}

func (t *opusTranscoder) Transcode(ctx context.Context, on func([]byte)) error {
	defer t.packet.Unref()
	t.onFrame = on
	t.fifo = astiav.AllocAudioFifo(t.encoderCtx.SampleFormat(), t.encoderCtx.ChannelLayout().Channels(), opusFrameSamples*2)
	defer func() {
		t.fifo.Free()
		t.fifo = nil
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.inputCtx.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return err
		}
		if t.packet.StreamIndex() != t.audioStreamIndex {
			t.packet.Unref()
			continue
		}
		if err := t.decoderCtx.SendPacket(t.packet); err != nil {
			t.packet.Unref()
			return err
		}
		t.packet.Unref()
		t.receiveFrames()
		t.drainFifo(opusFrameSamples)
	}

	// Flush decoder, then the remaining partial frame, then the encoder.
	_ = t.decoderCtx.SendPacket(nil)
	t.receiveFrames()
	t.drainFifo(1)

	_ = t.encoderCtx.SendFrame(nil)
	t.receivePackets()
	return nil
}

// receiveFrames resamples every available decoded frame into the fifo.
func (t *opusTranscoder) receiveFrames() {
	for {
		if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
			return
		}
		t.prepareResampleFrame(0)
		nb := int(astiav.RescaleQ(int64(t.frame.NbSamples()), astiav.NewRational(1, t.frame.SampleRate()), astiav.NewRational(1, t.encoderCtx.SampleRate())))
		if nb > 0 {
			t.resampleFrame.SetNbSamples(nb)
			_ = t.resampleFrame.AllocBuffer(0)
			if t.resampleCtx.ConvertFrame(t.frame, t.resampleFrame) == nil {
				_, _ = t.fifo.Write(t.resampleFrame)
			}
		}
		t.frame.Unref()
	}
}

// drainFifo encodes fifo contents in frames of opusFrameSamples while at least min samples remain.
func (t *opusTranscoder) drainFifo(min int) {
	for t.fifo.Size() >= min && t.fifo.Size() > 0 {
		sz := opusFrameSamples
		if t.fifo.Size() < sz {
			sz = t.fifo.Size()
		}
		t.prepareResampleFrame(sz)
		_ = t.resampleFrame.AllocBuffer(0)
		_, _ = t.fifo.Read(t.resampleFrame)
		t.resampleFrame.SetPts(t.pts)
		t.pts += int64(sz)
		if err := t.encoderCtx.SendFrame(t.resampleFrame); err == nil {
			t.receivePackets()
		}
	}
}

func (t *opusTranscoder) prepareResampleFrame(samples int) {
	t.resampleFrame.Unref()
	if samples > 0 {
		t.resampleFrame.SetNbSamples(samples)
	}
	t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
	t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
	t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
}

func (t *opusTranscoder) receivePackets() {
	for {
		p := astiav.AllocPacket()
		if t.encoderCtx.ReceivePacket(p) != nil {
			p.Free()
			return
		}
		d := p.Data()
		fd := make([]byte, len(d))
		copy(fd, d)
		t.onFrame(fd)
		p.Free()
	}
}

func (t *opusTranscoder) Close() {
	if t.resampleCtx != nil {
		t.resampleCtx.Free()
	}
	if t.resampleFrame != nil {
		t.resampleFrame.Free()
	}
	if t.packet != nil {
		t.packet.Free()
	}
	if t.frame != nil {
		t.frame.Free()
	}
	if t.decoderCtx != nil {
		t.decoderCtx.Free()
	}
	if t.encoderCtx != nil {
		t.encoderCtx.Free()
	}
	if t.inputCtx != nil {
		t.inputCtx.CloseInput()
		t.inputCtx.Free()
	}
}
