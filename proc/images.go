package proc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/leeineian/cadence/sys"
)

// BackgroundRemover runs the rembg CLI on downloaded attachments.
type BackgroundRemover struct {
	Path   string
	Dir    string
	Client *http.Client
}

func NewBackgroundRemover() *BackgroundRemover {
	path := sys.DefaultRembgPath
	if sys.GlobalConfig != nil && sys.GlobalConfig.RembgPath != "" {
		path = sys.GlobalConfig.RembgPath
	}
	return &BackgroundRemover{Path: path, Dir: os.TempDir(), Client: sys.HttpClient}
}

// RemoveBackground writes in with its background removed to out as PNG.
func (b *BackgroundRemover) RemoveBackground(ctx context.Context, in, out string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.Path, "i", in, out)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", b.Path, err, msg)
		}
		return fmt.Errorf("%s: %w", b.Path, err)
	}
	return nil
}

// Process downloads the image at url, removes its background and returns the PNG bytes.
// Both temporary files are gone when it returns.
func (b *BackgroundRemover) Process(ctx context.Context, url, filename string) ([]byte, error) {
	sys.LogImage(sys.MsgImageLogProcess, filename)
	name := uuid.NewString()
	in := filepath.Join(b.Dir, name+filepath.Ext(filename))
	out := filepath.Join(b.Dir, name+".png")
	defer removeFile(in)
	defer removeFile(out)

	if err := b.download(ctx, url, in); err != nil {
		return nil, err
	}
	if err := b.RemoveBackground(ctx, in, out); err != nil {
		return nil, err
	}
	return os.ReadFile(out)
}

func (b *BackgroundRemover) download(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("attachment download: status %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
