package proc

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/leeineian/cadence/sys"
	"github.com/shirou/gopsutil/v3/process"
)

type Status struct {
	Uptime         time.Duration
	Goroutines     int
	MemoryMB       float64
	CPUPercent     float64
	MusicSessions  int
	PendingReminds int
}

// CurrentStatus samples this process. Memory and CPU stay zero when the OS refuses to report them.
func CurrentStatus() Status {
	st := Status{
		Uptime:     time.Since(sys.StartupTime),
		Goroutines: runtime.NumGoroutine(),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := p.MemoryInfo(); err == nil {
			st.MemoryMB = float64(mem.RSS) / 1024 / 1024
		}
		if cpu, err := p.CPUPercent(); err == nil {
			st.CPUPercent = cpu
		}
	}
	if m := GetMusic(); m != nil {
		st.MusicSessions = m.ActiveSessions()
	}
	st.PendingReminds = Reminders().Pending()
	return st
}

func (s Status) String() string {
	return fmt.Sprintf(sys.MsgStatusBody, sys.FormatDuration(s.Uptime), s.Goroutines, s.MemoryMB, s.CPUPercent, s.MusicSessions, s.PendingReminds)
}
