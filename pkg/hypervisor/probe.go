package hypervisor

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// startTolerance absorbs clock-tick rounding in process creation times.
const startTolerance = time.Second

// Alive reports whether pid names a live, non-zombie process. When startedAt
// is non-zero the process creation time must also match, so a recycled pid
// is not mistaken for the original hypervisor.
func Alive(pid int, startedAt time.Time) bool {
	if pid <= 0 {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}

	if states, err := p.Status(); err == nil {
		for _, s := range states {
			if s == process.Zombie {
				return false
			}
		}
	}

	if !startedAt.IsZero() {
		created, err := p.CreateTime()
		if err == nil {
			d := time.UnixMilli(created).Sub(startedAt)
			if d < -startTolerance || d > startTolerance {
				return false
			}
		}
	}
	return true
}

// StartTime returns the creation time of pid, or the zero time if unknown.
func StartTime(pid int) time.Time {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return time.Time{}
	}
	created, err := p.CreateTime()
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(created)
}
