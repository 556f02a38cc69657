package vm

import (
	"regexp"
	"time"
)

// Status is the recorded lifecycle state of a machine.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusStopped Status = "STOPPED"
)

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusRunning || s == StatusStopped
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidID reports whether id is usable as a machine id or name. Ids double
// as file names in the registry, so separators are rejected.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Machine is the persisted record of one virtual machine.
type Machine struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`

	// PID is set only while Status is RUNNING.
	PID *int `json:"pid"`

	// ProcessStart is the hypervisor's creation time in unix milliseconds.
	// It tells a live process apart from a recycled pid.
	ProcessStart int64 `json:"processStart,omitempty"`

	CPU         string   `json:"cpu"`
	CPUs        int      `json:"cpus"`
	Memory      string   `json:"memory"`
	PortForward []string `json:"portForward"`
	Drive       string   `json:"drive,omitempty"`
	DriveFormat string   `json:"driveFormat,omitempty"`
	DriveSize   string   `json:"driveSize,omitempty"`
	BootSource  string   `json:"bootSource,omitempty"`

	LogsDir string `json:"logsDir"`
	LogFile string `json:"logFile,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Running reports whether the record claims a live process. The claim is
// only trustworthy after reconciliation.
func (m Machine) Running() bool {
	return m.Status == StatusRunning
}

// ProcessID returns the recorded pid, or 0.
func (m Machine) ProcessID() int {
	if m.PID == nil {
		return 0
	}
	return *m.PID
}

// StartedAt returns the recorded process creation time, or the zero time.
func (m Machine) StartedAt() time.Time {
	if m.ProcessStart == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.ProcessStart)
}

// Clone returns a deep copy of m.
func (m Machine) Clone() Machine {
	if m.PID != nil {
		pid := *m.PID
		m.PID = &pid
	}
	if m.PortForward != nil {
		m.PortForward = append([]string(nil), m.PortForward...)
	}
	return m
}

// markRunning records a launched process.
func (m *Machine) markRunning(pid int, started time.Time, logFile string, now time.Time) {
	m.Status = StatusRunning
	m.PID = &pid
	m.ProcessStart = 0
	if !started.IsZero() {
		m.ProcessStart = started.UnixMilli()
	}
	m.LogFile = logFile
	m.UpdatedAt = now
}

// markStopped clears the process identity.
func (m *Machine) markStopped(now time.Time) {
	m.Status = StatusStopped
	m.PID = nil
	m.ProcessStart = 0
	m.UpdatedAt = now
}
