// Package events publishes machine lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Type names a lifecycle transition.
type Type string

const (
	Created    Type = "created"
	Started    Type = "started"
	Stopped    Type = "stopped"
	Restarted  Type = "restarted"
	Deleted    Type = "deleted"
	Reconciled Type = "reconciled"
)

// Event is one lifecycle transition of a machine.
type Event struct {
	Type      Type      `json:"type"`
	MachineID string    `json:"machineId"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	Time      time.Time `json:"time"`
}

// Encode returns the wire form of e.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Publishing is best effort: callers log
// failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() {}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
