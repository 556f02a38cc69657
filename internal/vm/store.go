package vm

import (
	"context"
	"sort"
)

// Store is the durable registry of machine records. Implementations own
// persistence exclusively; Upsert is all-or-nothing per record.
type Store interface {
	// List returns records ordered by creation time, then id. Stopped
	// machines are included only when includeStopped is set.
	List(ctx context.Context, includeStopped bool) ([]Machine, error)

	// Get returns the record for id or a NotFoundError.
	Get(ctx context.Context, id string) (Machine, error)

	// Upsert creates or replaces the record with m.ID.
	Upsert(ctx context.Context, m Machine) error

	// Delete removes the record for id or returns a NotFoundError.
	Delete(ctx context.Context, id string) error

	Close() error
}

// IDLocker is implemented by stores that several processes may share. The
// Manager holds the id's lock for the whole of every mutation.
type IDLocker interface {
	// LockID blocks until the lock on id is held.
	LockID(id string) (unlock func(), err error)
	// TryLockID takes the lock on id only if it is free.
	TryLockID(id string) (unlock func(), ok bool, err error)
}

// sortMachines orders records by (CreatedAt, ID) and drops stopped ones
// unless includeStopped is set.
func sortMachines(ms []Machine, includeStopped bool) []Machine {
	out := ms[:0]
	for _, m := range ms {
		if !includeStopped && m.Status != StatusRunning {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
