//go:build linux || darwin

package vm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// LockID takes an exclusive advisory lock on <dir>/<id>.lock, waiting for
// any other holder, in this process or another, to release it.
func (r *Registry) LockID(id string) (func(), error) {
	return r.flock(id, unix.LOCK_EX)
}

// TryLockID is LockID without waiting.
func (r *Registry) TryLockID(id string) (func(), bool, error) {
	unlock, err := r.flock(id, unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return unlock, true, nil
}

func (r *Registry) lockPath(id string) string {
	return filepath.Join(r.dir, id+".lock")
}

func (r *Registry) flock(id string, how int) (func(), error) {
	if !ValidID(id) {
		return nil, &ValidationError{Field: "id", Message: fmt.Sprintf("%q is not a valid machine id", id)}
	}
	f, err := os.OpenFile(r.lockPath(id), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock for %s: %w", id, err)
	}
	for {
		err = unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %s: %w", id, err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
