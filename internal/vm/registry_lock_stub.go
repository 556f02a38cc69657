//go:build !linux && !darwin

package vm

// LockID is a no-op where advisory file locks are unavailable.
func (r *Registry) LockID(string) (func(), error) {
	return func() {}, nil
}

// TryLockID always succeeds where advisory file locks are unavailable.
func (r *Registry) TryLockID(string) (func(), bool, error) {
	return func() {}, true, nil
}
