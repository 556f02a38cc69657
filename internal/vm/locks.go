package vm

import "sync"

// idLocks serializes mutations per machine id. Distinct ids never contend.
// When ext is set, every in-process lock is paired with ext's lock on the
// same id so other processes sharing the store are serialized too.
type idLocks struct {
	m   sync.Map // id -> *sync.Mutex
	ext IDLocker
}

func (l *idLocks) get(id string) *sync.Mutex {
	mu, _ := l.m.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// lock acquires the lock for id and returns its release function.
func (l *idLocks) lock(id string) (func(), error) {
	mu := l.get(id)
	mu.Lock()
	if l.ext == nil {
		return mu.Unlock, nil
	}
	release, err := l.ext.LockID(id)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	return func() {
		release()
		mu.Unlock()
	}, nil
}

// tryLock acquires the lock for id only if nobody, in this process or
// another, holds it.
func (l *idLocks) tryLock(id string) (func(), bool) {
	mu := l.get(id)
	if !mu.TryLock() {
		return nil, false
	}
	if l.ext == nil {
		return mu.Unlock, true
	}
	release, ok, err := l.ext.TryLockID(id)
	if err != nil || !ok {
		mu.Unlock()
		return nil, false
	}
	return func() {
		release()
		mu.Unlock()
	}, true
}
