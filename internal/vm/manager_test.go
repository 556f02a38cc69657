package vm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanstorm/vmctl/internal/events"
	"github.com/javanstorm/vmctl/pkg/hypervisor"
)

// fakeProcs stands in for the supervisor, stop controller and liveness check.
type fakeProcs struct {
	mu       sync.Mutex
	nextPID  int
	alive    map[int]bool
	launches []hypervisor.Launch
	stops    []hypervisor.Target

	startErr error
	stopErr  error
}

func newFakeProcs() *fakeProcs {
	return &fakeProcs{nextPID: 1000, alive: make(map[int]bool)}
}

func (f *fakeProcs) Start(_ context.Context, l hypervisor.Launch) (hypervisor.ProcessHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return hypervisor.ProcessHandle{}, f.startErr
	}
	f.nextPID++
	f.alive[f.nextPID] = true
	f.launches = append(f.launches, l)
	return hypervisor.ProcessHandle{
		PID:       f.nextPID,
		LogPath:   filepath.Join(l.LogsDir, fmt.Sprintf("%s-%d.log", l.ID, f.nextPID)),
		StartedAt: time.UnixMilli(1700000000000),
	}, nil
}

func (f *fakeProcs) Stop(_ context.Context, t hypervisor.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, t)
	if f.stopErr != nil {
		return f.stopErr
	}
	f.alive[t.PID] = false
	return nil
}

func (f *fakeProcs) Alive(pid int, _ time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

// crash simulates the hypervisor dying out of band.
func (f *fakeProcs) crash(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = false
}

func (f *fakeProcs) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launches)
}

func (f *fakeProcs) lastLaunch() hypervisor.Launch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches[len(f.launches)-1]
}

type nopImager struct{}

func (nopImager) EnsureDrive(context.Context, string, string, string) error { return nil }

type managerFixture struct {
	dir    string
	mgr    *Manager
	store  Store
	procs  *fakeProcs
	events *events.Recorder
}

func newFixture(t *testing.T, opts ...Option) *managerFixture {
	return newWrappedFixture(t, nil, opts...)
}

// newWrappedFixture is newFixture with the manager's store passed through
// wrap.
func newWrappedFixture(t *testing.T, wrap func(Store) Store, opts ...Option) *managerFixture {
	t.Helper()

	dir := t.TempDir()
	store, err := NewRegistry(dir)
	require.NoError(t, err)

	f := &managerFixture{dir: dir, store: store, procs: newFakeProcs(), events: &events.Recorder{}}
	var s Store = store
	if wrap != nil {
		s = wrap(store)
	}
	f.mgr = f.newManager(s, opts...)
	return f
}

// newManager builds a manager over s sharing the fixture's fake processes.
func (f *managerFixture) newManager(s Store, opts ...Option) *Manager {
	seq := 0
	base := []Option{
		WithLauncher(f.procs),
		WithTerminator(f.procs),
		WithProber(f.procs),
		WithImager(nopImager{}),
		WithPublisher(f.events),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id%04d", seq)
		}),
	}
	return NewManager(s, ManagerConfig{
		Binary:  "qemu-system-x86_64",
		LogsDir: filepath.Join(f.dir, "logs"),
	}, append(base, opts...)...)
}

// seed stores a STOPPED machine booting from an ISO.
func (f *managerFixture) seed(t *testing.T, id string) Machine {
	t.Helper()
	m := f.mgr.newMachine(id, id)
	m.BootSource = "/isos/alpine.iso"
	require.NoError(t, f.store.Upsert(context.Background(), m))
	return m
}

func TestStartStopRestartScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "vm1")

	started, err := f.mgr.StartInstance(ctx, "vm1", Params{Memory: Ptr("4G"), CPUs: Ptr(4)})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, started.Status)
	assert.Equal(t, "4G", started.Memory)
	assert.Equal(t, 4, started.CPUs)
	require.NotNil(t, started.PID)
	assert.True(t, f.procs.Alive(*started.PID, time.Time{}))

	argv := f.procs.lastLaunch().Argv
	assert.Contains(t, argv, "4G")
	assert.Contains(t, argv, "/isos/alpine.iso")

	stopped, err := f.mgr.StopInstance(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, stopped.Status)
	assert.Nil(t, stopped.PID)
	assert.False(t, f.procs.Alive(*started.PID, time.Time{}))

	restarted, err := f.mgr.RestartInstance(ctx, "vm1", Params{})
	require.NoError(t, err)
	assert.Equal(t, "vm1", restarted.ID)
	assert.Equal(t, StatusRunning, restarted.Status)
	assert.Equal(t, "4G", restarted.Memory)
	assert.Equal(t, 4, restarted.CPUs)
	require.NotNil(t, restarted.PID)
	assert.NotEqual(t, *started.PID, *restarted.PID)

	stored, err := f.store.Get(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, restarted.ProcessID(), stored.ProcessID())

	assert.Equal(t, []events.Type{events.Started, events.Stopped, events.Restarted}, f.events.Types())
}

func TestStartAlreadyRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "vm1")

	first, err := f.mgr.StartInstance(ctx, "vm1", Params{})
	require.NoError(t, err)

	_, err = f.mgr.StartInstance(ctx, "vm1", Params{})
	var are *AlreadyRunningError
	require.ErrorAs(t, err, &are)
	assert.Equal(t, first.ProcessID(), are.PID)
	assert.ErrorIs(t, err, ErrVMAlreadyRunning)
	assert.Equal(t, 1, f.procs.launchCount(), "no second process")
}

func TestConcurrentStartsSpawnOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "vm1")

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		running int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mgr.StartInstance(context.Background(), "vm1", Params{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrVMAlreadyRunning):
				running++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, running)
	assert.Equal(t, 1, f.procs.launchCount())
}

func TestDistinctMachinesIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		f.seed(t, fmt.Sprintf("vm%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.mgr.StartInstance(ctx, fmt.Sprintf("vm%d", i), Params{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	running, err := f.mgr.ListInstances(ctx, false)
	require.NoError(t, err)
	assert.Len(t, running, 4)
}

func TestStopIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seeded := f.seed(t, "vm1")

	got, err := f.mgr.StopInstance(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.True(t, seeded.UpdatedAt.Equal(got.UpdatedAt), "no write for an already stopped machine")

	f.procs.mu.Lock()
	assert.Empty(t, f.procs.stops)
	f.procs.mu.Unlock()
	assert.Empty(t, f.events.Types())
}

func TestStopFailureLeavesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "vm1")

	started, err := f.mgr.StartInstance(ctx, "vm1", Params{})
	require.NoError(t, err)

	f.procs.stopErr = &hypervisor.StopCommandError{Name: "vm1", PID: started.ProcessID(), Err: hypervisor.ErrStillAlive}
	_, err = f.mgr.StopInstance(ctx, "vm1")
	var se *hypervisor.StopCommandError
	require.ErrorAs(t, err, &se)

	stored, err := f.store.Get(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, stored.Status)
	assert.Equal(t, started.ProcessID(), stored.ProcessID())
}

func TestRestartAbortsWhenStopFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "vm1")

	_, err := f.mgr.StartInstance(ctx, "vm1", Params{})
	require.NoError(t, err)

	f.procs.stopErr = &hypervisor.StopCommandError{Name: "vm1", Err: hypervisor.ErrStillAlive}
	_, err = f.mgr.RestartInstance(ctx, "vm1", Params{Memory: Ptr("1G")})
	require.Error(t, err)
	assert.Equal(t, 1, f.procs.launchCount(), "restart must not start after a failed stop")
}

func TestRestartPreservesOmittedParams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "vm1")

	_, err := f.mgr.StartInstance(ctx, "vm1", Params{CPUs: Ptr(6), PortForward: []string{"8080:80"}})
	require.NoError(t, err)

	got, err := f.mgr.RestartInstance(ctx, "vm1", Params{Memory: Ptr("1G")})
	require.NoError(t, err)
	assert.Equal(t, "1G", got.Memory)
	assert.Equal(t, 6, got.CPUs)
	assert.Equal(t, []string{"8080:80"}, got.PortForward)
}

func TestRestartRejectsInvalidBeforeStopping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "vm1")
	_, err := f.mgr.StartInstance(ctx, "vm1", Params{})
	require.NoError(t, err)

	_, err = f.mgr.RestartInstance(ctx, "vm1", Params{Memory: Ptr("3X")})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.mgr.GetInstanceState(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestStartValidationBeforeSpawn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "vm1")

	_, err := f.mgr.StartInstance(ctx, "vm1", Params{Memory: Ptr("3X")})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "memory", ve.Field)
	assert.Zero(t, f.procs.launchCount())

	stored, err := f.store.Get(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, "2G", stored.Memory)
}

func TestStartPortForwardOrder(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "vm1")

	_, err := f.mgr.StartInstance(context.Background(), "vm1", Params{PortForward: []string{"8080:80", "2222:22"}})
	require.NoError(t, err)
	assert.Contains(t, f.procs.lastLaunch().Argv, "user,id=net0,hostfwd=tcp::8080-:80,hostfwd=tcp::2222-:22")
}

func TestStartUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.StartInstance(ctx, "ghost", Params{})
	assert.ErrorIs(t, err, ErrVMNotFound)

	got, err := f.mgr.StartInstance(ctx, "fresh", Params{BootSource: Ptr("/isos/a.iso")})
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.ID)
	assert.Equal(t, "fresh", got.Name)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "host", got.CPU)

	_, err = f.mgr.StartInstance(ctx, "../bad", Params{BootSource: Ptr("/isos/a.iso")})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStartSpawnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "vm1")

	f.procs.startErr = &hypervisor.CommandError{Argv: []string{"qemu"}, Err: errors.New("exec: not found")}
	_, err := f.mgr.StartInstance(ctx, "vm1", Params{})
	var ce *hypervisor.CommandError
	require.ErrorAs(t, err, &ce)

	stored, err := f.store.Get(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, stored.Status)
}

type failingImager struct{}

func (failingImager) EnsureDrive(_ context.Context, path, _, _ string) error {
	return &hypervisor.DriveError{Path: path, Err: errors.New("disk full")}
}

func TestStartDriveFailureIsDistinct(t *testing.T) {
	f := newFixture(t, WithImager(failingImager{}))
	_, err := f.mgr.StartInstance(context.Background(), "vm1", Params{Drive: Ptr("/vms/vm1.qcow2")})

	var de *hypervisor.DriveError
	require.ErrorAs(t, err, &de)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Zero(t, f.procs.launchCount())
}

// flakyStore fails writes that record a running machine.
type flakyStore struct {
	Store
}

func (s flakyStore) Upsert(ctx context.Context, m Machine) error {
	if m.Running() {
		return errors.New("disk full")
	}
	return s.Store.Upsert(ctx, m)
}

func TestStartKillsProcessWhenPersistFails(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry(dir)
	require.NoError(t, err)
	procs := newFakeProcs()
	mgr := NewManager(flakyStore{reg}, ManagerConfig{LogsDir: dir},
		WithLauncher(procs), WithTerminator(procs), WithProber(procs), WithImager(nopImager{}))

	m := mgr.newMachine("vm1", "vm1")
	m.BootSource = "/a.iso"
	require.NoError(t, reg.Upsert(context.Background(), m))

	_, err = mgr.StartInstance(context.Background(), "vm1", Params{})
	require.Error(t, err)

	require.Equal(t, 1, procs.launchCount())
	procs.mu.Lock()
	defer procs.mu.Unlock()
	require.Len(t, procs.stops, 1)
	assert.False(t, procs.alive[procs.stops[0].PID], "unrecorded process must be killed")
}

func TestStaleRecordReconciledOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "vm1")

	started, err := f.mgr.StartInstance(ctx, "vm1", Params{})
	require.NoError(t, err)
	f.procs.crash(started.ProcessID())

	got, err := f.mgr.GetInstanceState(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Nil(t, got.PID)

	stored, err := f.store.Get(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, stored.Status)
	assert.Contains(t, f.events.Types(), events.Reconciled)

	// And the machine can be started again.
	_, err = f.mgr.StartInstance(ctx, "vm1", Params{})
	assert.NoError(t, err)
}

func TestListReconcilesAndFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "a")
	f.seed(t, "b")
	f.seed(t, "c")

	for _, id := range []string{"a", "b"} {
		_, err := f.mgr.StartInstance(ctx, id, Params{})
		require.NoError(t, err)
	}
	b, err := f.store.Get(ctx, "b")
	require.NoError(t, err)
	f.procs.crash(b.ProcessID())

	running, err := f.mgr.ListInstances(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(running))

	all, err := f.mgr.ListInstances(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(all))
}

func TestListSkipsLockedRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "vm1")

	started, err := f.mgr.StartInstance(ctx, "vm1", Params{})
	require.NoError(t, err)
	f.procs.crash(started.ProcessID())

	unlock, err := f.mgr.locks.lock("vm1")
	require.NoError(t, err)
	all, err := f.mgr.ListInstances(ctx, true)
	unlock()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusRunning, all[0].Status, "in-flight mutation owns the record")
}

// listHookStore runs hook once, after List has taken its snapshot.
type listHookStore struct {
	Store
	once sync.Once
	hook func()
}

func (s *listHookStore) List(ctx context.Context, includeStopped bool) ([]Machine, error) {
	all, err := s.Store.List(ctx, includeStopped)
	if s.hook != nil {
		s.once.Do(s.hook)
	}
	return all, err
}

func TestListRereadsRecordUnderLock(t *testing.T) {
	ctx := context.Background()
	hs := &listHookStore{}
	f := newWrappedFixture(t, func(s Store) Store {
		hs.Store = s
		return hs
	})
	f.seed(t, "vm1")

	first, err := f.mgr.StartInstance(ctx, "vm1", Params{})
	require.NoError(t, err)

	// A restart lands between the snapshot and the lock, leaving the
	// snapshot pointing at the dead process.
	var restarted Machine
	hs.hook = func() {
		var rerr error
		restarted, rerr = f.mgr.RestartInstance(ctx, "vm1", Params{})
		require.NoError(t, rerr)
	}

	all, err := f.mgr.ListInstances(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotEqual(t, first.ProcessID(), restarted.ProcessID())
	assert.Equal(t, StatusRunning, all[0].Status)
	assert.Equal(t, restarted.ProcessID(), all[0].ProcessID())

	stored, err := f.store.Get(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, stored.Status, "live restart must not be overwritten")
	assert.True(t, f.procs.Alive(restarted.ProcessID(), time.Time{}))
}

func TestListDropsRecordDeletedAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	hs := &listHookStore{}
	f := newWrappedFixture(t, func(s Store) Store {
		hs.Store = s
		return hs
	})
	f.seed(t, "vm1")

	started, err := f.mgr.StartInstance(ctx, "vm1", Params{})
	require.NoError(t, err)
	hs.hook = func() {
		_, serr := f.mgr.StopInstance(ctx, "vm1")
		require.NoError(t, serr)
		require.NoError(t, f.mgr.DeleteInstance(ctx, "vm1"))
	}

	all, err := f.mgr.ListInstances(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.False(t, f.procs.Alive(started.ProcessID(), time.Time{}))

	_, err = f.store.Get(ctx, "vm1")
	assert.ErrorIs(t, err, ErrVMNotFound)
}

func TestImplicitStartsClaimNameOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	name := "shared"
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.mgr.StartInstance(ctx, id, Params{Name: &name, BootSource: Ptr("/isos/alpine.iso")})
		}(i, id)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err == nil {
			continue
		}
		failed++
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "name", verr.Field)
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, f.procs.launchCount())

	all, err := f.mgr.ListInstances(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, name, all[0].Name)
}

func TestRenameRacesCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "vm1")

	name := "taken"
	var wg sync.WaitGroup
	var startErr, createErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, startErr = f.mgr.StartInstance(ctx, "vm1", Params{Name: &name})
	}()
	go func() {
		defer wg.Done()
		_, createErr = f.mgr.CreateInstance(ctx, Params{Name: &name, BootSource: Ptr("/isos/alpine.iso")})
	}()
	wg.Wait()

	assert.True(t, (startErr == nil) != (createErr == nil), "exactly one of start=%v create=%v succeeds", startErr, createErr)

	all, err := f.mgr.ListInstances(ctx, true)
	require.NoError(t, err)
	holders := 0
	for _, m := range all {
		if m.Name == name {
			holders++
		}
	}
	assert.Equal(t, 1, holders)
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		f.seed(t, id)
		_, err := f.mgr.StartInstance(ctx, id, Params{})
		require.NoError(t, err)
	}
	for _, id := range []string{"a", "c"} {
		m, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		f.procs.crash(m.ProcessID())
	}

	fixed, err := f.mgr.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fixed)

	running, err := f.store.List(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(running))
}

func TestGetByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.mgr.CreateInstance(ctx, Params{Name: Ptr("web"), Drive: Ptr("/vms/web.raw")})
	require.NoError(t, err)

	got, err := f.mgr.GetInstanceState(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = f.mgr.GetInstanceState(ctx, "nope")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.ID)
}

func TestCreateInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.mgr.CreateInstance(ctx, Params{BootSource: Ptr("/isos/a.iso"), Memory: Ptr("1G")})
	require.NoError(t, err)
	assert.Equal(t, "id0001", got.ID)
	assert.Equal(t, "vm-id0001", got.Name)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Equal(t, "1G", got.Memory)
	assert.Equal(t, 2, got.CPUs)
	assert.Zero(t, f.procs.launchCount())

	_, err = f.mgr.CreateInstance(ctx, Params{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "drive", ve.Field)

	_, err = f.mgr.CreateInstance(ctx, Params{Name: Ptr("vm-id0001"), Drive: Ptr("/d.raw")})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "name", ve.Field)
}

func TestDeleteInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "vm1")

	_, err := f.mgr.StartInstance(ctx, "vm1", Params{})
	require.NoError(t, err)

	err = f.mgr.DeleteInstance(ctx, "vm1")
	assert.ErrorIs(t, err, ErrVMAlreadyRunning)

	_, err = f.mgr.StopInstance(ctx, "vm1")
	require.NoError(t, err)
	require.NoError(t, f.mgr.DeleteInstance(ctx, "vm1"))

	_, err = f.mgr.GetInstanceState(ctx, "vm1")
	assert.ErrorIs(t, err, ErrVMNotFound)
	assert.ErrorIs(t, f.mgr.DeleteInstance(ctx, "vm1"), ErrVMNotFound)
}

func TestStopUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.StopInstance(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrVMNotFound)
	_, err = f.mgr.RestartInstance(context.Background(), "ghost", Params{})
	assert.ErrorIs(t, err, ErrVMNotFound)
}

func TestCancelledCallerStillRecordsStart(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "vm1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The registry does not consult ctx for single reads, so the call gets
	// past lookup; the launch and its record must then complete together.
	got, err := f.mgr.StartInstance(ctx, "vm1", Params{})
	require.NoError(t, err)

	stored, err := f.store.Get(context.Background(), "vm1")
	require.NoError(t, err)
	assert.Equal(t, got.ProcessID(), stored.ProcessID())
}

func TestLaunchUsesManagerConfig(t *testing.T) {
	f := newFixture(t)
	f.mgr.cfg.EnableKVM = true
	f.mgr.cfg.FirmwareArgs = []string{"-bios", "/fw.fd"}
	f.mgr.cfg.Console = hypervisor.ConsolePTY
	f.seed(t, "vm1")

	_, err := f.mgr.StartInstance(context.Background(), "vm1", Params{})
	require.NoError(t, err)

	l := f.procs.lastLaunch()
	assert.Equal(t, "qemu-system-x86_64", l.Argv[0])
	assert.Equal(t, "-enable-kvm", l.Argv[1])
	assert.Equal(t, []string{"-bios", "/fw.fd"}, l.Argv[len(l.Argv)-2:])
	assert.Equal(t, hypervisor.ConsolePTY, l.Console)
	assert.Equal(t, filepath.Join(f.mgr.cfg.LogsDir, "vm1"), l.LogsDir)
}

func TestResultOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&NotFoundError{ID: "x"}, "not_found"},
		{&VolumeNotFoundError{ID: "x"}, "not_found"},
		{&AlreadyRunningError{ID: "x"}, "already_running"},
		{&ValidationError{Field: "memory"}, "invalid"},
		{&hypervisor.CommandError{}, "command_error"},
		{fmt.Errorf("wrap: %w", &hypervisor.DriveError{}), "drive_error"},
		{&hypervisor.StopCommandError{}, "stop_error"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resultOf(tt.err))
	}
}
