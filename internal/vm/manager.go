package vm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/javanstorm/vmctl/internal/events"
	"github.com/javanstorm/vmctl/internal/metrics"
	"github.com/javanstorm/vmctl/pkg/hypervisor"
)

// ManagerConfig holds configuration for the VM manager.
type ManagerConfig struct {
	// Binary is the hypervisor executable.
	Binary string

	// EnableKVM adds hardware acceleration to every launch.
	EnableKVM bool

	// FirmwareArgs are appended to every launch. Nil when no firmware is
	// configured.
	FirmwareArgs []string

	// Console selects what the hypervisor's stdin is bound to.
	Console hypervisor.Console

	// LogsDir is the root of the per-machine log directories.
	LogsDir string

	// Defaults apply to fields a new machine's parameters leave out.
	Defaults Defaults
}

// Manager is the lifecycle orchestrator. It is the only writer of status
// transitions; mutations on one machine are serialized, distinct machines
// proceed independently.
type Manager struct {
	cfg   ManagerConfig
	store Store

	launcher   hypervisor.Launcher
	terminator hypervisor.Terminator
	prober     hypervisor.Prober
	imager     hypervisor.Imager

	publisher events.Publisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger

	now   func() time.Time
	newID func() string

	locks    idLocks
	createMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithLauncher replaces the process supervisor.
func WithLauncher(l hypervisor.Launcher) Option {
	return func(m *Manager) { m.launcher = l }
}

// WithTerminator replaces the stop controller.
func WithTerminator(t hypervisor.Terminator) Option {
	return func(m *Manager) { m.terminator = t }
}

// WithProber replaces the liveness probe used for reconciliation.
func WithProber(p hypervisor.Prober) Option {
	return func(m *Manager) { m.prober = p }
}

// WithImager replaces the drive imager.
func WithImager(i hypervisor.Imager) Option {
	return func(m *Manager) { m.imager = i }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides how ids of created machines are chosen.
func WithIDGenerator(f func() string) Option {
	return func(m *Manager) { m.newID = f }
}

// NewManager creates a new VM manager over store.
func NewManager(store Store, cfg ManagerConfig, opts ...Option) *Manager {
	cfg.Defaults = cfg.Defaults.withFallbacks()
	if cfg.Binary == "" {
		cfg.Binary = hypervisor.DefaultBinary
	}
	if cfg.Console == "" {
		cfg.Console = hypervisor.ConsoleNone
	}

	m := &Manager{
		cfg:   cfg,
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	if l, ok := store.(IDLocker); ok {
		m.locks.ext = l
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.launcher == nil {
		m.launcher = hypervisor.NewSupervisor(hypervisor.WithSupervisorLogger(m.logger))
	}
	if m.terminator == nil {
		m.terminator = hypervisor.NewStopController(hypervisor.WithStopLogger(m.logger))
	}
	if m.prober == nil {
		m.prober = hypervisor.SystemProber
	}
	if m.imager == nil {
		m.imager = hypervisor.NewQemuImg("")
	}
	if m.publisher == nil {
		m.publisher = events.Nop{}
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("github.com/javanstorm/vmctl/internal/vm")
	}
	return m
}

// ListInstances returns machines ordered by creation time. Stale RUNNING
// records are reconciled on the way out, except those with a mutation in
// flight.
func (m *Manager) ListInstances(ctx context.Context, includeStopped bool) (_ []Machine, err error) {
	ctx, done := m.instrument(ctx, "list", "")
	defer func() { done(err) }()

	all, err := m.store.List(ctx, true)
	if err != nil {
		return nil, err
	}

	out := make([]Machine, 0, len(all))
	running, total := 0, 0
	for _, rec := range all {
		if rec.Running() {
			if unlock, ok := m.locks.tryLock(rec.ID); ok {
				// The snapshot may predate a mutation that finished
				// before the lock was taken.
				cur, gerr := m.store.Get(ctx, rec.ID)
				if errors.Is(gerr, ErrVMNotFound) {
					unlock()
					continue
				}
				if gerr != nil {
					unlock()
					return nil, gerr
				}
				rec, err = m.reconcile(ctx, cur)
				unlock()
				if err != nil {
					return nil, err
				}
			}
		}
		total++
		if rec.Running() {
			running++
		}
		if includeStopped || rec.Running() {
			out = append(out, rec)
		}
	}

	m.metrics.SetMachines(string(StatusRunning), running)
	m.metrics.SetMachines(string(StatusStopped), total-running)
	return out, nil
}

// GetInstanceState returns the machine named by idOrName, reconciled
// against the OS process table.
func (m *Manager) GetInstanceState(ctx context.Context, idOrName string) (_ Machine, err error) {
	ctx, done := m.instrument(ctx, "get", idOrName)
	defer func() { done(err) }()

	rec, err := m.resolve(ctx, idOrName)
	if err != nil {
		return Machine{}, err
	}
	if !rec.Running() {
		return rec, nil
	}

	unlock, ok := m.locks.tryLock(rec.ID)
	if !ok {
		// A mutation is in flight; it will write the truth.
		return rec, nil
	}
	defer unlock()

	if rec, err = m.store.Get(ctx, rec.ID); err != nil {
		return Machine{}, err
	}
	return m.reconcile(ctx, rec)
}

// CreateInstance provisions a STOPPED machine without starting it.
func (m *Manager) CreateInstance(ctx context.Context, p Params) (_ Machine, err error) {
	ctx, done := m.instrument(ctx, "create", "")
	defer func() { done(err) }()

	if err := p.Validate(); err != nil {
		return Machine{}, err
	}
	if !p.hasMedia() {
		return Machine{}, &ValidationError{Field: "drive", Message: "a boot source or a drive is required", Err: hypervisor.ErrNoBootMedia}
	}

	// Held from the name check to the write. Starts that create or rename
	// take it after their id lock.
	m.createMu.Lock()
	defer m.createMu.Unlock()

	id := m.newID()
	rec := m.newMachine(id, id)
	if p.Name == nil {
		rec.Name = "vm-" + shortID(id)
	}
	rec = p.apply(rec)

	if err := m.checkNameFree(ctx, rec.Name, rec.ID); err != nil {
		return Machine{}, err
	}
	if err := m.validateLaunch(rec); err != nil {
		return Machine{}, err
	}

	ctx = context.WithoutCancel(ctx)
	if err := m.store.Upsert(ctx, rec); err != nil {
		return Machine{}, fmt.Errorf("save machine %s: %w", rec.ID, err)
	}

	m.logger.Info("machine created", zap.String("machine", rec.ID), zap.String("name", rec.Name))
	m.publish(ctx, events.Created, rec)
	return rec, nil
}

// StartInstance launches the hypervisor for idOrName. Start is not
// idempotent: a machine with a live process fails with AlreadyRunningError
// and no second process is spawned. An unknown id is created on the fly
// when p names a drive or a boot source.
func (m *Manager) StartInstance(ctx context.Context, idOrName string, p Params) (_ Machine, err error) {
	ctx, done := m.instrument(ctx, "start", idOrName)
	defer func() { done(err) }()

	if err := p.Validate(); err != nil {
		return Machine{}, err
	}

	rec, unlock, created, err := m.lockForStart(ctx, idOrName, p)
	if err != nil {
		return Machine{}, err
	}
	defer unlock()

	// Past this point a cancelled caller must not leave a half-applied
	// transition behind.
	ctx = context.WithoutCancel(ctx)

	if claimsName(rec, p, created) {
		m.createMu.Lock()
		defer m.createMu.Unlock()
	}
	if created {
		if err := m.checkNameFree(ctx, rec.Name, rec.ID); err != nil {
			return Machine{}, err
		}
	}

	rec, err = m.reconcile(ctx, rec)
	if err != nil {
		return Machine{}, err
	}
	rec, err = m.startLocked(ctx, rec, p)
	if err != nil {
		return Machine{}, err
	}

	m.publish(ctx, events.Started, rec)
	return rec, nil
}

// StopInstance terminates the machine's hypervisor. Stopping a stopped
// machine succeeds without side effects.
func (m *Manager) StopInstance(ctx context.Context, idOrName string) (_ Machine, err error) {
	ctx, done := m.instrument(ctx, "stop", idOrName)
	defer func() { done(err) }()

	rec, unlock, err := m.lockExisting(ctx, idOrName)
	if err != nil {
		return Machine{}, err
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)

	wasRunning := rec.Running() || rec.PID != nil
	rec, err = m.stopLocked(ctx, rec)
	if err != nil {
		return Machine{}, err
	}
	if wasRunning {
		m.publish(ctx, events.Stopped, rec)
	}
	return rec, nil
}

// RestartInstance stops then starts the machine under the same id. Fields
// of p override the stored record; omitted ones keep their values. If the
// stop fails nothing is started.
func (m *Manager) RestartInstance(ctx context.Context, idOrName string, p Params) (_ Machine, err error) {
	ctx, done := m.instrument(ctx, "restart", idOrName)
	defer func() { done(err) }()

	if err := p.Validate(); err != nil {
		return Machine{}, err
	}

	rec, unlock, err := m.lockExisting(ctx, idOrName)
	if err != nil {
		return Machine{}, err
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)

	if claimsName(rec, p, false) {
		m.createMu.Lock()
		defer m.createMu.Unlock()
	}

	// Reject bad merged parameters before the running process is touched.
	if err := m.checkParams(ctx, rec, p); err != nil {
		return Machine{}, err
	}

	if rec, err = m.stopLocked(ctx, rec); err != nil {
		return Machine{}, err
	}
	if rec, err = m.startLocked(ctx, rec, p); err != nil {
		return Machine{}, err
	}

	m.publish(ctx, events.Restarted, rec)
	return rec, nil
}

// DeleteInstance removes a stopped machine from the registry. Its logs and
// drive are left on disk.
func (m *Manager) DeleteInstance(ctx context.Context, idOrName string) (err error) {
	ctx, done := m.instrument(ctx, "delete", idOrName)
	defer func() { done(err) }()

	rec, unlock, err := m.lockExisting(ctx, idOrName)
	if err != nil {
		return err
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)

	if rec, err = m.reconcile(ctx, rec); err != nil {
		return err
	}
	if rec.Running() {
		return &AlreadyRunningError{ID: rec.ID, PID: rec.ProcessID()}
	}
	if err := m.store.Delete(ctx, rec.ID); err != nil {
		return err
	}

	m.logger.Info("machine deleted", zap.String("machine", rec.ID))
	m.publish(ctx, events.Deleted, rec)
	return nil
}

// Reconcile rewrites every stale RUNNING record to STOPPED and returns how
// many it fixed. Unlike listing, it waits for in-flight mutations.
func (m *Manager) Reconcile(ctx context.Context) (_ int, err error) {
	ctx, done := m.instrument(ctx, "reconcile", "")
	defer func() { done(err) }()

	all, err := m.store.List(ctx, false)
	if err != nil {
		return 0, err
	}

	fixed := 0
	for _, rec := range all {
		unlock, err := m.locks.lock(rec.ID)
		if err != nil {
			return fixed, err
		}
		cur, err := m.store.Get(ctx, rec.ID)
		if err == nil {
			var after Machine
			after, err = m.reconcile(ctx, cur)
			if err == nil && cur.Running() && !after.Running() {
				fixed++
			}
		}
		unlock()
		if err != nil && !errors.Is(err, ErrVMNotFound) {
			return fixed, err
		}
	}
	return fixed, nil
}

// LogPath returns the log file of the machine's current or latest run.
func (m *Manager) LogPath(ctx context.Context, idOrName string) (string, error) {
	rec, err := m.resolve(ctx, idOrName)
	if err != nil {
		return "", err
	}
	if rec.LogFile != "" {
		return rec.LogFile, nil
	}
	return hypervisor.LatestLog(rec.LogsDir, rec.ID)
}

// resolve finds a machine by id, falling back to its name.
func (m *Manager) resolve(ctx context.Context, idOrName string) (Machine, error) {
	rec, err := m.store.Get(ctx, idOrName)
	if err == nil || !errors.Is(err, ErrVMNotFound) {
		return rec, err
	}

	all, err := m.store.List(ctx, true)
	if err != nil {
		return Machine{}, err
	}
	for _, r := range all {
		if r.Name == idOrName {
			return r, nil
		}
	}
	return Machine{}, &NotFoundError{ID: idOrName}
}

// lockExisting resolves idOrName, takes its lock and re-reads the record so
// the caller sees the latest committed state.
func (m *Manager) lockExisting(ctx context.Context, idOrName string) (Machine, func(), error) {
	rec, err := m.resolve(ctx, idOrName)
	if err != nil {
		return Machine{}, nil, err
	}
	unlock, err := m.locks.lock(rec.ID)
	if err != nil {
		return Machine{}, nil, err
	}
	rec, err = m.store.Get(ctx, rec.ID)
	if err != nil {
		unlock()
		return Machine{}, nil, err
	}
	return rec, unlock, nil
}

// lockForStart is lockExisting, except an unknown id becomes a fresh,
// not yet persisted record when p names boot media. created reports the
// latter; the caller must still check the new record's name.
func (m *Manager) lockForStart(ctx context.Context, idOrName string, p Params) (rec Machine, unlock func(), created bool, err error) {
	rec, unlock, err = m.lockExisting(ctx, idOrName)
	if err == nil || !errors.Is(err, ErrVMNotFound) {
		return rec, unlock, false, err
	}
	if !p.hasMedia() {
		return Machine{}, nil, false, err
	}
	if !ValidID(idOrName) {
		return Machine{}, nil, false, &ValidationError{Field: "id", Message: fmt.Sprintf("%q is not a valid machine id", idOrName)}
	}

	if unlock, err = m.locks.lock(idOrName); err != nil {
		return Machine{}, nil, false, err
	}
	rec, err = m.store.Get(ctx, idOrName)
	switch {
	case err == nil:
		return rec, unlock, false, nil
	case errors.Is(err, ErrVMNotFound):
		name := idOrName
		if p.Name != nil {
			name = *p.Name
		}
		return m.newMachine(idOrName, name), unlock, true, nil
	default:
		unlock()
		return Machine{}, nil, false, err
	}
}

// claimsName reports whether starting rec with p writes a name that is not
// yet in the store, which must then be checked and written under createMu.
func claimsName(rec Machine, p Params, created bool) bool {
	return created || (p.Name != nil && *p.Name != rec.Name)
}

// startLocked merges p into rec, launches the hypervisor and records the
// process before returning. The caller holds rec's lock and has reconciled
// rec.
func (m *Manager) startLocked(ctx context.Context, rec Machine, p Params) (Machine, error) {
	if rec.Running() {
		return Machine{}, &AlreadyRunningError{ID: rec.ID, PID: rec.ProcessID()}
	}

	if err := m.checkParams(ctx, rec, p); err != nil {
		return Machine{}, err
	}

	next := m.withDefaults(p.apply(rec))
	if next.LogsDir == "" {
		next.LogsDir = filepath.Join(m.cfg.LogsDir, next.ID)
	}

	cfg, err := launchConfig(next)
	if err != nil {
		return Machine{}, err
	}
	cfg.Binary = m.cfg.Binary
	cfg.EnableKVM = m.cfg.EnableKVM
	cfg.FirmwareArgs = m.cfg.FirmwareArgs

	argv, err := hypervisor.Prepare(ctx, m.imager, cfg)
	if err != nil {
		return Machine{}, asValidationError(err)
	}

	h, err := m.launcher.Start(ctx, hypervisor.Launch{
		ID:      next.ID,
		Argv:    argv,
		LogsDir: next.LogsDir,
		Console: m.cfg.Console,
	})
	if err != nil {
		return Machine{}, err
	}

	next.markRunning(h.PID, h.StartedAt, h.LogPath, m.now())
	if err := m.store.Upsert(ctx, next); err != nil {
		// An unrecorded process must not outlive this call.
		target := hypervisor.Target{Name: next.Name, PID: h.PID, StartedAt: h.StartedAt}
		if stopErr := m.terminator.Stop(ctx, target); stopErr != nil {
			m.logger.Error("failed to kill unrecorded hypervisor",
				zap.String("machine", next.ID),
				zap.Int("pid", h.PID),
				zap.Error(stopErr),
			)
		}
		return Machine{}, fmt.Errorf("save machine %s: %w", next.ID, err)
	}

	m.logger.Info("machine started",
		zap.String("machine", next.ID),
		zap.Int("pid", h.PID),
		zap.String("log", h.LogPath),
	)
	return next, nil
}

// stopLocked terminates rec's process and records STOPPED. The record is
// left untouched when termination cannot be confirmed.
func (m *Manager) stopLocked(ctx context.Context, rec Machine) (Machine, error) {
	if !rec.Running() && rec.PID == nil {
		return rec, nil
	}

	target := hypervisor.Target{Name: rec.Name, PID: rec.ProcessID(), StartedAt: rec.StartedAt()}
	if target.PID > 0 {
		if err := m.terminator.Stop(ctx, target); err != nil {
			return Machine{}, err
		}
	}

	rec.markStopped(m.now())
	if err := m.store.Upsert(ctx, rec); err != nil {
		return Machine{}, fmt.Errorf("save machine %s: %w", rec.ID, err)
	}

	m.logger.Info("machine stopped", zap.String("machine", rec.ID), zap.Int("pid", target.PID))
	return rec, nil
}

// reconcile rewrites a RUNNING record whose process is gone to STOPPED.
// The caller holds rec's lock.
func (m *Manager) reconcile(ctx context.Context, rec Machine) (Machine, error) {
	if !rec.Running() {
		return rec, nil
	}
	if rec.PID != nil && m.prober.Alive(*rec.PID, rec.StartedAt()) {
		return rec, nil
	}

	pid := rec.ProcessID()
	rec.markStopped(m.now())
	if err := m.store.Upsert(ctx, rec); err != nil {
		return Machine{}, fmt.Errorf("reconcile machine %s: %w", rec.ID, err)
	}

	m.metrics.Reconciled()
	m.logger.Warn("hypervisor process gone, marked machine stopped",
		zap.String("machine", rec.ID),
		zap.Int("pid", pid),
	)
	m.publish(ctx, events.Reconciled, rec)
	return rec, nil
}

func (m *Manager) newMachine(id, name string) Machine {
	now := m.now()
	return Machine{
		ID:          id,
		Name:        name,
		Status:      StatusStopped,
		CPU:         m.cfg.Defaults.CPU,
		CPUs:        m.cfg.Defaults.CPUs,
		Memory:      m.cfg.Defaults.Memory,
		PortForward: []string{},
		LogsDir:     filepath.Join(m.cfg.LogsDir, id),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// withDefaults fills fields an older or hand-edited record may lack.
func (m *Manager) withDefaults(rec Machine) Machine {
	d := m.cfg.Defaults
	if rec.CPU == "" {
		rec.CPU = d.CPU
	}
	if rec.CPUs == 0 {
		rec.CPUs = d.CPUs
	}
	if rec.Memory == "" {
		rec.Memory = d.Memory
	}
	if rec.PortForward == nil {
		rec.PortForward = []string{}
	}
	if rec.Drive != "" {
		if rec.DriveFormat == "" {
			rec.DriveFormat = d.DriveFormat
		}
		if rec.DriveSize == "" {
			rec.DriveSize = d.DriveSize
		}
	}
	return rec
}

// validateLaunch checks rec would produce a valid hypervisor invocation.
func (m *Manager) validateLaunch(rec Machine) error {
	cfg, err := launchConfig(m.withDefaults(rec))
	if err != nil {
		return err
	}
	cfg = cfg.WithDefaults()
	return asValidationError(cfg.Validate())
}

// checkParams validates p merged into rec, including a rename.
func (m *Manager) checkParams(ctx context.Context, rec Machine, p Params) error {
	if p.Name != nil && *p.Name != rec.Name {
		if err := m.checkNameFree(ctx, *p.Name, rec.ID); err != nil {
			return err
		}
	}
	return m.validateLaunch(p.apply(rec))
}

// checkNameFree fails when name already identifies a machine other than id.
func (m *Manager) checkNameFree(ctx context.Context, name, id string) error {
	all, err := m.store.List(ctx, true)
	if err != nil {
		return err
	}
	for _, r := range all {
		if r.ID != id && (r.Name == name || r.ID == name) {
			return &ValidationError{Field: "name", Message: fmt.Sprintf("%q is already in use by machine %s", name, r.ID)}
		}
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, typ events.Type, rec Machine) {
	e := events.Event{
		Type:      typ,
		MachineID: rec.ID,
		Name:      rec.Name,
		Status:    string(rec.Status),
		PID:       rec.ProcessID(),
		Time:      m.now().UTC(),
	}
	if err := m.publisher.Publish(ctx, e); err != nil {
		m.logger.Warn("failed to publish event",
			zap.String("machine", rec.ID),
			zap.String("event", string(typ)),
			zap.Error(err),
		)
	}
}

// instrument opens a span for op and returns the function that closes it,
// recording the outcome in metrics and, for failures, in the log.
func (m *Manager) instrument(ctx context.Context, op, id string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "vm."+op, trace.WithAttributes(attribute.String("machine.id", id)))

	return ctx, func(err error) {
		result := resultOf(err)
		m.metrics.ObserveOperation(op, result, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			m.logger.Debug("operation failed",
				zap.String("op", op),
				zap.String("machine", id),
				zap.String("result", result),
				zap.Error(err),
			)
		}
		span.End()
	}
}

// resultOf classifies err for metrics labels.
func resultOf(err error) string {
	var (
		cmdErr   *hypervisor.CommandError
		driveErr *hypervisor.DriveError
		stopErr  *hypervisor.StopCommandError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrVMNotFound), errors.Is(err, ErrVolumeNotFound):
		return "not_found"
	case errors.Is(err, ErrVMAlreadyRunning):
		return "already_running"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.As(err, &cmdErr):
		return "command_error"
	case errors.As(err, &driveErr):
		return "drive_error"
	case errors.As(err, &stopErr):
		return "stop_error"
	default:
		return "error"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
