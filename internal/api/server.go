// Package api is the HTTP control API over the lifecycle orchestrator.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"go.uber.org/zap"

	"github.com/javanstorm/vmctl/internal/metrics"
	"github.com/javanstorm/vmctl/internal/vm"
)

// DefaultListen matches the port the control API has always used.
const DefaultListen = ":8890"

// Manager is the orchestrator contract the API serves.
type Manager interface {
	ListInstances(ctx context.Context, includeStopped bool) ([]vm.Machine, error)
	GetInstanceState(ctx context.Context, id string) (vm.Machine, error)
	CreateInstance(ctx context.Context, p vm.Params) (vm.Machine, error)
	StartInstance(ctx context.Context, id string, p vm.Params) (vm.Machine, error)
	StopInstance(ctx context.Context, id string) (vm.Machine, error)
	RestartInstance(ctx context.Context, id string, p vm.Params) (vm.Machine, error)
	DeleteInstance(ctx context.Context, id string) error
	ListVolumes(ctx context.Context) ([]vm.Volume, error)
	GetVolume(ctx context.Context, id string) (vm.Volume, error)
}

// Server routes HTTP requests to a Manager.
type Server struct {
	mgr       Manager
	metrics   *metrics.Metrics
	logger    *zap.Logger
	accessLog io.Writer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics instruments requests and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAccessLog sets where combined-format access logs go. Nil disables
// them.
func WithAccessLog(w io.Writer) Option {
	return func(s *Server) { s.accessLog = w }
}

// New creates a Server.
func New(mgr Manager, opts ...Option) *Server {
	s := &Server{mgr: mgr, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, middleware-wrapped API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.StrictSlash(true)

	r.Handle("/healthz", s.wrap(s.healthz)).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	r.Handle("/machines", s.wrap(s.listMachines)).Methods(http.MethodGet)
	r.Handle("/machines", s.wrap(s.createMachine)).Methods(http.MethodPost)
	r.Handle("/machines/{id}", s.wrap(s.getMachine)).Methods(http.MethodGet)
	r.Handle("/machines/{id}", s.wrap(s.deleteMachine)).Methods(http.MethodDelete)
	r.Handle("/machines/{id}/start", s.wrap(s.startMachine)).Methods(http.MethodPost)
	r.Handle("/machines/{id}/stop", s.wrap(s.stopMachine)).Methods(http.MethodPost)
	r.Handle("/machines/{id}/restart", s.wrap(s.restartMachine)).Methods(http.MethodPost)

	r.Handle("/volumes", s.wrap(s.listVolumes)).Methods(http.MethodGet)
	r.Handle("/volumes/{id}", s.wrap(s.getVolume)).Methods(http.MethodGet)

	return s.chain().Then(r)
}

func (s *Server) chain() alice.Chain {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger)),
		handlers.PrintRecoveryStack(true),
	)
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)

	c := alice.New(s.metrics.InstrumentHandler)
	if s.accessLog != nil {
		c = c.Append(func(h http.Handler) http.Handler {
			return handlers.CombinedLoggingHandler(s.accessLog, h)
		})
	}
	return c.Append(handlers.CompressHandler, recovery, cors)
}

// NewHTTPServer returns an http.Server for h. The write timeout leaves room
// for a stop that escalates to SIGKILL.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	if addr == "" {
		addr = DefaultListen
	}
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      time.Minute,
		MaxHeaderBytes:    1 << 20,
	}
}
