package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"vawter.tech/stopper"

	"github.com/javanstorm/vmctl/internal/api"
	"github.com/javanstorm/vmctl/internal/events"
	"github.com/javanstorm/vmctl/internal/metrics"
	"github.com/javanstorm/vmctl/internal/timing"
	"github.com/javanstorm/vmctl/internal/version"
	"github.com/javanstorm/vmctl/internal/vm"
	"github.com/javanstorm/vmctl/pkg/hypervisor"
)

// shutdownGrace bounds how long in-flight requests get once serve stops.
const shutdownGrace = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the machine API over HTTP",
		Long: `Run the lifecycle manager as a long-lived process and expose it over
HTTP. Stale records are reconciled on startup. Machines keep running when
serve exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				a.cfg.API.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from api.listen)")
	return cmd
}

// serve runs the API until ctx is done, then shuts the server down and
// releases the store, publisher and tracer in reverse order.
func (a *app) serve(parent context.Context, stderr io.Writer) error {
	sctx := stopper.WithContext(parent)
	logger := a.logger
	timer := timing.New()

	store, err := a.openStore()
	if err != nil {
		return err
	}
	sctx.Defer(func() {
		if err := store.Close(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	})

	timer.Mark("open_store")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	opts := []vm.Option{vm.WithMetrics(m)}

	if a.cfg.NATS.URL != "" {
		pub, err := events.NewNATSPublisher(a.cfg.NATS.URL, a.cfg.NATS.Subject, logger)
		if err != nil {
			sctx.Stop(0)
			_ = sctx.Wait()
			return err
		}
		sctx.Defer(pub.Close)
		opts = append(opts, vm.WithPublisher(pub))
		logger.Info("publishing lifecycle events", zap.String("url", a.cfg.NATS.URL), zap.String("subject", a.cfg.NATS.Subject))
	}

	if a.cfg.Trace.Enabled {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(stderr))
		if err != nil {
			sctx.Stop(0)
			_ = sctx.Wait()
			return fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		sctx.Defer(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		})
		opts = append(opts, vm.WithTracer(tp.Tracer("github.com/javanstorm/vmctl")))
	}

	mgr, err := a.newManager(store, hypervisor.Console(a.cfg.Hypervisor.Console), opts...)
	if err != nil {
		sctx.Stop(0)
		_ = sctx.Wait()
		return err
	}

	timer.Mark("wire")

	if n, err := mgr.Reconcile(sctx); err != nil {
		logger.Warn("startup reconciliation failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("reconciled stale machines", zap.Int("count", n))
	}
	timer.Mark("reconcile")
	logger.Debug("startup timing", timer.Fields()...)

	apiOpts := []api.Option{api.WithLogger(logger), api.WithMetrics(m)}
	if a.cfg.API.AccessLog {
		apiOpts = append(apiOpts, api.WithAccessLog(stderr))
	}
	srv := api.NewHTTPServer(a.cfg.API.Listen, api.New(mgr, apiOpts...).Handler())

	sctx.Go(func(sctx *stopper.Context) error {
		logger.Info("serving machine API", zap.String("listen", srv.Addr), zap.String("version", version.String()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			sctx.Stop(0)
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	})

	sctx.Go(func(sctx *stopper.Context) error {
		select {
		case <-sctx.Stopping():
		case <-parent.Done():
			sctx.Stop(shutdownGrace)
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		logger.Info("shutting down machine API")
		return srv.Shutdown(ctx)
	})

	return sctx.Wait()
}
