package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/devicetest/dltcos/internal/alerts"
	"github.com/devicetest/dltcos/internal/api"
	"github.com/devicetest/dltcos/internal/config"
	"github.com/devicetest/dltcos/internal/pipeline"
	"github.com/devicetest/dltcos/internal/sink"
	"github.com/devicetest/dltcos/internal/store"
	"github.com/devicetest/dltcos/internal/ws"
)

const (
	shutdownTimeout = 10 * time.Second

	// inputSettle is how long an input export must stay unchanged before it
	// is reprocessed.
	inputSettle = time.Second
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch the configured inputs and serve reports over HTTP",
		Long: `Processes every configured input at start-up and again whenever one of
its exports changes. Reports are served on the REST API, streamed on
/ws/stream, checked against alert rules and, when brokers are configured,
published to Kafka. Edits to the config file are applied without a restart,
except for the HTTP port, auth and sink settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(ctx, configPath, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "dltcos.yaml", "path to config file")
	return cmd
}

// service holds the long-running components and the live config.
type service struct {
	st     *store.Store
	alerts *alerts.Engine
	hub    *ws.Hub
	sink   *sink.Sink // nil when Kafka is disabled

	// restart asks watchInputs to reprocess and rewatch the input list.
	restart chan struct{}

	mu  sync.Mutex
	cfg *config.Config
}

func serve(ctx context.Context, configPath string, cfg *config.Config) error {
	slog.Info("dltcos starting",
		"config", configPath,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"inputs", len(cfg.Inputs),
		"retention", cfg.Server.Retention,
		"kafka", cfg.Sink.Kafka.Enabled(),
	)

	alertEngine, err := alerts.New(cfg.Server.Alerts)
	if err != nil {
		return err
	}
	st := store.New(cfg.Server.Retention)
	svc := &service{
		st:      st,
		alerts:  alertEngine,
		hub:     ws.New(st, cfg.Server.BroadcastInterval),
		restart: make(chan struct{}, 1),
		cfg:     cfg,
	}
	if cfg.Sink.Kafka.Enabled() {
		svc.sink = sink.New(cfg.Sink.Kafka)
	}

	auth := api.RequireAPIKey(cfg.Server.Auth.Mode, cfg.Server.Auth.EffectiveHeader(), cfg.Server.Auth.Key())
	mux := http.NewServeMux()
	mux.Handle("/", api.New(svc.st, svc.alerts, auth))
	mux.Handle("/ws/stream", auth(svc.hub))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { svc.st.Run(gctx); return nil })
	g.Go(func() error { svc.hub.Run(gctx); return nil })
	if svc.sink != nil {
		g.Go(func() error { svc.sink.Run(gctx); return nil })
	}

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("dltcos shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error { return svc.watchInputs(gctx) })
	g.Go(func() error {
		return config.Watch(gctx, configPath, func(next *config.Config) { svc.reload(next) })
	})

	return g.Wait()
}

// watchInputs processes every input once and then again whenever one of its
// exports changes. A config reload starts the cycle over with the new
// input list.
func (s *service) watchInputs(ctx context.Context) error {
	for {
		s.mu.Lock()
		inputs := s.cfg.Inputs
		s.mu.Unlock()

		for _, in := range inputs {
			s.process(ctx, in)
		}

		wctx, cancel := context.WithCancel(ctx)
		errc := make(chan error, 1)
		go func() {
			errc <- config.WatchFiles(wctx, inputPaths(inputs), inputSettle, func(path string) {
				for _, in := range inputsFor(inputs, path) {
					s.process(wctx, in)
				}
			})
		}()

		select {
		case <-ctx.Done():
			cancel()
			<-errc
			return nil
		case err := <-errc:
			cancel()
			if err != nil {
				return fmt.Errorf("watch inputs: %w", err)
			}
			return nil
		case <-s.restart:
			cancel()
			<-errc
		}
	}
}

// process runs one input through the pipeline and hands the report to the
// store, alert engine, websocket clients and sink. Failures are logged and
// the previous report for the cell stays in place.
func (s *service) process(ctx context.Context, in config.InputConfig) {
	s.mu.Lock()
	opts := engineOptions(s.cfg.Engine)
	s.mu.Unlock()
	opts.CellID = in.CellID

	rep, err := pipeline.ProcessFiles(ctx, in.RFFile, in.BLEFile, opts)
	if err != nil {
		slog.Error("input processing failed, keeping previous report", "input", in.Name(), "err", err)
		return
	}

	s.st.Put(rep)
	s.alerts.Evaluate(rep)
	s.hub.Publish(rep)
	if s.sink != nil {
		s.sink.Enqueue(rep)
	}
}

// reload applies a changed config: engine settings, alert rules and the
// input list.
func (s *service) reload(next *config.Config) {
	if err := s.alerts.SetConfig(next.Server.Alerts); err != nil {
		slog.Error("config: alert rules rejected, keeping previous rules", "err", err)
	}

	s.mu.Lock()
	prev := s.cfg
	s.cfg = next
	s.mu.Unlock()

	if prev.Server.HTTPPort != next.Server.HTTPPort || prev.Server.Auth != next.Server.Auth {
		slog.Warn("config: server port and auth changes need a restart")
	}
	select {
	case s.restart <- struct{}{}:
	default:
	}
}

func inputPaths(inputs []config.InputConfig) []string {
	seen := make(map[string]bool)
	var out []string
	for _, in := range inputs {
		for _, p := range []string{in.RFFile, in.BLEFile} {
			p = filepath.Clean(p)
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// inputsFor returns the inputs that read path.
func inputsFor(inputs []config.InputConfig, path string) []config.InputConfig {
	path = filepath.Clean(path)
	var out []config.InputConfig
	for _, in := range inputs {
		if filepath.Clean(in.RFFile) == path || filepath.Clean(in.BLEFile) == path {
			out = append(out, in)
		}
	}
	return out
}
