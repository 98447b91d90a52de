// Package app wires all hearguard subsystems into a running monitor.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the monitoring session and HTTP surface until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSource,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hearguard/hearguard/internal/alert"
	"github.com/hearguard/hearguard/internal/analyzer"
	"github.com/hearguard/hearguard/internal/config"
	"github.com/hearguard/hearguard/internal/degrade"
	"github.com/hearguard/hearguard/internal/health"
	"github.com/hearguard/hearguard/internal/observe"
	"github.com/hearguard/hearguard/internal/pipeline"
	"github.com/hearguard/hearguard/internal/server"
	"github.com/hearguard/hearguard/pkg/audio"
)

// App owns all subsystem lifetimes and orchestrates the monitoring pipeline.
type App struct {
	cfg *config.Config

	source  audio.Source
	metrics *observe.Metrics

	// Subsystems — initialised in New, torn down in Shutdown.
	sink    *alert.ChannelSink
	machine *alert.Machine
	ctrl    *degrade.Controller
	an      *analyzer.Analyzer
	pipe    *pipeline.Pipeline
	srv     *server.Server
	watcher *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once

	running   atomic.Bool
	watchPath string

	mu            sync.Mutex
	sessionCancel context.CancelFunc
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a frame source instead of the built-in tone generator.
func WithSource(src audio.Source) Option {
	return func(a *App) { a.source = src }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(metrics *observe.Metrics) Option {
	return func(a *App) { a.metrics = metrics }
}

// WithConfigWatch makes the app poll path for configuration changes and
// apply valid reloads live. path should be the file cfg was loaded from.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.watchPath = path }
}

// New creates an App by wiring all subsystems together.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// Alert path: state machine dispatching to a buffered event stream the
	// websocket broadcaster drains.
	a.sink = alert.NewChannelSink(64)
	a.machine = alert.New(alertConfig(cfg.Alerting), a.sink,
		alert.WithMetrics(a.metrics))

	// Degradation controller seeded with the configured frame duration.
	a.ctrl = degrade.New(degrade.Config{
		BaseFrameDuration: cfg.Analysis.FrameDuration(),
	}, degrade.WithMetrics(a.metrics))

	a.an = analyzer.New(a.metrics,
		analyzer.WithTransformFailureHook(a.ctrl.OnTransformFailure))

	a.pipe = pipeline.New(pipeline.Config{
		QueueCapacity: cfg.Analysis.QueueCapacity,
		Workers:       cfg.Analysis.Workers,
	}, a.an, a.machine, a.ctrl, analyzerConfig(cfg.Analysis),
		pipeline.WithMetrics(a.metrics))

	if a.source == nil {
		// Demo source: a quiet 1 kHz tone. Real deployments inject the
		// platform capture implementation.
		a.source = &audio.ToneSource{Freq: 1000, Amplitude: 0.05, Realtime: true}
	}

	checks := health.New(
		health.CaptureCheck(a.source.Status),
		health.PipelineCheck(a.running.Load),
	)
	a.srv = server.New(cfg.Server.ListenAddr, a.machine, a.pipe.Stats(), a.ctrl, checks)

	if a.watchPath != "" {
		w, err := config.NewWatcher(a.watchPath, func(_, next *config.Config) {
			a.applyConfig(next)
		})
		if err != nil {
			return nil, fmt.Errorf("app: start config watcher: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}

	return a, nil
}

// applyConfig pushes a reloaded configuration into the running subsystems.
// The session keeps running — threshold, calibration, and alerting changes
// take effect on the next frame.
func (a *App) applyConfig(cfg *config.Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()

	a.pipe.SetAnalyzerConfig(analyzerConfig(cfg.Analysis))
	a.machine.SetConfig(alertConfig(cfg.Alerting))
	a.source.SetFrameDuration(cfg.Analysis.FrameDuration())
	slog.Info("configuration applied",
		"threshold_db", cfg.Analysis.ThresholdDB,
		"frame_duration", cfg.Analysis.FrameDuration())
}

// Run starts the HTTP surface and the monitoring session, blocking until ctx
// is cancelled. A session that ends for any other reason (capture device
// failure) is restarted after resetting the alert and degradation state.
func (a *App) Run(ctx context.Context) error {
	// The watcher may swap a.cfg concurrently; take one coherent view here.
	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		g.Go(func() error { return a.srv.Run(ctx) })
	}

	// Broadcast alert events to websocket clients until the sink closes.
	go a.srv.Pump(a.sink.Events())

	g.Go(func() error { return a.runSessions(ctx) })

	slog.Info("hearguard running",
		"threshold_db", cfg.Analysis.ThresholdDB,
		"listen_addr", cfg.Server.ListenAddr)

	return g.Wait()
}

// runSessions runs monitoring sessions back to back until ctx is cancelled.
// Each restart begins from a clean slate: the pipeline resets the alert
// machine on the way out, and the stats and degradation state are cleared
// here.
func (a *App) runSessions(ctx context.Context) error {
	for {
		sctx, cancel := context.WithCancel(ctx)
		a.mu.Lock()
		a.sessionCancel = cancel
		a.mu.Unlock()

		if err := a.source.Start(sctx, a.ctrl.FrameDuration()); err != nil {
			cancel()
			return fmt.Errorf("app: start capture: %w", err)
		}

		a.running.Store(true)
		err := a.pipe.Run(sctx, a.source)
		a.running.Store(false)
		cancel()

		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		slog.Info("session ended, restarting")
		a.pipe.Stats().Reset()
		a.ctrl.Reset()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

// AlertState returns a snapshot of the alert state machine.
func (a *App) AlertState() alert.State {
	return a.machine.Snapshot()
}

// RestartSession stops the current monitoring session; Run immediately
// starts a fresh one with reset alert and degradation state.
func (a *App) RestartSession() {
	a.mu.Lock()
	cancel := a.sessionCancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		a.sink.Close()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// alertConfig converts the alerting section into the state machine's view.
func alertConfig(c config.AlertingConfig) alert.Config {
	return alert.Config{
		VibrationEnabled: c.VibrationEnabled,
		VibrationPattern: c.VibrationPattern,
		RepeatInterval:   c.RepeatInterval(),
		DeactivationHold: c.DeactivationHold(),
	}
}

// analyzerConfig converts the analysis section into the analyzer's view.
// Mode is left at the weighted default; the pipeline overrides it per frame
// from the degradation controller.
func analyzerConfig(c config.AnalysisConfig) analyzer.Config {
	return analyzer.Config{
		ThresholdDB:         c.ThresholdDB,
		CalibrationOffsetDB: c.CalibrationOffsetDB,
	}
}
