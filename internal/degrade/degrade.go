// Package degrade implements the degradation controller: a monitor that
// trades measurement fidelity for continuity when the device cannot keep up.
//
// Two independent levers exist. Repeated weighting-transform failures trip a
// three-state breaker (closed → open → half-open) that forces the analyzer
// onto the unweighted fallback path; after a cooldown a limited number of
// probe frames re-try the weighted path and close the breaker on success.
// Sustained analysis overruns and external pressure signals (low memory,
// thermal) grow the capture frame duration toward its upper bound; a clean
// run shrinks it back. Both levers recover automatically — a degraded
// monitor keeps classifying every frame, it never stops.
package degrade

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hearguard/hearguard/internal/analyzer"
	"github.com/hearguard/hearguard/internal/dsp"
	"github.com/hearguard/hearguard/internal/observe"
	"github.com/hearguard/hearguard/pkg/audio"
)

// State represents the transform breaker's operating mode.
type State int

const (
	// StateClosed is the normal state — frames use the weighted path.
	StateClosed State = iota

	// StateOpen means repeated transform failures tripped the breaker.
	// All frames use the fallback path until the cooldown elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the cooldown. A
	// limited number of frames re-try the weighted path; success closes
	// the breaker, another failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Pressure identifies an external resource-pressure signal.
type Pressure int

const (
	PressureLowMemory Pressure = iota
	PressureThermal
)

// String returns the human-readable name of the pressure signal.
func (p Pressure) String() string {
	switch p {
	case PressureLowMemory:
		return "low-memory"
	case PressureThermal:
		return "thermal"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [Controller]. Zero-value fields are
// replaced with defaults.
type Config struct {
	// BaseFrameDuration is the configured frame duration the controller
	// recovers to. Default: [audio.MinFrameDuration].
	BaseFrameDuration time.Duration

	// MaxFrameDuration caps growth. Default: [audio.MaxFrameDuration].
	MaxFrameDuration time.Duration

	// GrowthStep is the frame-duration increment per trip. Default: 25ms.
	GrowthStep time.Duration

	// MaxFailures is the number of consecutive transform failures before
	// the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing the
	// weighted path again. Default: 10s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe frames in the half-open state.
	// Default: 3.
	HalfOpenMax int

	// OverrunTrip is the number of consecutive overrun results that grows
	// the frame duration one step. Default: 3.
	OverrunTrip int

	// RecoveryRun is the number of consecutive clean (non-overrun)
	// results that shrinks the frame duration one step. Default: 50.
	RecoveryRun int

	// PressureRelief is how long an external pressure signal keeps the
	// fallback path forced. Default: 30s.
	PressureRelief time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseFrameDuration <= 0 {
		c.BaseFrameDuration = audio.MinFrameDuration
	}
	if c.MaxFrameDuration <= 0 {
		c.MaxFrameDuration = audio.MaxFrameDuration
	}
	if c.GrowthStep <= 0 {
		c.GrowthStep = 25 * time.Millisecond
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 10 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	if c.OverrunTrip <= 0 {
		c.OverrunTrip = 3
	}
	if c.RecoveryRun <= 0 {
		c.RecoveryRun = 50
	}
	if c.PressureRelief <= 0 {
		c.PressureRelief = 30 * time.Second
	}
}

// Option configures a [Controller].
type Option func(*Controller)

// WithClock injects a clock. Tests use this to step cooldowns.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(metrics *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = metrics }
}

// WithFrameDurationHook registers a callback invoked whenever the effective
// frame duration changes. The pipeline uses this to retune the capture
// source. The hook runs with the controller's lock held and must be fast.
func WithFrameDurationHook(fn func(time.Duration)) Option {
	return func(c *Controller) { c.onFrameDuration = fn }
}

// Snapshot is a point-in-time view of the controller for status reporting.
type Snapshot struct {
	State          string        `json:"state"`
	ForcedFallback bool          `json:"forced_fallback"`
	FrameDuration  time.Duration `json:"frame_duration"`
	PressureActive bool          `json:"pressure_active"`
	CaptureStatus  string        `json:"capture_status"`
}

// Controller is the degradation controller. Safe for concurrent use: workers
// query [Controller.Mode] per frame while the merge goroutine feeds
// [Controller.Observe].
type Controller struct {
	cfg             Config
	now             func() time.Time
	metrics         *observe.Metrics
	onFrameDuration func(time.Duration)

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenSuccess int

	frameDuration time.Duration
	overrunRun    int
	cleanRun      int

	pressureUntil time.Time
	captureStatus audio.CaptureStatus

	forced bool // last reported forced-fallback state, drives the gauge
}

// New creates a [Controller] in the closed state at the base frame duration.
func New(cfg Config, opts ...Option) *Controller {
	cfg.applyDefaults()
	c := &Controller{
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.frameDuration = cfg.BaseFrameDuration
	return c
}

// Mode returns the analysis mode the next frame should use. In the half-open
// state a limited number of calls get the weighted path as probes; everything
// else follows the breaker and pressure state.
func (c *Controller) Mode() dsp.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pressureActiveLocked() {
		return dsp.ModeFallback
	}

	switch c.state {
	case StateOpen:
		if c.now().Sub(c.lastFailure) < c.cfg.ResetTimeout {
			return dsp.ModeFallback
		}
		c.state = StateHalfOpen
		c.halfOpenCalls = 0
		c.halfOpenSuccess = 0
		slog.Info("transform breaker transitioning to half-open")
		fallthrough

	case StateHalfOpen:
		if c.halfOpenCalls >= c.cfg.HalfOpenMax {
			return dsp.ModeFallback
		}
		c.halfOpenCalls++
		return dsp.ModeWeighted
	}

	return dsp.ModeWeighted
}

// FrameDuration returns the effective capture frame duration.
func (c *Controller) FrameDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameDuration
}

// OnTransformFailure records one weighting-transform failure. Wire it as the
// analyzer's transform-failure hook.
func (c *Controller) OnTransformFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastFailure = c.now()

	if c.state == StateHalfOpen {
		// Any probe failure immediately re-opens.
		c.state = StateOpen
		c.consecutiveFail = c.cfg.MaxFailures
		slog.Warn("transform breaker re-opened from half-open", "err", err)
		c.updateForcedLocked()
		return
	}

	if c.state == StateClosed {
		c.consecutiveFail++
		if c.consecutiveFail >= c.cfg.MaxFailures {
			c.state = StateOpen
			slog.Warn("transform breaker opened, forcing fallback path",
				"consecutive_failures", c.consecutiveFail)
			c.updateForcedLocked()
		}
	}
}

// Observe feeds one analysis result into the overrun and recovery
// accounting. Call it from the merge goroutine for every result.
func (c *Controller) Observe(res analyzer.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A non-degraded result came off the weighted path and counts as a
	// transform success.
	if !res.Degraded {
		switch c.state {
		case StateHalfOpen:
			c.halfOpenSuccess++
			if c.halfOpenSuccess >= c.cfg.HalfOpenMax {
				c.state = StateClosed
				c.consecutiveFail = 0
				slog.Info("transform breaker closed after successful probes")
				c.updateForcedLocked()
			}
		case StateClosed:
			c.consecutiveFail = 0
		}
	}

	if res.Overrun {
		c.overrunRun++
		c.cleanRun = 0
		if c.overrunRun >= c.cfg.OverrunTrip {
			c.overrunRun = 0
			c.setFrameDurationLocked(c.frameDuration + c.cfg.GrowthStep)
		}
		return
	}

	c.overrunRun = 0
	c.cleanRun++
	if c.cleanRun >= c.cfg.RecoveryRun {
		c.cleanRun = 0
		if !c.pressureActiveLocked() {
			c.setFrameDurationLocked(c.frameDuration - c.cfg.GrowthStep)
		}
		c.updateForcedLocked() // pressure may have expired
	}
}

// SignalPressure reacts to an external resource-pressure signal: the frame
// duration jumps to its maximum and the fallback path is forced for the
// relief period.
func (c *Controller) SignalPressure(p Pressure) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slog.Warn("resource pressure signalled, degrading", "pressure", p.String())
	c.pressureUntil = c.now().Add(c.cfg.PressureRelief)
	c.setFrameDurationLocked(c.cfg.MaxFrameDuration)
	c.updateForcedLocked()
}

// SetStatus records the capture source's status for readiness reporting.
func (c *Controller) SetStatus(s audio.CaptureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s != c.captureStatus && (s == audio.StatusError || s == audio.StatusPermissionDenied) {
		slog.Warn("capture status degraded", "status", s.String())
	}
	c.captureStatus = s
}

// Status returns the last recorded capture status.
func (c *Controller) Status() audio.CaptureStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captureStatus
}

// State returns the transform breaker's state. An open breaker whose
// cooldown has elapsed reports half-open; the transition happens on the next
// [Controller.Mode] call.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateOpen && c.now().Sub(c.lastFailure) >= c.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return c.state
}

// Snapshot returns a point-in-time view for the status endpoint.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		State:          c.state.String(),
		ForcedFallback: c.forcedLocked(),
		FrameDuration:  c.frameDuration,
		PressureActive: c.pressureActiveLocked(),
		CaptureStatus:  c.captureStatus.String(),
	}
}

// Reset restores the controller to its initial state. Called on session
// restart.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateClosed
	c.consecutiveFail = 0
	c.halfOpenCalls = 0
	c.halfOpenSuccess = 0
	c.overrunRun = 0
	c.cleanRun = 0
	c.pressureUntil = time.Time{}
	c.setFrameDurationLocked(c.cfg.BaseFrameDuration)
	c.updateForcedLocked()
}

func (c *Controller) pressureActiveLocked() bool {
	return !c.pressureUntil.IsZero() && c.now().Before(c.pressureUntil)
}

func (c *Controller) forcedLocked() bool {
	return c.state == StateOpen || c.pressureActiveLocked()
}

// updateForcedLocked keeps the degraded-mode gauge in step with the
// forced-fallback state. Caller holds c.mu.
func (c *Controller) updateForcedLocked() {
	forced := c.forcedLocked()
	if forced == c.forced {
		return
	}
	c.forced = forced
	if forced {
		c.metrics.DegradedMode.Add(context.Background(), 1)
	} else {
		c.metrics.DegradedMode.Add(context.Background(), -1)
	}
}

// setFrameDurationLocked clamps d to [base, max] and fires the hook on
// change. Caller holds c.mu.
func (c *Controller) setFrameDurationLocked(d time.Duration) {
	if d < c.cfg.BaseFrameDuration {
		d = c.cfg.BaseFrameDuration
	}
	if d > c.cfg.MaxFrameDuration {
		d = c.cfg.MaxFrameDuration
	}
	if d == c.frameDuration {
		return
	}
	slog.Info("frame duration retuned", "from", c.frameDuration, "to", d)
	c.frameDuration = d
	if c.onFrameDuration != nil {
		c.onFrameDuration(d)
	}
}
