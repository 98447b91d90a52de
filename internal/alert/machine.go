// Package alert implements the hazard alert state machine: a strictly
// sequential consumer of analysis results that derives debounced,
// rate-limited alert side effects.
//
// The machine has two states, INACTIVE and ACTIVE. Activation happens on
// the first hazardous result; deactivation requires the level to stay below
// threshold continuously for the configured hold time — a single transient
// safe reading never flickers the alert off. Vibration repeats at the
// configured cadence while the alert is active.
//
// Transitions are not commutative, so exactly one goroutine may call
// [Machine.Process]; results must arrive in non-decreasing timestamp order.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hearguard/hearguard/internal/analyzer"
	"github.com/hearguard/hearguard/internal/config"
	"github.com/hearguard/hearguard/internal/observe"
)

// Config is the state machine's view of the runtime configuration.
type Config struct {
	VibrationEnabled bool
	VibrationPattern config.VibrationPattern

	// RepeatInterval is the minimum wall-clock spacing between vibrate
	// events during a continuous alert.
	RepeatInterval time.Duration

	// DeactivationHold is how long the level must remain below threshold,
	// measured over result timestamps from the first safe result, before
	// the alert clears.
	DeactivationHold time.Duration
}

// State is a point-in-time snapshot of the machine.
//
// Invariants: AlertStart is non-nil iff Active; LastVibration is non-nil
// only while Active.
type State struct {
	Active        bool           `json:"active"`
	CurrentDB     float64        `json:"current_db"`
	AlertStart    *time.Duration `json:"alert_start,omitempty"`
	LastVibration *time.Time     `json:"last_vibration,omitempty"`
	HazardFrames  int            `json:"hazard_frames"`
}

// Option configures a [Machine].
type Option func(*Machine)

// WithClock injects a clock for vibration cadence. Tests use this to step
// wall time deterministically.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(metrics *observe.Metrics) Option {
	return func(m *Machine) { m.metrics = metrics }
}

// Machine is the alert state machine. One instance exists per monitoring
// session; it is reset to INACTIVE on session stop or restart.
type Machine struct {
	sink    Sink
	now     func() time.Time
	metrics *observe.Metrics

	mu  sync.Mutex
	cfg Config

	active        bool
	currentDB     float64
	alertStart    time.Duration
	lastVibration time.Time // zero means no vibration yet this alert
	hazardFrames  int

	// safeSince is the timestamp of the first non-hazardous result of the
	// current below-threshold run, valid while safeRun is true.
	safeSince time.Duration
	safeRun   bool
}

// New creates a [Machine] in the INACTIVE state dispatching side effects to
// sink.
func New(cfg Config, sink Sink, opts ...Option) *Machine {
	m := &Machine{
		sink: sink,
		now:  time.Now,
		cfg:  cfg,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// SetConfig swaps the alerting configuration. Takes effect on the next
// result; the current activation state and timers are untouched.
func (m *Machine) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Process consumes one analysis result and emits any side effects it
// implies. Results must be delivered in non-decreasing timestamp order by a
// single goroutine.
func (m *Machine) Process(res analyzer.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		if !res.Hazardous {
			m.currentDB = res.DB
			return
		}
		m.activate(res)
		return
	}

	m.currentDB = res.DB

	if res.Hazardous {
		// Any hazardous result ends a below-threshold run.
		m.safeRun = false
		m.hazardFrames++
		m.sink.Update(res.DB)
		m.maybeVibrate()
		return
	}

	// Below threshold while active: debounce, don't flicker.
	if !m.safeRun {
		m.safeRun = true
		m.safeSince = res.Timestamp
		m.sink.Update(res.DB)
		return
	}
	if res.Timestamp-m.safeSince >= m.cfg.DeactivationHold {
		m.deactivate()
		return
	}
	m.sink.Update(res.DB)
}

// activate performs the INACTIVE → ACTIVE transition. Caller holds m.mu.
func (m *Machine) activate(res analyzer.Result) {
	m.active = true
	m.alertStart = res.Timestamp
	m.currentDB = res.DB
	m.hazardFrames = 1
	m.safeRun = false

	slog.Info("alert activated", "db", res.DB, "timestamp", res.Timestamp)
	m.metrics.AlertActivations.Add(context.Background(), 1)
	m.sink.Activate(res.DB, res.Timestamp)
	m.maybeVibrate()
}

// deactivate performs the ACTIVE → INACTIVE transition, resetting all state
// to inactive defaults. Caller holds m.mu.
func (m *Machine) deactivate() {
	slog.Info("alert cleared",
		"hazard_frames", m.hazardFrames,
		"active_for", m.safeSince-m.alertStart)

	m.resetLocked()
	m.sink.Clear()
}

// maybeVibrate emits a vibrate event when vibration is enabled and the
// repeat interval has elapsed (or no pulse has fired yet this alert).
// Caller holds m.mu.
func (m *Machine) maybeVibrate() {
	if !m.cfg.VibrationEnabled {
		return
	}
	now := m.now()
	if !m.lastVibration.IsZero() && now.Sub(m.lastVibration) < m.cfg.RepeatInterval {
		return
	}
	m.lastVibration = now
	m.metrics.Vibrations.Add(context.Background(), 1)
	m.sink.Vibrate(m.cfg.VibrationPattern)
}

// Reset forces the machine to INACTIVE and emits a final clear. Called on
// session stop or restart.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetLocked()
	m.sink.Clear()
}

// resetLocked restores all fields to their inactive defaults. Caller holds
// m.mu.
func (m *Machine) resetLocked() {
	m.active = false
	m.currentDB = 0
	m.alertStart = 0
	m.lastVibration = time.Time{}
	m.hazardFrames = 0
	m.safeRun = false
	m.safeSince = 0
}

// Snapshot returns the current [State]. Safe to call from any goroutine.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := State{
		Active:       m.active,
		CurrentDB:    m.currentDB,
		HazardFrames: m.hazardFrames,
	}
	if m.active {
		start := m.alertStart
		s.AlertStart = &start
		if !m.lastVibration.IsZero() {
			last := m.lastVibration
			s.LastVibration = &last
		}
	}
	return s
}
