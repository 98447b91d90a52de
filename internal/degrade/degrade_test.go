package degrade

import (
	"errors"
	"testing"
	"time"

	"github.com/hearguard/hearguard/internal/analyzer"
	"github.com/hearguard/hearguard/internal/dsp"
	"github.com/hearguard/hearguard/pkg/audio"
)

var errBoom = errors.New("transform exploded")

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() Config {
	return Config{
		BaseFrameDuration: 100 * time.Millisecond,
		MaxFrameDuration:  200 * time.Millisecond,
		GrowthStep:        25 * time.Millisecond,
		MaxFailures:       3,
		ResetTimeout:      time.Second,
		HalfOpenMax:       2,
		OverrunTrip:       3,
		RecoveryRun:       5,
		PressureRelief:    10 * time.Second,
	}
}

func newTestController(opts ...Option) (*Controller, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	opts = append([]Option{WithClock(clock.now)}, opts...)
	return New(testConfig(), opts...), clock
}

func clean() analyzer.Result   { return analyzer.Result{} }
func overrun() analyzer.Result { return analyzer.Result{Overrun: true, Degraded: true} }

func TestController_InitialState(t *testing.T) {
	c, _ := newTestController()

	if got := c.Mode(); got != dsp.ModeWeighted {
		t.Errorf("Mode = %v, want weighted", got)
	}
	if got := c.State(); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
	if got := c.FrameDuration(); got != 100*time.Millisecond {
		t.Errorf("FrameDuration = %v, want 100ms", got)
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	c, _ := newTestController()

	for range 2 {
		c.OnTransformFailure(errBoom)
	}
	if got := c.Mode(); got != dsp.ModeWeighted {
		t.Fatalf("Mode after 2 failures = %v, want weighted (threshold is 3)", got)
	}

	c.OnTransformFailure(errBoom)
	if got := c.State(); got != StateOpen {
		t.Errorf("State = %v, want open", got)
	}
	if got := c.Mode(); got != dsp.ModeFallback {
		t.Errorf("Mode = %v, want fallback", got)
	}
	if s := c.Snapshot(); !s.ForcedFallback {
		t.Errorf("snapshot = %+v, want forced fallback", s)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	c, _ := newTestController()

	c.OnTransformFailure(errBoom)
	c.OnTransformFailure(errBoom)
	c.Observe(clean()) // weighted success clears the streak
	c.OnTransformFailure(errBoom)
	c.OnTransformFailure(errBoom)

	if got := c.State(); got != StateClosed {
		t.Errorf("State = %v, want closed (streak was interrupted)", got)
	}
}

func TestBreaker_HalfOpenProbeBudget(t *testing.T) {
	c, clock := newTestController()

	for range 3 {
		c.OnTransformFailure(errBoom)
	}
	if got := c.Mode(); got != dsp.ModeFallback {
		t.Fatalf("Mode while open = %v, want fallback", got)
	}

	clock.advance(time.Second)
	if got := c.State(); got != StateHalfOpen {
		t.Fatalf("State after cooldown = %v, want half-open", got)
	}

	// Exactly HalfOpenMax probes get the weighted path, the rest fall back.
	if got := c.Mode(); got != dsp.ModeWeighted {
		t.Errorf("probe 1 mode = %v, want weighted", got)
	}
	if got := c.Mode(); got != dsp.ModeWeighted {
		t.Errorf("probe 2 mode = %v, want weighted", got)
	}
	if got := c.Mode(); got != dsp.ModeFallback {
		t.Errorf("mode after probe budget = %v, want fallback", got)
	}
}

func TestBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	c, clock := newTestController()

	for range 3 {
		c.OnTransformFailure(errBoom)
	}
	clock.advance(time.Second)
	c.Mode()
	c.Mode()
	c.Observe(clean())
	c.Observe(clean())

	if got := c.State(); got != StateClosed {
		t.Errorf("State = %v, want closed after %d successful probes", got, 2)
	}
	if got := c.Mode(); got != dsp.ModeWeighted {
		t.Errorf("Mode = %v, want weighted", got)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	c, clock := newTestController()

	for range 3 {
		c.OnTransformFailure(errBoom)
	}
	clock.advance(time.Second)
	c.Mode() // enter half-open, take one probe
	c.OnTransformFailure(errBoom)

	if got := c.State(); got != StateOpen {
		t.Errorf("State = %v, want open after probe failure", got)
	}
	if got := c.Mode(); got != dsp.ModeFallback {
		t.Errorf("Mode = %v, want fallback", got)
	}
}

func TestOverruns_GrowFrameDuration(t *testing.T) {
	var retuned time.Duration
	c, _ := newTestController(WithFrameDurationHook(func(d time.Duration) { retuned = d }))

	c.Observe(overrun())
	c.Observe(overrun())
	if got := c.FrameDuration(); got != 100*time.Millisecond {
		t.Fatalf("FrameDuration after 2 overruns = %v, want unchanged", got)
	}

	c.Observe(overrun())
	if got := c.FrameDuration(); got != 125*time.Millisecond {
		t.Errorf("FrameDuration = %v, want 125ms", got)
	}
	if retuned != 125*time.Millisecond {
		t.Errorf("hook got %v, want 125ms", retuned)
	}
}

func TestOverruns_CleanResultBreaksStreak(t *testing.T) {
	c, _ := newTestController()

	c.Observe(overrun())
	c.Observe(overrun())
	c.Observe(clean())
	c.Observe(overrun())
	c.Observe(overrun())

	if got := c.FrameDuration(); got != 100*time.Millisecond {
		t.Errorf("FrameDuration = %v, want 100ms (streak interrupted)", got)
	}
}

func TestOverruns_GrowthIsClamped(t *testing.T) {
	c, _ := newTestController()

	// Enough trips to overshoot the 200ms cap.
	for range 6 {
		c.Observe(overrun())
		c.Observe(overrun())
		c.Observe(overrun())
	}
	if got := c.FrameDuration(); got != 200*time.Millisecond {
		t.Errorf("FrameDuration = %v, want clamped to 200ms", got)
	}
}

func TestRecovery_CleanRunShrinksFrameDuration(t *testing.T) {
	c, _ := newTestController()

	c.Observe(overrun())
	c.Observe(overrun())
	c.Observe(overrun())
	if got := c.FrameDuration(); got != 125*time.Millisecond {
		t.Fatalf("FrameDuration = %v, want 125ms", got)
	}

	for range 5 {
		c.Observe(clean())
	}
	if got := c.FrameDuration(); got != 100*time.Millisecond {
		t.Errorf("FrameDuration after clean run = %v, want 100ms", got)
	}

	// Never below the configured base.
	for range 5 {
		c.Observe(clean())
	}
	if got := c.FrameDuration(); got != 100*time.Millisecond {
		t.Errorf("FrameDuration = %v, want floor at base", got)
	}
}

func TestPressure_ForcesFallbackAndMaxDuration(t *testing.T) {
	c, clock := newTestController()

	c.SignalPressure(PressureThermal)

	if got := c.Mode(); got != dsp.ModeFallback {
		t.Errorf("Mode under pressure = %v, want fallback", got)
	}
	if got := c.FrameDuration(); got != 200*time.Millisecond {
		t.Errorf("FrameDuration under pressure = %v, want 200ms", got)
	}
	if s := c.Snapshot(); !s.PressureActive || !s.ForcedFallback {
		t.Errorf("snapshot = %+v, want pressure active + forced fallback", s)
	}

	// Relief elapses: weighted path returns, duration recovers via the
	// clean-run mechanism.
	clock.advance(11 * time.Second)
	if got := c.Mode(); got != dsp.ModeWeighted {
		t.Errorf("Mode after relief = %v, want weighted", got)
	}
	for range 20 {
		c.Observe(clean())
	}
	if got := c.FrameDuration(); got != 100*time.Millisecond {
		t.Errorf("FrameDuration after recovery = %v, want 100ms", got)
	}
}

func TestCaptureStatus_Recorded(t *testing.T) {
	c, _ := newTestController()

	if got := c.Status(); got != audio.StatusIdle {
		t.Errorf("initial Status = %v, want idle", got)
	}
	c.SetStatus(audio.StatusCapturing)
	if got := c.Status(); got != audio.StatusCapturing {
		t.Errorf("Status = %v, want capturing", got)
	}
	c.SetStatus(audio.StatusPermissionDenied)
	if got := c.Snapshot().CaptureStatus; got != "PERMISSION_DENIED" {
		t.Errorf("snapshot status = %q, want PERMISSION_DENIED", got)
	}
}

func TestReset_RestoresInitialState(t *testing.T) {
	c, _ := newTestController()

	for range 3 {
		c.OnTransformFailure(errBoom)
	}
	c.SignalPressure(PressureLowMemory)
	c.Reset()

	if got := c.State(); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
	if got := c.Mode(); got != dsp.ModeWeighted {
		t.Errorf("Mode = %v, want weighted", got)
	}
	if got := c.FrameDuration(); got != 100*time.Millisecond {
		t.Errorf("FrameDuration = %v, want 100ms", got)
	}
}
