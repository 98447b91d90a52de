package analyzer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/hearguard/hearguard/internal/dsp"
	"github.com/hearguard/hearguard/pkg/audio"
)

// toneFrame builds a valid 100 ms frame containing a sine tone whose plain
// RMS corresponds to exactly db SPL at zero calibration offset.
func toneFrame(t *testing.T, db float64, ts time.Duration) audio.Frame {
	t.Helper()
	const rate = 48000
	rms := 20e-6 * math.Pow(10, db/20)
	amplitude := rms * math.Sqrt2
	if amplitude > 1 {
		t.Fatalf("amplitude %v exceeds full scale", amplitude)
	}

	n := rate / 10 // 100 ms
	samples := make([]float64, n)
	step := 2 * math.Pi * 1000 / float64(rate)
	for i := range samples {
		samples[i] = amplitude * math.Sin(step*float64(i))
	}
	return audio.Frame{
		Samples:    samples,
		SampleRate: rate,
		Timestamp:  ts,
		Duration:   100 * time.Millisecond,
	}
}

func defaultConfig() Config {
	return Config{ThresholdDB: 85, Mode: dsp.ModeWeighted}
}

func TestAnalyze_HazardBoundaryInclusive(t *testing.T) {
	a := New(nil)
	cfg := defaultConfig()
	cfg.Mode = dsp.ModeFallback // exact RMS, no weighting residual

	res, err := a.Analyze(context.Background(), toneFrame(t, 85.0, 0), cfg)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.DB != 85.0 {
		t.Errorf("DB = %v, want 85.0", res.DB)
	}
	if !res.Hazardous {
		t.Error("a level of exactly 85.0 must be hazardous")
	}
	if !res.Degraded {
		t.Error("fallback mode results must be marked degraded")
	}
}

func TestAnalyze_BelowThresholdSafe(t *testing.T) {
	a := New(nil)
	cfg := defaultConfig()
	cfg.Mode = dsp.ModeFallback

	res, err := a.Analyze(context.Background(), toneFrame(t, 70.0, 0), cfg)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Hazardous {
		t.Errorf("70 dB classified hazardous at 85 dB threshold")
	}
}

func TestAnalyze_WeightedOneKilohertz(t *testing.T) {
	// A 1 kHz tone passes the A-weighting curve nearly unchanged, so the
	// weighted level lands within a few tenths of the nominal value.
	a := New(nil)
	res, err := a.Analyze(context.Background(), toneFrame(t, 90.0, 0), defaultConfig())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if math.Abs(res.DB-90.0) > 0.3 {
		t.Errorf("weighted DB = %v, want 90.0 ±0.3", res.DB)
	}
	if res.Degraded {
		t.Error("weighted path should not be degraded")
	}
}

func TestAnalyze_PureFunction(t *testing.T) {
	a := New(nil)
	frame := toneFrame(t, 88.0, 500*time.Millisecond)
	cfg := defaultConfig()

	first, err := a.Analyze(context.Background(), frame, cfg)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	// Interleave unrelated frames to show prior call history is irrelevant.
	for range 5 {
		if _, err := a.Analyze(context.Background(), toneFrame(t, 60.0, time.Second), cfg); err != nil {
			t.Fatalf("Analyze: %v", err)
		}
	}
	second, err := a.Analyze(context.Background(), frame, cfg)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	// Elapsed is measured wall clock and legitimately varies; everything
	// else must be identical.
	if first.DB != second.DB || first.Hazardous != second.Hazardous ||
		first.Timestamp != second.Timestamp || first.Degraded != second.Degraded {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}
}

func TestAnalyze_CalibrationOffset(t *testing.T) {
	a := New(nil)
	cfg := defaultConfig()
	cfg.Mode = dsp.ModeFallback
	cfg.CalibrationOffsetDB = 5

	res, err := a.Analyze(context.Background(), toneFrame(t, 80.0, 0), cfg)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.DB != 85.0 {
		t.Errorf("DB with +5 offset = %v, want 85.0", res.DB)
	}
	if !res.Hazardous {
		t.Error("calibrated level at threshold must be hazardous")
	}
}

func TestAnalyze_InvalidSamplesSkipped(t *testing.T) {
	a := New(nil)

	frame := toneFrame(t, 80.0, 0)
	frame.Samples[7] = math.NaN()

	_, err := a.Analyze(context.Background(), frame, defaultConfig())
	if !errors.Is(err, audio.ErrInvalidSampleData) {
		t.Fatalf("err = %v, want ErrInvalidSampleData", err)
	}
}

func TestAnalyze_OutOfRangeSamplesSkipped(t *testing.T) {
	a := New(nil)

	frame := toneFrame(t, 80.0, 0)
	frame.Samples[0] = 1.5

	_, err := a.Analyze(context.Background(), frame, defaultConfig())
	if !errors.Is(err, audio.ErrInvalidSampleData) {
		t.Fatalf("err = %v, want ErrInvalidSampleData", err)
	}
}

func TestAnalyze_MalformedFrameSkipped(t *testing.T) {
	a := New(nil)

	_, err := a.Analyze(context.Background(), audio.Frame{
		SampleRate: 48000,
		Duration:   100 * time.Millisecond,
	}, defaultConfig())
	if !errors.Is(err, audio.ErrInvalidSampleData) {
		t.Fatalf("err = %v, want ErrInvalidSampleData", err)
	}
}

func TestAnalyze_TransformFailureFallsBack(t *testing.T) {
	var hookErr error
	a := New(nil, WithTransformFailureHook(func(err error) { hookErr = err }))

	// A frame whose sample buffer is too short for the transform but
	// structurally valid triggers the fallback path.
	frame := audio.Frame{
		Samples:    []float64{0.5, -0.5, 0.5, -0.5},
		SampleRate: 48000,
		Timestamp:  0,
		Duration:   100 * time.Millisecond,
	}

	res, err := a.Analyze(context.Background(), frame, defaultConfig())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.Degraded {
		t.Error("transform failure must mark the result degraded")
	}
	if hookErr == nil {
		t.Fatal("transform failure hook not invoked")
	}
	if !errors.Is(hookErr, dsp.ErrTransformFailure) {
		t.Errorf("hook err = %v, want ErrTransformFailure", hookErr)
	}
	// The fallback is a plain RMS of 0.5 — a real level, not a zero.
	if res.DB <= 0 {
		t.Errorf("fallback DB = %v, want a positive level", res.DB)
	}
}

func TestAnalyze_DoesNotRetainSamples(t *testing.T) {
	a := New(nil)
	frame := toneFrame(t, 80.0, 0)

	res1, err := a.Analyze(context.Background(), frame, defaultConfig())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	// Scribbling over the buffer after the call must not affect any
	// observable analyzer state: a fresh identical frame still produces
	// the identical result.
	for i := range frame.Samples {
		frame.Samples[i] = 0
	}
	res2, err := a.Analyze(context.Background(), toneFrame(t, 80.0, 0), defaultConfig())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res1.DB != res2.DB {
		t.Errorf("DB changed after caller scribbled the old buffer: %v vs %v", res1.DB, res2.DB)
	}
}
