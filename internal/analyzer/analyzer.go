// Package analyzer turns a single audio frame into a calibrated,
// perceptually-weighted sound-pressure-level classification.
//
// Analysis is a pure function of the frame and configuration: identical
// input and configuration always produce an identical result, and results
// for distinct frames never depend on processing order. That statelessness
// is what lets the pipeline fan analysis out across workers.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hearguard/hearguard/internal/dsp"
	"github.com/hearguard/hearguard/internal/observe"
	"github.com/hearguard/hearguard/pkg/audio"
)

// Budget is the soft per-frame analysis deadline. Exceeding it never cancels
// the work — a late-but-correct detection beats a missed one — but the
// overrun is recorded on the result and logged.
const Budget = 100 * time.Millisecond

// Config is the analyzer's view of the runtime configuration. It is passed
// by value on every call so that a config reload mid-stream cannot tear a
// single frame's analysis.
type Config struct {
	// ThresholdDB is the hazard threshold. The boundary is inclusive:
	// a level exactly at the threshold is hazardous.
	ThresholdDB float64

	// CalibrationOffsetDB is applied additively after dB conversion.
	CalibrationOffsetDB float64

	// Mode selects the weighting path. The degradation controller switches
	// this to [dsp.ModeFallback] under sustained pressure.
	Mode dsp.Mode
}

// Result is the immutable outcome of analysing one frame.
type Result struct {
	// DB is the calibrated level rounded to one decimal place.
	DB float64

	// Hazardous reports whether DB meets or exceeds the configured
	// threshold.
	Hazardous bool

	// Timestamp is the source frame's capture timestamp.
	Timestamp time.Duration

	// Elapsed is the measured wall-clock analysis duration.
	Elapsed time.Duration

	// Degraded is set when the level came from the unweighted fallback
	// path, whether forced by configuration or after a transform failure.
	Degraded bool

	// Overrun is set when Elapsed exceeded [Budget].
	Overrun bool
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithTransformFailureHook registers a callback invoked whenever the
// weighting transform fails and the analyzer falls back to the unweighted
// path. The degradation controller uses this for failure accounting. The
// hook runs synchronously on the analysis goroutine and must be fast.
func WithTransformFailureHook(fn func(error)) Option {
	return func(a *Analyzer) { a.onTransformFailure = fn }
}

// Analyzer computes per-frame analysis results. Safe for concurrent use —
// it holds no per-frame state.
type Analyzer struct {
	metrics            *observe.Metrics
	onTransformFailure func(error)
}

// New creates an [Analyzer] recording to the given metrics instance.
// A nil metrics falls back to [observe.DefaultMetrics].
func New(metrics *observe.Metrics, opts ...Option) *Analyzer {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	a := &Analyzer{metrics: metrics}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze runs the weighting filter and level estimator over one frame and
// classifies the hazard.
//
// A frame with structural defects or non-finite / out-of-range samples
// returns an error wrapping [audio.ErrInvalidSampleData]; the caller drops
// the frame and downstream sees a gap, never a fabricated value. A
// weighting-transform failure is recovered internally: the analyzer retries
// with the unweighted path and marks the result degraded.
//
// The frame's sample buffer is not retained past this call.
func (a *Analyzer) Analyze(ctx context.Context, frame audio.Frame, cfg Config) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "analyzer.Analyze",
		trace.WithAttributes(attribute.Int64("frame.timestamp_ms", frame.Timestamp.Milliseconds())))
	defer span.End()

	start := time.Now()

	if err := frame.Validate(); err != nil {
		a.metrics.FramesSkipped.Add(ctx, 1)
		observe.Logger(ctx).Warn("skipping malformed frame",
			"timestamp", frame.Timestamp, "err", err)
		return Result{}, fmt.Errorf("%w: %v", audio.ErrInvalidSampleData, err)
	}
	if err := frame.CheckSamples(); err != nil {
		a.metrics.FramesSkipped.Add(ctx, 1)
		observe.Logger(ctx).Warn("skipping frame with invalid samples",
			"timestamp", frame.Timestamp, "err", err)
		return Result{}, err
	}

	rms, degraded := a.measure(ctx, frame, cfg.Mode)

	db := dsp.Level(rms, cfg.CalibrationOffsetDB)
	elapsed := time.Since(start)
	overrun := elapsed > Budget

	res := Result{
		DB:        db,
		Hazardous: db >= cfg.ThresholdDB,
		Timestamp: frame.Timestamp,
		Elapsed:   elapsed,
		Degraded:  degraded,
		Overrun:   overrun,
	}

	mode := cfg.Mode
	if degraded {
		mode = dsp.ModeFallback
	}
	a.metrics.RecordAnalysis(ctx, elapsed.Seconds(), mode.String(), res.Hazardous)

	if overrun {
		a.metrics.AnalysisOverruns.Add(ctx, 1)
		observe.Logger(ctx).Warn("analysis exceeded budget",
			"timestamp", frame.Timestamp, "elapsed", elapsed, "budget", Budget)
	}

	return res, nil
}

// measure computes the frame's RMS via the selected mode. On transform
// failure it falls back to the time-domain path and reports degraded=true.
func (a *Analyzer) measure(ctx context.Context, frame audio.Frame, mode dsp.Mode) (rms float64, degraded bool) {
	if mode == dsp.ModeFallback {
		return dsp.RMS(frame.Samples), true
	}

	rms, err := dsp.WeightedRMS(frame.Samples, frame.SampleRate)
	if err == nil {
		return rms, false
	}
	if !errors.Is(err, dsp.ErrTransformFailure) {
		// WeightedRMS only fails with ErrTransformFailure today; treat
		// anything else the same way rather than dropping the frame.
		err = fmt.Errorf("%w: %v", dsp.ErrTransformFailure, err)
	}

	a.metrics.TransformFailures.Add(ctx, 1)
	observe.Logger(ctx).Warn("weighting transform failed, using fallback path",
		"timestamp", frame.Timestamp, "err", err)
	if a.onTransformFailure != nil {
		a.onTransformFailure(err)
	}
	return dsp.RMS(frame.Samples), true
}
