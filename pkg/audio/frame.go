// Package audio defines the frame types and capture-source contracts shared
// by the hearguard analysis pipeline. Frames are the atomic unit of audio
// transport — produced by a capture source, validated, analysed exactly once,
// and discarded. No component may retain a frame's sample buffer past the
// call that consumes it.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// MinSampleRate is the lowest sample rate accepted from a capture source.
const MinSampleRate = 44100

// Frame duration bounds. Sources produce frames between MinFrameDuration and
// MaxFrameDuration; the degradation controller moves the target duration
// within this range under load.
const (
	MinFrameDuration = 100 * time.Millisecond
	MaxFrameDuration = 200 * time.Millisecond
)

// ErrInvalidSampleData indicates a frame containing non-finite or
// out-of-range samples. Such frames are skipped by the analyzer, never
// propagated downstream.
var ErrInvalidSampleData = errors.New("invalid sample data")

// Frame is a single fixed-duration block of normalized audio samples.
//
// The producer owns the frame until it is handed to the analyzer; the
// analyzer consumes it synchronously and must not keep a reference to
// Samples afterwards.
type Frame struct {
	// Samples are normalized PCM samples in [-1.0, 1.0].
	Samples []float64

	// SampleRate in Hz. Must be at least [MinSampleRate].
	SampleRate int

	// Timestamp marks when this frame was captured, relative to session
	// start. Strictly increasing within a capture session.
	Timestamp time.Duration

	// Duration is the nominal frame length (100–200 ms).
	Duration time.Duration
}

// Validate checks the structural frame invariants: non-empty samples, a
// positive sample rate of at least [MinSampleRate], and a duration within
// bounds. It does not inspect individual sample values; see [CheckSamples].
func (f Frame) Validate() error {
	if len(f.Samples) == 0 {
		return fmt.Errorf("frame at %v: empty sample buffer", f.Timestamp)
	}
	if f.SampleRate < MinSampleRate {
		return fmt.Errorf("frame at %v: sample rate %d below minimum %d", f.Timestamp, f.SampleRate, MinSampleRate)
	}
	if f.Duration < MinFrameDuration || f.Duration > MaxFrameDuration {
		return fmt.Errorf("frame at %v: duration %v outside [%v, %v]", f.Timestamp, f.Duration, MinFrameDuration, MaxFrameDuration)
	}
	return nil
}

// CheckSamples scans the frame for non-finite or out-of-range values and
// returns an error wrapping [ErrInvalidSampleData] naming the first offender.
// A frame that fails this check is dropped from the stream.
func (f Frame) CheckSamples() error {
	for i, s := range f.Samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: non-finite sample at index %d", ErrInvalidSampleData, i)
		}
		if s < -1.0 || s > 1.0 {
			return fmt.Errorf("%w: sample %g at index %d outside [-1, 1]", ErrInvalidSampleData, s, i)
		}
	}
	return nil
}
