// Package dsp implements the signal-processing core of hearguard: the
// A-weighting filter and the sound-pressure-level estimator. Both operate on
// a single frame of normalized samples and carry no state between frames.
package dsp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrTransformFailure indicates that the frequency-domain weighting path
// could not complete. Callers fall back to the unweighted time-domain RMS —
// a designed degraded mode, not a fatal error.
var ErrTransformFailure = errors.New("weighting transform failure")

// minTransformLen is the minimum number of samples for a meaningful
// weighted spectrum. Below this the frequency resolution is too coarse for
// the sub-100 Hz attenuation to mean anything.
const minTransformLen = 64

// Mode selects the analysis path for a frame.
type Mode int

const (
	// ModeWeighted applies the A-weighting curve in the frequency domain.
	ModeWeighted Mode = iota

	// ModeFallback computes an unweighted time-domain RMS. Selected by the
	// degradation controller or after a transform failure.
	ModeFallback
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeWeighted:
		return "weighted"
	case ModeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// AWeightingDB returns the A-weighting gain in dB at frequency f (Hz), per
// the IEC 61672-1 response. The curve is normalized to 0 dB at 1 kHz,
// emphasizes the 1–6 kHz band and strongly attenuates content below 100 Hz.
func AWeightingDB(f float64) float64 {
	if f <= 0 {
		return math.Inf(-1)
	}
	f2 := f * f
	// Pole frequencies from IEC 61672-1.
	const (
		p1 = 20.598997 * 20.598997
		p2 = 107.65265 * 107.65265
		p3 = 737.86223 * 737.86223
		p4 = 12194.217 * 12194.217
	)
	ra := (p4 * f2 * f2) /
		((f2 + p1) * math.Sqrt((f2+p2)*(f2+p3)) * (f2 + p4))
	// +2.0 dB normalizes the response to unity gain at 1 kHz.
	return 20*math.Log10(ra) + 2.0
}

// WeightedRMS computes the A-weighted RMS of a frame in the frequency
// domain: forward FFT, per-bin application of the weighting curve, and
// energy summation via Parseval's relation. Returns a wrapped
// [ErrTransformFailure] if the frame is too short for a meaningful spectrum
// or the computation produces a non-finite result.
func WeightedRMS(samples []float64, sampleRate int) (float64, error) {
	n := len(samples)
	if n < minTransformLen {
		return 0, fmt.Errorf("%w: frame length %d below minimum %d", ErrTransformFailure, n, minTransformLen)
	}
	if sampleRate <= 0 {
		return 0, fmt.Errorf("%w: sample rate %d", ErrTransformFailure, sampleRate)
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, samples)

	// Parseval over the half spectrum: interior bins count twice, DC and
	// (for even n) Nyquist count once. The DC bin carries no weight — the
	// A-curve is -inf at 0 Hz.
	binWidth := float64(sampleRate) / float64(n)
	var energy float64
	for k := 1; k < len(coeffs); k++ {
		w := math.Pow(10, AWeightingDB(float64(k)*binWidth)/20)
		mag := cmplxAbs2(coeffs[k])
		factor := 2.0
		if n%2 == 0 && k == len(coeffs)-1 {
			factor = 1.0 // Nyquist bin appears once
		}
		energy += factor * w * w * mag
	}
	energy /= float64(n) * float64(n)

	if math.IsNaN(energy) || math.IsInf(energy, 0) || energy < 0 {
		return 0, fmt.Errorf("%w: non-finite spectral energy", ErrTransformFailure)
	}
	return math.Sqrt(energy), nil
}

// RMS computes the plain time-domain root-mean-square of a frame. This is
// the fallback path when the weighting transform is unavailable.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func cmplxAbs2(c complex128) float64 {
	return real(c)*real(c) + imag(c)*imag(c)
}
