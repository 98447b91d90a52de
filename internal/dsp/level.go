package dsp

import "math"

// referencePressure is the SPL reference of 20 micropascals. Normalized
// full-scale (1.0) is calibrated to 1 Pa, i.e. 94 dB SPL before the
// configurable calibration offset.
const referencePressure = 20e-6

// rmsEpsilon is the silence floor. RMS values below it are reported as
// [SilenceDB] instead of diverging toward -Inf.
const rmsEpsilon = 1e-9

// SilenceDB is the level reported for frames whose RMS is below the
// numerical silence floor.
const SilenceDB = 0.0

// Level converts an RMS value to a calibrated sound pressure level in dB
// relative to 20 µPa, applies the calibration offset additively, and rounds
// to one decimal place. Levels below [SilenceDB] are clamped — a negative
// SPL has no meaning on this scale.
func Level(rms, calibrationOffset float64) float64 {
	if rms < rmsEpsilon {
		return SilenceDB
	}
	db := 20*math.Log10(rms/referencePressure) + calibrationOffset
	if db < SilenceDB {
		return SilenceDB
	}
	return Round1(db)
}

// Round1 rounds to exactly one decimal place using half-away-from-zero
// (math.Round). The choice matters at the hazard boundary: 84.95 rounds to
// 85.0, which is hazardous at the default threshold.
func Round1(db float64) float64 {
	return math.Round(db*10) / 10
}
