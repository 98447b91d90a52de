// Package config provides the configuration schema, loader, and hot-reload
// watcher for the hearguard noise monitor.
package config

import "time"

// LogLevel controls log verbosity for the hearguard daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for hearguard.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
//
// All time values are integer milliseconds in the YAML schema; accessor
// methods return [time.Duration].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Alerting AlertingConfig `yaml:"alerting"`
}

// ServerConfig holds network and logging settings for the daemon.
type ServerConfig struct {
	// ListenAddr is the TCP address of the status/metrics HTTP server
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AnalysisConfig tunes the per-frame analysis stage.
//
// All ranges are hard boundaries: out-of-range values are rejected by
// [Validate] with a configuration error, never silently clamped.
type AnalysisConfig struct {
	// ThresholdDB is the safety threshold in dB SPL. A frame at or above
	// this level is hazardous.
	ThresholdDB float64 `yaml:"threshold_db" validate:"gte=70,lte=120"`

	// FrameDurationMS is the nominal capture frame length in milliseconds.
	// The degradation controller may grow it toward the upper bound under
	// load.
	FrameDurationMS int `yaml:"frame_duration_ms" validate:"gte=100,lte=200"`

	// CalibrationOffsetDB is added to every computed level to compensate
	// for microphone sensitivity.
	CalibrationOffsetDB float64 `yaml:"calibration_offset_db" validate:"gte=-20,lte=20"`

	// QueueCapacity bounds the frame queue between capture and analysis.
	// When full, the oldest unanalysed frame is dropped.
	QueueCapacity int `yaml:"queue_capacity" validate:"gte=1"`

	// Workers is the number of concurrent analysis goroutines.
	Workers int `yaml:"workers" validate:"gte=1"`
}

// FrameDuration returns the nominal frame length.
func (a AnalysisConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameDurationMS) * time.Millisecond
}

// AlertingConfig tunes the alert state machine.
type AlertingConfig struct {
	// VibrationEnabled toggles haptic pulse events while an alert is active.
	VibrationEnabled bool `yaml:"vibration_enabled"`

	// VibrationPattern is the pulse shape sent with each vibrate event.
	VibrationPattern VibrationPattern `yaml:"vibration_pattern"`

	// RepeatIntervalMS is the minimum spacing in milliseconds between
	// vibrate events during a continuous alert.
	RepeatIntervalMS int `yaml:"repeat_interval_ms" validate:"gte=1000"`

	// DeactivationHoldMS is how long (milliseconds) the level must stay
	// below threshold continuously before the alert clears.
	DeactivationHoldMS int `yaml:"deactivation_hold_ms" validate:"gte=100"`
}

// RepeatInterval returns the vibration repeat cadence.
func (a AlertingConfig) RepeatInterval() time.Duration {
	return time.Duration(a.RepeatIntervalMS) * time.Millisecond
}

// DeactivationHold returns the debounce hold time for clearing an alert.
func (a AlertingConfig) DeactivationHold() time.Duration {
	return time.Duration(a.DeactivationHoldMS) * time.Millisecond
}

// VibrationPattern describes the haptic pulse shape: Pulses on-phases of
// PulseMS milliseconds separated by PauseMS milliseconds.
type VibrationPattern struct {
	PulseMS int `yaml:"pulse_ms" json:"pulse_ms" validate:"gt=0"`
	PauseMS int `yaml:"pause_ms" json:"pause_ms" validate:"gte=0"`
	Pulses  int `yaml:"pulses" json:"pulses" validate:"gte=1"`
}

// Default returns the configuration used when a field is absent from the
// YAML file: 85 dB threshold, 100 ms frames, 5 s vibration cadence, 1 s
// deactivation hold.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Analysis: AnalysisConfig{
			ThresholdDB:         85,
			FrameDurationMS:     100,
			CalibrationOffsetDB: 0,
			QueueCapacity:       16,
			Workers:             2,
		},
		Alerting: AlertingConfig{
			VibrationEnabled: true,
			VibrationPattern: VibrationPattern{
				PulseMS: 200,
				PauseMS: 100,
				Pulses:  2,
			},
			RepeatIntervalMS:   5000,
			DeactivationHoldMS: 1000,
		},
	}
}
