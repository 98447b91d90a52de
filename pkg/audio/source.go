package audio

import (
	"context"
	"math"
	"sync"
	"time"
)

// CaptureStatus reports the state of the external capture device.
type CaptureStatus int

const (
	// StatusIdle means no capture session is running.
	StatusIdle CaptureStatus = iota

	// StatusCapturing means frames are being produced.
	StatusCapturing

	// StatusError means the capture device failed mid-session.
	StatusError

	// StatusPermissionDenied means the OS refused microphone access.
	StatusPermissionDenied
)

// String returns the human-readable name of the capture status.
func (s CaptureStatus) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusCapturing:
		return "CAPTURING"
	case StatusError:
		return "ERROR"
	case StatusPermissionDenied:
		return "PERMISSION_DENIED"
	default:
		return "UNKNOWN"
	}
}

// Source produces audio frames in strictly increasing timestamp order.
// Microphone acquisition and OS permission negotiation live behind this
// interface — the pipeline only ever sees frames and status changes.
type Source interface {
	// Frames returns the frame stream. The channel is closed when the
	// source stops or the context passed to Start is cancelled.
	Frames() <-chan Frame

	// Status returns the current capture status.
	Status() CaptureStatus

	// Start begins producing frames with the given nominal frame duration.
	// The source honours ctx cancellation.
	Start(ctx context.Context, frameDuration time.Duration) error

	// SetFrameDuration adjusts the nominal duration of subsequently
	// produced frames. Used by the degradation controller; values are
	// clamped to [MinFrameDuration, MaxFrameDuration] by the source.
	SetFrameDuration(d time.Duration)
}

// ToneSource is a synthetic [Source] that produces frames of a pure sine
// tone at a fixed amplitude. It exists for tests and the demo mode — the
// amplitude maps directly to a known dB level, so hazard behaviour can be
// exercised without a microphone.
//
// The exported fields configure the tone and must not change after the
// first Start. Start may be called again after cancellation to begin a new
// session; the previous generator's channels are abandoned to it.
type ToneSource struct {
	// Freq is the tone frequency in Hz.
	Freq float64

	// Amplitude is the peak sample value in [0, 1].
	Amplitude float64

	// SampleRate in Hz. Defaults to 48000 when zero.
	SampleRate int

	// Realtime, when true, paces frame production at capture speed.
	// When false frames are produced as fast as the consumer accepts them.
	Realtime bool

	// mu guards the session fields: the generator goroutine writes status
	// during teardown while the pipeline polls Status concurrently.
	mu       sync.Mutex
	frames   chan Frame
	duration chan time.Duration
	status   CaptureStatus
}

// Frames returns the synthetic frame stream. Valid after Start.
func (t *ToneSource) Frames() <-chan Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// Status returns [StatusCapturing] while the source runs.
func (t *ToneSource) Status() CaptureStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetFrameDuration adjusts the duration of subsequently produced frames.
func (t *ToneSource) SetFrameDuration(d time.Duration) {
	t.mu.Lock()
	ch := t.duration
	t.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- d:
	default:
	}
}

// Start launches the generator goroutine. The frame channel is closed when
// ctx is cancelled.
func (t *ToneSource) Start(ctx context.Context, frameDuration time.Duration) error {
	if t.SampleRate == 0 {
		t.SampleRate = 48000
	}
	frames := make(chan Frame, 4)
	duration := make(chan time.Duration, 1)

	t.mu.Lock()
	t.frames = frames
	t.duration = duration
	t.status = StatusCapturing
	t.mu.Unlock()

	go t.generate(ctx, frames, duration, frameDuration)
	return nil
}

func (t *ToneSource) generate(ctx context.Context, frames chan<- Frame, duration <-chan time.Duration, frameDuration time.Duration) {
	defer func() {
		close(frames)
		t.mu.Lock()
		// A restarted session owns the status by then; only the current
		// generation reports idle.
		if t.frames == frames {
			t.status = StatusIdle
		}
		t.mu.Unlock()
	}()

	var (
		elapsed time.Duration
		phase   float64
	)
	step := 2 * math.Pi * t.Freq / float64(t.SampleRate)

	for {
		select {
		case d := <-duration:
			frameDuration = min(max(d, MinFrameDuration), MaxFrameDuration)
		default:
		}

		n := int(float64(t.SampleRate) * frameDuration.Seconds())
		samples := make([]float64, n)
		for i := range samples {
			samples[i] = t.Amplitude * math.Sin(phase)
			phase += step
		}

		frame := Frame{
			Samples:    samples,
			SampleRate: t.SampleRate,
			Timestamp:  elapsed,
			Duration:   frameDuration,
		}
		elapsed += frameDuration

		if t.Realtime {
			select {
			case <-ctx.Done():
				return
			case <-time.After(frameDuration):
			}
		}

		select {
		case <-ctx.Done():
			return
		case frames <- frame:
		}
	}
}
