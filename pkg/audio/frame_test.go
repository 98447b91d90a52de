package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func validFrame() Frame {
	return Frame{
		Samples:    make([]float64, 4800),
		SampleRate: 48000,
		Timestamp:  0,
		Duration:   100 * time.Millisecond,
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Frame)
		wantErr bool
	}{
		{"valid", func(*Frame) {}, false},
		{"empty samples", func(f *Frame) { f.Samples = nil }, true},
		{"rate below minimum", func(f *Frame) { f.SampleRate = 8000 }, true},
		{"duration too short", func(f *Frame) { f.Duration = 50 * time.Millisecond }, true},
		{"duration too long", func(f *Frame) { f.Duration = 250 * time.Millisecond }, true},
		{"max duration", func(f *Frame) { f.Duration = MaxFrameDuration }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := validFrame()
			tc.mutate(&f)
			err := f.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCheckSamples(t *testing.T) {
	f := validFrame()
	if err := f.CheckSamples(); err != nil {
		t.Fatalf("CheckSamples() on zeroed frame: %v", err)
	}

	cases := []struct {
		name string
		bad  float64
	}{
		{"NaN", math.NaN()},
		{"+Inf", math.Inf(1)},
		{"above range", 1.5},
		{"below range", -1.01},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := validFrame()
			f.Samples[7] = tc.bad
			err := f.CheckSamples()
			if !errors.Is(err, ErrInvalidSampleData) {
				t.Errorf("CheckSamples() = %v, want ErrInvalidSampleData", err)
			}
		})
	}
}

func TestFromPCM16(t *testing.T) {
	// int16 max, min, zero, and a trailing odd byte that must be ignored.
	pcm := []byte{0xFF, 0x7F, 0x00, 0x80, 0x00, 0x00, 0xAB}
	got := FromPCM16(pcm)
	want := []float64{32767.0 / 32768.0, -1.0, 0.0}
	if len(got) != len(want) {
		t.Fatalf("FromPCM16 returned %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFromInt16(t *testing.T) {
	got := FromInt16([]int16{-32768, 0, 16384})
	want := []float64{-1.0, 0.0, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestToneSource_ProducesOrderedFrames(t *testing.T) {
	src := &ToneSource{Freq: 1000, Amplitude: 0.5}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Start(ctx, 100*time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var last time.Duration = -1
	for i := 0; i < 3; i++ {
		select {
		case f := <-src.Frames():
			if err := f.Validate(); err != nil {
				t.Fatalf("frame %d invalid: %v", i, err)
			}
			if f.Timestamp <= last && i > 0 {
				t.Fatalf("frame %d timestamp %v not increasing past %v", i, f.Timestamp, last)
			}
			last = f.Timestamp
		case <-time.After(2 * time.Second):
			t.Fatalf("no frame %d produced", i)
		}
	}

	if got := src.Status(); got != StatusCapturing {
		t.Errorf("Status() = %v, want CAPTURING", got)
	}
	cancel()
	Drain(src.Frames())
}

// Status is polled by the pipeline on every frame while the generator
// goroutine tears down on cancellation and a new session starts. Run with
// -race: all of these accesses must be synchronized.
func TestToneSource_ConcurrentStatusAcrossRestart(t *testing.T) {
	src := &ToneSource{Freq: 1000, Amplitude: 0.1}

	stop := make(chan struct{})
	var pollers sync.WaitGroup
	for range 4 {
		pollers.Add(1)
		go func() {
			defer pollers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = src.Status()
					_ = src.Frames()
				}
			}
		}()
	}

	for session := 0; session < 3; session++ {
		ctx, cancel := context.WithCancel(context.Background())
		if err := src.Start(ctx, 100*time.Millisecond); err != nil {
			t.Fatalf("Start session %d: %v", session, err)
		}
		frames := src.Frames()

		drained := make(chan struct{})
		go func() {
			defer close(drained)
			Drain(frames)
		}()

		// Consume a few frames, then cancel mid-stream so the generator's
		// teardown overlaps the status polling and the next Start.
		time.Sleep(10 * time.Millisecond)
		cancel()

		select {
		case <-drained:
		case <-time.After(2 * time.Second):
			t.Fatalf("session %d frame channel never closed", session)
		}
	}

	close(stop)
	pollers.Wait()

	// The final generator reports idle just after closing its channel.
	deadline := time.After(2 * time.Second)
	for src.Status() != StatusIdle {
		select {
		case <-deadline:
			t.Fatalf("Status() after final session = %v, want IDLE", src.Status())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestToneSource_SetFrameDurationClamps(t *testing.T) {
	src := &ToneSource{Freq: 1000, Amplitude: 0.1}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Start(ctx, 100*time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.SetFrameDuration(500 * time.Millisecond)

	// Skip frames already generated with the old duration, then expect the
	// clamped maximum.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-src.Frames():
			if f.Duration == MaxFrameDuration {
				cancel()
				Drain(src.Frames())
				return
			}
		case <-deadline:
			t.Fatal("frame duration never clamped to maximum")
		}
	}
}
