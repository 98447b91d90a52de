// Package pipeline connects the capture source to the alert state machine:
// a bounded frame queue with drop-oldest backpressure, a pool of stateless
// analysis workers, and a merge stage that restores capture order before the
// single alert consumer.
//
// Freshness beats completeness throughout — when the device cannot keep up,
// the oldest unanalyzed frame is discarded (counted and logged) so the alert
// always reflects what the worker is hearing right now.
package pipeline

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hearguard/hearguard/internal/alert"
	"github.com/hearguard/hearguard/internal/analyzer"
	"github.com/hearguard/hearguard/internal/degrade"
	"github.com/hearguard/hearguard/internal/observe"
	"github.com/hearguard/hearguard/pkg/audio"
)

// Config holds pipeline tuning knobs. Zero-value fields are replaced with
// defaults.
type Config struct {
	// QueueCapacity bounds the number of frames waiting for analysis.
	// Default: 8.
	QueueCapacity int

	// Workers is the number of concurrent analysis workers. Default: 2.
	Workers int

	// StatsWindow is the latency sample window for percentiles.
	// Default: 100.
	StatsWindow int
}

// job pairs a frame with its capture sequence number.
type job struct {
	seq   uint64
	frame audio.Frame
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(metrics *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = metrics }
}

// Pipeline runs the frame-to-alert dataflow for one monitoring session.
type Pipeline struct {
	cfg     Config
	an      *analyzer.Analyzer
	machine *alert.Machine
	ctrl    *degrade.Controller
	metrics *observe.Metrics
	stats   *Stats

	mu    sync.Mutex
	anCfg analyzer.Config
}

// New creates a [Pipeline]. The analyzer, alert machine, and degradation
// controller are shared with the caller; anCfg seeds the analyzer
// configuration and can be swapped later via [Pipeline.SetAnalyzerConfig].
func New(cfg Config, an *analyzer.Analyzer, machine *alert.Machine, ctrl *degrade.Controller, anCfg analyzer.Config, opts ...Option) *Pipeline {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 8
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	p := &Pipeline{
		cfg:     cfg,
		an:      an,
		machine: machine,
		ctrl:    ctrl,
		anCfg:   anCfg,
		stats:   NewStats(cfg.StatsWindow),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// SetAnalyzerConfig swaps the analyzer configuration. Takes effect on the
// next frame; a frame mid-analysis keeps the configuration it started with.
func (p *Pipeline) SetAnalyzerConfig(cfg analyzer.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.anCfg = cfg
}

func (p *Pipeline) analyzerConfig() analyzer.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.anCfg
}

// Stats returns the pipeline's statistics collector.
func (p *Pipeline) Stats() *Stats { return p.stats }

// Run consumes frames from src (which must already be started) until the
// source's frame channel closes or ctx is cancelled, then drains in-flight
// work and resets the alert machine to INACTIVE with a final clear.
// Cancellation returns nil — it is the normal way to stop a session.
func (p *Pipeline) Run(ctx context.Context, src audio.Source) error {
	queue := make(chan job, p.cfg.QueueCapacity)
	// One slot per in-flight frame so neither the feeder (drop notices)
	// nor a worker ever blocks on the merge stage.
	outcomes := make(chan outcome, p.cfg.QueueCapacity+p.cfg.Workers+1)

	g, ctx := errgroup.WithContext(ctx)

	var producers sync.WaitGroup
	producers.Add(1 + p.cfg.Workers)

	g.Go(func() error {
		defer producers.Done()
		defer close(queue)
		return p.feed(ctx, src, queue, outcomes)
	})

	for range p.cfg.Workers {
		g.Go(func() error {
			defer producers.Done()
			p.work(ctx, queue, outcomes)
			return nil
		})
	}

	go func() {
		producers.Wait()
		close(outcomes)
	}()

	g.Go(func() error {
		p.merge(outcomes, src)
		return nil
	})

	return g.Wait()
}

// feed pulls frames off the source in capture order, assigns sequence
// numbers, and pushes them onto the bounded queue.
func (p *Pipeline) feed(ctx context.Context, src audio.Source, queue chan job, outcomes chan<- outcome) error {
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			// The source closes its channel on cancellation; drain it so
			// the generator is never left blocked on a send.
			go audio.Drain(src.Frames())
			return nil
		case frame, ok := <-src.Frames():
			if !ok {
				return nil
			}
			p.ctrl.SetStatus(src.Status())
			p.push(ctx, queue, outcomes, job{seq: seq, frame: frame})
			seq++
		}
	}
}

// push enqueues j, discarding the oldest unanalyzed frame when the queue is
// full. Every discarded frame still yields an outcome so the merge stage
// never stalls on a sequence gap.
func (p *Pipeline) push(ctx context.Context, queue chan job, outcomes chan<- outcome, j job) {
	for {
		select {
		case queue <- j:
			p.metrics.QueueDepth.Add(ctx, 1)
			return
		default:
		}
		select {
		case old := <-queue:
			p.metrics.QueueDepth.Add(ctx, -1)
			p.metrics.FramesDropped.Add(ctx, 1)
			p.stats.IncrDropped()
			slog.Warn("queue full, dropping oldest unanalyzed frame",
				"timestamp", old.frame.Timestamp)
			outcomes <- outcome{seq: old.seq, dropped: true}
		default:
			// A worker grabbed the head first; retry the send.
		}
	}
}

// work analyzes queued frames until the queue closes. After cancellation the
// remaining queued frames are flushed unanalyzed, so only analyses already in
// flight extend the shutdown.
func (p *Pipeline) work(ctx context.Context, queue <-chan job, outcomes chan<- outcome) {
	for j := range queue {
		p.metrics.QueueDepth.Add(ctx, -1)

		if ctx.Err() != nil {
			outcomes <- outcome{seq: j.seq, skipped: true}
			continue
		}

		cfg := p.analyzerConfig()
		cfg.Mode = p.ctrl.Mode()

		res, err := p.an.Analyze(ctx, j.frame, cfg)
		if err != nil {
			// Already logged and counted by the analyzer; downstream sees
			// a gap, never a fabricated value.
			p.stats.IncrSkipped()
			outcomes <- outcome{seq: j.seq, skipped: true}
			continue
		}
		outcomes <- outcome{seq: j.seq, res: res}
	}
}

// merge restores capture order over worker outcomes and feeds the single
// alert consumer. Skipped and dropped frames advance the sequence without
// producing a result. The alert machine is reset when the stream ends.
func (p *Pipeline) merge(outcomes <-chan outcome, src audio.Source) {
	defer p.machine.Reset()

	var (
		pending outcomeHeap
		next    uint64
		lastDur time.Duration
	)

	for o := range outcomes {
		heap.Push(&pending, o)

		for pending.Len() > 0 && pending[0].seq == next {
			o := heap.Pop(&pending).(outcome)
			next++
			if o.dropped || o.skipped {
				continue
			}

			p.stats.RecordAnalysis(o.res.Elapsed, o.res.Overrun)
			p.ctrl.Observe(o.res)
			p.machine.Process(o.res)

			// Apply any degradation-driven frame duration change to the
			// capture source.
			if d := p.ctrl.FrameDuration(); d != lastDur {
				lastDur = d
				src.SetFrameDuration(d)
			}
		}
	}
}
