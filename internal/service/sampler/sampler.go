// Package sampler records host and inference-server resource usage at a
// fixed interval while a benchmark run is in progress.
package sampler

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/llm-bench/llm-bench/internal/metrics"
	"github.com/llm-bench/llm-bench/pkg/models"
)

const (
	// DefaultInterval is the time between ticks
	DefaultInterval = 500 * time.Millisecond

	// DefaultStopTimeout bounds how long Stop waits for the loop to exit
	DefaultStopTimeout = 3 * time.Second
)

// SampleWriter persists ticks. The sampler is its only caller.
type SampleWriter interface {
	WriteSample(models.MetricSample) error
}

// Sampler runs a ticking goroutine between Start and Stop
type Sampler struct {
	out      SampleWriter
	system   SystemProbe
	proc     ProcessProbe
	pid      int
	interval time.Duration
	runName  string
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	count   int
}

// Option configures a Sampler
type Option func(*Sampler)

// WithPID samples the given process in addition to the host. A pid of zero
// disables process sampling.
func WithPID(pid int) Option {
	return func(s *Sampler) {
		s.pid = pid
	}
}

// WithInterval sets the time between ticks
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSystemProbe replaces the host probe
func WithSystemProbe(p SystemProbe) Option {
	return func(s *Sampler) {
		s.system = p
	}
}

// WithProcessProbe replaces the process probe
func WithProcessProbe(p ProcessProbe) Option {
	return func(s *Sampler) {
		s.proc = p
	}
}

// WithRunName labels exported gauges with the run name
func WithRunName(name string) Option {
	return func(s *Sampler) {
		s.runName = name
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// WithTimeFunc sets the clock used for sample timestamps
func WithTimeFunc(fn func() time.Time) Option {
	return func(s *Sampler) {
		s.now = fn
	}
}

// New creates a sampler writing to out
func New(out SampleWriter, opts ...Option) *Sampler {
	s := &Sampler{
		out:      out,
		system:   HostProbe{},
		interval: DefaultInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.proc == nil && s.pid > 0 {
		s.proc = NewPIDProbe()
	}
	return s
}

// Start primes the CPU counters and begins ticking in a new goroutine.
// Calling Start on a running sampler is a no-op.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.system.Prime(); err != nil {
		s.logger.Warn("failed to prime system cpu counter", slog.String("error", err.Error()))
	}
	if s.pid > 0 && s.proc != nil {
		if err := s.proc.Prime(s.pid); err != nil {
			s.logger.Debug("failed to prime process cpu counter",
				slog.Int("pid", s.pid),
				slog.String("error", err.Error()))
		}
	}

	s.logger.Debug("sampler starting",
		slog.Duration("interval", s.interval),
		slog.Int("pid", s.pid))

	go s.run(ctx)
}

// Stop signals the loop and waits up to timeout for it to exit.
// It returns false when the wait timed out; the loop then exits on its next tick.
func (s *Sampler) Stop(timeout time.Duration) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return true
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	select {
	case <-doneCh:
		s.logger.Debug("sampler stopped", slog.Int("samples", s.Count()))
		return true
	case <-time.After(timeout):
		s.logger.Warn("sampler did not stop in time", slog.Duration("timeout", timeout))
		return false
	}
}

// Count returns the number of ticks written so far
func (s *Sampler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Sampler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		// Stop is checked before every tick, including the first
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.tick()

		select {
		case <-ticker.C:
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sampler) tick() {
	sample := models.MetricSample{Timestamp: s.now()}

	sys, err := s.system.Sample()
	if err != nil {
		s.logger.Debug("system sample failed", slog.String("error", err.Error()))
	}
	sample.SystemCPUPct = sys.CPUPct
	sample.SystemMemPct = sys.MemPct
	sample.SystemMemUsedMB = sys.MemUsedMB

	if s.pid > 0 && s.proc != nil {
		if ps, ok := s.proc.Sample(s.pid); ok {
			sample.ProcCPUPct = models.Ptr(ps.CPUPct)
			sample.ProcRSSMB = models.Ptr(ps.RSSMB)
		}
	}

	if err := s.out.WriteSample(sample); err != nil {
		s.logger.Warn("failed to write metrics sample", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.count++
	s.mu.Unlock()

	if s.runName != "" {
		metrics.RecordResourceSample(s.runName, sample.SystemCPUPct, sample.ProcCPUPct, sample.ProcRSSMB)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
