package metrics

import (
	"context"
	"time"
)

// Source reports the live queue length and worker count. Both values come
// from one call so a history entry never pairs readings taken at different
// moments.
type Source interface {
	Sample() (queueLen, workers int)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (queueLen, workers int)

// Sample implements Source.
func (f SourceFunc) Sample() (queueLen, workers int) {
	return f()
}

// Sampler periodically pushes history entries into a Collector.
type Sampler struct {
	collector *Collector
	source    Source
	interval  time.Duration
}

// NewSampler creates a sampler. A non-positive interval defaults to one second.
func NewSampler(c *Collector, src Source, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{collector: c, source: src, interval: interval}
}

// Run samples until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collector.Observe(s.source.Sample())
		}
	}
}
