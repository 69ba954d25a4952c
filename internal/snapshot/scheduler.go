// Package snapshot implements the Snapshot Scheduler (C6, spec.md
// §4.4): periodic and on-demand capture of every active instrument's
// book, persisted and published through the same path as a manual
// request_snapshot call.
package snapshot

import (
	"context"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kairoex/matching-core/internal/domain"
	"github.com/kairoex/matching-core/internal/metrics"
)

// DefaultInterval is the scheduler's tick period absent configuration
// (spec.md §4.4 "default 60s").
const DefaultInterval = 60 * time.Second

// Requester is the subset of the Coordinator the scheduler needs: the
// set of active instruments and the ability to request a snapshot on
// one of them. Kept as an interface so the scheduler can be exercised
// against a fake in tests.
type Requester interface {
	Instruments() []string
	RequestSnapshot(ctx context.Context, instrument string) (domain.BookSnapshot, error)
}

// Scheduler ticks every interval and fans a snapshot request out to
// every active instrument. Each request is itself serialized with
// matching on its own engine (spec.md §4.4 "implemented by briefly
// enqueuing a snapshot command on the engine's serialization queue"),
// so the scheduler only needs to fan the ticks out concurrently across
// instruments, using a bounded worker pool rather than one goroutine
// per instrument per tick.
type Scheduler struct {
	logger     *zap.Logger
	requester  Requester
	interval   time.Duration
	pool       *ants.Pool
	ownsPool   bool
	metrics    *metrics.Exchange
	stop       chan struct{}
	done       chan struct{}
}

// New creates a Scheduler. If pool is nil, a small dedicated pool is
// created and owned by the Scheduler (released on Stop). mx may be nil,
// in which case no book-depth gauge is recorded.
func New(logger *zap.Logger, requester Requester, interval time.Duration, pool *ants.Pool, mx *metrics.Exchange) (*Scheduler, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ownsPool := pool == nil
	if ownsPool {
		p, err := ants.NewPool(32)
		if err != nil {
			return nil, err
		}
		pool = p
	}
	return &Scheduler{
		logger:    logger,
		requester: requester,
		interval:  interval,
		pool:      pool,
		ownsPool:  ownsPool,
		metrics:   mx,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Run ticks until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// RequestNow triggers an out-of-band capture of one instrument outside
// the regular tick, used by the request_snapshot command surface.
func (s *Scheduler) RequestNow(ctx context.Context, instrument string) (domain.BookSnapshot, error) {
	return s.requester.RequestSnapshot(ctx, instrument)
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, instrument := range s.requester.Instruments() {
		instrument := instrument
		err := s.pool.Submit(func() {
			snap, err := s.requester.RequestSnapshot(ctx, instrument)
			if err != nil {
				s.logger.Warn("scheduled snapshot failed",
					zap.String("instrument", instrument), zap.Error(err))
				return
			}
			if s.metrics != nil {
				s.metrics.SetBookDepth(instrument, "bid", len(snap.Bids))
				s.metrics.SetBookDepth(instrument, "ask", len(snap.Asks))
			}
		})
		if err != nil {
			s.logger.Warn("snapshot worker pool submit failed",
				zap.String("instrument", instrument), zap.Error(err))
		}
	}
}

// Stop signals Run to exit and waits for it to return.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
	if s.ownsPool {
		s.pool.Release()
	}
}
