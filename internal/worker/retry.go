package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-engine/internal/metrics"
	"github.com/JakeFAU/knowledge-engine/internal/progress"
)

const (
	// DefaultRetryDelay is how long a failed item waits before re-entering its queue.
	DefaultRetryDelay = 10 * time.Second
	requeueTimeout    = 30 * time.Second
)

// RequeueFunc re-adds one failed item to its queue.
type RequeueFunc func(ctx context.Context) error

type pendingRetry struct {
	id      uint64
	stage   progress.Stage
	url     string
	requeue RequeueFunc
	timer   *time.Timer
}

// RetryScheduler re-adds failed items after a fixed delay without blocking the
// worker loops. Timers are tracked so Drain can flush them on shutdown.
type RetryScheduler struct {
	delay   time.Duration
	emitter progress.Emitter
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[uint64]*pendingRetry
	nextID  uint64
	closed  bool
	wg      sync.WaitGroup
}

// NewRetryScheduler creates a scheduler. emitter may be nil.
func NewRetryScheduler(delay time.Duration, emitter progress.Emitter, logger *zap.Logger) *RetryScheduler {
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryScheduler{
		delay:   delay,
		emitter: emitter,
		logger:  logger.Named("retry"),
		pending: make(map[uint64]*pendingRetry),
	}
}

// Delay returns the configured retry delay.
func (s *RetryScheduler) Delay() time.Duration {
	return s.delay
}

// Pending returns the number of timers that have not fired yet.
func (s *RetryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Schedule runs requeue once the delay elapses. After Drain has been called
// the item is re-added immediately instead.
func (s *RetryScheduler) Schedule(stage progress.Stage, url string, requeue RequeueFunc) {
	s.mu.Lock()
	p := &pendingRetry{id: s.nextID, stage: stage, url: url, requeue: requeue}
	s.nextID++
	if s.closed {
		s.mu.Unlock()
		s.requeue(p)
		return
	}
	s.pending[p.id] = p
	s.wg.Add(1)
	metrics.IncPendingRetries()
	p.timer = time.AfterFunc(s.delay, func() { s.fire(p.id) })
	s.mu.Unlock()
}

func (s *RetryScheduler) fire(id uint64) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	defer s.wg.Done()
	defer metrics.DecPendingRetries()
	s.requeue(p)
}

// Drain stops delaying retries, re-adds every pending item right away in the
// order it failed, and waits for timers already firing.
func (s *RetryScheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	flush := make([]*pendingRetry, 0, len(s.pending))
	for id, p := range s.pending {
		if p.timer.Stop() {
			delete(s.pending, id)
			flush = append(flush, p)
		}
	}
	s.mu.Unlock()

	sort.Slice(flush, func(i, j int) bool { return flush[i].id < flush[j].id })
	if len(flush) > 0 {
		s.logger.Info("flushing pending retries", zap.Int("count", len(flush)))
	}
	for _, p := range flush {
		s.requeue(p)
		metrics.DecPendingRetries()
		s.wg.Done()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain retries: %w", ctx.Err())
	}
}

func (s *RetryScheduler) requeue(p *pendingRetry) {
	ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
	defer cancel()
	logger := s.logger.With(zap.String("stage", string(p.stage)), zap.String("url", p.url))
	if err := p.requeue(ctx); err != nil {
		logger.Error("retry requeue failed; item lost", zap.Error(err))
		return
	}
	logger.Debug("item requeued")
	metrics.ObserveItem(string(p.stage), string(progress.OutcomeRetried), 0)
	if s.emitter != nil {
		s.emitter.Emit(progress.NewEvent(p.stage, progress.OutcomeRetried, p.url))
	}
}
