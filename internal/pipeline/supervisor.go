package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/progress"
	"github.com/JakeFAU/knowledge-engine/internal/worker"
)

const defaultDrainTimeout = 30 * time.Second

// Config controls poll intervals and retry behavior.
type Config struct {
	FetchPollInterval      time.Duration
	ExtractPollInterval    time.Duration
	GraphMergePollInterval time.Duration
	RetryDelay             time.Duration
	ItemTimeout            time.Duration
	// DrainTimeout bounds how long shutdown waits for pending retries to be
	// written back to their queues.
	DrainTimeout time.Duration
}

type runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Supervisor runs the three stage workers until shutdown.
type Supervisor struct {
	queues  Queues
	runners []runner
	retries *worker.RetryScheduler
	cfg     Config
	logger  *zap.Logger
}

// NewSupervisor builds the fetch, extract and graph merge workers over deps.
// emitter may be nil.
func NewSupervisor(deps Deps, cfg Config, emitter progress.Emitter, logger *zap.Logger) (*Supervisor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	logger = logger.Named("pipeline")
	retries := worker.NewRetryScheduler(cfg.RetryDelay, emitter, logger)

	fetch, err := worker.New(FetchStage(deps), retries, emitter,
		worker.Config{PollInterval: cfg.FetchPollInterval, ItemTimeout: cfg.ItemTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("fetch worker: %w", err)
	}
	extract, err := worker.New(ExtractStage(deps), retries, emitter,
		worker.Config{PollInterval: cfg.ExtractPollInterval, ItemTimeout: cfg.ItemTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("extract worker: %w", err)
	}
	merge, err := worker.New(GraphMergeStage(deps), retries, emitter,
		worker.Config{PollInterval: cfg.GraphMergePollInterval, ItemTimeout: cfg.ItemTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("graph merge worker: %w", err)
	}

	return &Supervisor{
		queues:  deps.Queues,
		runners: []runner{fetch, extract, merge},
		retries: retries,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Run starts every worker and blocks until all have stopped. A worker whose
// queue fails stops its siblings and its error is returned. Pending retries
// are flushed into their queues before Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("pipeline starting", zap.Int("workers", len(s.runners)))
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range s.runners {
		g.Go(func() error {
			if err := r.Run(gctx); err != nil {
				return fmt.Errorf("%s worker: %w", r.Name(), err)
			}
			return nil
		})
	}
	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()
	drainErr := s.retries.Drain(drainCtx)
	if drainErr != nil {
		s.logger.Error("retry drain incomplete", zap.Error(drainErr))
	}
	s.logger.Info("pipeline stopped")
	return errors.Join(runErr, drainErr)
}

// Submit validates rawURL and appends a fetch item. It returns the normalized
// URL that keys the document.
func (s *Supervisor) Submit(ctx context.Context, rawURL string, ignoreCache bool) (string, error) {
	return Submit(ctx, s.queues.Fetch, rawURL, ignoreCache)
}

// PendingRetries reports how many items are waiting on a retry timer.
func (s *Supervisor) PendingRetries() int {
	return s.retries.Pending()
}

// Submit normalizes rawURL and adds it to the fetch queue.
func Submit(ctx context.Context, q knowledge.Queue[knowledge.FetchItem], rawURL string, ignoreCache bool) (string, error) {
	url, err := knowledge.NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	if err := q.Add(ctx, knowledge.FetchItem{URL: url, IgnoreCache: ignoreCache}); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", url, err)
	}
	return url, nil
}
