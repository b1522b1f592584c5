package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/metrics"
	"github.com/JakeFAU/knowledge-engine/internal/progress"
	"github.com/JakeFAU/knowledge-engine/internal/telemetry"
)

const (
	// DefaultPollInterval is the idle wait between empty polls.
	DefaultPollInterval = time.Second
	// DefaultItemTimeout bounds one item's processing.
	DefaultItemTimeout = 5 * time.Minute
)

// Config controls Worker behavior.
type Config struct {
	PollInterval time.Duration
	ItemTimeout  time.Duration
}

// Worker consumes one queue and executes its stage.
type Worker[T any, R any] struct {
	stage   Stage[T, R]
	cfg     Config
	retries *RetryScheduler
	emitter progress.Emitter
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New constructs a Worker. emitter may be nil.
func New[T any, R any](
	stage Stage[T, R],
	retries *RetryScheduler,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) (*Worker[T, R], error) {
	if err := stage.validate(); err != nil {
		return nil, err
	}
	if retries == nil {
		return nil, errors.New("retry scheduler is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = DefaultItemTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker[T, R]{
		stage:   stage,
		cfg:     cfg,
		retries: retries,
		emitter: emitter,
		tracer:  telemetry.Tracer(),
		logger:  logger.Named(string(stage.Name)),
	}, nil
}

// Name returns the stage name.
func (w *Worker[T, R]) Name() string {
	return string(w.stage.Name)
}

// Run blocks, consuming queue items until ctx is canceled. It returns nil on
// shutdown and an error when the queue itself fails. An item already being
// processed when ctx is canceled runs to completion first.
func (w *Worker[T, R]) Run(ctx context.Context) error {
	w.logger.Info("worker started", zap.Duration("poll_interval", w.cfg.PollInterval))
	defer w.logger.Info("worker stopped")
	for {
		if ctx.Err() != nil {
			return nil
		}
		item, ok, err := w.stage.Queue.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("queue next failed", zap.Error(err))
			return fmt.Errorf("%s queue next: %w", w.stage.Name, err)
		}
		if !ok {
			if !w.idle(ctx) {
				return nil
			}
			continue
		}
		w.process(ctx, item)
	}
}

func (w *Worker[T, R]) idle(ctx context.Context) bool {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker[T, R]) process(parent context.Context, item T) {
	url := w.stage.URL(item)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.cfg.ItemTimeout)
	defer cancel()
	ctx, span := w.tracer.Start(ctx, string(w.stage.Name)+".process",
		trace.WithAttributes(attribute.String("url", url)))
	defer span.End()

	start := time.Now()
	evt, err := w.handle(ctx, item, url)
	evt.Dur = time.Since(start)
	logger := w.logger.With(zap.String("url", url))

	switch {
	case err == nil:
		logger.Debug("item handled", zap.String("outcome", string(evt.Outcome)), zap.Duration("dur", evt.Dur))
	case errors.Is(err, ErrPermanent):
		evt.Outcome = progress.OutcomeDropped
		evt.Note = err.Error()
		logger.Warn("item dropped", zap.Error(err))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		evt.Outcome = progress.OutcomeRetryScheduled
		evt.Note = err.Error()
		logger.Warn("item failed; retry scheduled", zap.Error(err), zap.Duration("retry_delay", w.retries.Delay()))
		w.retries.Schedule(w.stage.Name, url, func(ctx context.Context) error {
			return w.stage.Queue.Add(ctx, item)
		})
	}
	span.SetAttributes(attribute.String("outcome", string(evt.Outcome)))
	metrics.ObserveItem(string(w.stage.Name), string(evt.Outcome), evt.Dur)
	if w.emitter != nil {
		w.emitter.Emit(evt)
	}
}

func (w *Worker[T, R]) handle(ctx context.Context, item T, url string) (evt progress.Event, err error) {
	evt = progress.NewEvent(w.stage.Name, progress.OutcomeProcessed, url)
	evt.Site = knowledge.Host(url)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("stage panicked",
				zap.String("url", url),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%s panicked: %v", w.stage.Name, r)
		}
	}()

	decision, doc, err := w.stage.Check(ctx, item)
	if err != nil {
		return evt, fmt.Errorf("check: %w", err)
	}
	switch decision {
	case Skip:
		evt.Outcome = progress.OutcomeSkipped
		return evt, nil
	case SkipAdvance:
		if err := w.advance(ctx, item); err != nil {
			return evt, err
		}
		evt.Outcome = progress.OutcomeAdvanced
		return evt, nil
	}

	result, err := w.stage.Invoke(ctx, item, doc)
	if err != nil {
		return evt, fmt.Errorf("invoke: %w", err)
	}
	if w.stage.Annotate != nil {
		w.stage.Annotate(result, &evt)
	}
	if err := w.stage.Apply(ctx, item, result); err != nil {
		return evt, fmt.Errorf("apply: %w", err)
	}
	if err := w.advance(ctx, item); err != nil {
		return evt, err
	}
	return evt, nil
}

func (w *Worker[T, R]) advance(ctx context.Context, item T) error {
	if w.stage.Advance == nil {
		return nil
	}
	if err := w.stage.Advance(ctx, item); err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	return nil
}
