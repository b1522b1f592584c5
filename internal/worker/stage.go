package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/progress"
)

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so that errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Decision is the result of a stage's idempotency check.
type Decision int

const (
	// Proceed runs the stage collaborator.
	Proceed Decision = iota
	// Skip treats the item as done without further work.
	Skip
	// SkipAdvance treats the stage work as done but still hands the item to
	// the next stage.
	SkipAdvance
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Skip:
		return "skip"
	case SkipAdvance:
		return "skip_advance"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Stage bundles the functions that make up one pipeline phase. T is the queue
// item type and R the collaborator's result.
type Stage[T any, R any] struct {
	Name  progress.Stage
	Queue knowledge.Queue[T]
	// URL extracts the correlation key from an item.
	URL func(item T) string
	// Check reads the document and decides whether Invoke must run. The
	// returned record is handed to Invoke.
	Check func(ctx context.Context, item T) (Decision, knowledge.DocumentRecord, error)
	// Invoke calls the stage collaborator.
	Invoke func(ctx context.Context, item T, doc knowledge.DocumentRecord) (R, error)
	// Apply persists the collaborator's result.
	Apply func(ctx context.Context, item T, result R) error
	// Advance enqueues the next stage's item. Nil for the terminal stage.
	Advance func(ctx context.Context, item T) error
	// Annotate copies result sizes onto the progress event. Optional.
	Annotate func(result R, evt *progress.Event)
}

func (s Stage[T, R]) validate() error {
	switch {
	case s.Name == "":
		return errors.New("stage name is required")
	case s.Queue == nil:
		return fmt.Errorf("%s: queue is required", s.Name)
	case s.URL == nil:
		return fmt.Errorf("%s: url func is required", s.Name)
	case s.Check == nil:
		return fmt.Errorf("%s: check func is required", s.Name)
	case s.Invoke == nil:
		return fmt.Errorf("%s: invoke func is required", s.Name)
	case s.Apply == nil:
		return fmt.Errorf("%s: apply func is required", s.Name)
	}
	return nil
}
