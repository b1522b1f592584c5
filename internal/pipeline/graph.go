package pipeline

import (
	"context"
	"fmt"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/progress"
	"github.com/JakeFAU/knowledge-engine/internal/worker"
)

// GraphMergeStage merges a document's stored fragment into the graph. It is
// the terminal stage; merges are idempotent so it never skips.
func GraphMergeStage(d Deps) worker.Stage[knowledge.GraphMergeItem, knowledge.GraphFragment] {
	return worker.Stage[knowledge.GraphMergeItem, knowledge.GraphFragment]{
		Name:  progress.StageGraphMerge,
		Queue: d.Queues.GraphMerge,
		URL:   func(item knowledge.GraphMergeItem) string { return item.URL },
		Check: func(ctx context.Context, item knowledge.GraphMergeItem) (worker.Decision, knowledge.DocumentRecord, error) {
			doc, found, err := d.Documents.Get(ctx, item.URL)
			if err != nil {
				return worker.Proceed, doc, fmt.Errorf("get document: %w", err)
			}
			if !found || !doc.HasEntities() {
				return worker.Proceed, doc, worker.Permanent(ErrNoEntities)
			}
			return worker.Proceed, doc, nil
		},
		Invoke: func(ctx context.Context, _ knowledge.GraphMergeItem, doc knowledge.DocumentRecord) (knowledge.GraphFragment, error) {
			fragment := doc.Entities.Normalize()
			if err := d.Graph.Merge(ctx, fragment); err != nil {
				return fragment, fmt.Errorf("merge graph: %w", err)
			}
			return fragment, nil
		},
		Apply: func(ctx context.Context, item knowledge.GraphMergeItem, _ knowledge.GraphFragment) error {
			err := d.Documents.Update(ctx, knowledge.DocumentRecord{
				URL:      item.URL,
				MergedAt: knowledge.Ptr(d.Clock.Now()),
			})
			if err != nil {
				return fmt.Errorf("record merge: %w", err)
			}
			return nil
		},
		Annotate: annotateFragment,
	}
}
