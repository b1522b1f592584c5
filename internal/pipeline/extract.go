package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/progress"
	"github.com/JakeFAU/knowledge-engine/internal/worker"
)

var (
	// ErrDocumentMissing is returned when a later stage finds no record for its URL.
	ErrDocumentMissing = errors.New("document not found")
	// ErrNoContent is returned when extraction finds a record without text.
	ErrNoContent = errors.New("document has no content")
	// ErrNoEntities is returned when a graph merge finds nothing to merge.
	ErrNoEntities = errors.New("document has no entities")
)

// ExtractStage derives a graph fragment from stored content.
//
// Missing documents and documents without content are dropped. Records that
// already carry entities are skipped unless the item ignores the cache, but
// are still handed to the graph merge when they were never merged since the
// last extraction.
func ExtractStage(d Deps) worker.Stage[knowledge.ExtractItem, knowledge.GraphFragment] {
	return worker.Stage[knowledge.ExtractItem, knowledge.GraphFragment]{
		Name:  progress.StageExtract,
		Queue: d.Queues.Extract,
		URL:   func(item knowledge.ExtractItem) string { return item.URL },
		Check: func(ctx context.Context, item knowledge.ExtractItem) (worker.Decision, knowledge.DocumentRecord, error) {
			doc, found, err := d.Documents.Get(ctx, item.URL)
			if err != nil {
				return worker.Proceed, doc, fmt.Errorf("get document: %w", err)
			}
			if !found {
				return worker.Proceed, doc, worker.Permanent(ErrDocumentMissing)
			}
			if doc.HasEntities() && !item.IgnoreCache {
				if doc.NeedsMerge() {
					return worker.SkipAdvance, doc, nil
				}
				return worker.Skip, doc, nil
			}
			if !doc.HasContent() {
				return worker.Proceed, doc, worker.Permanent(ErrNoContent)
			}
			return worker.Proceed, doc, nil
		},
		Invoke: func(ctx context.Context, _ knowledge.ExtractItem, doc knowledge.DocumentRecord) (knowledge.GraphFragment, error) {
			return d.Extractor.Extract(ctx, *doc.Content)
		},
		Apply: func(ctx context.Context, item knowledge.ExtractItem, fragment knowledge.GraphFragment) error {
			err := d.Documents.Update(ctx, knowledge.DocumentRecord{
				URL:         item.URL,
				Entities:    &fragment,
				ExtractedAt: knowledge.Ptr(d.Clock.Now()),
			})
			if err != nil {
				return fmt.Errorf("store entities: %w", err)
			}
			return nil
		},
		Advance: func(ctx context.Context, item knowledge.ExtractItem) error {
			return d.Queues.GraphMerge.Add(ctx, knowledge.GraphMergeItem{URL: item.URL})
		},
		Annotate: annotateFragment,
	}
}

func annotateFragment(fragment knowledge.GraphFragment, evt *progress.Event) {
	evt.Nodes = len(fragment.Nodes)
	evt.Edges = len(fragment.Edges)
}
