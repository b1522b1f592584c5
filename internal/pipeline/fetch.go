package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/progress"
	"github.com/JakeFAU/knowledge-engine/internal/worker"
)

// FetchStage crawls a URL and stores its text.
//
// A record that already holds content is skipped unless the item asks to
// ignore the cache; if that record has no entities yet the URL is still
// handed to extraction.
func FetchStage(d Deps) worker.Stage[knowledge.FetchItem, knowledge.CrawlResult] {
	return worker.Stage[knowledge.FetchItem, knowledge.CrawlResult]{
		Name:  progress.StageFetch,
		Queue: d.Queues.Fetch,
		URL:   func(item knowledge.FetchItem) string { return item.URL },
		Check: func(ctx context.Context, item knowledge.FetchItem) (worker.Decision, knowledge.DocumentRecord, error) {
			doc, _, err := d.Documents.Get(ctx, item.URL)
			if err != nil {
				return worker.Proceed, doc, fmt.Errorf("get document: %w", err)
			}
			if item.IgnoreCache || !doc.HasContent() {
				return worker.Proceed, doc, nil
			}
			if !doc.HasEntities() {
				return worker.SkipAdvance, doc, nil
			}
			return worker.Skip, doc, nil
		},
		Invoke: func(ctx context.Context, item knowledge.FetchItem, _ knowledge.DocumentRecord) (knowledge.CrawlResult, error) {
			res, err := d.Crawler.Crawl(ctx, item.URL)
			if errors.Is(err, knowledge.ErrInvalidURL) {
				return res, worker.Permanent(err)
			}
			return res, err
		},
		Apply: func(ctx context.Context, item knowledge.FetchItem, res knowledge.CrawlResult) error {
			partial := knowledge.DocumentRecord{
				URL:       item.URL,
				Content:   knowledge.Ptr(res.Content),
				FetchedAt: knowledge.Ptr(d.Clock.Now()),
			}
			if res.BlobURI != "" {
				partial.BlobURI = knowledge.Ptr(res.BlobURI)
			}
			if err := d.Documents.Update(ctx, partial); err != nil {
				return fmt.Errorf("store content: %w", err)
			}
			return nil
		},
		Advance: func(ctx context.Context, item knowledge.FetchItem) error {
			return d.Queues.Extract.Add(ctx, knowledge.ExtractItem{URL: item.URL, IgnoreCache: item.IgnoreCache})
		},
		Annotate: func(res knowledge.CrawlResult, evt *progress.Event) {
			evt.Bytes = int64(len(res.Content))
			if res.UsedHeadless {
				evt.Note = "headless"
			}
		},
	}
}
