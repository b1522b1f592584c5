package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/worker"
)

func TestFetchCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	stage := FetchStage(h.deps())

	decision, _, err := stage.Check(ctx, knowledge.FetchItem{URL: "u1"})
	require.NoError(t, err)
	require.Equal(t, worker.Proceed, decision, "unknown url is fetched")

	require.NoError(t, h.docs.Update(ctx, knowledge.DocumentRecord{URL: "u1", Content: knowledge.Ptr("")}))
	decision, _, err = stage.Check(ctx, knowledge.FetchItem{URL: "u1"})
	require.NoError(t, err)
	require.Equal(t, worker.Proceed, decision, "empty content is fetched again")

	require.NoError(t, h.docs.Update(ctx, knowledge.DocumentRecord{URL: "u1", Content: knowledge.Ptr(acmeText)}))
	decision, _, err = stage.Check(ctx, knowledge.FetchItem{URL: "u1"})
	require.NoError(t, err)
	require.Equal(t, worker.SkipAdvance, decision)

	frag := acmeFragment()
	require.NoError(t, h.docs.Update(ctx, knowledge.DocumentRecord{URL: "u1", Entities: &frag}))
	decision, _, err = stage.Check(ctx, knowledge.FetchItem{URL: "u1"})
	require.NoError(t, err)
	require.Equal(t, worker.Skip, decision)

	decision, _, err = stage.Check(ctx, knowledge.FetchItem{URL: "u1", IgnoreCache: true})
	require.NoError(t, err)
	require.Equal(t, worker.Proceed, decision)
}

func TestExtractCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	stage := ExtractStage(h.deps())

	_, _, err := stage.Check(ctx, knowledge.ExtractItem{URL: "u1"})
	require.ErrorIs(t, err, worker.ErrPermanent)
	require.ErrorIs(t, err, ErrDocumentMissing)

	require.NoError(t, h.docs.Update(ctx, knowledge.DocumentRecord{URL: "u1", BlobURI: knowledge.Ptr("memory://x")}))
	_, _, err = stage.Check(ctx, knowledge.ExtractItem{URL: "u1"})
	require.ErrorIs(t, err, ErrNoContent)

	require.NoError(t, h.docs.Update(ctx, knowledge.DocumentRecord{URL: "u1", Content: knowledge.Ptr(acmeText)}))
	decision, doc, err := stage.Check(ctx, knowledge.ExtractItem{URL: "u1"})
	require.NoError(t, err)
	require.Equal(t, worker.Proceed, decision)
	require.Equal(t, acmeText, *doc.Content)

	extractedAt := h.clock.Now()
	frag := acmeFragment()
	require.NoError(t, h.docs.Update(ctx, knowledge.DocumentRecord{URL: "u1", Entities: &frag, ExtractedAt: &extractedAt}))
	decision, _, err = stage.Check(ctx, knowledge.ExtractItem{URL: "u1"})
	require.NoError(t, err)
	require.Equal(t, worker.SkipAdvance, decision, "never merged")

	mergedAt := extractedAt.Add(time.Second)
	require.NoError(t, h.docs.Update(ctx, knowledge.DocumentRecord{URL: "u1", MergedAt: &mergedAt}))
	decision, _, err = stage.Check(ctx, knowledge.ExtractItem{URL: "u1"})
	require.NoError(t, err)
	require.Equal(t, worker.Skip, decision)

	decision, _, err = stage.Check(ctx, knowledge.ExtractItem{URL: "u1", IgnoreCache: true})
	require.NoError(t, err)
	require.Equal(t, worker.Proceed, decision)
}

func TestGraphMergeCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	stage := GraphMergeStage(h.deps())

	_, _, err := stage.Check(ctx, knowledge.GraphMergeItem{URL: "u1"})
	require.ErrorIs(t, err, ErrNoEntities)

	require.NoError(t, h.docs.Update(ctx, knowledge.DocumentRecord{URL: "u1", Content: knowledge.Ptr(acmeText)}))
	_, _, err = stage.Check(ctx, knowledge.GraphMergeItem{URL: "u1"})
	require.ErrorIs(t, err, worker.ErrPermanent)

	frag := knowledge.GraphFragment{}
	require.NoError(t, h.docs.Update(ctx, knowledge.DocumentRecord{URL: "u1", Entities: &frag}))
	decision, _, err := stage.Check(ctx, knowledge.GraphMergeItem{URL: "u1"})
	require.NoError(t, err)
	require.Equal(t, worker.Proceed, decision, "an empty fragment still counts as extracted")
}

func TestFetchApplyStoresBookkeeping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	stage := FetchStage(h.deps())

	err := stage.Apply(ctx, knowledge.FetchItem{URL: "u1"}, knowledge.CrawlResult{
		Content: acmeText,
		BlobURI: "memory://pages/u1.html",
	})
	require.NoError(t, err)

	doc, found, err := h.docs.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, acmeText, *doc.Content)
	require.Equal(t, "memory://pages/u1.html", *doc.BlobURI)
	require.True(t, doc.FetchedAt.Equal(h.clock.Now()))
}

func TestFetchAdvancePropagatesIgnoreCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness()
	stage := FetchStage(h.deps())

	require.NoError(t, stage.Advance(ctx, knowledge.FetchItem{URL: "u1", IgnoreCache: true}))
	require.Equal(t, []knowledge.ExtractItem{{URL: "u1", IgnoreCache: true}}, h.extract.Items())
}

func TestFetchInvalidURLIsPermanent(t *testing.T) {
	t.Parallel()

	h := newHarness()
	d := h.deps()
	d.Crawler = invalidURLCrawler{}
	stage := FetchStage(d)

	_, err := stage.Invoke(context.Background(), knowledge.FetchItem{URL: "ftp://x"}, knowledge.DocumentRecord{})
	require.ErrorIs(t, err, worker.ErrPermanent)
}

type invalidURLCrawler struct{}

func (invalidURLCrawler) Crawl(context.Context, string) (knowledge.CrawlResult, error) {
	return knowledge.CrawlResult{}, knowledge.ErrInvalidURL
}
