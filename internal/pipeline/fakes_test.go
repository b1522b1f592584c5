package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/knowledge-engine/internal/clock/system"
	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	graphmemory "github.com/JakeFAU/knowledge-engine/internal/graph/memory"
	memoryqueue "github.com/JakeFAU/knowledge-engine/internal/queue/memory"
	storagememory "github.com/JakeFAU/knowledge-engine/internal/storage/memory"
)

type fakeCrawler struct {
	mu      sync.Mutex
	content map[string]string
	fails   int
	calls   int
	callAt  []time.Time
}

func newFakeCrawler(content map[string]string) *fakeCrawler {
	return &fakeCrawler{content: content}
}

func (c *fakeCrawler) Crawl(_ context.Context, url string) (knowledge.CrawlResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.callAt = append(c.callAt, time.Now())
	if c.calls <= c.fails {
		return knowledge.CrawlResult{}, errors.New("connection reset")
	}
	text, ok := c.content[url]
	if !ok {
		return knowledge.CrawlResult{}, errors.New("status 404")
	}
	return knowledge.CrawlResult{URL: url, FinalURL: url, StatusCode: 200, Content: text, Bytes: len(text)}, nil
}

func (c *fakeCrawler) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeCrawler) CallTimes() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.callAt...)
}

type fakeExtractor struct {
	mu        sync.Mutex
	fragments map[string]knowledge.GraphFragment
	calls     int
}

func (e *fakeExtractor) Extract(_ context.Context, content string) (knowledge.GraphFragment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	frag, ok := e.fragments[content]
	if !ok {
		return knowledge.GraphFragment{}, errors.New("model unavailable")
	}
	return frag, nil
}

func (e *fakeExtractor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

const acmeText = "Acme was founded by Jane."

func acmeFragment() knowledge.GraphFragment {
	return knowledge.GraphFragment{
		Nodes: []knowledge.Node{
			{ID: "Acme", Label: "Organization"},
			{ID: "Jane", Label: "Person"},
		},
		Edges: []knowledge.Edge{{Source: "Jane", Target: "Acme", Relation: "FOUNDED"}},
	}
}

type harness struct {
	fetch     *memoryqueue.Queue[knowledge.FetchItem]
	extract   *memoryqueue.Queue[knowledge.ExtractItem]
	merge     *memoryqueue.Queue[knowledge.GraphMergeItem]
	docs      *storagememory.DocumentStore
	graph     *graphmemory.Store
	crawler   *fakeCrawler
	extractor *fakeExtractor
	clock     *system.Frozen
}

func newHarness() *harness {
	return &harness{
		fetch:     memoryqueue.NewQueue[knowledge.FetchItem](),
		extract:   memoryqueue.NewQueue[knowledge.ExtractItem](),
		merge:     memoryqueue.NewQueue[knowledge.GraphMergeItem](),
		docs:      storagememory.NewDocumentStore(),
		graph:     graphmemory.New(),
		crawler:   newFakeCrawler(map[string]string{"u1": acmeText, "https://example.com": acmeText}),
		extractor: &fakeExtractor{fragments: map[string]knowledge.GraphFragment{acmeText: acmeFragment()}},
		clock:     system.NewFrozen(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Queues:    Queues{Fetch: h.fetch, Extract: h.extract, GraphMerge: h.merge},
		Documents: h.docs,
		Crawler:   h.crawler,
		Extractor: h.extractor,
		Graph:     h.graph,
		Clock:     h.clock,
	}
}
