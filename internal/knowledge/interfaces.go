package knowledge

import (
	"context"
	"io"
	"time"
)

// Queue is a persisted FIFO of work items. Next reports ok=false when the
// queue is empty; that is not an error.
type Queue[T any] interface {
	Add(ctx context.Context, item T) error
	Next(ctx context.Context) (item T, ok bool, err error)
}

// DocumentStore persists one DocumentRecord per URL. Update merges the partial
// record onto the stored one field by field and is atomic per call.
type DocumentStore interface {
	Get(ctx context.Context, url string) (DocumentRecord, bool, error)
	Update(ctx context.Context, partial DocumentRecord) error
}

// Crawler resolves a URL to page text.
type Crawler interface {
	Crawl(ctx context.Context, url string) (CrawlResult, error)
}

// Extractor derives a graph fragment from page text.
type Extractor interface {
	Extract(ctx context.Context, content string) (GraphFragment, error)
}

// GraphStore merges fragments into the knowledge graph.
type GraphStore interface {
	Merge(ctx context.Context, fragment GraphFragment) error
}

// GraphReader answers operator queries against the knowledge graph. Empty
// filters match everything.
type GraphReader interface {
	ListEntities(ctx context.Context, label string) ([]Entity, error)
	ListRelations(ctx context.Context, name string, relation string) ([]Relation, error)
}

// Graph is implemented by every graph backend.
type Graph interface {
	GraphStore
	GraphReader
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// RateLimiter blocks until the host of url may be contacted again.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests and content-addressed archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
	ObjectPath(prefix, host string, data []byte, ext string) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
