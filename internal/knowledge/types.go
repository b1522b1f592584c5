package knowledge

import (
	"net/http"
	"time"
)

// FetchItem asks the fetch stage to crawl URL.
type FetchItem struct {
	URL         string `json:"url"`
	IgnoreCache bool   `json:"ignore_cache,omitempty"`
}

// ExtractItem asks the extract stage to derive entities for URL.
type ExtractItem struct {
	URL         string `json:"url"`
	IgnoreCache bool   `json:"ignore_cache,omitempty"`
}

// GraphMergeItem asks the graph stage to merge the stored entities for URL.
type GraphMergeItem struct {
	URL string `json:"url"`
}

// DocumentRecord is the accumulated knowledge about one URL. Nil fields are
// unset; Merge only overwrites fields that are set on the partial record.
type DocumentRecord struct {
	URL         string         `json:"url"`
	Content     *string        `json:"content,omitempty"`
	Entities    *GraphFragment `json:"entities,omitempty"`
	BlobURI     *string        `json:"blob_uri,omitempty"`
	FetchedAt   *time.Time     `json:"fetched_at,omitempty"`
	ExtractedAt *time.Time     `json:"extracted_at,omitempty"`
	MergedAt    *time.Time     `json:"merged_at,omitempty"`
}

// HasContent reports whether the record holds non-empty page text.
func (d DocumentRecord) HasContent() bool {
	return d.Content != nil && *d.Content != ""
}

// HasEntities reports whether extraction has stored a fragment. An empty
// fragment still counts: the page was processed and had nothing to offer.
func (d DocumentRecord) HasEntities() bool {
	return d.Entities != nil
}

// NeedsMerge reports whether the stored entities have not been merged into the
// graph since they were last extracted.
func (d DocumentRecord) NeedsMerge() bool {
	if !d.HasEntities() {
		return false
	}
	if d.MergedAt == nil {
		return true
	}
	return d.ExtractedAt != nil && d.MergedAt.Before(*d.ExtractedAt)
}

// Merge returns d with every field that is set on partial copied over.
func (d DocumentRecord) Merge(partial DocumentRecord) DocumentRecord {
	out := d
	if out.URL == "" {
		out.URL = partial.URL
	}
	if partial.Content != nil {
		out.Content = partial.Content
	}
	if partial.Entities != nil {
		out.Entities = partial.Entities
	}
	if partial.BlobURI != nil {
		out.BlobURI = partial.BlobURI
	}
	if partial.FetchedAt != nil {
		out.FetchedAt = partial.FetchedAt
	}
	if partial.ExtractedAt != nil {
		out.ExtractedAt = partial.ExtractedAt
	}
	if partial.MergedAt != nil {
		out.MergedAt = partial.MergedAt
	}
	return out
}

// Ptr returns a pointer to v; handy for building partial records.
func Ptr[T any](v T) *T {
	return &v
}

// CrawlResult is what a Crawler returns for a successfully fetched page.
type CrawlResult struct {
	URL          string `json:"url"`
	FinalURL     string `json:"final_url"`
	StatusCode   int    `json:"status_code"`
	Content      string `json:"content"`
	BlobURI      string `json:"blob_uri,omitempty"`
	Bytes        int    `json:"bytes"`
	UsedHeadless bool   `json:"used_headless"`
}

// Entity is a graph node as reported to operators.
type Entity struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// Relation is a graph edge as reported to operators.
type Relation struct {
	Source   string `json:"source"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
