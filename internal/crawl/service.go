// Package crawl turns a URL into page text for the fetch stage.
//
// A Service probes the page with a plain HTTP client, optionally re-renders
// it in headless Chrome when the probe looks like a client-side shell,
// archives the raw HTML and reduces it to text.
package crawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-engine/internal/hash/sha256"
	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/metrics"
	"github.com/JakeFAU/knowledge-engine/internal/telemetry"
)

var (
	// ErrHTTPStatus is returned for non-2xx responses.
	ErrHTTPStatus = errors.New("unexpected http status")
	// ErrEmptyBody is returned when the page has no body.
	ErrEmptyBody = errors.New("empty response body")
	// ErrNoText is returned when the page has no visible text.
	ErrNoText = errors.New("page has no text")
)

const defaultContentType = "text/html; charset=utf-8"

// Config controls archiving and headless promotion.
type Config struct {
	// Headless enables re-rendering promoted pages with Renderer.
	Headless bool
	// ArchivePrefix is the leading path segment of archived pages.
	ArchivePrefix      string
	ArchiveContentType string
}

// Service implements knowledge.Crawler.
type Service struct {
	cfg      Config
	probe    knowledge.Fetcher
	renderer knowledge.Fetcher
	detector knowledge.HeadlessDetector
	limiter  knowledge.RateLimiter
	archive  knowledge.BlobStore
	hasher   knowledge.Hasher
	logger   *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithRenderer sets the headless renderer and the detector that decides when
// to use it.
func WithRenderer(renderer knowledge.Fetcher, detector knowledge.HeadlessDetector) Option {
	return func(s *Service) {
		s.renderer = renderer
		s.detector = detector
	}
}

// WithRateLimiter paces requests per host.
func WithRateLimiter(l knowledge.RateLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithArchive stores raw HTML in store.
func WithArchive(store knowledge.BlobStore) Option {
	return func(s *Service) { s.archive = store }
}

// WithHasher overrides the SHA-256 hasher used for archive paths.
func WithHasher(h knowledge.Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

// New builds a Service around the probe fetcher.
func New(cfg Config, probe knowledge.Fetcher, logger *zap.Logger, opts ...Option) (*Service, error) {
	if probe == nil {
		return nil, errors.New("probe fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ArchiveContentType == "" {
		cfg.ArchiveContentType = defaultContentType
	}
	s := &Service{
		cfg:    cfg,
		probe:  probe,
		hasher: sha256.New(),
		logger: logger.Named("crawl"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Headless && (s.renderer == nil || s.detector == nil) {
		return nil, errors.New("headless crawling needs a renderer and detector")
	}
	return s, nil
}

// Crawl fetches url and returns its text.
func (s *Service) Crawl(ctx context.Context, url string) (knowledge.CrawlResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "crawl")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	res, err := s.crawl(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveCrawl(url, crawlStatus(err), 0)
		return knowledge.CrawlResult{}, err
	}
	span.SetAttributes(
		attribute.Int("http.status_code", res.StatusCode),
		attribute.Bool("headless", res.UsedHeadless),
	)
	metrics.ObserveCrawl(url, "ok", res.Bytes)
	return res, nil
}

func (s *Service) crawl(ctx context.Context, url string) (knowledge.CrawlResult, error) {
	if _, err := knowledge.NormalizeURL(url); err != nil {
		return knowledge.CrawlResult{}, err
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, url); err != nil {
			return knowledge.CrawlResult{}, err
		}
	}

	req := knowledge.FetchRequest{URL: url, Headers: http.Header{"Accept": {"text/html,application/xhtml+xml"}}}
	resp, err := s.probe.Fetch(ctx, req)
	if err != nil {
		return knowledge.CrawlResult{}, fmt.Errorf("probe %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return knowledge.CrawlResult{}, fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
	}

	if s.cfg.Headless && s.detector.ShouldPromote(resp) {
		resp = s.render(ctx, req, resp)
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return knowledge.CrawlResult{}, ErrEmptyBody
	}

	result := knowledge.CrawlResult{
		URL:          url,
		FinalURL:     resp.URL,
		StatusCode:   resp.StatusCode,
		Bytes:        len(resp.Body),
		UsedHeadless: resp.UsedHeadless,
	}
	if result.FinalURL == "" {
		result.FinalURL = url
	}

	if s.archive != nil {
		path := s.hasher.ObjectPath(s.cfg.ArchivePrefix, knowledge.Host(result.FinalURL), resp.Body, ".html")
		uri, err := s.archive.PutObject(ctx, path, s.cfg.ArchiveContentType, bytes.NewReader(resp.Body))
		if err != nil {
			return knowledge.CrawlResult{}, fmt.Errorf("archive %s: %w", url, err)
		}
		result.BlobURI = uri
	}

	text, err := HTMLToText(resp.Body)
	if err != nil {
		return knowledge.CrawlResult{}, err
	}
	if text == "" {
		return knowledge.CrawlResult{}, ErrNoText
	}
	result.Content = text

	s.logger.Debug("crawled",
		zap.String("url", url),
		zap.Int("status", result.StatusCode),
		zap.Int("bytes", result.Bytes),
		zap.Int("text_len", len(text)),
		zap.Bool("headless", result.UsedHeadless),
	)
	return result, nil
}

// render re-fetches a promoted page headlessly. Any failure keeps the probe.
func (s *Service) render(ctx context.Context, req knowledge.FetchRequest, probe knowledge.FetchResponse) knowledge.FetchResponse {
	rendered, err := s.renderer.Fetch(ctx, req)
	if err != nil {
		s.logger.Warn("headless render failed, using probe", zap.String("url", req.URL), zap.Error(err))
		return probe
	}
	if rendered.StatusCode < 200 || rendered.StatusCode > 299 || len(rendered.Body) == 0 {
		s.logger.Warn("headless render unusable, using probe",
			zap.String("url", req.URL),
			zap.Int("status", rendered.StatusCode),
		)
		return probe
	}
	rendered.UsedHeadless = true
	return rendered
}

func crawlStatus(err error) string {
	switch {
	case errors.Is(err, knowledge.ErrInvalidURL):
		return "invalid"
	case errors.Is(err, ErrHTTPStatus):
		return "http_error"
	case errors.Is(err, ErrEmptyBody), errors.Is(err, ErrNoText):
		return "empty"
	default:
		return "error"
	}
}
