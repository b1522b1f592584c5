// Package extractor derives knowledge-graph fragments from page text with an
// OpenAI-compatible chat completion API (OpenRouter by default).
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
)

const (
	// DefaultBaseURL points at OpenRouter's OpenAI-compatible endpoint.
	DefaultBaseURL   = "https://openrouter.ai/api/v1"
	DefaultModel     = "openai/gpt-4o-mini"
	defaultMaxTokens = 10000
	defaultTimeout   = 2 * time.Minute
)

var (
	// ErrEmptyContent is returned when there is no text to extract from.
	ErrEmptyContent = errors.New("content is empty")
	// ErrMalformedOutput is returned when the model reply is not a fragment.
	ErrMalformedOutput = errors.New("malformed extraction output")
)

const systemPrompt = `You extract knowledge graphs from web page text.

Given the text of one page:
1. List the clearly identifiable entities as nodes.
2. List the meaningful relationships between those entities as edges.
3. Use one canonical name per entity ("J. Smith" and "Jane Smith" become "Jane Smith").
4. Skip vague references such as "the company", "users", "he" or "it".

Reply with a single JSON object and nothing else, in this shape:
{"nodes":[{"id":"Exact Name","label":"Person|Organization|Location|Product|Concept|Event|..."}],
 "edges":[{"source":"node id","target":"node id","relation":"UPPER_SNAKE_CASE_VERB"}]}

Node ids are unique. Relations are short, for example FOUNDED, ACQUIRED or LOCATED_IN.
Do not wrap the JSON in markdown.`

// Config holds the chat completion settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Extractor implements knowledge.Extractor.
type Extractor struct {
	client chatClient
	cfg    Config
	logger *zap.Logger
}

// New builds an Extractor that talks to cfg.BaseURL.
func New(cfg Config, logger *zap.Logger) (*Extractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("extractor api key is required")
	}
	cfg = withDefaults(cfg)
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return newWithClient(openai.NewClientWithConfig(clientCfg), cfg, logger), nil
}

func newWithClient(client chatClient, cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		client: client,
		cfg:    withDefaults(cfg),
		logger: logger.Named("extractor"),
	}
}

func withDefaults(cfg Config) Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return cfg
}

// Extract asks the model for the entities and relations in content.
func (e *Extractor) Extract(ctx context.Context, content string) (knowledge.GraphFragment, error) {
	if strings.TrimSpace(content) == "" {
		return knowledge.GraphFragment{}, ErrEmptyContent
	}

	temperature := e.cfg.Temperature
	if temperature == 0 {
		// A zero temperature is dropped by omitempty.
		temperature = math.SmallestNonzeroFloat32
	}
	req := openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Extract entities from the following document:\n" + content},
		},
	}

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return knowledge.GraphFragment{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return knowledge.GraphFragment{}, fmt.Errorf("%w: no choices", ErrMalformedOutput)
	}

	fragment, err := ParseFragment(resp.Choices[0].Message.Content)
	if err != nil {
		e.logger.Warn("unparseable extraction",
			zap.String("model", e.cfg.Model),
			zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
			zap.Error(err),
		)
		return knowledge.GraphFragment{}, err
	}
	e.logger.Debug("extracted",
		zap.String("model", e.cfg.Model),
		zap.Int("nodes", len(fragment.Nodes)),
		zap.Int("edges", len(fragment.Edges)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)
	return fragment, nil
}

// ParseFragment decodes a model reply into a normalized fragment. Markdown
// code fences and text around the outermost JSON object are ignored.
func ParseFragment(reply string) (knowledge.GraphFragment, error) {
	body := stripFences(reply)
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start == -1 || end < start {
		return knowledge.GraphFragment{}, fmt.Errorf("%w: no json object", ErrMalformedOutput)
	}

	var fragment knowledge.GraphFragment
	if err := json.Unmarshal([]byte(body[start:end+1]), &fragment); err != nil {
		return knowledge.GraphFragment{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return fragment.Normalize(), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
