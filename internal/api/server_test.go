package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-engine/internal/config"
	graphmemory "github.com/JakeFAU/knowledge-engine/internal/graph/memory"
	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/pipeline"
	memoryqueue "github.com/JakeFAU/knowledge-engine/internal/queue/memory"
	storagememory "github.com/JakeFAU/knowledge-engine/internal/storage/memory"
)

type testEnv struct {
	server *Server
	queue  *memoryqueue.Queue[knowledge.FetchItem]
	docs   *storagememory.DocumentStore
	graph  *graphmemory.Store
}

type queueSubmitter struct {
	q knowledge.Queue[knowledge.FetchItem]
}

func (s queueSubmitter) Submit(ctx context.Context, rawURL string, ignoreCache bool) (string, error) {
	return pipeline.Submit(ctx, s.q, rawURL, ignoreCache)
}

func newTestEnv(t *testing.T, auth config.AuthConfig, ready map[string]ReadinessCheck) *testEnv {
	t.Helper()
	env := &testEnv{
		queue: memoryqueue.NewQueue[knowledge.FetchItem](),
		docs:  storagememory.NewDocumentStore(),
		graph: graphmemory.New(),
	}
	server, err := NewServer(Deps{
		Submitter: queueSubmitter{q: env.queue},
		Documents: env.docs,
		Graph:     env.graph,
		IDs:       &fakeIDGen{},
		Ready:     ready,
	}, auth, zap.NewNop())
	require.NoError(t, err)
	env.server = server
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitDocuments(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	rec := env.do(t, http.MethodPost, "/v1/documents",
		[]byte(`{"urls":["HTTPS://Example.com/a#top","https://example.org"],"ignore_cache":true}`), nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"https://example.com/a", "https://example.org"}, resp.Accepted)
	require.Equal(t, []knowledge.FetchItem{
		{URL: "https://example.com/a", IgnoreCache: true},
		{URL: "https://example.org", IgnoreCache: true},
	}, env.queue.Items())
}

func TestSubmitDocumentsRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: "{invalid", want: "invalid JSON"},
		{name: "no urls", body: `{"urls":[]}`, want: "urls required"},
		{name: "bad url", body: `{"urls":["https://ok.example","ftp://nope"]}`, want: "invalid url"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, config.AuthConfig{}, nil)
			rec := env.do(t, http.MethodPost, "/v1/documents", []byte(tc.body), nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
			require.Zero(t, env.queue.Len(), "nothing is queued from a rejected batch")
		})
	}
}

func TestSubmitDocumentsQueueFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	env.queue.Close()
	rec := env.do(t, http.MethodPost, "/v1/documents", []byte(`{"urls":["https://example.com"]}`), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "enqueue failed")
}

func TestGetDocument(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	ctx := context.Background()
	require.NoError(t, env.docs.Update(ctx, knowledge.DocumentRecord{
		URL:     "https://example.com/a",
		Content: knowledge.Ptr("Acme was founded by Jane."),
	}))

	rec := env.do(t, http.MethodGet, "/v1/documents?url=https://EXAMPLE.com/a", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc knowledge.DocumentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "Acme was founded by Jane.", *doc.Content)
	require.Nil(t, doc.Entities)

	rec = env.do(t, http.MethodGet, "/v1/documents?url=https://example.com/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/documents", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraphQueries(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	require.NoError(t, env.graph.Merge(context.Background(), knowledge.GraphFragment{
		Nodes: []knowledge.Node{{ID: "Acme", Label: "Organization"}, {ID: "Jane Doe", Label: "Person"}},
		Edges: []knowledge.Edge{
			{Source: "Jane Doe", Target: "Acme", Relation: "FOUNDED"},
			{Source: "Jane Doe", Target: "Acme", Relation: "WORKS_AT"},
		},
	}))

	rec := env.do(t, http.MethodGet, "/v1/entities?label=Person", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"entities":[{"name":"Jane Doe","label":"Person"}]}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/entities/Jane%20Doe/relations?relation=FOUNDED", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"relations":[{"source":"Jane Doe","relation":"FOUNDED","target":"Acme"}]}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/entities/Acme/relations", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"relations":[]}`, rec.Body.String(), "incoming edges are not listed")
}

type failingGraph struct{}

func (failingGraph) ListEntities(context.Context, string) ([]knowledge.Entity, error) {
	return nil, errors.New("connection reset")
}

func (failingGraph) ListRelations(context.Context, string, string) ([]knowledge.Relation, error) {
	return nil, errors.New("connection reset")
}

func TestGraphQueryErrors(t *testing.T) {
	t.Parallel()

	server, err := NewServer(Deps{
		Submitter: queueSubmitter{q: memoryqueue.NewQueue[knowledge.FetchItem]()},
		Documents: storagememory.NewDocumentStore(),
		Graph:     failingGraph{},
	}, config.AuthConfig{}, nil)
	require.NoError(t, err)

	for _, target := range []string{"/v1/entities", "/v1/entities/Acme/relations"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code, target)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{Enabled: true, APIKey: "secret"}, nil)

	rec := env.do(t, http.MethodGet, "/v1/entities", nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/entities", nil, map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/entities?api_key=secret", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, "probes stay open")
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, map[string]ReadinessCheck{
		"graph": func(context.Context) error { return nil },
	})
	rec := env.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env = newTestEnv(t, config.AuthConfig{}, map[string]ReadinessCheck{
		"graph": func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	rec = env.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "refused")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	env.do(t, http.MethodGet, "/healthz", nil, nil)
	rec := env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, "id-default", rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/healthz", nil, map[string]string{"X-Request-ID": "caller-id"})
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Deps{}, config.AuthConfig{}, nil)
	require.Error(t, err)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type fakeIDGen struct{}

func (fakeIDGen) NewID() (string, error) { return "id-default", nil }

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
