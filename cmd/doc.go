// Package cmd defines the knowledge-engine command line.
//
// Architecture overview:
//   - Queues: fetch, extract and graph merge items live in FIFO queues inside one embedded BadgerDB, next to the
//     document records keyed by normalized URL. Items survive restarts; "enqueue" and POST /v1/documents both append
//     to the fetch queue.
//   - Stages: one worker per stage polls its queue. Fetch crawls the page (Colly probe, optional Chromedp render when
//     the heuristic detector promotes it, per-host rate limiting, optional raw HTML archive to memory/local/GCS) and
//     stores the page text. Extract asks an OpenAI-compatible chat endpoint for entities and relations. Graph merge
//     writes the fragment into the embedded graph or Postgres.
//   - Retries: a transient failure puts the item back on its own queue after the retry delay. On shutdown every
//     pending retry is written back immediately, so nothing is lost between runs.
//   - Plumbing: Viper reads config from file and KNOWLEDGE_* env vars; zap provides structured logging; Prometheus
//     metrics are served on /metrics; the progress hub batches stage outcomes to log, Prometheus and Pub/Sub sinks.
//
// Quick checklist:
//   - Set KNOWLEDGE_EXTRACTOR_API_KEY (and KNOWLEDGE_EXTRACTOR_BASE_URL / _MODEL for a non-default endpoint).
//   - Run locally: go run . run --config config.yaml
//   - Queue work: go run . enqueue https://example.com while the service is stopped, or POST /v1/documents while
//     it runs; BadgerDB allows one process per data directory.
package cmd
