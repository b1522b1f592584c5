// Package graph collects the knowledge graph backends. Every backend upserts
// nodes (last label wins), merges edges as a set keyed by source, target and
// relation, and creates unseen edge endpoints with the default label.
//
//   - memory: map-backed, for tests and throwaway runs.
//   - badger: embedded, sharing the pipeline's BadgerDB instance.
//   - postgres: entities/relations tables reached through pgx.
package graph
