// Package postgres persists the knowledge graph in two Postgres tables: one
// row per entity and one row per (source, target, relation) edge.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and table names.
type Config struct {
	DSN             string
	EntitiesTable   string
	RelationsTable  string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// EnsureSchema creates the tables when they do not exist.
	EnsureSchema bool
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// Store implements knowledge.Graph on Postgres.
type Store struct {
	pool      pool
	entities  string
	relations string
	logger    *zap.Logger
}

// NewStore connects to Postgres using cfg.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("graph.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStoreWithPool(p, cfg.EntitiesTable, cfg.RelationsTable, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, entities, relations string, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if entities == "" {
		entities = "entities"
	}
	if relations == "" {
		relations = "relations"
	}
	for _, table := range []string{entities, relations} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, entities: entities, relations: relations, logger: logger}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the entity and relation tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			label TEXT NOT NULL
		)`, s.entities),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			source TEXT NOT NULL REFERENCES %s(name),
			target TEXT NOT NULL REFERENCES %s(name),
			relation TEXT NOT NULL,
			PRIMARY KEY (source, target, relation)
		)`, s.relations, s.entities, s.entities),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

// Merge upserts the fragment inside one transaction.
func (s *Store) Merge(ctx context.Context, fragment knowledge.GraphFragment) error {
	fragment = fragment.Normalize()
	if fragment.Empty() {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin graph merge: %w", err)
	}
	if err := s.apply(ctx, tx, fragment); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("graph merge rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit graph merge: %w", err)
	}
	return nil
}

func (s *Store) apply(ctx context.Context, tx pgx.Tx, fragment knowledge.GraphFragment) error {
	upsertNode := fmt.Sprintf(`INSERT INTO %s (name, label) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET label = EXCLUDED.label`, s.entities)
	ensureNode := fmt.Sprintf(`INSERT INTO %s (name, label) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING`, s.entities)
	insertEdge := fmt.Sprintf(`INSERT INTO %s (source, target, relation) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, s.relations)

	for _, n := range fragment.Nodes {
		if _, err := tx.Exec(ctx, upsertNode, n.ID, n.Label); err != nil {
			return fmt.Errorf("upsert entity %q: %w", n.ID, err)
		}
	}
	for _, e := range fragment.Edges {
		for _, id := range []string{e.Source, e.Target} {
			if _, err := tx.Exec(ctx, ensureNode, id, knowledge.DefaultLabel); err != nil {
				return fmt.Errorf("ensure entity %q: %w", id, err)
			}
		}
		if _, err := tx.Exec(ctx, insertEdge, e.Source, e.Target, e.Relation); err != nil {
			return fmt.Errorf("insert relation %s-%s->%s: %w", e.Source, e.Relation, e.Target, err)
		}
	}
	return nil
}

// ListEntities returns entities ordered by name, optionally filtered by label.
func (s *Store) ListEntities(ctx context.Context, label string) ([]knowledge.Entity, error) {
	query := fmt.Sprintf(`SELECT name, label FROM %s
		WHERE ($1 = '' OR label = $1)
		ORDER BY name`, s.entities)
	rows, err := s.pool.Query(ctx, query, label)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	out := []knowledge.Entity{}
	for rows.Next() {
		var e knowledge.Entity
		if err := rows.Scan(&e.Name, &e.Label); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return out, nil
}

// ListRelations returns the outgoing edges of name, optionally filtered by
// relation.
func (s *Store) ListRelations(ctx context.Context, name string, relation string) ([]knowledge.Relation, error) {
	query := fmt.Sprintf(`SELECT source, relation, target FROM %s
		WHERE source = $1 AND ($2 = '' OR relation = $2)
		ORDER BY relation, target`, s.relations)
	rows, err := s.pool.Query(ctx, query, name, relation)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()

	var out []knowledge.Relation
	for rows.Next() {
		var r knowledge.Relation
		if err := rows.Scan(&r.Source, &r.Relation, &r.Target); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	return out, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
