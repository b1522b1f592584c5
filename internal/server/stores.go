package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-engine/internal/api"
	"github.com/JakeFAU/knowledge-engine/internal/config"
	badgergraph "github.com/JakeFAU/knowledge-engine/internal/graph/badger"
	pggraph "github.com/JakeFAU/knowledge-engine/internal/graph/postgres"
	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/pipeline"
	badgerqueue "github.com/JakeFAU/knowledge-engine/internal/queue/badger"
	badgerstore "github.com/JakeFAU/knowledge-engine/internal/storage/badger"
)

// Queue names inside the embedded database.
const (
	FetchQueueName      = "fetch"
	ExtractQueueName    = "extract"
	GraphMergeQueueName = "graph_merge"
)

// Stores bundles the embedded database and everything persisted through it,
// plus the configured graph backend. It is shared by the long-running service
// and the one-shot CLI commands.
type Stores struct {
	DB        *badgerstore.DB
	Queues    pipeline.Queues
	Documents *badgerstore.DocumentStore
	Graph     knowledge.Graph
	// Ready holds one readiness check per backing service.
	Ready map[string]api.ReadinessCheck

	fetch      *badgerqueue.Queue[knowledge.FetchItem]
	extract    *badgerqueue.Queue[knowledge.ExtractItem]
	graphMerge *badgerqueue.Queue[knowledge.GraphMergeItem]
	postgres   *pggraph.Store
	logger     *zap.Logger
}

// OpenStores opens the embedded database, the three stage queues, the
// document store and the graph backend selected by cfg.
func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := badgerstore.Open(badgerstore.Config{
		Path:       cfg.Storage.DataDir,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
		GCInterval: time.Duration(cfg.Storage.GCIntervalSeconds) * time.Second,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	s := &Stores{DB: db, logger: logger, Ready: map[string]api.ReadinessCheck{}}
	if err := s.open(ctx, cfg); err != nil {
		if cerr := s.Close(); cerr != nil {
			logger.Warn("close stores after failed open", zap.Error(cerr))
		}
		return nil, err
	}
	logger.Info("stores opened",
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.Bool("in_memory", cfg.Storage.InMemory),
		zap.String("graph_backend", cfg.Graph.Backend),
	)
	return s, nil
}

func (s *Stores) open(ctx context.Context, cfg *config.Config) error {
	var err error
	queueLogger := s.logger.Named("queue")
	if s.fetch, err = badgerqueue.New[knowledge.FetchItem](s.DB.DB, FetchQueueName, queueLogger); err != nil {
		return err
	}
	if s.extract, err = badgerqueue.New[knowledge.ExtractItem](s.DB.DB, ExtractQueueName, queueLogger); err != nil {
		return err
	}
	if s.graphMerge, err = badgerqueue.New[knowledge.GraphMergeItem](s.DB.DB, GraphMergeQueueName, queueLogger); err != nil {
		return err
	}
	s.Queues = pipeline.Queues{Fetch: s.fetch, Extract: s.extract, GraphMerge: s.graphMerge}

	if s.Documents, err = badgerstore.NewDocumentStore(s.DB.DB); err != nil {
		return fmt.Errorf("document store init failed: %w", err)
	}
	s.Ready["badger"] = func(context.Context) error {
		if s.DB.IsClosed() {
			return errors.New("badger is closed")
		}
		return nil
	}

	switch cfg.Graph.Backend {
	case config.GraphPostgres:
		s.postgres, err = pggraph.NewStore(ctx, pggraph.Config{
			DSN:            cfg.Graph.DSN,
			EntitiesTable:  cfg.Graph.EntityTable,
			RelationsTable: cfg.Graph.RelationTable,
			MaxConns:       cfg.Graph.MaxConns,
			EnsureSchema:   cfg.Graph.EnsureSchema,
		}, s.logger.Named("graph"))
		if err != nil {
			return fmt.Errorf("postgres graph init failed: %w", err)
		}
		s.Graph = s.postgres
		s.Ready["postgres"] = s.postgres.Ping
	default:
		graph, err := badgergraph.New(s.DB.DB)
		if err != nil {
			return fmt.Errorf("badger graph init failed: %w", err)
		}
		s.Graph = graph
	}
	return nil
}

// Close releases queue sequences, the graph pool and the database.
func (s *Stores) Close() error {
	var errs []error
	if s.fetch != nil {
		errs = append(errs, s.fetch.Close())
	}
	if s.extract != nil {
		errs = append(errs, s.extract.Close())
	}
	if s.graphMerge != nil {
		errs = append(errs, s.graphMerge.Close())
	}
	if s.postgres != nil {
		s.postgres.Close()
	}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	return errors.Join(errs...)
}
