package pipeline

import (
	"errors"

	"github.com/JakeFAU/knowledge-engine/internal/clock/system"
	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
)

// Queues holds one durable queue per stage.
type Queues struct {
	Fetch      knowledge.Queue[knowledge.FetchItem]
	Extract    knowledge.Queue[knowledge.ExtractItem]
	GraphMerge knowledge.Queue[knowledge.GraphMergeItem]
}

// Deps are the collaborators shared by the stages.
type Deps struct {
	Queues    Queues
	Documents knowledge.DocumentStore
	Crawler   knowledge.Crawler
	Extractor knowledge.Extractor
	Graph     knowledge.GraphStore
	// Clock stamps bookkeeping times. Defaults to the system clock.
	Clock knowledge.Clock
}

func (d *Deps) validate() error {
	switch {
	case d.Queues.Fetch == nil || d.Queues.Extract == nil || d.Queues.GraphMerge == nil:
		return errors.New("all stage queues are required")
	case d.Documents == nil:
		return errors.New("document store is required")
	case d.Crawler == nil:
		return errors.New("crawler is required")
	case d.Extractor == nil:
		return errors.New("extractor is required")
	case d.Graph == nil:
		return errors.New("graph store is required")
	}
	if d.Clock == nil {
		d.Clock = system.New()
	}
	return nil
}
