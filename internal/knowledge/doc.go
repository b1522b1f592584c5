// Package knowledge holds the domain types shared by the pipeline stages and
// the narrow interfaces through which the stages reach their collaborators:
// durable queues, the document store, the crawler, the entity extractor and
// the graph store.
package knowledge
