// Package pipeline wires the three knowledge stages (fetch, extract and
// graph merge) onto generic workers and supervises them.
//
// Each stage reads the document store to decide whether its work is already
// done. A stage that finds its own work done but the next stage's
// precondition unmet still hands the URL forward, so a crash between a write
// and the following enqueue heals itself on the next pass.
package pipeline
