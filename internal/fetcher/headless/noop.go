package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
)

// ErrDisabled is returned by Disabled.Fetch.
var ErrDisabled = errors.New("headless rendering disabled")

// Disabled stands in for a renderer when headless rendering is switched off.
type Disabled struct{}

// NewDisabled returns a Disabled renderer.
func NewDisabled() Disabled {
	return Disabled{}
}

// Fetch always fails with ErrDisabled.
func (Disabled) Fetch(context.Context, knowledge.FetchRequest) (knowledge.FetchResponse, error) {
	return knowledge.FetchResponse{}, ErrDisabled
}
