// Package simple contains the permissive admission policy used when per-host
// rate limiting is turned off.
package simple

import "context"

// Policy admits every request immediately.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Wait returns at once unless ctx is already done.
func (Policy) Wait(ctx context.Context, _ string) error {
	return ctx.Err()
}
