// Package worker implements the generic stage loop shared by every pipeline
// phase and the delayed-requeue retry scheduler.
//
// A Worker polls one durable queue. For each item it runs the stage's Check,
// then (when the work is not already done) Invoke and Apply, and finally
// Advance to hand the URL to the next stage. Any error or panic along the way
// schedules the original item for a delayed re-add to the same queue; errors
// wrapping ErrPermanent drop the item instead.
package worker
