// Package dedup persists which (event, handler) pairs have already been
// processed. Its records are checked before and written after handler
// execution, never the reverse, which keeps the failure mode "processed
// twice" rather than "never processed".
package dedup

import "context"

// Store records completed handler executions keyed by (event_id, handler).
type Store interface {
	IsProcessed(ctx context.Context, eventID, handler string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, handler string) error
}
