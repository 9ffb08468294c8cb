package model

import "context"

// Writer defines a generic interface for copying persisted windows to a secondary sink.
type Writer interface {
	// Write persists a copy of the window. Implementations must be idempotent
	// on the window identifier.
	Write(ctx context.Context, window *Window) error

	// Name identifies the sink in logs.
	Name() string
}
