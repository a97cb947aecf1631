package interfaces

import (
	"context"

	"vwap-band-bot/internal/types"
)

// Engine drives the per-tick cycle: drain commands, ingest, detect, execute,
// publish. Run returns when the feed is exhausted or a STOP command arrives.
type Engine interface {
	Run(ctx context.Context, bars <-chan types.Bar) error

	// Enqueue queues a user command for the next tick. Never blocks; a full
	// queue drops the command and reports false.
	Enqueue(cmd types.Command) bool

	// Snapshot returns the last published tick snapshot, if any.
	Snapshot() (types.TickSnapshot, bool)

	// Ticks exposes the published snapshot stream for external consumers.
	Ticks() <-chan types.TickSnapshot

	State() types.EngineState
}
