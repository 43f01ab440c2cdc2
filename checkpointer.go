package distill

import "context"

// Checkpointer persists the checkpoint for a single flow directory.
type Checkpointer interface {
	// Save replaces the flow's checkpoint with a new record for the given
	// stage. A reader must never observe a partially written checkpoint.
	Save(ctx context.Context, step Stage, data map[string]any) error

	// Load returns the flow's checkpoint, or (nil, nil) if no checkpoint
	// exists. A checkpoint that cannot be parsed is treated as absent, not
	// as an error: the stage simply re-runs.
	Load(ctx context.Context) (*Checkpoint, error)

	// Clear removes the flow's checkpoint if one exists.
	Clear(ctx context.Context) error
}
