package distill

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CheckpointFileName is the name of the checkpoint file within a flow
// directory. At most one checkpoint exists per flow at any time.
const CheckpointFileName = "checkpoint.json"

// FileCheckpointer is a file-based implementation that persists the
// checkpoint for one flow directory.
type FileCheckpointer struct {
	dir string
}

// NewFileCheckpointer creates a checkpointer bound to the given flow
// directory. The directory does not need to exist yet; Save creates it.
func NewFileCheckpointer(dir string) (*FileCheckpointer, error) {
	if dir == "" {
		return nil, fmt.Errorf("flow directory is required")
	}
	return &FileCheckpointer{dir: dir}, nil
}

// Save writes the checkpoint for the given stage, replacing any prior
// checkpoint. The write goes to a temporary file first and is moved into
// place with a rename, so readers never see a half-written file.
func (c *FileCheckpointer) Save(ctx context.Context, step Stage, data map[string]any) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create flow directory %s: %w", c.dir, err)
	}

	checkpoint := Checkpoint{
		Step:      step,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	payload, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, c.Path()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}

// Load reads the flow's checkpoint. A missing or unparseable file returns
// (nil, nil): the caller re-runs the stage rather than failing the run.
func (c *FileCheckpointer) Load(ctx context.Context) (*Checkpoint, error) {
	payload, err := os.ReadFile(c.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(payload, &checkpoint); err != nil {
		// Corrupt checkpoint is treated as absent.
		return nil, nil
	}
	return &checkpoint, nil
}

// Clear removes the checkpoint file if it exists.
func (c *FileCheckpointer) Clear(ctx context.Context) error {
	if err := os.Remove(c.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint file: %w", err)
	}
	return nil
}

// Path returns the location of the checkpoint file.
func (c *FileCheckpointer) Path() string {
	return filepath.Join(c.dir, CheckpointFileName)
}

// Dir returns the flow directory the checkpointer is bound to.
func (c *FileCheckpointer) Dir() string {
	return c.dir
}
