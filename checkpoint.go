package distill

import "time"

// Checkpoint is the durable record of a completed pipeline stage. The Data
// payload accumulates across stages: a later stage's checkpoint re-embeds
// every upstream key needed to restore full pipeline state from one file.
type Checkpoint struct {
	Step      Stage          `json:"step"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}
