package coastline

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultNamespace is the checkpoint namespace used by the engine.
const DefaultNamespace = ""

// Checkpoint is an immutable snapshot of a thread's PlanState at a node
// boundary. IDs are zero-padded monotonic sequence numbers, so lexicographic
// order equals execution order and "latest" is simply the max ID.
type Checkpoint struct {
	ThreadID     string          `json:"thread_id"`
	CheckpointID string          `json:"checkpoint_id"`
	Namespace    string          `json:"namespace"`
	ParentID     string          `json:"parent_id,omitempty"`
	State        json.RawMessage `json:"state"`
	Metadata     json.RawMessage `json:"metadata"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CheckpointMetadata records which step produced a checkpoint.
type CheckpointMetadata struct {
	Step      int    `json:"step"`
	Node      string `json:"node"`
	Suspended bool   `json:"suspended,omitempty"`
}

// PendingWrite stages one channel value produced by a task that has not yet
// been folded into a checkpoint. A half-finished fan-out of tool calls can be
// replayed without redoing the tasks that already completed.
type PendingWrite struct {
	ThreadID     string          `json:"thread_id"`
	CheckpointID string          `json:"checkpoint_id"`
	TaskID       string          `json:"task_id"`
	Channel      string          `json:"channel"`
	Value        json.RawMessage `json:"value"`
}

// CheckpointSeq formats a sequence number as a checkpoint ID.
func CheckpointSeq(n int) string {
	return fmt.Sprintf("%010d", n)
}

// NewCheckpoint serializes a state snapshot and metadata into a checkpoint
// record.
func NewCheckpoint(threadID, id, parentID string, state *PlanState, meta CheckpointMetadata) (*Checkpoint, error) {
	stateData, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint metadata: %w", err)
	}
	return &Checkpoint{
		ThreadID:     threadID,
		CheckpointID: id,
		Namespace:    DefaultNamespace,
		ParentID:     parentID,
		State:        stateData,
		Metadata:     metaData,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// DecodeState unpacks the serialized PlanState snapshot.
func (c *Checkpoint) DecodeState() (*PlanState, error) {
	var state PlanState
	if err := json.Unmarshal(c.State, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint state: %w", err)
	}
	return &state, nil
}

// DecodeMetadata unpacks the serialized step metadata.
func (c *Checkpoint) DecodeMetadata() (CheckpointMetadata, error) {
	var meta CheckpointMetadata
	if len(c.Metadata) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(c.Metadata, &meta); err != nil {
		return meta, fmt.Errorf("failed to unmarshal checkpoint metadata: %w", err)
	}
	return meta, nil
}
