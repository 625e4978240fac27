package coastline

import (
	"context"
	"errors"
)

// ErrThreadDeleted is returned by Put when the target thread was previously
// deleted. Cancellation works by deleting a thread's checkpoints; an in-flight
// step that tries to write afterwards must fail loudly instead of silently
// resurrecting the session, so thread IDs are never reused after deletion.
var ErrThreadDeleted = errors.New("thread has been deleted")

// ListFilter narrows a List call. Zero values match everything.
type ListFilter struct {
	// Before restricts results to checkpoints with IDs strictly less than
	// this ID.
	Before string
	// Suspended, when non-nil, matches only checkpoints whose metadata
	// suspended flag equals the value.
	Suspended *bool
}

// CheckpointStore persists workflow execution snapshots keyed by
// (thread, checkpoint id, namespace). Implementations must be safe for
// concurrent use across different thread IDs; within one thread the engine
// guarantees writes are sequential, so a store only needs atomic single-record
// upserts, not cross-call ordering.
type CheckpointStore interface {
	// Put upserts a checkpoint. Writing the same key twice keeps only the
	// last payload.
	Put(ctx context.Context, checkpoint *Checkpoint) error

	// GetLatest returns the checkpoint with the highest ID for a
	// thread+namespace, or nil when the thread has none.
	GetLatest(ctx context.Context, threadID, namespace string) (*Checkpoint, error)

	// List returns a thread's checkpoints in descending ID order.
	List(ctx context.Context, threadID string, filter ListFilter, limit int) ([]*Checkpoint, error)

	// PutWrites stages pending writes for a task, upserting on
	// (thread, checkpoint, task).
	PutWrites(ctx context.Context, writes []*PendingWrite) error

	// PendingWrites returns the staged writes for one checkpoint. Resume
	// uses them to replay a half-finished tool fan-out without redoing
	// completed tasks.
	PendingWrites(ctx context.Context, threadID, checkpointID string) ([]*PendingWrite, error)

	// DeleteThread removes all checkpoints and pending writes for a thread
	// and returns the number of checkpoints removed. Partial deletion is a
	// correctness bug: orphaned pending writes would corrupt a future
	// resume.
	DeleteThread(ctx context.Context, threadID string) (int, error)
}
