package coastline

import (
	"context"
	"sort"
	"sync"
)

// MemoryCheckpointStore is an in-memory CheckpointStore. It keeps per-thread
// checkpoint maps plus a tombstone set of deleted threads, and is safe for
// concurrent use. Suitable for tests and single-process deployments.
type MemoryCheckpointStore struct {
	mutex       sync.RWMutex
	checkpoints map[string]map[string]*Checkpoint // threadID -> checkpointKey -> record
	writes      map[string][]*PendingWrite        // threadID -> staged writes
	deleted     map[string]bool
}

// NewMemoryCheckpointStore returns an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: map[string]map[string]*Checkpoint{},
		writes:      map[string][]*PendingWrite{},
		deleted:     map[string]bool{},
	}
}

func checkpointKey(id, namespace string) string {
	return namespace + "/" + id
}

func (s *MemoryCheckpointStore) Put(ctx context.Context, checkpoint *Checkpoint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.deleted[checkpoint.ThreadID] {
		return ErrThreadDeleted
	}
	thread, ok := s.checkpoints[checkpoint.ThreadID]
	if !ok {
		thread = map[string]*Checkpoint{}
		s.checkpoints[checkpoint.ThreadID] = thread
	}
	cp := *checkpoint
	thread[checkpointKey(checkpoint.CheckpointID, checkpoint.Namespace)] = &cp
	return nil
}

func (s *MemoryCheckpointStore) GetLatest(ctx context.Context, threadID, namespace string) (*Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var latest *Checkpoint
	for _, cp := range s.checkpoints[threadID] {
		if cp.Namespace != namespace {
			continue
		}
		if latest == nil || cp.CheckpointID > latest.CheckpointID {
			latest = cp
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryCheckpointStore) List(ctx context.Context, threadID string, filter ListFilter, limit int) ([]*Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var results []*Checkpoint
	for _, cp := range s.checkpoints[threadID] {
		if filter.Before != "" && cp.CheckpointID >= filter.Before {
			continue
		}
		if filter.Suspended != nil {
			meta, err := cp.DecodeMetadata()
			if err != nil {
				return nil, err
			}
			if meta.Suspended != *filter.Suspended {
				continue
			}
		}
		copied := *cp
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CheckpointID > results[j].CheckpointID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *MemoryCheckpointStore) PutWrites(ctx context.Context, writes []*PendingWrite) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, w := range writes {
		if s.deleted[w.ThreadID] {
			return ErrThreadDeleted
		}
		staged := s.writes[w.ThreadID]
		replaced := false
		for i, existing := range staged {
			if existing.CheckpointID == w.CheckpointID && existing.TaskID == w.TaskID && existing.Channel == w.Channel {
				copied := *w
				staged[i] = &copied
				replaced = true
				break
			}
		}
		if !replaced {
			copied := *w
			staged = append(staged, &copied)
		}
		s.writes[w.ThreadID] = staged
	}
	return nil
}

// PendingWrites returns the staged writes for a thread. Used by resume to
// replay a half-finished tool fan-out.
func (s *MemoryCheckpointStore) PendingWrites(ctx context.Context, threadID, checkpointID string) ([]*PendingWrite, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var out []*PendingWrite
	for _, w := range s.writes[threadID] {
		if w.CheckpointID == checkpointID {
			copied := *w
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *MemoryCheckpointStore) DeleteThread(ctx context.Context, threadID string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	count := len(s.checkpoints[threadID])
	delete(s.checkpoints, threadID)
	delete(s.writes, threadID)
	s.deleted[threadID] = true
	return count, nil
}
