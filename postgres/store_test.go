package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/deepnoodle-ai/coastline"
)

var (
	testStore     *Store
	skipPostgres  bool
	setupComplete bool
)

func setupPostgres(t *testing.T) *Store {
	t.Helper()
	if setupComplete {
		if skipPostgres {
			t.Skip("Docker not available, skipping postgres test")
		}
		return testStore
	}
	setupComplete = true
	ctx := context.Background()

	var container *tcpostgres.PostgresContainer
	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		container, containerErr = tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("coastline_test"),
			tcpostgres.WithUsername("coastline"),
			tcpostgres.WithPassword("coastline"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(time.Minute)),
		)
	}()
	if containerErr != nil {
		skipPostgres = true
		t.Skip("Docker not available, skipping postgres test")
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		skipPostgres = true
		t.Skipf("failed to resolve connection string: %v", err)
	}
	store, err := Open(dsn)
	if err != nil {
		skipPostgres = true
		t.Skipf("failed to open store: %v", err)
	}
	testStore = store
	return store
}

func testCheckpoint(t *testing.T, threadID string, seq int, suspended bool) *coastline.Checkpoint {
	t.Helper()
	state := coastline.NewPlanState(coastline.Preferences{
		Origin:       "New York",
		Destinations: []string{"Paris"},
		StartDate:    "2026-09-10",
		EndDate:      "2026-09-15",
		Travelers:    2,
		BudgetLimit:  3000,
	})
	cp, err := coastline.NewCheckpoint(threadID, coastline.CheckpointSeq(seq), coastline.CheckpointSeq(seq-1),
		state, coastline.CheckpointMetadata{Step: seq, Node: coastline.NodePropose, Suspended: suspended})
	require.NoError(t, err)
	return cp
}

func TestPostgresCheckpointRoundtrip(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	threadID := t.Name()

	require.NoError(t, store.Put(ctx, testCheckpoint(t, threadID, 1, false)))
	require.NoError(t, store.Put(ctx, testCheckpoint(t, threadID, 2, true)))

	latest, err := store.GetLatest(ctx, threadID, coastline.DefaultNamespace)
	require.NoError(t, err)
	require.Equal(t, coastline.CheckpointSeq(2), latest.CheckpointID)

	state, err := latest.DecodeState()
	require.NoError(t, err)
	require.Equal(t, "New York", state.Preferences.Origin)

	meta, err := latest.DecodeMetadata()
	require.NoError(t, err)
	require.True(t, meta.Suspended)
}

func TestPostgresListFilters(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	threadID := t.Name()

	require.NoError(t, store.Put(ctx, testCheckpoint(t, threadID, 1, false)))
	require.NoError(t, store.Put(ctx, testCheckpoint(t, threadID, 2, true)))
	require.NoError(t, store.Put(ctx, testCheckpoint(t, threadID, 3, false)))

	list, err := store.List(ctx, threadID, coastline.ListFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, coastline.CheckpointSeq(3), list[0].CheckpointID)

	suspended := true
	list, err = store.List(ctx, threadID, coastline.ListFilter{Suspended: &suspended}, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, coastline.CheckpointSeq(2), list[0].CheckpointID)

	list, err = store.List(ctx, threadID, coastline.ListFilter{Before: coastline.CheckpointSeq(3)}, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, coastline.CheckpointSeq(2), list[0].CheckpointID)
}

func TestPostgresPendingWritesUpsert(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	threadID := t.Name()

	write := &coastline.PendingWrite{
		ThreadID:     threadID,
		CheckpointID: coastline.CheckpointSeq(1),
		TaskID:       "call-1",
		Channel:      "tool_result",
		Value:        json.RawMessage(`{"v":1}`),
	}
	require.NoError(t, store.PutWrites(ctx, []*coastline.PendingWrite{write}))

	replaced := *write
	replaced.Value = json.RawMessage(`{"v":2}`)
	require.NoError(t, store.PutWrites(ctx, []*coastline.PendingWrite{&replaced}))

	writes, err := store.PendingWrites(ctx, threadID, coastline.CheckpointSeq(1))
	require.NoError(t, err)
	require.Len(t, writes, 1)
	require.JSONEq(t, `{"v":2}`, string(writes[0].Value))
}

func TestPostgresDeleteThreadTombstones(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	threadID := t.Name()

	require.NoError(t, store.Put(ctx, testCheckpoint(t, threadID, 1, false)))
	require.NoError(t, store.Put(ctx, testCheckpoint(t, threadID, 2, false)))

	count, err := store.DeleteThread(ctx, threadID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	latest, err := store.GetLatest(ctx, threadID, coastline.DefaultNamespace)
	require.NoError(t, err)
	require.Nil(t, latest)

	err = store.Put(ctx, testCheckpoint(t, threadID, 3, false))
	require.ErrorIs(t, err, coastline.ErrThreadDeleted)
}

func TestPostgresSessions(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	sessions := store.Sessions()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	session := &coastline.Session{
		ID:        t.Name(),
		ThreadID:  t.Name() + "-thread",
		Status:    coastline.SessionStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(coastline.SessionRetention),
	}
	require.NoError(t, sessions.Put(ctx, session))

	loaded, err := sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, coastline.SessionStatusProcessing, loaded.Status)

	session.Status = coastline.SessionStatusExpired
	require.NoError(t, sessions.Put(ctx, session))

	expired, err := sessions.ListExpired(ctx, now.Add(coastline.SessionRetention))
	require.NoError(t, err)
	found := false
	for _, s := range expired {
		if s.ID == session.ID {
			found = true
		}
	}
	require.True(t, found)

	require.NoError(t, sessions.Delete(ctx, session.ID))
	_, err = sessions.Get(ctx, session.ID)
	require.ErrorIs(t, err, coastline.ErrSessionNotFound)
}
