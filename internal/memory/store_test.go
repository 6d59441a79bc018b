package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest exercises both backends through the shared interfaces.
type storeUnderTest interface {
	Store
	History
}

func openStores(t *testing.T) map[string]storeUnderTest {
	t.Helper()
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]storeUnderTest{
		"inmemory": NewInMemory(),
		"sqlite":   sqlite,
	}
}

func TestStore_ReadWriteDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Read(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Write(ctx, "goal:deploy", "use staging first"))
			v, ok, err := store.Read(ctx, "goal:deploy")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "use staging first", v)

			// Overwrite.
			require.NoError(t, store.Write(ctx, "goal:deploy", "use canary"))
			v, _, _ = store.Read(ctx, "goal:deploy")
			assert.Equal(t, "use canary", v)

			require.NoError(t, store.Delete(ctx, "goal:deploy"))
			_, ok, err = store.Read(ctx, "goal:deploy")
			require.NoError(t, err)
			assert.False(t, ok)

			// Deleting a missing key is fine.
			assert.NoError(t, store.Delete(ctx, "never-existed"))
		})
	}
}

func TestStore_KeysByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Write(ctx, "plan:b", "2"))
			require.NoError(t, store.Write(ctx, "plan:a", "1"))
			require.NoError(t, store.Write(ctx, "tool:x", "3"))

			keys, err := store.Keys(ctx, "plan:")
			require.NoError(t, err)
			assert.Equal(t, []string{"plan:a", "plan:b"}, keys)

			all, err := store.Keys(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			none, err := store.Keys(ctx, "ghost:")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestHistory_SaveAndQuery(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, rec := range []RunRecord{
				{PlanID: "p1", Goal: "deploy", Strategy: "htn", Status: "completed", PlanJSON: "{}"},
				{PlanID: "p2", Goal: "research", Strategy: "generative", Status: "failed", PlanJSON: "{}"},
				{PlanID: "p3", Goal: "deploy", Strategy: "htn", Status: "failed", PlanJSON: "{}"},
			} {
				require.NoError(t, store.SaveRun(ctx, rec))
			}

			recent, err := store.RecentRuns(ctx, 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "p3", recent[0].PlanID, "newest first")
			assert.Equal(t, "p2", recent[1].PlanID)

			deploys, err := store.RunsForGoal(ctx, "deploy", 10)
			require.NoError(t, err)
			require.Len(t, deploys, 2)
			assert.Equal(t, "p3", deploys[0].PlanID)
			assert.Equal(t, "p1", deploys[1].PlanID)
			for _, rec := range deploys {
				assert.False(t, rec.CreatedAt.IsZero())
			}
		})
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	store, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, "k", "v"))
	require.NoError(t, store.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Read(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)
}
