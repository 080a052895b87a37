package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCheckpointStoreContract runs a suite of tests to verify that a
// CheckpointStore implementation adheres to the defined interface contract.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	threadID := "contract-test-thread-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		cp := domain.NewCheckpoint(threadID, map[string]any{
			"topic":    "bar",
			"count":    42.0,
			"sections": []any{"a", "b"},
		})
		cp.Status = domain.StatusInterrupted
		cp.PendingNodes = []string{"human_feedback"}
		cp.Barriers["join"] = domain.BarrierState{Iteration: 1, Arrived: map[string]bool{"left": true}}
		cp.Iterations["create_analysts"] = 2

		err := store.Save(ctx, threadID, cp)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, threadID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, domain.StatusInterrupted, loaded.Status)
		assert.Equal(t, []string{"human_feedback"}, loaded.PendingNodes)
		assert.Equal(t, "bar", loaded.State["topic"])
		assert.Equal(t, 42.0, loaded.State["count"])
		assert.Equal(t, []any{"a", "b"}, loaded.State["sections"])
		assert.True(t, loaded.Barriers["join"].Arrived["left"])
		assert.Equal(t, 2, loaded.Iterations["create_analysts"])
	})

	t.Run("Load Isolated From Caller", func(t *testing.T) {
		cp := domain.NewCheckpoint(threadID, map[string]any{"topic": "x"})
		require.NoError(t, store.Save(ctx, threadID, cp))
		cp.State["topic"] = "mutated"

		loaded, err := store.Load(ctx, threadID)
		require.NoError(t, err)
		assert.Equal(t, "x", loaded.State["topic"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+threadID)
		assert.ErrorIs(t, err, domain.ErrThreadNotFound)
	})

	t.Run("Namespaced Keys", func(t *testing.T) {
		key := threadID + domain.FrameSeparator + "conduct_interview#1"
		cp := domain.NewCheckpoint(threadID, map[string]any{"turn": 1.0})
		cp.Namespace = "conduct_interview#1"
		require.NoError(t, store.Save(ctx, key, cp))
		defer func() { _ = store.Delete(ctx, key) }()

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "conduct_interview#1", loaded.Namespace)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, threadID, domain.NewCheckpoint(threadID, nil))
		require.NoError(t, err)

		err = store.Delete(ctx, threadID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, threadID)
		assert.ErrorIs(t, err, domain.ErrThreadNotFound, "Load after Delete should return ErrThreadNotFound")

		assert.NoError(t, store.Delete(ctx, threadID), "Delete of a missing key should not fail")
	})

	t.Run("List", func(t *testing.T) {
		id1 := threadID + "-1"
		id2 := threadID + "-2"
		_ = store.Save(ctx, id1, domain.NewCheckpoint(id1, nil))
		_ = store.Save(ctx, id2, domain.NewCheckpoint(id2, nil))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		keys, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, id1)
		assert.Contains(t, keys, id2)
	})
}
