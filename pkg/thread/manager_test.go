package thread_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/thread"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	*memory.Store
}

func (s *SlowStore) Save(ctx context.Context, key string, cp *domain.Checkpoint) error {
	time.Sleep(5 * time.Millisecond)
	return s.Store.Save(ctx, key, cp)
}

func (s *SlowStore) Load(ctx context.Context, key string) (*domain.Checkpoint, error) {
	time.Sleep(5 * time.Millisecond)
	return s.Store.Load(ctx, key)
}

func TestManager_CreateAllocatesUUID(t *testing.T) {
	m := thread.NewManager(memory.NewStore())

	cp, err := m.Create(context.Background(), map[string]any{"topic": "agents"})
	require.NoError(t, err)

	_, err = uuid.Parse(cp.ThreadID)
	assert.NoError(t, err)

	loaded, err := m.Load(context.Background(), cp.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "agents", loaded.State["topic"])
	assert.Equal(t, domain.StatusNew, loaded.Status)
}

func TestManager_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := thread.NewManager(memory.NewStore())
	cp, err := m.Create(ctx, nil)
	require.NoError(t, err)

	next := cp.Next(10)
	require.NoError(t, m.CompareAndSwap(ctx, cp.ThreadID, cp.Version, next))

	stale := cp.Next(10)
	err = m.CompareAndSwap(ctx, cp.ThreadID, cp.Version, stale)
	assert.ErrorIs(t, err, thread.ErrVersionConflict)

	_, err = m.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrThreadNotFound)
}

// Concurrent writers deriving from the same version: exactly one wins.
func TestManager_CompareAndSwapIsSerialized(t *testing.T) {
	ctx := context.Background()
	m := thread.NewManager(&SlowStore{Store: memory.NewStore()})
	cp, err := m.Create(ctx, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.CompareAndSwap(ctx, cp.ThreadID, cp.Version, cp.Next(10)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestManager_DeleteRemovesFrames(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	m := thread.NewManager(store)
	cp, err := m.Create(ctx, nil)
	require.NoError(t, err)

	frame := cp.ThreadID + domain.FrameSeparator + "interview#0"
	require.NoError(t, m.Save(ctx, frame, domain.NewCheckpoint(cp.ThreadID, nil)))

	threads, err := m.Threads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{cp.ThreadID}, threads)

	require.NoError(t, m.Delete(ctx, cp.ThreadID))
	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

type countingLocker struct {
	mu       sync.Mutex
	locks    int
	unlocks  int
	lastTTL  time.Duration
	lastKeys []string
}

func (l *countingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks++
	l.lastTTL = ttl
	l.lastKeys = append(l.lastKeys, key)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unlocks++
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &countingLocker{}
	m := thread.NewManager(memory.NewStore(), thread.WithLocker(locker), thread.WithLockTTL(time.Second))

	cp, err := m.Create(context.Background(), nil)
	require.NoError(t, err)
	_, err = m.Load(context.Background(), cp.ThreadID)
	require.NoError(t, err)

	assert.Equal(t, 2, locker.locks)
	assert.Equal(t, 2, locker.unlocks)
	assert.Equal(t, time.Second, locker.lastTTL)
	assert.Equal(t, cp.ThreadID, locker.lastKeys[1])
}
