package thread

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/google/uuid"
)

// ErrVersionConflict is returned by CompareAndSwap when the stored checkpoint
// is not the version the caller derived its successor from.
var ErrVersionConflict = errors.New("checkpoint version conflict")

// DefaultLockTTL bounds how long a distributed lock is held.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates thread access, ensuring safe concurrent operations.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.CheckpointStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the TTL of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new thread Manager with the given checkpoint store.
func NewManager(store ports.CheckpointStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(key) after unlocking.
func (m *Manager) acquire(key string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		entry = &lockEntry{}
		m.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
}

// Create allocates a thread id and persists its first checkpoint.
func (m *Manager) Create(ctx context.Context, values map[string]any) (*domain.Checkpoint, error) {
	id := uuid.NewString()
	cp := domain.NewCheckpoint(id, values)
	if err := m.Save(ctx, id, cp); err != nil {
		return nil, fmt.Errorf("failed to initialize thread: %w", err)
	}
	return cp, nil
}

// Load retrieves a checkpoint from the store.
func (m *Manager) Load(ctx context.Context, key string) (*domain.Checkpoint, error) {
	var cp *domain.Checkpoint
	err := m.WithLock(ctx, key, func(ctx context.Context) error {
		var err error
		cp, err = m.store.Load(ctx, key)
		return err
	})
	return cp, err
}

// Save persists a checkpoint unconditionally.
func (m *Manager) Save(ctx context.Context, key string, cp *domain.Checkpoint) error {
	return m.WithLock(ctx, key, func(ctx context.Context) error {
		return m.store.Save(ctx, key, cp)
	})
}

// CompareAndSwap persists next only if the stored checkpoint is at
// expectedVersion. It returns ErrVersionConflict otherwise.
func (m *Manager) CompareAndSwap(ctx context.Context, key string, expectedVersion int, next *domain.Checkpoint) error {
	return m.WithLock(ctx, key, func(ctx context.Context) error {
		current, err := m.store.Load(ctx, key)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("%w: %s expected version %d, found %d", ErrVersionConflict, key, expectedVersion, current.Version)
		}
		return m.store.Save(ctx, key, next)
	})
}

// Delete removes a checkpoint and every namespaced frame below it.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.DeleteFrames(ctx, key); err != nil {
		return err
	}
	return m.WithLock(ctx, key, func(ctx context.Context) error {
		return m.store.Delete(ctx, key)
	})
}

// DeleteFrames removes the namespaced frames below key, keeping key itself.
func (m *Manager) DeleteFrames(ctx context.Context, key string) error {
	keys, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	prefix := key + domain.FrameSeparator
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if err := m.WithLock(ctx, k, func(ctx context.Context) error {
			return m.store.Delete(ctx, k)
		}); err != nil {
			return err
		}
	}
	return nil
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Threads returns the top-level thread ids, sorted.
func (m *Manager) Threads(ctx context.Context) ([]string, error) {
	keys, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !strings.Contains(k, domain.FrameSeparator) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Store returns the underlying checkpoint store.
func (m *Manager) Store() ports.CheckpointStore {
	return m.store
}

// WithLock executes a function while holding the lock for the key.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	entry := m.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(key)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, key, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"key", key,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
