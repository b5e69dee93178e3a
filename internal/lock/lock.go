// Package lock provides the per-user exclusion that keeps two flows from
// driving the same vault at once.
package lock

import (
	"context"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

// Locker acquires a named lock without waiting. A held lock yields a
// CodeBusy error.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

func busy(key string) error {
	return clierr.New(clierr.CodeBusy, "another flow is already running for "+key)
}

// Memory is a process-local Locker. Expired entries are reclaimed lazily.
type Memory struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	now   func() time.Time
	nextT uint64
}

type memoryEntry struct {
	token   uint64
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{held: map[string]memoryEntry{}, now: time.Now}
}

func (m *Memory) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if entry, ok := m.held[key]; ok && (entry.expires.IsZero() || now.Before(entry.expires)) {
		return nil, busy(key)
	}
	m.nextT++
	token := m.nextT
	entry := memoryEntry{token: token}
	if ttl > 0 {
		entry.expires = now.Add(ttl)
	}
	m.held[key] = entry
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.held[key]; ok && cur.token == token {
			delete(m.held, key)
		}
		return nil
	}, nil
}
