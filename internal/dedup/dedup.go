// SPDX-License-Identifier: MIT

// Package dedup remembers feed item IDs that were already published, so a
// restart or a slow feed never reposts the same release.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"

	"github.com/heavenlysubs/submux/internal/log"
)

// Store is the published-item memory. Implementations must be safe for
// concurrent use.
type Store interface {
	// Seen reports whether id was already recorded.
	Seen(ctx context.Context, id string) (bool, error)
	// Mark records id as published.
	Mark(ctx context.Context, id string) error
	Close() error
}

// Open builds a Store for the configured backend: "memory", "badger"
// (path is the on-disk directory) or "redis" (addr is host:port).
func Open(backend, path, addr string) (Store, error) {
	switch backend {
	case "memory":
		return NewMemory(), nil
	case "badger":
		return OpenBadger(path)
	case "redis":
		return OpenRedis(addr)
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", backend)
	}
}

// Memory is a process-local Store; history is lost on restart.
type Memory struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{seen: map[string]struct{}{}}
}

func (m *Memory) Seen(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.seen[id]
	return ok, nil
}

func (m *Memory) Mark(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[id] = struct{}{}
	return nil
}

func (m *Memory) Close() error { return nil }

// Badger persists IDs in an embedded key-value store.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the store at dir.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening dedup store: %w", err)
	}
	logger := log.WithComponent("dedup")
	logger.Info().Str("dir", dir).Msg("badger dedup store open")
	return &Badger{db: db}, nil
}

func (b *Badger) Seen(_ context.Context, id string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *Badger) Mark(_ context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(id), []byte{1})
	})
}

func (b *Badger) Close() error { return b.db.Close() }

// Redis keeps IDs in a shared Redis set so several instances can share
// publish history.
type Redis struct {
	client *redis.Client
}

// redisKey is the set holding published item IDs.
const redisKey = "submux:published"

// OpenRedis connects and verifies the server is reachable.
func OpenRedis(addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting dedup redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Seen(ctx context.Context, id string) (bool, error) {
	return r.client.SIsMember(ctx, redisKey, id).Result()
}

func (r *Redis) Mark(ctx context.Context, id string) error {
	return r.client.SAdd(ctx, redisKey, id).Err()
}

func (r *Redis) Close() error { return r.client.Close() }
