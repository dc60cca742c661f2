// SPDX-License-Identifier: MIT

package dedup

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	seen, err := s.Seen(ctx, "item-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Mark(ctx, "item-1"))

	seen, err = s.Seen(ctx, "item-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.Seen(ctx, "item-2")
	require.NoError(t, err)
	assert.False(t, seen)

	// Marking twice is fine.
	require.NoError(t, s.Mark(ctx, "item-1"))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestBadgerStore(t *testing.T) {
	s, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestBadgerStorePersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, s.Mark(ctx, "sticky"))
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	seen, err := s.Seen(ctx, "sticky")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRedisStore(t *testing.T) {
	srv := miniredis.RunT(t)
	s, err := OpenRedis(srv.Addr())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("etcd", "", "")
	assert.Error(t, err)
}

func TestOpenMemory(t *testing.T) {
	s, err := Open("memory", "", "")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}
