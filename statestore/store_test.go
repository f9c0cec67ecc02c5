package statestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	counters := Counters{Store: NewMemoryStore()}

	n, err := counters.Increment(3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = counters.Increment(3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Independent per node.
	n, err = counters.Increment(7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, counters.Reset(3))
	n, err = counters.Increment(3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFollowBlocksCooldown(t *testing.T) {
	now := time.Now()
	blocks := FollowBlocks{
		Store:    NewMemoryStore(),
		Cooldown: 10 * time.Minute,
		Now:      func() time.Time { return now },
	}

	blocked, err := blocks.IsBlocked("pg-2")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, blocks.Block("pg-2"))

	blocked, err = blocks.IsBlocked("pg-2")
	require.NoError(t, err)
	assert.True(t, blocked)

	now = now.Add(11 * time.Minute)
	blocked, err = blocks.IsBlocked("pg-2")
	require.NoError(t, err)
	assert.False(t, blocked)

	// Expired block is gone, not just ignored.
	_, ok, err := blocks.Store.Get("follow-block/pg-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilesystemStore(t *testing.T) {
	store := NewFilesystemStore(t.TempDir())

	_, ok, err := store.Get("cleanup-counter/1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put("cleanup-counter/1", "2"))
	v, ok, err := store.Get("cleanup-counter/1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	require.NoError(t, store.Delete("cleanup-counter/1"))
	require.NoError(t, store.Delete("cleanup-counter/1")) // idempotent
	_, ok, err = store.Get("cleanup-counter/1")
	require.NoError(t, err)
	assert.False(t, ok)
}
