package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CountSaturates(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	var last int
	for i := 0; i < 20; i++ {
		e, err := s.Hit(context.Background(), "id", "p", 3, time.Minute, now)
		require.NoError(t, err)
		last = e.Count
	}
	assert.Equal(t, 4, last)
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	ctx := context.Background()

	_, err := s.Hit(ctx, "old", "p", 3, time.Minute, now)
	require.NoError(t, err)
	_, err = s.Hit(ctx, "new", "p", 3, time.Hour, now)
	require.NoError(t, err)

	n, err := s.Sweep(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, s.entries, 1)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Hit(ctx, "id", "p", 3, time.Minute, time.Now())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.entries, "a canceled hit must not be recorded")
}
