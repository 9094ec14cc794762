package stores

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMFAChallengeLifecycle(t *testing.T) {
	store := NewMFAChallengeStore(testClient(t), 5*time.Minute, 5)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, store.Create(ctx, "ch-1", "acct-1", now))

	ch, err := store.Get(ctx, "ch-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, "acct-1", ch.AccountID)
	require.Zero(t, ch.Attempts)

	consumed, err := store.Consume(ctx, "ch-1")
	require.NoError(t, err)
	require.True(t, consumed)

	// Single-use: both the re-consume and the lookup fail.
	consumed, err = store.Consume(ctx, "ch-1")
	require.NoError(t, err)
	require.False(t, consumed)

	_, err = store.Get(ctx, "ch-1", now.Add(time.Minute))
	require.ErrorIs(t, err, ErrMFAChallengeInvalid)
}

func TestMFAChallengeUnknownID(t *testing.T) {
	store := NewMFAChallengeStore(testClient(t), 5*time.Minute, 5)

	_, err := store.Get(context.Background(), "missing", time.Unix(1_700_000_000, 0))
	require.ErrorIs(t, err, ErrMFAChallengeInvalid)

	_, err = store.RecordFailure(context.Background(), "missing", time.Unix(1_700_000_000, 0))
	require.ErrorIs(t, err, ErrMFAChallengeInvalid)
}

func TestMFAChallengeExpires(t *testing.T) {
	store := NewMFAChallengeStore(testClient(t), 5*time.Minute, 5)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, store.Create(ctx, "ch-1", "acct-1", now))

	_, err := store.Get(ctx, "ch-1", now.Add(6*time.Minute))
	require.ErrorIs(t, err, ErrMFAChallengeInvalid)
}

func TestMFAChallengeAttemptBudget(t *testing.T) {
	store := NewMFAChallengeStore(testClient(t), 5*time.Minute, 3)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, store.Create(ctx, "ch-1", "acct-1", now))

	for i := 0; i < 2; i++ {
		exceeded, err := store.RecordFailure(ctx, "ch-1", now)
		require.NoError(t, err)
		require.False(t, exceeded)
	}

	// The third failure burns the challenge.
	exceeded, err := store.RecordFailure(ctx, "ch-1", now)
	require.NoError(t, err)
	require.True(t, exceeded)

	_, err = store.Get(ctx, "ch-1", now)
	require.ErrorIs(t, err, ErrMFAChallengeInvalid)
}
