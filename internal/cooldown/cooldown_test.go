package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryClaimRespectsTTL(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(func() time.Time { return now })
	ctx := context.Background()

	ok, until, err := m.Claim(ctx, "faucet:u1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, now.Add(time.Hour), until)

	now = now.Add(30 * time.Minute)
	ok, until, err = m.Claim(ctx, "faucet:u1", time.Hour)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, now.Add(30*time.Minute), until)

	now = now.Add(31 * time.Minute)
	u, err := m.Until(ctx, "faucet:u1")
	require.NoError(t, err)
	require.True(t, u.IsZero())

	ok, _, err = m.Claim(ctx, "faucet:u1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryRelease(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	ok, _, _ := m.Claim(ctx, "k", time.Minute)
	require.True(t, ok)
	require.NoError(t, m.Release(ctx, "k"))
	ok, _, _ = m.Claim(ctx, "k", time.Minute)
	require.True(t, ok)
}
