package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", []byte("v")))
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)
}

func TestAuditModeStoreDefaultsToTrueWhenUnset(t *testing.T) {
	a := NewAuditModeStore(NewMemory())
	got, err := a.Get(context.Background())
	require.NoError(t, err)
	require.True(t, got, "unset audit mode defaults to audit-only (never block)")
}

func TestAuditModeStorePersistsSetValue(t *testing.T) {
	a := NewAuditModeStore(NewMemory())
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, false))
	got, err := a.Get(ctx)
	require.NoError(t, err)
	require.False(t, got)

	require.NoError(t, a.Set(ctx, true))
	got, err = a.Get(ctx)
	require.NoError(t, err)
	require.True(t, got)
}
