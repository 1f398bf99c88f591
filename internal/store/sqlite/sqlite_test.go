// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saveninja/saveninja/internal/store"
)

// newTestStores opens a fresh database in a temp dir and returns the
// wired store set. Closed automatically at test end.
func newTestStores(t *testing.T) *store.Stores {
	t.Helper()

	stores, err := NewStores(store.Options{DataPath: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, stores.Close())
	})
	return stores
}

func TestNewStores_CreatesDatabase(t *testing.T) {
	stores := newTestStores(t)

	require.NotNil(t, stores.Health)
	require.NotNil(t, stores.Overrides)
	require.NotNil(t, stores.Telemetry)
	require.NotNil(t, stores.Budget)
}

func TestNewStores_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	stores, err := NewStores(store.Options{DataPath: dir})
	require.NoError(t, err)

	key := store.Key{Provider: "ytdlp", Category: "youtube_full"}
	require.NoError(t, stores.Health.SetEnabled(ctx, key, false))
	require.NoError(t, stores.Close())

	stores, err = NewStores(store.Options{DataPath: dir})
	require.NoError(t, err)
	defer stores.Close()

	snap, err := stores.Health.Snapshot(ctx, key)
	require.NoError(t, err)
	require.False(t, snap.Enabled)
}
