package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/pkg/protocol"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "companion.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mongo", "x", nil)
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestFrames_AppendRecentPrune(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendFrame(ctx, base.Add(time.Duration(i)*time.Second), envelope.Inbound, fmt.Sprintf("f%d", i)))
	}

	recent, err := s.RecentFrames(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "f2", recent[0].Raw)
	assert.Equal(t, "f4", recent[2].Raw)
	assert.Equal(t, "in", recent[0].Dir)

	require.NoError(t, s.PruneFrames(ctx, 2))
	all, err := s.RecentFrames(ctx, 100)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "f3", all[0].Raw)

	require.NoError(t, s.PruneFrames(ctx, 10), "pruning below the limit is a no-op")
	all, err = s.RecentFrames(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRegistry_SaveLoadOverwrite(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.LoadRegistry(ctx)
	assert.ErrorIs(t, err, ErrNoRegistry)

	first := protocol.Registry{Amulets: []protocol.Amulet{{ID: 1, Name: "Jade", Rarity: "GREEN"}}}
	require.NoError(t, s.SaveRegistry(ctx, first))
	second := protocol.Registry{
		Amulets: []protocol.Amulet{{ID: 2, Name: "Onyx"}},
		Badges:  []protocol.Badge{{ID: 9, Name: "Ember", Rarity: "RED"}},
	}
	require.NoError(t, s.SaveRegistry(ctx, second))

	got, err := s.LoadRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}
