package playback

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "history.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, unit := range []string{"msg-1", "msg-2", "msg-3"} {
		require.NoError(t, s.Record(ctx, Entry{
			SessionID: "s1",
			Group:     "OAX",
			UnitID:    unit,
			Kind:      "message",
			Started:   base.Add(time.Duration(i) * time.Minute),
			Finished:  base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		}))
	}
	require.NoError(t, s.Record(ctx, Entry{Group: "DMX", UnitID: "other", Started: base, Finished: base}))

	recent, err := s.Recent(ctx, "OAX", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "msg-3", recent[0].UnitID)
	assert.Equal(t, "msg-2", recent[1].UnitID)
	assert.Equal(t, 30*time.Second, recent[0].Duration())
}

func TestStore_LastPlayed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	_, ok, err := s.LastPlayed(ctx, "msg")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Record(ctx, Entry{UnitID: "msg", Group: "G", Started: base, Finished: base.Add(time.Second)}))
	require.NoError(t, s.Record(ctx, Entry{UnitID: "msg", Group: "G", Started: base, Finished: base.Add(time.Hour), Interrupted: true}))

	last, ok, err := s.LastPlayed(ctx, "msg")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, last.Equal(base.Add(time.Second)), "прерванное воспроизведение не учитывается")
}

func TestStore_Purge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Record(ctx, Entry{UnitID: "old", Group: "G", Started: now.Add(-48 * time.Hour), Finished: now.Add(-47 * time.Hour)}))
	require.NoError(t, s.Record(ctx, Entry{UnitID: "new", Group: "G", Started: now, Finished: now}))

	n, err := s.Purge(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recent, err := s.Recent(ctx, "G", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].UnitID)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(Config{}, nil)
	assert.Error(t, err)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NoError(t, r.Record(context.Background(), Entry{}))
}
