package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHostRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	added := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.UpsertHost(ctx, &HostRecord{
		ID: "10.0.0.5:9000", Host: "10.0.0.5", Port: 9000, AddedAt: added,
	}))

	got, err := s.GetHost(ctx, "10.0.0.5:9000")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "10.0.0.5", got.Host)
	assert.Equal(t, 9000, got.Port)
	assert.True(t, added.Equal(got.AddedAt))
	assert.True(t, got.LastSeen.IsZero())
	assert.Nil(t, got.SystemInfo)

	missing, err := s.GetHost(ctx, "nope:1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpsertKeepsExistingMetadata(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	info := json.RawMessage(`{"hostname":"build-07"}`)
	require.NoError(t, s.UpsertHost(ctx, &HostRecord{
		ID: "a:1", Host: "a", Port: 1, Hostname: "build-07", OS: "linux",
		Fingerprint: "SHA256:abc", SystemInfo: info,
	}))
	first, err := s.GetHost(ctx, "a:1")
	require.NoError(t, err)

	// A bare re-add must not wipe what the heartbeat learned.
	require.NoError(t, s.UpsertHost(ctx, &HostRecord{ID: "a:1", Host: "a", Port: 1, AddedAt: time.Now().Add(time.Hour)}))

	got, err := s.GetHost(ctx, "a:1")
	require.NoError(t, err)
	assert.Equal(t, "build-07", got.Hostname)
	assert.Equal(t, "linux", got.OS)
	assert.Equal(t, "SHA256:abc", got.Fingerprint)
	assert.JSONEq(t, string(info), string(got.SystemInfo))
	assert.True(t, first.AddedAt.Equal(got.AddedAt), "added_at is set once")
}

func TestTouchAndDeleteHost(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.ErrorIs(t, s.TouchHost(ctx, "ghost:1", time.Now()), ErrNotFound)

	require.NoError(t, s.UpsertHost(ctx, &HostRecord{ID: "b:2", Host: "b", Port: 2}))
	seen := time.Date(2026, 4, 2, 12, 0, 0, 123, time.UTC)
	require.NoError(t, s.TouchHost(ctx, "b:2", seen))

	got, err := s.GetHost(ctx, "b:2")
	require.NoError(t, err)
	assert.True(t, seen.Equal(got.LastSeen))

	require.NoError(t, s.DeleteHost(ctx, "b:2"))
	got, err = s.GetHost(ctx, "b:2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListHostsOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c:3", "a:1", "b:2"} {
		require.NoError(t, s.UpsertHost(ctx, &HostRecord{
			ID: id, Host: id[:1], Port: i + 1, AddedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	hosts, err := s.ListHosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 3)
	assert.Equal(t, "c:3", hosts[0].ID)
	assert.Equal(t, "a:1", hosts[1].ID)
	assert.Equal(t, "b:2", hosts[2].ID)
}

func TestSessionAudit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	start := time.Date(2026, 5, 5, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordSessionStart(ctx, &SessionRecord{ID: "s1", HostID: "a:1", StartedAt: start}))
	require.NoError(t, s.RecordSessionStart(ctx, &SessionRecord{ID: "s2", HostID: "a:1", StartedAt: start.Add(time.Hour)}))
	require.NoError(t, s.RecordSessionStart(ctx, &SessionRecord{ID: "s3", HostID: "b:2", StartedAt: start}))

	require.NoError(t, s.RecordSessionEnd(ctx, "s1", start.Add(10*time.Minute), 1200, 5<<20))
	require.ErrorIs(t, s.RecordSessionEnd(ctx, "missing", start, 0, 0), ErrNotFound)

	sessions, err := s.ListSessions(ctx, "a:1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].ID, "newest first")
	assert.Nil(t, sessions[0].EndedAt)

	ended := sessions[1]
	require.NotNil(t, ended.EndedAt)
	assert.True(t, start.Add(10*time.Minute).Equal(*ended.EndedAt))
	assert.Equal(t, int64(1200), ended.Frames)
	assert.Equal(t, int64(5<<20), ended.Bytes)

	all, err := s.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "console.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertHost(ctx, &HostRecord{ID: "a:1", Host: "a", Port: 1}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	hosts, err := s.ListHosts(ctx)
	require.NoError(t, err)
	assert.Len(t, hosts, 1)
}
