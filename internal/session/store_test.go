package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onlineauth/internal/storage"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()

	require.NoError(t, s.CreateSession(ctx, storage.Session{Token: "t1", UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}))
	require.NoError(t, s.CreateSession(ctx, storage.Session{Token: "t2", UserID: "u2", ExpiresAt: now.Add(-time.Second), CreatedAt: now}))
	assert.Error(t, s.CreateSession(ctx, storage.Session{}))

	got, err := s.GetSession(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)

	got, err = s.GetSession(ctx, "t2")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.DeleteSession(ctx, "t1"))
	require.NoError(t, s.DeleteSession(ctx, "t1"))
	got, err = s.GetSession(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()
	require.NoError(t, s.CreateSession(ctx, storage.Session{Token: "live", UserID: "u1", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.CreateSession(ctx, storage.Session{Token: "dead", UserID: "u1", ExpiresAt: now.Add(-time.Hour)}))

	removed, err := s.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, 1, s.Len())
}

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	sess := storage.Session{Token: "tok", UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.True(t, mr.Exists("session:tok"))
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL("session:tok").Seconds(), 5)

	got, err := s.GetSession(ctx, "tok")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, sess.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, s.DeleteSession(ctx, "tok"))
	got, err = s.GetSession(ctx, "tok")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	now := time.Now()

	require.NoError(t, s.CreateSession(ctx, storage.Session{Token: "tok", UserID: "u1", ExpiresAt: now.Add(time.Minute), CreatedAt: now}))
	mr.FastForward(2 * time.Minute)

	got, err := s.GetSession(ctx, "tok")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreSkipsAlreadyExpired(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	require.NoError(t, s.CreateSession(ctx, storage.Session{Token: "old", UserID: "u1", ExpiresAt: time.Now().Add(-time.Minute)}))
	assert.False(t, mr.Exists("session:old"))
}

func TestRedisStoreCorruptRecord(t *testing.T) {
	s, mr := newTestRedisStore(t)
	require.NoError(t, mr.Set("session:bad", "{not json"))
	_, err := s.GetSession(context.Background(), "bad")
	assert.Error(t, err)
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := NewRedisClient(context.Background(), addr, "", 0)
	assert.Error(t, err)
}

func TestRunJanitorSweepsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()
	require.NoError(t, s.CreateSession(ctx, storage.Session{Token: "dead", UserID: "u1", ExpiresAt: time.Now().Add(-time.Hour)}))

	done := make(chan struct{})
	go func() {
		RunJanitor(ctx, s, 5*time.Millisecond, nil)
		close(done)
	}()
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

var _ Store = (*RedisStore)(nil)
