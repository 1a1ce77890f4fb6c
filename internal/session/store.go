// Package session keeps server-side login sessions and the signed cookie that
// points at them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"onlineauth/internal/logging"
	"onlineauth/internal/storage"
)

// Store persists sessions. GetSession returns nil for unknown or expired tokens.
type Store interface {
	CreateSession(ctx context.Context, sess storage.Session) error
	GetSession(ctx context.Context, token string) (*storage.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// Sweeper is implemented by stores that need expired sessions removed
// explicitly.
type Sweeper interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

var _ Store = (*storage.Store)(nil)

// MemoryStore keeps sessions in process memory. Sessions are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]storage.Session
	clock    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]storage.Session), clock: time.Now}
}

func (m *MemoryStore) CreateSession(_ context.Context, sess storage.Session) error {
	if sess.Token == "" {
		return errors.New("session token is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.Token] = sess
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, token string) (*storage.Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if sess.Expired(m.clock()) {
		m.mu.Lock()
		delete(m.sessions, token)
		m.mu.Unlock()
		return nil, nil
	}
	return &sess, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *MemoryStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for token, sess := range m.sessions {
		if sess.Expired(now) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many sessions are held, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RedisStore keeps each session under session:<token> with a matching TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	clock  func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "session:", clock: time.Now}
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

type redisRecord struct {
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *RedisStore) CreateSession(ctx context.Context, sess storage.Session) error {
	if sess.Token == "" {
		return errors.New("session token is required")
	}
	ttl := sess.ExpiresAt.Sub(s.clock())
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(redisRecord{UserID: sess.UserID, ExpiresAt: sess.ExpiresAt, CreatedAt: sess.CreatedAt})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+sess.Token, payload, ttl).Err()
}

func (s *RedisStore) GetSession(ctx context.Context, token string) (*storage.Session, error) {
	payload, err := s.client.Get(ctx, s.prefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec redisRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	sess := &storage.Session{Token: token, UserID: rec.UserID, ExpiresAt: rec.ExpiresAt, CreatedAt: rec.CreatedAt}
	if sess.Expired(s.clock()) {
		return nil, nil
	}
	return sess, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.prefix+token).Err()
}

// RunJanitor periodically removes expired sessions from stores that implement
// Sweeper. It returns when ctx is done.
func RunJanitor(ctx context.Context, store Store, every time.Duration, logger logging.Logger) {
	sweeper, ok := store.(Sweeper)
	if !ok || every <= 0 {
		return
	}
	if logger == nil {
		logger = logging.Discard()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := sweeper.DeleteExpiredSessions(ctx, now)
			if err != nil {
				logger.Warn(ctx, "session sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Debug(ctx, "expired sessions removed", "count", removed)
			}
		}
	}
}
