package session

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore holds the active generation token per session, plus the token
// most recently cancelled so late results can tell cancellation from
// supersession.
type TokenStore interface {
	SetActive(ctx context.Context, sessionID, token string) error
	Active(ctx context.Context, sessionID string) (string, error)
	// Cancel clears the active token and returns it ("" when none was active).
	Cancel(ctx context.Context, sessionID string) (string, error)
	LastCancelled(ctx context.Context, sessionID string) (string, error)
	// Release clears the active token only if it still equals token.
	Release(ctx context.Context, sessionID, token string) (bool, error)
}

type memoryTokens struct {
	active    string
	cancelled string
}

// MemoryTokenStore keeps tokens in process memory.
type MemoryTokenStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryTokens
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{sessions: map[string]*memoryTokens{}}
}

func (s *MemoryTokenStore) entry(sessionID string) *memoryTokens {
	e, ok := s.sessions[sessionID]
	if !ok {
		e = &memoryTokens{}
		s.sessions[sessionID] = e
	}
	return e
}

func (s *MemoryTokenStore) SetActive(_ context.Context, sessionID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(sessionID).active = token
	return nil
}

func (s *MemoryTokenStore) Active(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(sessionID).active, nil
}

func (s *MemoryTokenStore) Cancel(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(sessionID)
	token := e.active
	if token != "" {
		e.cancelled = token
		e.active = ""
	}
	return token, nil
}

func (s *MemoryTokenStore) LastCancelled(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(sessionID).cancelled, nil
}

func (s *MemoryTokenStore) Release(_ context.Context, sessionID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(sessionID)
	if e.active != token {
		return false, nil
	}
	e.active = ""
	return true, nil
}

var cancelScript = redis.NewScript(`
local t = redis.call('GET', KEYS[1])
if t then
  redis.call('DEL', KEYS[1])
  redis.call('SET', KEYS[2], t, 'EX', ARGV[1])
  return t
end
return ''
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisTokenStore shares tokens between worker instances so a cancel job
// handled by one instance stops a run executing on another.
type RedisTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTokenStore(client *redis.Client, ttl time.Duration) *RedisTokenStore {
	return &RedisTokenStore{client: client, ttl: ttl}
}

func activeKey(sessionID string) string    { return "generation:token:" + sessionID }
func cancelledKey(sessionID string) string { return "generation:cancelled:" + sessionID }

func (s *RedisTokenStore) SetActive(ctx context.Context, sessionID, token string) error {
	return s.client.Set(ctx, activeKey(sessionID), token, s.ttl).Err()
}

func (s *RedisTokenStore) Active(ctx context.Context, sessionID string) (string, error) {
	token, err := s.client.Get(ctx, activeKey(sessionID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return token, err
}

func (s *RedisTokenStore) Cancel(ctx context.Context, sessionID string) (string, error) {
	keys := []string{activeKey(sessionID), cancelledKey(sessionID)}
	return cancelScript.Run(ctx, s.client, keys, int(s.ttl.Seconds())).Text()
}

func (s *RedisTokenStore) LastCancelled(ctx context.Context, sessionID string) (string, error) {
	token, err := s.client.Get(ctx, cancelledKey(sessionID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return token, err
}

func (s *RedisTokenStore) Release(ctx context.Context, sessionID, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{activeKey(sessionID)}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
