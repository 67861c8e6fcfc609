package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found or revoked")

// SessionStore registra las sesiones abiertas (un refresh token por sesion)
// de cada usuario.
type SessionStore interface {
	Open(ctx context.Context, sessionID, userID string, expiresAt time.Time) error
	// Consume cierra la sesion y devuelve su usuario. Solo un llamador puede
	// consumir cada sesion; el resto recibe ErrSessionNotFound.
	Consume(ctx context.Context, sessionID string) (string, error)
	Close(ctx context.Context, sessionID string) error
	// CloseAll cierra todas las sesiones del usuario y devuelve cuantas habia.
	CloseAll(ctx context.Context, userID string) (int, error)
}

type memorySession struct {
	userID    string
	expiresAt time.Time
}

type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	now      func() time.Time
}

func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{
		sessions: make(map[string]memorySession),
		now:      time.Now,
	}
}

func (s *memorySessionStore) Open(_ context.Context, sessionID, userID string, expiresAt time.Time) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || userID == "" {
		return errors.New("session id and user id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = memorySession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *memorySessionStore) Consume(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	if s.now().After(sess.expiresAt) {
		return "", ErrSessionNotFound
	}
	return sess.userID, nil
}

func (s *memorySessionStore) Close(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *memorySessionStore) CloseAll(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	closed := 0
	for id, sess := range s.sessions {
		if sess.userID != userID {
			continue
		}
		if !now.After(sess.expiresAt) {
			closed++
		}
		delete(s.sessions, id)
	}
	return closed, nil
}

// KEYS: session
// ARGV: session_id, user_prefix
var consumeSessionScript = redis.NewScript(`
local uid = redis.call('GET', KEYS[1])
if not uid then
  return false
end
redis.call('DEL', KEYS[1])
redis.call('SREM', ARGV[2] .. uid, ARGV[1])
return uid
`)

// KEYS: user sessions set
// ARGV: session_prefix
var closeAllSessionsScript = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local closed = 0
for _, id in ipairs(ids) do
  closed = closed + redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return closed
`)

// redisSessionStore guarda cada sesion como auth:session:<id> = user id, con
// el vencimiento del refresh token, y un set auth:session:user:<uid> con los
// ids abiertos del usuario.
type redisSessionStore struct {
	client        redis.UniversalClient
	sessionPrefix string
	userPrefix    string
	timeout       time.Duration
}

func NewRedisSessionStore(client redis.UniversalClient) SessionStore {
	if client == nil {
		return nil
	}
	return &redisSessionStore{
		client:        client,
		sessionPrefix: "auth:session:",
		userPrefix:    "auth:session:user:",
		timeout:       500 * time.Millisecond,
	}
}

func (s *redisSessionStore) Open(ctx context.Context, sessionID, userID string, expiresAt time.Time) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || userID == "" {
		return errors.New("session id and user id are required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	userKey := s.userPrefix + userID
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.sessionPrefix+sessionID, userID, 0)
		p.PExpireAt(ctx, s.sessionPrefix+sessionID, expiresAt)
		p.SAdd(ctx, userKey, sessionID)
		// todas las sesiones duran lo mismo: la ultima abierta es la que vence mas tarde
		p.PExpireAt(ctx, userKey, expiresAt)
		return nil
	})
	return err
}

func (s *redisSessionStore) Consume(ctx context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", ErrSessionNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	uid, err := consumeSessionScript.Run(ctx, s.client,
		[]string{s.sessionPrefix + sessionID},
		sessionID, s.userPrefix,
	).Text()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return uid, nil
}

func (s *redisSessionStore) Close(ctx context.Context, sessionID string) error {
	_, err := s.Consume(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

func (s *redisSessionStore) CloseAll(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return closeAllSessionsScript.Run(ctx, s.client,
		[]string{s.userPrefix + userID},
		s.sessionPrefix,
	).Int()
}
