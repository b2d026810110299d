package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TokenStore persists issued access tokens. Implementations must expire
// tokens after their TTL.
type TokenStore interface {
	// Save associates the token with the user for the given TTL.
	Save(ctx context.Context, token string, userID uuid.UUID, ttl time.Duration) error

	// Resolve returns the user the token belongs to, or ErrInvalidToken.
	Resolve(ctx context.Context, token string) (uuid.UUID, error)

	// Delete invalidates the token. Deleting an unknown token is a no-op.
	Delete(ctx context.Context, token string) error
}

// MemoryTokenStore is an in-memory TokenStore for development and tests.
type MemoryTokenStore struct {
	tokens map[string]memoryToken
	mu     sync.RWMutex
	now    func() time.Time
}

type memoryToken struct {
	userID    uuid.UUID
	expiresAt time.Time
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		tokens: make(map[string]memoryToken),
		now:    time.Now,
	}
}

func (s *MemoryTokenStore) Save(ctx context.Context, token string, userID uuid.UUID, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token] = memoryToken{userID: userID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryTokenStore) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	s.mu.RLock()
	entry, ok := s.tokens[token]
	s.mu.RUnlock()

	if !ok || s.now().After(entry.expiresAt) {
		return uuid.Nil, ErrInvalidToken
	}
	return entry.userID, nil
}

func (s *MemoryTokenStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, token)
	return nil
}

// RedisTokenStore keeps tokens in Redis, expired by Redis itself via key
// TTLs. Suitable for multi-instance deployments.
type RedisTokenStore struct {
	client *redis.Client
}

// NewRedisTokenStore creates a TokenStore backed by the given client.
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func tokenKey(token string) string {
	return "auth:token:" + token
}

func (s *RedisTokenStore) Save(ctx context.Context, token string, userID uuid.UUID, ttl time.Duration) error {
	return s.client.Set(ctx, tokenKey(token), userID.String(), ttl).Err()
}

func (s *RedisTokenStore) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	val, err := s.client.Get(ctx, tokenKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrInvalidToken
		}
		return uuid.Nil, err
	}

	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return userID, nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, tokenKey(token)).Err()
}

var (
	_ TokenStore = (*MemoryTokenStore)(nil)
	_ TokenStore = (*RedisTokenStore)(nil)
)
