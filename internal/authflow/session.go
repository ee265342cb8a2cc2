package authflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore keeps conversation sessions in Redis, one JSON value
// per chat. Sessions have no TTL: a conversation stays logged in until
// /logout, matching the key's own open-ended lifetime.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSessionStore creates a store under the given key prefix.
func NewRedisSessionStore(client *redis.Client, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "tutortrack:session"
	}
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (s *RedisSessionStore) key(chatID int64) string {
	return fmt.Sprintf("%s:%d", s.prefix, chatID)
}

// Get returns the chat's session, or a fresh idle one when none exists.
func (s *RedisSessionStore) Get(ctx context.Context, chatID int64) (Session, error) {
	raw, err := s.client.Get(ctx, s.key(chatID)).Result()
	if err == redis.Nil {
		return Session{State: StateIdle}, nil
	}
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return Session{State: StateIdle}, nil
	}
	return sess, nil
}

// Put stores the chat's session.
func (s *RedisSessionStore) Put(ctx context.Context, chatID int64, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(chatID), raw, 0).Err()
}

// MemorySessionStore is a map-backed store for dev and tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[int64]Session)}
}

// Get returns the chat's session, or a fresh idle one when none exists.
func (s *MemorySessionStore) Get(ctx context.Context, chatID int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[chatID]; ok {
		return sess, nil
	}
	return Session{State: StateIdle}, nil
}

// Put stores the chat's session.
func (s *MemorySessionStore) Put(ctx context.Context, chatID int64, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[chatID] = sess
	return nil
}
