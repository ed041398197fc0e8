// Package agentmem keeps each agent's most recent own utterances in Redis
// lists. The window is injected into participant prompts so an agent does
// not repeat opinions it just voiced.
package agentmem

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store manages per-agent utterance memory in Redis lists.
type Store struct {
	client redis.Cmdable
	size   int
	ttlSec int
}

// NewStore creates a memory store keeping the last `size` utterances per
// agent, expiring after ttlSec seconds of inactivity.
func NewStore(client redis.Cmdable, size, ttlSec int) *Store {
	if size < 1 {
		size = 2
	}
	return &Store{client: client, size: size, ttlSec: ttlSec}
}

func memKey(agentName string) string {
	return fmt.Sprintf("agentmem:%s", agentName)
}

// Remember appends an utterance and trims the list to the configured size.
func (s *Store) Remember(ctx context.Context, agentName, utterance string) error {
	key := memKey(agentName)

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, utterance)
	pipe.LTrim(ctx, key, int64(-s.size), -1)
	if s.ttlSec > 0 {
		pipe.Expire(ctx, key, time.Duration(s.ttlSec)*time.Second)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

// Recent returns the agent's remembered utterances, oldest first.
func (s *Store) Recent(ctx context.Context, agentName string) ([]string, error) {
	key := memKey(agentName)
	vals, err := s.client.LRange(ctx, key, int64(-s.size), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return vals, nil
}

// Forget deletes the agent's memory, used when the agent disconnects.
func (s *Store) Forget(ctx context.Context, agentName string) error {
	return s.client.Del(ctx, memKey(agentName)).Err()
}
