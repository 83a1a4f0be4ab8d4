// Package session holds per-session chat state as an explicit object with
// defined creation and teardown, instead of ambient shared state. The
// transcript lives in Redis so any request handler can serve any session.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ragserve/pkg/domain"
)

// TranscriptStore keeps per-user chat history in Redis with TTL.
type TranscriptStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTranscriptStore builds a Redis-backed transcript store.
func NewTranscriptStore(addr, password string, ttl time.Duration) *TranscriptStore {
	return &TranscriptStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

// Append adds one message to the user's transcript and refreshes its TTL.
func (s *TranscriptStore) Append(ctx context.Context, userID string, msg domain.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	key := transcriptKey(userID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// History returns the user's transcript in insertion order. A user with no
// history gets an empty slice.
func (s *TranscriptStore) History(ctx context.Context, userID string) ([]domain.ChatMessage, error) {
	raw, err := s.client.LRange(ctx, transcriptKey(userID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	msgs := make([]domain.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			// A corrupt entry must not take the whole history down.
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Clear tears the session transcript down.
func (s *TranscriptStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, transcriptKey(userID)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	return nil
}

func transcriptKey(userID string) string {
	return "chat:" + userID
}
