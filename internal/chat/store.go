// Package chat persists room chat history and serves it over REST.
// The signaling layer relays live chat messages; this package only
// covers catch-up for late joiners and page reloads.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "chat_"
	historyTTL = 2 * time.Hour
)

// Message is one chat line as the clients exchange it.
type Message struct {
	User      string `json:"user"`
	Data      string `json:"data"`
	CreatedAt string `json:"createdAt"`
}

// Store keeps the chat history of a room. History expires with the
// room's inactivity; an unknown room simply has empty history.
type Store interface {
	History(ctx context.Context, roomId string) ([]Message, error)
	Append(ctx context.Context, roomId string, message Message) error
}

// RedisStore keeps each room's history as one JSON array value. Every
// append rewrites the value and refreshes its expiry, so the history
// lives for two hours after the last message.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) History(ctx context.Context, roomId string) ([]Message, error) {
	data, err := s.client.Get(ctx, keyPrefix+roomId).Bytes()
	if errors.Is(err, redis.Nil) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, err
	}

	messages := []Message{}
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *RedisStore) Append(ctx context.Context, roomId string, message Message) error {
	messages, err := s.History(ctx, roomId)
	if err != nil {
		return err
	}

	data, err := json.Marshal(append(messages, message))
	if err != nil {
		return err
	}

	return s.client.Set(ctx, keyPrefix+roomId, data, historyTTL).Err()
}
