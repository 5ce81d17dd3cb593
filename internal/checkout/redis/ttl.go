package redis

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const sessionKeyPrefix = "checkout_session:"

// SessionTTL arms a Redis expiry key per checkout session. The key carries no
// state of its own; its expiry notification is what drives abandonment.
type SessionTTL struct {
	Client *redis.Client
}

func NewSessionTTL(client *redis.Client) *SessionTTL {
	return &SessionTTL{Client: client}
}

// Arm starts the abandonment clock for a session.
func (s *SessionTTL) Arm(confirmationID string, ttl time.Duration) error {
	key := sessionKeyPrefix + confirmationID
	return s.Client.Set(context.Background(), key, "1", ttl).Err()
}

// Disarm stops the clock after a confirm or an explicit cancel.
func (s *SessionTTL) Disarm(confirmationID string) error {
	key := sessionKeyPrefix + confirmationID
	return s.Client.Del(context.Background(), key).Err()
}

// Armed reports whether the session clock is still running.
func (s *SessionTTL) Armed(confirmationID string) (bool, error) {
	key := sessionKeyPrefix + confirmationID
	_, err := s.Client.Get(context.Background(), key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SessionIDFromExpiredKey extracts the confirmation ID from a keyspace expiry
// notification payload, or "" when the key is not a session key.
func SessionIDFromExpiredKey(key string) string {
	if strings.HasPrefix(key, sessionKeyPrefix) {
		return strings.TrimPrefix(key, sessionKeyPrefix)
	}
	return ""
}
