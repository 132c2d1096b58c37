// Package auth resolves bearer session tokens into principals.
//
// Sessions are issued by the studio's auth service and stored in Redis as
// JSON under "<prefix><token>". This package only reads them, apart from
// Issue/Revoke which back studioctl and the seed script.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atelier-ops/atelier/internal/shared"
)

// DefaultPrefix namespaces session keys in Redis.
const DefaultPrefix = "studio:session:"

type sessionPayload struct {
	UserID    int64     `json:"user_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore reads sessions from Redis.
type SessionStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, prefix string) *SessionStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SessionStore{client: client, prefix: prefix, now: time.Now}
}

// Lookup resolves a token into the principal it was issued for.
func (s *SessionStore) Lookup(ctx context.Context, token string) (shared.Principal, error) {
	id, err := uuid.Parse(token)
	if err != nil {
		return shared.Principal{}, shared.ErrSessionNotFound
	}
	payload, err := s.client.Get(ctx, s.key(id.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return shared.Principal{}, shared.ErrSessionNotFound
		}
		return shared.Principal{}, fmt.Errorf("auth: load session: %w", err)
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return shared.Principal{}, fmt.Errorf("auth: decode session: %w", err)
	}
	if stored.UserID <= 0 || !shared.KnownRole(stored.Role) {
		return shared.Principal{}, shared.ErrSessionNotFound
	}
	if !stored.ExpiresAt.IsZero() && s.now().After(stored.ExpiresAt) {
		return shared.Principal{}, shared.ErrSessionNotFound
	}
	return shared.Principal{UserID: stored.UserID, Role: stored.Role, SessionID: id.String()}, nil
}

// Issue stores a new session and returns its token.
func (s *SessionStore) Issue(ctx context.Context, userID int64, role string, ttl time.Duration) (string, error) {
	if userID <= 0 {
		return "", errors.New("auth: user id required")
	}
	if !shared.KnownRole(role) {
		return "", fmt.Errorf("auth: unknown role %q", role)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(sessionPayload{UserID: userID, Role: role, ExpiresAt: s.now().Add(ttl)})
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.key(id.String()), data, ttl).Err(); err != nil {
		return "", err
	}
	return id.String(), nil
}

// Revoke deletes a session.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (s *SessionStore) key(token string) string {
	return s.prefix + token
}
