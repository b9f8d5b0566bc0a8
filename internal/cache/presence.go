// Package cache mirrors user presence into Redis so other services can
// read online status without going through the chat documents.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "spark"

type Presence struct {
	Online   bool
	LastSeen time.Time
}

// PresenceMirror receives presence transitions from the socket server.
type PresenceMirror interface {
	SetPresence(ctx context.Context, userId string, online bool, at time.Time) error
}

type PresenceCache struct {
	client *redis.Client
	prefix string
}

func NewPresenceCache(client *redis.Client, prefix string) *PresenceCache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &PresenceCache{client: client, prefix: prefix}
}

func (c *PresenceCache) key(userId string) string {
	return fmt.Sprintf("%s:presence:%s", c.prefix, userId)
}

// SetPresence records the user's status. last_seen is only updated when
// the user goes offline.
func (c *PresenceCache) SetPresence(ctx context.Context, userId string, online bool, at time.Time) error {
	fields := map[string]any{"online": strconv.FormatBool(online)}
	if !online {
		fields["last_seen"] = at.UTC().Format(time.RFC3339Nano)
	}

	if err := c.client.HSet(ctx, c.key(userId), fields).Err(); err != nil {
		return fmt.Errorf("set presence %q: %w", userId, err)
	}
	return nil
}

// GetPresence returns the mirrored status, or a zero Presence for users
// never seen.
func (c *PresenceCache) GetPresence(ctx context.Context, userId string) (Presence, error) {
	vals, err := c.client.HGetAll(ctx, c.key(userId)).Result()
	if errors.Is(err, redis.Nil) {
		return Presence{}, nil
	}
	if err != nil {
		return Presence{}, fmt.Errorf("get presence %q: %w", userId, err)
	}
	return parsePresence(vals)
}

func parsePresence(vals map[string]string) (Presence, error) {
	var p Presence
	if v, ok := vals["online"]; ok {
		online, err := strconv.ParseBool(v)
		if err != nil {
			return Presence{}, fmt.Errorf("parse online: %w", err)
		}
		p.Online = online
	}
	if v, ok := vals["last_seen"]; ok && v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return Presence{}, fmt.Errorf("parse last_seen: %w", err)
		}
		p.LastSeen = ts
	}
	return p, nil
}

func (c *PresenceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *PresenceCache) Close() error {
	return c.client.Close()
}
