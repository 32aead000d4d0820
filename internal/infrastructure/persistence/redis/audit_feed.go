package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
)

// Key layout.
const (
	ChannelUnlocked  = "achievements:unlocked"
	KeyRecentGlobal  = "achievements:recent"
	PrefixRecentUser = "achievements:recent:user:"

	DefaultRecentLimit = 100
)

// AuditFeed is an achievement.AuditSink over Redis.
type AuditFeed struct {
	client redis.UniversalClient
	limit  int64
}

// NewAuditFeed creates a feed keeping at most limit entries per list.
func NewAuditFeed(client redis.UniversalClient, limit int) *AuditFeed {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &AuditFeed{client: client, limit: int64(limit)}
}

func userKey(userID int64) string {
	return fmt.Sprintf("%s%d", PrefixRecentUser, userID)
}

// Record publishes the entry and pushes it onto the recent lists in one
// MULTI block.
func (f *AuditFeed) Record(ctx context.Context, e achievement.AuditEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	_, err = f.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Publish(ctx, ChannelUnlocked, data)
		p.LPush(ctx, KeyRecentGlobal, data)
		p.LTrim(ctx, KeyRecentGlobal, 0, f.limit-1)
		p.LPush(ctx, userKey(e.UserID), data)
		p.LTrim(ctx, userKey(e.UserID), 0, f.limit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis audit feed: %w", err)
	}
	return nil
}

// Recent returns up to n latest entries, newest first. userID 0 reads the
// global list.
func (f *AuditFeed) Recent(ctx context.Context, userID int64, n int) ([]achievement.AuditEntry, error) {
	key := KeyRecentGlobal
	if userID != 0 {
		key = userKey(userID)
	}
	if n <= 0 || int64(n) > f.limit {
		n = int(f.limit)
	}

	raw, err := f.client.LRange(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent unlocks: %w", err)
	}

	out := make([]achievement.AuditEntry, 0, len(raw))
	for _, item := range raw {
		var e achievement.AuditEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Subscribe returns a subscription to unlock events. The caller closes it.
func (f *AuditFeed) Subscribe(ctx context.Context) *redis.PubSub {
	return f.client.Subscribe(ctx, ChannelUnlocked)
}

// Ping checks Redis.
func (f *AuditFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

var _ achievement.AuditSink = (*AuditFeed)(nil)
