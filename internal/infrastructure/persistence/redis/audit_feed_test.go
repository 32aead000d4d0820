package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
)

func testClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestAuditFeed_RecordAndRecent(t *testing.T) {
	client := testClient(t)
	feed := NewAuditFeed(client, 2)
	ctx := context.Background()

	sub := feed.Subscribe(ctx)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	for i, key := range []string{"a", "b", "c"} {
		require.NoError(t, feed.Record(ctx, achievement.AuditEntry{
			ID: key, UserID: 9, Key: key, UnlockedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	recent, err := feed.Recent(ctx, 9, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Key)
	assert.Equal(t, "b", recent[1].Key)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"achievement_key":"a"`)
}

func TestConfig_Addr(t *testing.T) {
	assert.Equal(t, "localhost:6379", DefaultConfig().Addr())
}
