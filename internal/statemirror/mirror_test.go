package statemirror

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// requireRedis skips the test unless a Redis instance is reachable on the
// usual local default, since this package has no fake and talks to the real
// wire protocol (matching instance_control.go, which is likewise untested
// against a fake Redis).
func requireRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable, skipping: %v", err)
	}
	return client
}

func TestMirror_PublishAndTotal(t *testing.T) {
	client := requireRedis(t)
	defer client.Close()

	a := New(client, "test-instance-a")
	b := New(client, "test-instance-b")
	defer a.Stop()
	defer b.Stop()

	ctx := context.Background()
	a.publish(ctx, 3)
	b.publish(ctx, 4)

	total, err := a.Total(ctx)
	if err != nil {
		t.Fatalf("Total failed: %v", err)
	}
	if total < 7 {
		t.Fatalf("expected at least 7 (3+4), got %d", total)
	}
}

func TestMirror_StopClearsOwnKey(t *testing.T) {
	client := requireRedis(t)
	defer client.Close()

	m := New(client, "test-instance-stop")
	ctx := context.Background()
	m.publish(ctx, 5)
	m.Stop()

	v, err := client.Get(ctx, m.key).Result()
	if err != redis.Nil {
		t.Fatalf("expected key to be cleared, got value=%q err=%v", v, err)
	}
}
