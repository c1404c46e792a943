//go:build integration

package usage

import (
	"context"
	"os"
	"testing"

	"github.com/gofiber/storage/redis/v3"
	"github.com/google/uuid"
)

func TestRedisLedger(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	store := redis.New(redis.Config{URL: url})
	t.Cleanup(func() { _ = store.Close() })

	l := NewRedisLedger(store, "groundwork:test:"+uuid.NewString())
	ctx := context.Background()

	if total, err := l.Total(ctx, "psfk", "2026-10"); err != nil || total != 0 {
		t.Fatalf("empty total = %v, %v", total, err)
	}
	for i := 0; i < 3; i++ {
		if _, err := l.Add(ctx, "psfk", "2026-10", 0.1); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	total, err := l.Total(ctx, "psfk", "2026-10")
	if err != nil || total != 0.3 {
		t.Fatalf("total = %v, %v", total, err)
	}
}
