package usage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/storage/redis/v3"
)

// Ledger accumulates billable units per tenant and month. Units are stored
// as integer milli-units so concurrent increments stay exact.
type Ledger interface {
	Add(ctx context.Context, tenantID, month string, units float64) (float64, error)
	Total(ctx context.Context, tenantID, month string) (float64, error)
}

// MonthKey is the ledger period of t.
func MonthKey(t time.Time) string { return t.UTC().Format("2006-01") }

func toMilli(units float64) int64 { return int64(units*1000 + 0.5) }

func fromMilli(m int64) float64 { return float64(m) / 1000 }

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu     sync.Mutex
	totals map[string]int64
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{totals: make(map[string]int64)}
}

func (l *MemoryLedger) Add(_ context.Context, tenantID, month string, units float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := tenantID + "|" + month
	l.totals[k] += toMilli(units)
	return fromMilli(l.totals[k]), nil
}

func (l *MemoryLedger) Total(_ context.Context, tenantID, month string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fromMilli(l.totals[tenantID+"|"+month]), nil
}

// ledgerRetention keeps a month key around long enough to be read back in
// the following month.
const ledgerRetention = 62 * 24 * time.Hour

// RedisLedger shares the ledger across instances.
type RedisLedger struct {
	store  *redis.Storage
	prefix string
}

// NewRedisLedger creates a ledger on store. Keys are "<prefix>:<tenant>:<month>".
func NewRedisLedger(store *redis.Storage, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "groundwork:usage"
	}
	return &RedisLedger{store: store, prefix: prefix}
}

func (l *RedisLedger) key(tenantID, month string) string {
	return l.prefix + ":" + tenantID + ":" + month
}

func (l *RedisLedger) Add(ctx context.Context, tenantID, month string, units float64) (float64, error) {
	k := l.key(tenantID, month)
	conn := l.store.Conn()
	total, err := conn.IncrBy(ctx, k, toMilli(units)).Result()
	if err != nil {
		return 0, fmt.Errorf("usage: ledger add: %w", err)
	}
	if err := conn.Expire(ctx, k, ledgerRetention).Err(); err != nil {
		return 0, fmt.Errorf("usage: ledger expire: %w", err)
	}
	return fromMilli(total), nil
}

func (l *RedisLedger) Total(_ context.Context, tenantID, month string) (float64, error) {
	raw, err := l.store.Get(l.key(tenantID, month))
	if err != nil {
		return 0, fmt.Errorf("usage: ledger total: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("usage: ledger total: %w", err)
	}
	return fromMilli(n), nil
}
