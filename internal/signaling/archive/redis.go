package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix = "ringline:record:"
	recordIndexKey  = "ringline:records:recent"
	recordIndexMax  = 10000
)

// RedisRecorder writes call records to Redis as JSON blobs with a TTL,
// plus a capped recency index for dashboard-style listing.
type RedisRecorder struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig controls the recorder's Redis client
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	RecordTTL   time.Duration
	DialTimeout time.Duration
	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.RecordTTL <= 0 {
		out.RecordTTL = 30 * 24 * time.Hour
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// NewRedisRecorder connects and verifies the Redis backend
func NewRedisRecorder(ctx context.Context, cfg RedisConfig) (*RedisRecorder, error) {
	cfg = cfg.withDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisRecorder{client: client, ttl: cfg.RecordTTL}, nil
}

// Record stores the summary blob and pushes it onto the recency index
func (r *RedisRecorder) Record(ctx context.Context, rec CallRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, recordKeyPrefix+rec.CallID, data, r.ttl)
	pipe.LPush(ctx, recordIndexKey, rec.CallID)
	pipe.LTrim(ctx, recordIndexKey, 0, recordIndexMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store call record %s: %w", rec.CallID, err)
	}
	return nil
}

// Get fetches a stored record by call ID
func (r *RedisRecorder) Get(ctx context.Context, callID string) (CallRecord, error) {
	data, err := r.client.Get(ctx, recordKeyPrefix+callID).Bytes()
	if err != nil {
		return CallRecord{}, fmt.Errorf("fetch call record %s: %w", callID, err)
	}
	var rec CallRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return CallRecord{}, fmt.Errorf("decode call record %s: %w", callID, err)
	}
	return rec, nil
}

// Close releases the Redis client
func (r *RedisRecorder) Close() error {
	return r.client.Close()
}
