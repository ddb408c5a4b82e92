// Package telemetry provides a tiny Redis-backed recorder for per-model
// prediction stats. It is best effort: the server runs fine without it and
// recording failures never affect a request.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Recorder wraps a Redis client for prediction stat storage.
type Recorder struct {
	client *redis.Client
}

// New creates a Recorder connected to the specified Redis address.
// If addr is empty, defaults to localhost:6379
func New(addr string) (*Recorder, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // No password by default
		DB:       0,  // Default DB
	})

	// Test connection
	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Recorder{client: client}, nil
}

// RecordPrediction bumps the prediction counter for a model and stamps its
// last-used time.
func (r *Recorder) RecordPrediction(ctx context.Context, modelName string, latency time.Duration) error {
	if r == nil || r.client == nil {
		return nil
	}

	countKey := fmt.Sprintf("model:%s:predictions", modelName)
	lastUsedKey := fmt.Sprintf("model:%s:last_used", modelName)

	pipe := r.client.Pipeline()
	pipe.Incr(ctx, countKey)
	pipe.Set(ctx, lastUsedKey, time.Now().UTC().Format(time.RFC3339), 0)
	pipe.IncrByFloat(ctx, fmt.Sprintf("model:%s:inference_seconds", modelName), latency.Seconds())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record prediction for %s: %w", modelName, err)
	}

	return nil
}

// PredictionCount retrieves the prediction counter for a model.
func (r *Recorder) PredictionCount(ctx context.Context, modelName string) (int64, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("telemetry client is nil")
	}

	key := fmt.Sprintf("model:%s:predictions", modelName)
	count, err := r.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil // Key does not exist
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get prediction count for %s: %w", modelName, err)
	}

	return count, nil
}

// Close closes the Redis connection
func (r *Recorder) Close() error {
	if r != nil && r.client != nil {
		return r.client.Close()
	}
	return nil
}
