// Package publisher mirrors signal snapshots and terminal hydration
// tasks into Redis streams for external consumers. The whole package
// is optional: a nil *Publisher is a no-op.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"trade-signalv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	signalStreamMaxLen = 1000
	taskStreamMaxLen   = 1000
	latestTTL          = 30 * time.Minute
)

// Publisher writes signal and task events to Redis.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client {
	if p == nil {
		return nil
	}
	return p.client
}

// New connects to Redis and pings it with a short deadline.
func New(addr, password string) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[publisher] connected to %s", addr)
	return &Publisher{client: client}, nil
}

// PublishSignal appends an inference snapshot to the per-symbol signal
// stream and refreshes the latest-value key.
func (p *Publisher) PublishSignal(ctx context.Context, symbol, interval string, res *model.InferResult) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	stream := "signals:" + symbol + ":" + interval
	if err := p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: signalStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	}).Err(); err != nil {
		log.Printf("[publisher] signal xadd failed: %v", err)
		return
	}
	p.client.Set(ctx, "signals:latest:"+symbol+":"+interval, payload, latestTTL)
}

// PublishTask appends a terminal hydration task to the task stream.
func (p *Publisher) PublishTask(ctx context.Context, snap model.TaskSnapshot) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: "hydration:tasks",
		MaxLen: taskStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	}).Err(); err != nil {
		log.Printf("[publisher] task xadd failed: %v", err)
	}
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
