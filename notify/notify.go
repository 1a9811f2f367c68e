// Package notify publishes execution records for downstream consumers.
// Delivery is best effort: a failed publish is logged and never fails the
// trade that produced it.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Pub/sub channels records are published on.
const (
	ChannelLoanInitiated      = "flasharb.loan.initiated"
	ChannelArbitrageCompleted = "flasharb.arbitrage.completed"
)

const publishTimeout = 3 * time.Second

// LoanInitiated is emitted when the coordinator requests a flash loan.
type LoanInitiated struct {
	InvocationID string    `json:"invocation_id"`
	Asset        string    `json:"asset"`
	Amount       string    `json:"amount"`
	Timestamp    time.Time `json:"timestamp"`
}

// ArbitrageCompleted is emitted after a profitable cycle commits.
type ArbitrageCompleted struct {
	InvocationID string    `json:"invocation_id"`
	Asset        string    `json:"asset"`
	Profit       string    `json:"profit"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier emits execution records.
type Notifier interface {
	LoanInitiated(ctx context.Context, rec LoanInitiated)
	ArbitrageCompleted(ctx context.Context, rec ArbitrageCompleted)
}

// RedisPublisher publishes records as JSON payloads on Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher wraps an existing Redis client.
func NewRedisPublisher(client *redis.Client, logger *zap.Logger) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &RedisPublisher{client: client, logger: logger}, nil
}

// Dial connects to a Redis instance and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return NewRedisPublisher(client, logger)
}

// Close releases the underlying Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// LoanInitiated publishes a loan-initiated record.
func (p *RedisPublisher) LoanInitiated(ctx context.Context, rec LoanInitiated) {
	p.publish(ctx, ChannelLoanInitiated, rec)
}

// ArbitrageCompleted publishes an arbitrage-completed record.
func (p *RedisPublisher) ArbitrageCompleted(ctx context.Context, rec ArbitrageCompleted) {
	p.publish(ctx, ChannelArbitrageCompleted, rec)
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, record interface{}) {
	payload, err := json.Marshal(record)
	if err != nil {
		p.logger.Warn("Failed to marshal notification",
			zap.String("channel", channel),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Warn("Failed to publish notification",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// Nop discards every record.
type Nop struct{}

func (Nop) LoanInitiated(context.Context, LoanInitiated)           {}
func (Nop) ArbitrageCompleted(context.Context, ArbitrageCompleted) {}

// Recorder captures records in memory for tests.
type Recorder struct {
	mu        sync.Mutex
	loans     []LoanInitiated
	completed []ArbitrageCompleted
}

func (r *Recorder) LoanInitiated(_ context.Context, rec LoanInitiated) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loans = append(r.loans, rec)
}

func (r *Recorder) ArbitrageCompleted(_ context.Context, rec ArbitrageCompleted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, rec)
}

// Loans returns the captured loan-initiated records.
func (r *Recorder) Loans() []LoanInitiated {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LoanInitiated(nil), r.loans...)
}

// Completed returns the captured arbitrage-completed records.
func (r *Recorder) Completed() []ArbitrageCompleted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ArbitrageCompleted(nil), r.completed...)
}
