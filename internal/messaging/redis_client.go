// messaging/redis_client.go
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"piperoute-system/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultStreamName      = "simulation-runs"
	DefaultConsumerGroup   = "simulation-workers"
	DefaultSnapshotChannel = "simulation-snapshots"
)

type MessageClient interface {
	PublishRun(ctx context.Context, runID string) error
	SubscribeToRuns(ctx context.Context, handler func(runID string)) error
	PublishSnapshot(ctx context.Context, snap domain.Snapshot) error
	HealthCheck() error
	Close() error
}

type Options struct {
	URL             string
	Password        string
	DB              int
	StreamName      string
	ConsumerGroup   string
	SnapshotChannel string
	Logger          *zap.Logger
}

type redisClient struct {
	client          *redis.Client
	streamName      string
	consumerGroup   string
	consumerName    string
	snapshotChannel string
	logger          *zap.Logger
}

type RunMessage struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRedisClient(opts Options) (MessageClient, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StreamName == "" {
		opts.StreamName = DefaultStreamName
	}
	if opts.ConsumerGroup == "" {
		opts.ConsumerGroup = DefaultConsumerGroup
	}
	if opts.SnapshotChannel == "" {
		opts.SnapshotChannel = DefaultSnapshotChannel
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.URL,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     20,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	rc, err := newRedisClient(ctx, client, opts)
	if err != nil {
		client.Close()
		return nil, err
	}
	return rc, nil
}

func newRedisClient(ctx context.Context, client *redis.Client, opts Options) (*redisClient, error) {
	if err := createConsumerGroup(ctx, client, opts.StreamName, opts.ConsumerGroup, opts.Logger); err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	opts.Logger.Info("Redis client initialized",
		zap.String("stream", opts.StreamName),
		zap.String("group", opts.ConsumerGroup),
		zap.String("snapshot_channel", opts.SnapshotChannel))

	return &redisClient{
		client:          client,
		streamName:      opts.StreamName,
		consumerGroup:   opts.ConsumerGroup,
		consumerName:    fmt.Sprintf("consumer-%d", time.Now().UnixNano()),
		snapshotChannel: opts.SnapshotChannel,
		logger:          opts.Logger,
	}, nil
}

func createConsumerGroup(ctx context.Context, client *redis.Client, streamName, consumerGroup string, logger *zap.Logger) error {
	err := client.XGroupCreateMkStream(ctx, streamName, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	if err == nil {
		logger.Info("Created consumer group", zap.String("group", consumerGroup), zap.String("stream", streamName))
	} else {
		logger.Debug("Consumer group already exists", zap.String("group", consumerGroup))
	}

	return nil
}

func (c *redisClient) PublishRun(ctx context.Context, runID string) error {
	data, err := json.Marshal(RunMessage{RunID: runID, Timestamp: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.streamName,
		Values: map[string]interface{}{
			"run_id":  runID,
			"data":    string(data),
			"created": time.Now().UnixNano(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to Redis Stream: %w", err)
	}

	c.logger.Info("Run published", zap.String("run_id", runID), zap.String("message_id", id))
	return nil
}

func (c *redisClient) SubscribeToRuns(ctx context.Context, handler func(runID string)) error {
	c.logger.Info("Consumer started listening for runs", zap.String("consumer", c.consumerName))
	go c.processMessages(ctx, handler)
	return nil
}

func (c *redisClient) processMessages(ctx context.Context, handler func(runID string)) {
	blockTime := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer stopped", zap.String("consumer", c.consumerName))
			return
		default:
			streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    c.consumerGroup,
				Consumer: c.consumerName,
				Streams:  []string{c.streamName, ">"},
				Count:    1,
				Block:    blockTime,
			}).Result()

			if err != nil {
				if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
					continue
				}
				c.logger.Warn("Error reading from Redis Stream", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					c.processMessage(ctx, message, handler)
				}
			}
		}
	}
}

func (c *redisClient) processMessage(ctx context.Context, message redis.XMessage, handler func(runID string)) {
	runID, ok := message.Values["run_id"].(string)
	if !ok || runID == "" {
		c.logger.Warn("Dropping message without run_id", zap.String("message_id", message.ID))
	} else {
		c.logger.Info("Processing run",
			zap.String("consumer", c.consumerName),
			zap.String("run_id", runID),
			zap.String("message_id", message.ID))
		handler(runID)
	}

	if err := c.client.XAck(ctx, c.streamName, c.consumerGroup, message.ID).Err(); err != nil {
		c.logger.Warn("Failed to ACK message", zap.String("message_id", message.ID), zap.Error(err))
	}
}

func (c *redisClient) PublishSnapshot(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.client.Publish(ctx, c.snapshotChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

func (c *redisClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis ping failed: %w", err)
	}

	_, err := c.client.XInfoStream(ctx, c.streamName).Result()
	if err != nil && !strings.Contains(err.Error(), "no such key") {
		return fmt.Errorf("Redis stream check failed: %w", err)
	}

	return nil
}

func (c *redisClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
