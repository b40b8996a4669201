package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"comfy-relay/server/internal/config"
)

const (
	journalKey          = "relay:events"
	defaultRecentLimit  = 50
	defaultJournalSize  = 200
	connectTimeout      = 5 * time.Second
	journalWriteTimeout = 2 * time.Second
)

// EventJournal keeps a short, capped tail of relayed events in a Redis list,
// newest first.
type EventJournal struct {
	client *redis.Client
	size   int64
	ttl    time.Duration
	logger *zap.Logger
}

// NewEventJournal connects to Redis and verifies the connection.
func NewEventJournal(cfg config.RedisConfig) (*EventJournal, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newEventJournal(client, cfg.JournalSize, cfg.JournalTTL), nil
}

func newEventJournal(client *redis.Client, size int64, ttl time.Duration) *EventJournal {
	if size <= 0 {
		size = defaultJournalSize
	}
	return &EventJournal{
		client: client,
		size:   size,
		ttl:    ttl,
		logger: zap.L().Named("journal"),
	}
}

func (j *EventJournal) Close() error {
	return j.client.Close()
}

// Append records one encoded event.
func (j *EventJournal) Append(ctx context.Context, msg []byte) error {
	_, err := j.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, journalKey, msg)
		pipe.LTrim(ctx, journalKey, 0, j.size-1)
		if j.ttl > 0 {
			pipe.Expire(ctx, journalKey, j.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Run appends every message from msgs until the channel closes or ctx is
// cancelled. Write failures are logged and the message is skipped.
func (j *EventJournal) Run(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, journalWriteTimeout)
			if err := j.Append(writeCtx, msg); err != nil {
				j.logger.Warn("failed to journal event", zap.Error(err))
			}
			cancel()
		}
	}
}

// Recent returns up to limit events, newest first. A non-positive limit
// selects a default; limits above the journal size are capped.
func (j *EventJournal) Recent(ctx context.Context, limit int64) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > j.size {
		limit = j.size
	}

	values, err := j.client.LRange(ctx, journalKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	events := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		if !json.Valid([]byte(v)) {
			continue
		}
		events = append(events, json.RawMessage(v))
	}
	return events, nil
}
