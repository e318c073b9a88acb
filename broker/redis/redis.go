// Package redis provides a Redis Streams-backed implementation of
// broker.Broker for horizontally-scaled deployments, where the session
// registry's message delivery must be visible across process instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/snapback-ai/coprocessor/broker"
	"github.com/snapback-ai/coprocessor/internal/jsonrpc"
)

// Broker is a Redis Streams-based implementation of broker.Broker.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
}

// Config contains configuration options for the Redis broker.
type Config struct {
	// Client is the Redis client to use. If nil, a default client is created
	// pointed at localhost:6379 (development convenience only).
	Client redis.UniversalClient
	// KeyPrefix is prepended to all Redis keys used by the broker.
	// Defaults to "coprocessor:broker:" if empty.
	KeyPrefix string
}

// New creates a new Redis-based broker instance.
func New(config Config) *Broker {
	client := config.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "coprocessor:broker:"
	}

	return &Broker{client: client, keyPrefix: keyPrefix}
}

// Close closes the Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Publish implements broker.Broker.
func (b *Broker) Publish(ctx context.Context, namespace string, message jsonrpc.Message) (string, error) {
	streamKey := b.streamKey(namespace)

	res := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{"data": []byte(message)},
	})

	eventID, err := res.Result()
	if err != nil {
		return "", fmt.Errorf("publish to stream %s: %w", streamKey, err)
	}
	return eventID, nil
}

// Subscribe implements broker.Broker. The returned stream replays history
// after lastEventID (if non-empty) before yielding newly published entries.
func (b *Broker) Subscribe(ctx context.Context, namespace string, lastEventID string) (broker.MessageStream, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	startID := "$"
	if lastEventID != "" {
		startID = lastEventID
	}

	subCtx, cancel := context.WithCancel(ctx)
	return &stream{
		broker:  b,
		key:     b.streamKey(namespace),
		startID: startID,
		ctx:     subCtx,
		cancel:  cancel,
	}, nil
}

// Cleanup implements broker.Broker.
func (b *Broker) Cleanup(ctx context.Context, namespace string) error {
	err := b.client.Del(ctx, b.streamKey(namespace)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("cleanup namespace %s: %w", namespace, err)
	}
	return nil
}

func (b *Broker) streamKey(namespace string) string {
	return b.keyPrefix + "stream:" + namespace
}

// stream implements broker.MessageStream by polling XREAD with a short
// block window, yielding one message per Next call.
type stream struct {
	broker  *Broker
	key     string
	startID string
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
}

func (s *stream) Next(ctx context.Context) (broker.MessageEnvelope, error) {
	if s.closed {
		return broker.MessageEnvelope{}, io.EOF
	}

	for {
		select {
		case <-ctx.Done():
			return broker.MessageEnvelope{}, ctx.Err()
		case <-s.ctx.Done():
			return broker.MessageEnvelope{}, io.EOF
		default:
		}

		res, err := s.broker.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.key, s.startID},
			Count:   1,
			Block:   time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return broker.MessageEnvelope{}, fmt.Errorf("read stream %s: %w", s.key, err)
		}

		for _, strm := range res {
			for _, msg := range strm.Messages {
				s.startID = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				return broker.MessageEnvelope{ID: msg.ID, Data: []byte(data)}, nil
			}
		}
	}
}

func (s *stream) Close() error {
	if !s.closed {
		s.closed = true
		s.cancel()
	}
	return nil
}

var (
	_ broker.Broker        = (*Broker)(nil)
	_ broker.MessageStream = (*stream)(nil)
)
