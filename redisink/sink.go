package redisink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/arloliu/go-hwc/hwc"
)

// DefaultPrefix is the default key prefix for the values hash and the
// changes channel.
const DefaultPrefix = "hwc:"

// ErrClosed indicates a publish on a closed sink.
var ErrClosed = errors.New("redisink: sink is closed")

// Option represents a functional option for configuring a Sink.
type Option interface {
	apply(s *Sink) error
}

type optFunc func(s *Sink) error

func (f optFunc) apply(s *Sink) error { return f(s) }

// WithPrefix sets the key prefix. Defaults to "hwc:".
func WithPrefix(prefix string) Option {
	return optFunc(func(s *Sink) error {
		s.prefix = prefix

		return nil
	})
}

// WithChannel overrides the pub/sub channel name. Defaults to
// "<prefix>changes".
func WithChannel(channel string) Option {
	return optFunc(func(s *Sink) error {
		if channel == "" {
			return fmt.Errorf("redisink: channel name is empty")
		}
		s.channel = channel

		return nil
	})
}

// WithTTL expires the values hash when no sample arrives for the given
// duration. The expiration is refreshed on every publish. Zero (the default)
// keeps the hash forever.
func WithTTL(ttl time.Duration) Option {
	return optFunc(func(s *Sink) error {
		if ttl <= 0 {
			return fmt.Errorf("redisink: ttl must be positive")
		}
		s.ttl = ttl

		return nil
	})
}

// Sink mirrors samples into Redis. It implements hwc.Sink.
type Sink struct {
	client  *backend.Client
	prefix  string
	channel string
	ttl     time.Duration
	closed  atomic.Bool
}

// New creates a sink connected to the Redis server at addr.
func New(addr string, opts ...Option) (*Sink, error) {
	return NewFromClient(backend.NewClient(&backend.Options{Addr: addr}), opts...)
}

// NewFromClient creates a sink over an existing client. Close closes the
// client.
func NewFromClient(client *backend.Client, opts ...Option) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("redisink: client must not be nil")
	}

	s := &Sink{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Sink) valuesKey() string { return s.prefix + "values" }

func (s *Sink) changesChannel() string {
	if s.channel != "" {
		return s.channel
	}

	return s.prefix + "changes"
}

// Publish updates the latest-value hash and broadcasts the sample as JSON.
// It implements hwc.Sink.
func (s *Sink) Publish(ctx context.Context, sample hwc.Sample) error {
	if s.closed.Load() {
		return ErrClosed
	}

	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("redisink: marshal sample: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.valuesKey(), sample.Signal, sample.Value)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.valuesKey(), s.ttl)
	}
	pipe.Publish(ctx, s.changesChannel(), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisink: publish sample: %w", err)
	}

	return nil
}

// Values returns the latest value of every signal the sink has published.
func (s *Sink) Values(ctx context.Context) (map[string]float64, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	fields, err := s.client.HGetAll(ctx, s.valuesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisink: read values: %w", err)
	}

	values := make(map[string]float64, len(fields))
	for signal, raw := range fields {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("redisink: value of %s: %w", signal, err)
		}
		values[signal] = v
	}

	return values, nil
}

// Close closes the underlying client. Publishes on a closed sink return
// ErrClosed; closing twice is a no-op.
func (s *Sink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	return s.client.Close()
}
