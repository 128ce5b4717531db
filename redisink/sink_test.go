package redisink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-hwc/hwc"
)

func newTestSink(t *testing.T, opts ...Option) (*Sink, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	sink, err := NewFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	return sink, mr
}

// subscribe opens a confirmed subscription on channel.
func subscribe(t *testing.T, mr *miniredis.Miniredis, channel string) *backend.PubSub {
	t.Helper()

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sub := client.Subscribe(context.Background(), channel)
	t.Cleanup(func() { _ = sub.Close() })

	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	return sub
}

func TestSinkPublish(t *testing.T) {
	sink, mr := newTestSink(t)
	sub := subscribe(t, mr, "hwc:changes")
	ctx := context.Background()

	want := hwc.Sample{
		Signal: "dac.ch1",
		Kind:   hwc.KindAnalogOutput,
		Value:  5.5,
		At:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, sink.Publish(ctx, want))

	// latest value lands in the hash
	raw := mr.HGet("hwc:values", "dac.ch1")
	assert.Equal(t, "5.5", raw)

	// full sample goes out as JSON
	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	require.NoError(t, err)

	var got hwc.Sample
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	require.Equal(t, want, got)
}

func TestSinkLatestValueWins(t *testing.T) {
	sink, _ := newTestSink(t)
	ctx := context.Background()
	at := time.Now()

	require.NoError(t, sink.Publish(ctx, hwc.Sample{Signal: "dac.ch1", Kind: hwc.KindAnalogOutput, Value: 1, At: at}))
	require.NoError(t, sink.Publish(ctx, hwc.Sample{Signal: "dac.ch1", Kind: hwc.KindAnalogOutput, Value: 2, At: at}))
	require.NoError(t, sink.Publish(ctx, hwc.Sample{Signal: "relay.ch3", Kind: hwc.KindDigitalOutput, Value: 1, At: at}))

	values, err := sink.Values(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"dac.ch1": 2, "relay.ch3": 1}, values)
}

func TestSinkTTL(t *testing.T) {
	sink, mr := newTestSink(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, sink.Publish(ctx, hwc.Sample{Signal: "dac.ch1", Value: 1, At: time.Now()}))
	assert.Equal(t, time.Minute, mr.TTL("hwc:values"))
}

func TestSinkPrefixAndChannel(t *testing.T) {
	sink, mr := newTestSink(t, WithPrefix("plant1:"), WithChannel("plant1:events"))
	sub := subscribe(t, mr, "plant1:events")
	ctx := context.Background()

	require.NoError(t, sink.Publish(ctx, hwc.Sample{Signal: "dac.ch1", Value: 3, At: time.Now()}))

	assert.Equal(t, "3", mr.HGet("plant1:values", "dac.ch1"))

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err := sub.ReceiveMessage(recvCtx)
	require.NoError(t, err)
}

func TestSinkClosed(t *testing.T) {
	sink, _ := newTestSink(t)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	err := sink.Publish(context.Background(), hwc.Sample{Signal: "dac.ch1"})
	require.ErrorIs(t, err, ErrClosed)

	_, err = sink.Values(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestSinkOptions(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	t.Run("nil client", func(t *testing.T) {
		_, err := NewFromClient(nil)
		require.Error(t, err)
	})

	t.Run("empty channel", func(t *testing.T) {
		_, err := NewFromClient(client, WithChannel(""))
		require.Error(t, err)
	})

	t.Run("non-positive ttl", func(t *testing.T) {
		_, err := NewFromClient(client, WithTTL(0))
		require.Error(t, err)
	})
}
