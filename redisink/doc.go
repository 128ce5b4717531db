// Package redisink mirrors poller samples into Redis.
//
// A Sink implements hwc.Sink. Each published sample updates a hash holding
// the latest value per signal and broadcasts the full sample as JSON on a
// pub/sub channel, so dashboards can render current state from the hash and
// follow live changes on the channel.
//
// With the default prefix "hwc:" the hash key is "hwc:values" (field = signal
// name, value = latest value) and the channel is "hwc:changes".
//
// Usage:
//
//	sink, err := redisink.New("localhost:6379")
//	if err != nil {
//		return err
//	}
//	defer sink.Close()
//
//	poller, err := hwc.NewPoller(ctx, group, hwc.WithSink(sink))
//
// Callers with an authenticated or clustered setup build their own client and
// use NewFromClient.
package redisink
