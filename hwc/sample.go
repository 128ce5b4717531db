package hwc

import (
	"context"
	"time"
)

// Sample is one observed value on a signal. Pollers emit a sample when a read
// cycle commits a value that differs from the previous cycle's, and for the
// first committed value of each signal.
type Sample struct {
	// Signal is the emitting signal's name.
	Signal string `json:"signal"`
	// Kind is the emitting signal's kind.
	Kind Kind `json:"kind"`
	// Value is the committed value, digital states mapped to 0/1.
	Value float64 `json:"value"`
	// At is when the read cycle observed the value.
	At time.Time `json:"at"`
}

// SampleHandler consumes samples emitted by a Poller.
//
// Handlers run on the poller's dispatcher goroutine; long-running work should
// be handed off to keep sample delivery flowing.
type SampleHandler func(s Sample)

// Sink receives samples for export to an external system, e.g. a historian
// database or a state mirror. Publish is called from the poller's dispatcher
// goroutine under the poller's sink timeout.
type Sink interface {
	Publish(ctx context.Context, s Sample) error
}
