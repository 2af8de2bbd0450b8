// Package transport implements the abstract byte-stream connector
// (spec §4.5) that the MQTT engine runs over, with WebSocket and TCP
// implementations. Generalised from the teacher's gateway.Gateway
// interface segregation (one small interface, swappable backends),
// reshaped around a reader-goroutine-plus-channel stream so neither
// implementation ever blocks its caller on I/O.
package transport

import (
	"context"
	"time"
)

// DefaultDialTimeout bounds how long Connect may take (spec §5).
const DefaultDialTimeout = 10 * time.Second

// Stream is an open, bidirectional byte connection. Data, Closed, and
// Err are read-only; a caller selects over them alongside its own
// timers. Close is idempotent.
type Stream interface {
	// Data carries inbound byte slices as they arrive. The channel is
	// closed once the stream has closed or errored.
	Data() <-chan []byte
	// Closed fires exactly once, after Data is drained, when the peer
	// or local side ends the stream without error.
	Closed() <-chan struct{}
	// Err fires exactly once in place of Closed when the stream ends
	// abnormally.
	Err() <-chan error
	// Write sends bytes to the peer. Safe to call from any goroutine.
	Write(data []byte) error
	// Close tears down the stream. Safe to call more than once.
	Close() error
}

// Transport dials a new Stream.
type Transport interface {
	Connect(ctx context.Context) (Stream, error)
}
