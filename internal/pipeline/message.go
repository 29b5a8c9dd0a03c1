package pipeline

import (
	"context"
	"time"
)

// Message is one unit of data moving from a Source to a Sink.
//
// Implementations are treated as immutable once produced. Copying a value must
// not change its meaning.
type Message interface {
	Kind() string
	Time() time.Time
}

// Batch is an ordered group of messages flushed to a Sink in one write.
// Order equals arrival order from the channel.
type Batch[M Message] []M

// Source produces the messages driven by the source runner.
//
// Connect opens (or reopens after a transient failure) the upstream
// subscription and must release any previous connection. Next blocks until a
// message is available or ctx is done.
//
// Errors wrapped with Transient trigger the reconnect policy, io.EOF ends the
// stream cleanly and anything else is fatal.
type Source[M Message] interface {
	Connect(ctx context.Context) error
	Next(ctx context.Context) (M, error)
	Close() error
}

// Sink persists batches handed over by the processor runner.
//
// Write reports success or failure for the whole batch. A failed batch is
// retried as a unit, so implementations must tolerate seeing the same batch
// again without duplicating durable state.
//
// Init prepares persistent schema/state. It is called once by the surrounding
// application before the pipeline starts and must be idempotent.
type Sink[M Message] interface {
	Name() string
	Init(ctx context.Context) error
	Write(ctx context.Context, batch Batch[M]) error
	Close() error
}
