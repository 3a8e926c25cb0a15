package progress

import "context"

// Sink consumes batches of progress events. Implementations must honor ctx
// deadlines and be safe for repeated, concurrent calls.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// orchestration core can remain agnostic about how events are buffered or
// persisted.
type Emitter interface {
	Emit(evt Event)
}
