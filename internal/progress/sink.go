package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// concurrent use; the hub serializes calls but sinks may be shared.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}
