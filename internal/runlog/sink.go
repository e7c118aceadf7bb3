package runlog

import "context"

// Sink receives the finalized run log. Implementations must honor ctx
// deadlines; Flush calls each sink at most once per run.
type Sink interface {
	Name() string
	Consume(ctx context.Context, batch Batch) error
}
