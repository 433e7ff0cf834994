package ports

import (
	"context"

	"github.com/matthiasnowak/villasnode/internal/domain"
)

// SampleQueue hands sample references from a producer goroutine to a consumer.
// A pushed sample's reference moves into the queue; a pulled one moves to the
// caller.
type SampleQueue interface {
	PushMany(ctx context.Context, smps []*domain.Sample) (int, error)
	PullMany(ctx context.Context, out []*domain.Sample) (int, error)
	TryPullMany(out []*domain.Sample) int
	PollHandle() <-chan struct{}
	Len() int
	Cap() int
	Close()
	// Drain releases what is still buffered through fn and returns the count.
	Drain(fn func(*domain.Sample)) int
}
