package interceptors

import (
	"context"
	"sync"

	ring "github.com/eapache/queue"

	"github.com/glimte/mmate-bgmq/contracts"
)

// DuplicateDetector remembers which envelope IDs were processed
type DuplicateDetector interface {
	IsDuplicate(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// DuplicateDetectionInterceptor skips envelopes whose ID was already processed.
// Only successful attempts are marked, so retries of a failed envelope still run.
type DuplicateDetectionInterceptor struct {
	detector DuplicateDetector
}

// NewDuplicateDetectionInterceptor creates a new duplicate detection interceptor
func NewDuplicateDetectionInterceptor(detector DuplicateDetector) *DuplicateDetectionInterceptor {
	return &DuplicateDetectionInterceptor{detector: detector}
}

// Intercept implements Interceptor
func (i *DuplicateDetectionInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next MessageHandler) (any, error) {
	duplicate, err := i.detector.IsDuplicate(ctx, env.ID)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return nil, nil
	}

	result, err := next.Handle(ctx, env)
	if err != nil {
		return result, err
	}

	if err := i.detector.MarkProcessed(ctx, env.ID); err != nil {
		return nil, err
	}
	return result, nil
}

// Name implements Interceptor
func (i *DuplicateDetectionInterceptor) Name() string {
	return "DuplicateDetectionInterceptor"
}

// MemoryDuplicateDetector keeps the most recent IDs in memory, forgetting the
// oldest once capacity is reached
type MemoryDuplicateDetector struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    *ring.Queue
}

// NewMemoryDuplicateDetector creates a detector remembering up to capacity IDs
func NewMemoryDuplicateDetector(capacity int) *MemoryDuplicateDetector {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryDuplicateDetector{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
		order:    ring.New(),
	}
}

// IsDuplicate implements DuplicateDetector
func (d *MemoryDuplicateDetector) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.seen[messageID]
	return ok, nil
}

// MarkProcessed implements DuplicateDetector
func (d *MemoryDuplicateDetector) MarkProcessed(ctx context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[messageID]; ok {
		return nil
	}

	d.seen[messageID] = struct{}{}
	d.order.Add(messageID)
	for d.order.Length() > d.capacity {
		delete(d.seen, d.order.Remove().(string))
	}
	return nil
}

// Len returns the number of remembered IDs
func (d *MemoryDuplicateDetector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
