package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/glimte/mmate-bgmq/messaging"
)

// BrokerChecker maps the broker lifecycle to a status: started is healthy,
// stopped is degraded and disposed is unhealthy
type BrokerChecker struct {
	broker *messaging.Broker
}

// NewBrokerChecker creates a checker for broker
func NewBrokerChecker(broker *messaging.Broker) *BrokerChecker {
	return &BrokerChecker{broker: broker}
}

// Name implements Checker
func (c *BrokerChecker) Name() string {
	return "broker"
}

// Check implements Checker
func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status := c.broker.GetStatus()
	result := CheckResult{
		Timestamp: start,
		Message:   "broker is " + status,
		Details: map[string]any{
			"status":   status,
			"workers":  c.broker.WorkerCount(),
			"handlers": len(c.broker.Handlers()),
		},
	}

	switch status {
	case messaging.StatusStarted:
		result.Status = StatusHealthy
	case messaging.StatusStopped:
		result.Status = StatusDegraded
	default:
		result.Status = StatusUnhealthy
	}

	result.Duration = time.Since(start)
	return result
}

// QueueBacklogChecker degrades when a registered type has too much waiting on
// its In and Priority queues, or anything dead-lettered
type QueueBacklogChecker struct {
	broker       *messaging.Broker
	maxBacklog   int
	dlqDegrading bool
}

// NewQueueBacklogChecker creates a checker allowing up to maxBacklog waiting
// envelopes per type. A non-empty DLQ degrades when dlqDegrading is set.
func NewQueueBacklogChecker(broker *messaging.Broker, maxBacklog int, dlqDegrading bool) *QueueBacklogChecker {
	return &QueueBacklogChecker{
		broker:       broker,
		maxBacklog:   maxBacklog,
		dlqDegrading: dlqDegrading,
	}
}

// Name implements Checker
func (c *QueueBacklogChecker) Name() string {
	return "queues"
}

// Check implements Checker
func (c *QueueBacklogChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Status:    StatusHealthy,
		Message:   "queues are draining",
		Timestamp: start,
		Details:   make(map[string]any),
	}

	for _, stats := range c.broker.Handlers() {
		set, ok := c.broker.MessageQueue(stats.Name)
		if !ok {
			continue
		}
		names := set.QueueNames()
		backlog := set.Len(names.In) + set.Len(names.Priority)
		dead := set.Len(names.Dlq)
		result.Details[stats.Name] = map[string]int{"backlog": backlog, "dlq": dead}

		if backlog > c.maxBacklog {
			result.Status = StatusDegraded
			result.Message = fmt.Sprintf("%s has %d waiting messages", stats.Name, backlog)
		} else if c.dlqDegrading && dead > 0 && result.Status == StatusHealthy {
			result.Status = StatusDegraded
			result.Message = fmt.Sprintf("%s has %d dead-lettered messages", stats.Name, dead)
		}
	}

	result.Duration = time.Since(start)
	return result
}

// GoroutineChecker degrades and then fails as the goroutine count grows
type GoroutineChecker struct {
	warning  int
	critical int
}

// NewGoroutineChecker creates a checker that degrades above warning
// goroutines and fails above critical
func NewGoroutineChecker(warning, critical int) *GoroutineChecker {
	return &GoroutineChecker{warning: warning, critical: critical}
}

// Name implements Checker
func (c *GoroutineChecker) Name() string {
	return "runtime"
}

// Check implements Checker
func (c *GoroutineChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result := CheckResult{
		Timestamp: start,
		Details: map[string]any{
			"goroutines":  goroutines,
			"heapAllocMb": float64(m.HeapAlloc) / 1024 / 1024,
			"gcRuns":      m.NumGC,
		},
	}

	switch {
	case goroutines > c.critical:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("too many goroutines: %d", goroutines)
	case goroutines > c.warning:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
	}

	result.Duration = time.Since(start)
	return result
}
