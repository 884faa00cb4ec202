package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/mmate-bgmq/contracts"
	"github.com/glimte/mmate-bgmq/interceptors"
	"github.com/glimte/mmate-bgmq/internal/queue"
)

// unknownScanInterval is the pause between two passes over the unknown queue
const unknownScanInterval = 10 * time.Millisecond

// Broker status values returned by GetStatus
const (
	StatusStopped  = "Stopped"
	StatusStarted  = "Started"
	StatusDisposed = "Disposed"
)

type brokerState int

const (
	stateStopped brokerState = iota
	stateStarted
	stateDisposed
)

// registry is an immutable snapshot of the registered queue sets, keyed by
// contracts.TypeKeyOf. It is replaced as a whole on registration so lookups
// never lock.
type registry struct {
	byKey map[string]*QueueSet
	order []string
}

func (r *registry) with(key string, set *QueueSet) *registry {
	next := &registry{
		byKey: make(map[string]*QueueSet, len(r.byKey)+1),
		order: append(append([]string{}, r.order...), key),
	}
	for k, existing := range r.byKey {
		next.byKey[k] = existing
	}
	next.byKey[key] = set
	return next
}

func (r *registry) sets() []*QueueSet {
	sets := make([]*QueueSet, 0, len(r.order))
	for _, key := range r.order {
		sets = append(sets, r.byKey[key])
	}
	return sets
}

// Broker is an in-process message broker. Each registered message type gets
// its own QueueSet and worker pool; messages for unregistered types are parked
// on a shared unknown queue until a matching Get.
//
// Priority queues are not drained before In queues. They are consumed by
// their own workers, concurrently with the In queue, so they only add
// capacity.
type Broker struct {
	config brokerConfig
	logger *slog.Logger
	client *Client

	registry atomic.Pointer[registry]

	// lifecycle serializes registration, Start, Stop and Dispose
	lifecycle sync.Mutex

	// disposing is set once Dispose begins
	disposing atomic.Bool

	mu      sync.RWMutex
	state   brokerState
	workers []*Worker
	unknown *queue.Queue[*contracts.Envelope]
}

// NewBroker creates a stopped broker
func NewBroker(options ...BrokerOption) *Broker {
	b := &Broker{config: defaultBrokerConfig()}
	for _, opt := range options {
		opt(&b.config)
	}

	b.logger = b.config.logger
	b.client = &Client{broker: b}
	b.registry.Store(&registry{byKey: map[string]*QueueSet{}})
	return b
}

// RegisterHandler registers fn as the handler of message type T. Handlers must
// be registered before Start and at most once per type. T and *T are the same
// message type. Two types sharing a name cannot both be registered since their
// queue names would clash.
func RegisterHandler[T any](b *Broker, fn HandlerFunc[T], options ...HandlerOption) error {
	typeName := contracts.TypeNameFor[T]()
	if fn == nil {
		return &BrokerError{Op: "register", MessageType: typeName, Err: ErrInvalidArgument}
	}

	process := interceptors.MessageHandlerFunc(func(ctx context.Context, env *contracts.Envelope) (any, error) {
		msg, ok := contracts.BodyAs[T](env)
		if !ok {
			return nil, contracts.NonRetryable(fmt.Errorf("unexpected body %T for %s handler", env.Body, typeName))
		}
		return fn(ctx, env, msg)
	})

	return b.register(contracts.TypeKeyFor[T](), typeName, process, options)
}

func (b *Broker) register(key, typeName string, process interceptors.MessageHandler, options []HandlerOption) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.RLock()
	state := b.state
	b.mu.RUnlock()

	switch state {
	case stateDisposed:
		return &BrokerError{Op: "register", MessageType: typeName, Err: ErrBrokerDisposed}
	case stateStarted:
		return &BrokerError{Op: "register", MessageType: typeName, Err: ErrBrokerStarted}
	}

	opts := HandlerOptions{
		ThreadCount: DefaultThreadCount,
		RetryCount:  b.config.retryCount,
	}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.ThreadCount < 1 || opts.RetryCount < 0 {
		return &BrokerError{Op: "register", MessageType: typeName,
			Err: fmt.Errorf("%w: thread count %d, retry count %d", ErrInvalidArgument, opts.ThreadCount, opts.RetryCount)}
	}

	reg := b.registry.Load()
	if _, exists := reg.byKey[key]; exists {
		return &BrokerError{Op: "register", MessageType: typeName, Err: ErrHandlerAlreadyRegistered}
	}

	names := b.config.nameResolver(typeName)
	if err := b.checkQueueNames(reg, typeName, names); err != nil {
		return err
	}

	handler := newHandler(typeName, names, process, opts, &b.config, b.client)
	set := newQueueSet(typeName, names, handler, opts.ThreadCount, b.config.outMaxSize)
	b.registry.Store(reg.with(key, set))

	b.logger.Info("registered message handler",
		"messageType", typeName,
		"threadCount", opts.ThreadCount,
		"retryCount", opts.RetryCount,
	)
	return nil
}

// checkQueueNames rejects resolvers that produce overlapping names
func (b *Broker) checkQueueNames(reg *registry, typeName string, names contracts.QueueNames) error {
	seen := make(map[string]struct{}, 4)
	for _, name := range names.All() {
		if _, dup := seen[name]; dup || name == "" {
			return &BrokerError{Op: "register", MessageType: typeName, Queue: name,
				Err: fmt.Errorf("%w: queue names must be distinct", ErrInvalidArgument)}
		}
		seen[name] = struct{}{}

		for _, other := range reg.byKey {
			if other.names.Contains(name) {
				return &BrokerError{Op: "register", MessageType: typeName, Queue: name,
					Err: fmt.Errorf("%w: queue already used by %s", ErrInvalidArgument, other.typeName)}
			}
		}
	}
	return nil
}

// Start creates and starts the workers of every registered type. Starting a
// started broker is a no-op.
func (b *Broker) Start() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateDisposed:
		return &BrokerError{Op: "start", Err: ErrBrokerDisposed}
	case stateStarted:
		return nil
	}

	var workers []*Worker
	for _, set := range b.registry.Load().sets() {
		queueNames := []string{set.names.In}
		if b.config.priorityEnabled(set.typeName) {
			queueNames = append(queueNames, set.names.Priority)
		}

		for _, queueName := range queueNames {
			for i := 0; i < set.threadCount; i++ {
				worker, err := set.CreateWorker(queueName)
				if err != nil {
					return err
				}
				workers = append(workers, worker)
			}
		}
	}

	for _, worker := range workers {
		worker.Start(context.Background())
	}

	b.workers = workers
	b.unknown = queue.New[*contracts.Envelope]()
	b.state = stateStarted

	b.logger.Info("broker started", "workers", len(workers))
	return nil
}

// Stop cancels every worker and waits for in-flight messages. Queued messages,
// registrations and stats are kept; the unknown queue is dropped. Stopping a
// stopped broker is a no-op.
func (b *Broker) Stop() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	return b.stop()
}

func (b *Broker) stop() error {
	b.mu.Lock()
	switch b.state {
	case stateDisposed:
		b.mu.Unlock()
		return &BrokerError{Op: "stop", Err: ErrBrokerDisposed}
	case stateStopped:
		b.mu.Unlock()
		return nil
	}

	workers := b.workers
	unknown := b.unknown
	b.workers = nil
	b.unknown = nil
	b.state = stateStopped
	b.mu.Unlock()

	// workers may publish while finishing, so they are joined outside mu
	var wg sync.WaitGroup
	for _, worker := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(worker)
	}
	wg.Wait()

	if dropped := unknown.Len(); dropped > 0 {
		b.logger.Debug("dropping unclaimed messages", "count", dropped)
	}
	unknown.Close()

	b.logger.Info("broker stopped", "workers", len(workers))
	return nil
}

// Dispose stops the broker and closes every queue. Every later mutating call
// fails with ErrBrokerDisposed. Disposing twice is a no-op.
func (b *Broker) Dispose() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.RLock()
	disposed := b.state == stateDisposed
	b.mu.RUnlock()
	if disposed {
		return nil
	}
	b.disposing.Store(true)

	if err := b.stop(); err != nil {
		return err
	}

	b.mu.Lock()
	b.state = stateDisposed
	b.mu.Unlock()

	for _, set := range b.registry.Load().sets() {
		set.Close()
	}

	b.logger.Info("broker disposed")
	return nil
}

// Close implements io.Closer
func (b *Broker) Close() error {
	return b.Dispose()
}

// Publish routes env by the type of its body. Envelopes of a registered type
// addressed to one of its queues go to that QueueSet; anything else is tagged
// with the target queue and parked on the unknown queue.
func (b *Broker) Publish(queueName string, env *contracts.Envelope) error {
	if err := validatePublish("publish", queueName, env); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	typeName := env.TypeName()
	if b.state == stateDisposed {
		return &BrokerError{Op: "publish", MessageType: typeName, Queue: queueName, Err: ErrBrokerDisposed}
	}

	if set, ok := b.registry.Load().byKey[env.TypeKey()]; ok && set.names.Contains(queueName) {
		return set.Add(queueName, env)
	}

	if b.unknown == nil {
		return &BrokerError{Op: "publish", MessageType: typeName, Queue: queueName, Err: ErrBrokerNotStarted}
	}

	env.SetMeta(contracts.MetaQueueName, queueName)
	if err := b.unknown.Add(env); err != nil {
		return &BrokerError{Op: "publish", MessageType: typeName, Queue: queueName, Err: err}
	}
	return nil
}

// Notify publishes env like Publish and then passes it to every out handler,
// whether or not its type is registered. The publish error, if any, is returned
// after the out handlers ran.
func (b *Broker) Notify(queueName string, env *contracts.Envelope) error {
	if err := validatePublish("notify", queueName, env); err != nil {
		return err
	}

	err := b.Publish(queueName, env)
	if errors.Is(err, ErrBrokerDisposed) {
		return err
	}

	for _, handler := range b.config.outHandlers {
		b.runOutHandler(handler, queueName, env)
	}
	return err
}

func (b *Broker) runOutHandler(handler OutHandler, queueName string, env *contracts.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("out handler panicked", "queue", queueName, "messageId", env.ID, "panic", r)
		}
	}()
	handler(queueName, env)
}

func validatePublish(op, queueName string, env *contracts.Envelope) error {
	switch {
	case queueName == "":
		return &BrokerError{Op: op, Err: fmt.Errorf("%w: empty queue name", ErrInvalidArgument)}
	case env == nil:
		return &BrokerError{Op: op, Queue: queueName, Err: fmt.Errorf("%w: nil envelope", ErrInvalidArgument)}
	case env.Body == nil:
		return &BrokerError{Op: op, Queue: queueName, Err: fmt.Errorf("%w: nil body", ErrInvalidArgument)}
	}
	return nil
}

// Get dequeues an envelope of type T from queueName, waiting up to timeout,
// or until ctx is done when timeout <= 0. It returns nil without error when
// nothing arrived in time.
func Get[T any](ctx context.Context, b *Broker, queueName string, timeout time.Duration) (*contracts.Envelope, error) {
	return b.get(ctx, contracts.TypeKeyFor[T](), queueName, timeout)
}

// TryGet dequeues an envelope of type T from queueName without blocking
func TryGet[T any](b *Broker, queueName string) (*contracts.Envelope, error) {
	return b.tryGet(contracts.TypeKeyFor[T](), queueName)
}

func (b *Broker) get(ctx context.Context, typeKey, queueName string, timeout time.Duration) (*contracts.Envelope, error) {
	set, err := b.lookupForGet(typeKey, queueName)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return b.scanUnknown(ctx, typeKey, queueName, timeout)
	}

	env, ok, err := set.TryTake(ctx, queueName, timeout)
	if err != nil {
		return nil, b.takeError(typeKey, queueName, err)
	}
	if !ok {
		return nil, nil
	}
	return env, nil
}

func (b *Broker) tryGet(typeKey, queueName string) (*contracts.Envelope, error) {
	set, err := b.lookupForGet(typeKey, queueName)
	if err != nil {
		return nil, err
	}
	if set == nil {
		unknown, err := b.unknownQueue(typeKey, queueName)
		if err != nil {
			return nil, err
		}
		return scanOnce(unknown, typeKey, queueName), nil
	}

	env, _, err := set.TakeNow(queueName)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// lookupForGet returns the QueueSet serving queueName for typeKey, or nil
// when the envelope has to be looked up on the unknown queue
func (b *Broker) lookupForGet(typeKey, queueName string) (*QueueSet, error) {
	if queueName == "" {
		return nil, &BrokerError{Op: "get", MessageType: typeKey, Err: fmt.Errorf("%w: empty queue name", ErrInvalidArgument)}
	}

	b.mu.RLock()
	disposed := b.state == stateDisposed
	b.mu.RUnlock()
	if disposed {
		return nil, &BrokerError{Op: "get", MessageType: typeKey, Queue: queueName, Err: ErrBrokerDisposed}
	}

	if set, ok := b.registry.Load().byKey[typeKey]; ok && set.names.Contains(queueName) {
		return set, nil
	}
	return nil, nil
}

func (b *Broker) unknownQueue(typeKey, queueName string) (*queue.Queue[*contracts.Envelope], error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.unknown == nil {
		if b.disposing.Load() {
			return nil, &BrokerError{Op: "get", MessageType: typeKey, Queue: queueName, Err: ErrBrokerDisposed}
		}
		return nil, &BrokerError{Op: "get", MessageType: typeKey, Queue: queueName, Err: ErrBrokerNotStarted}
	}
	return b.unknown, nil
}

// scanUnknown cycles through the unknown queue, putting back every envelope
// that does not match, until a match turns up or the timeout elapses.
// Put-back envelopes move to the back, so the unknown queue keeps no order.
func (b *Broker) scanUnknown(ctx context.Context, typeKey, queueName string, timeout time.Duration) (*contracts.Envelope, error) {
	unknown, err := b.unknownQueue(typeKey, queueName)
	if err != nil {
		return nil, err
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	timer := time.NewTimer(unknownScanInterval)
	defer timer.Stop()

	for {
		if env := scanOnce(unknown, typeKey, queueName); env != nil {
			return env, nil
		}
		if unknown.IsClosed() {
			if b.disposing.Load() {
				return nil, &BrokerError{Op: "get", MessageType: typeKey, Queue: queueName, Err: ErrBrokerDisposed}
			}
			return nil, &BrokerError{Op: "get", MessageType: typeKey, Queue: queueName, Err: ErrBrokerNotStarted}
		}

		wait := unknownScanInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			if remaining < wait {
				wait = remaining
			}
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// scanOnce takes every envelope currently on unknown at most once and returns
// the first one addressed to queueName whose body has type key typeKey
func scanOnce(unknown *queue.Queue[*contracts.Envelope], typeKey, queueName string) *contracts.Envelope {
	for n := unknown.Len(); n > 0; n-- {
		env, ok := unknown.TryTake()
		if !ok {
			return nil
		}
		if env.TypeKey() == typeKey && env.GetMeta(contracts.MetaQueueName) == queueName {
			return env
		}
		if err := unknown.Add(env); err != nil {
			return nil
		}
	}
	return nil
}

func (b *Broker) takeError(typeKey, queueName string, err error) error {
	if errors.Is(err, ErrQueueClosed) {
		return &BrokerError{Op: "get", MessageType: typeKey, Queue: queueName, Err: ErrBrokerDisposed}
	}
	return err
}

// Client returns the producer/consumer facade of the broker
func (b *Broker) Client() *Client {
	return b.client
}

// GetStatus returns StatusStarted, StatusStopped or StatusDisposed
func (b *Broker) GetStatus() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch b.state {
	case stateStarted:
		return StatusStarted
	case stateDisposed:
		return StatusDisposed
	default:
		return StatusStopped
	}
}

// WorkerCount returns the number of running workers
func (b *Broker) WorkerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.workers)
}

// Handlers returns the stats of every registered type in registration order
func (b *Broker) Handlers() []HandlerStats {
	sets := b.registry.Load().sets()
	stats := make([]HandlerStats, 0, len(sets))
	for _, set := range sets {
		stats = append(stats, set.handler.GetStats())
	}
	return stats
}

// GetStats returns the stats of all handlers added together
func (b *Broker) GetStats() HandlerStats {
	total := HandlerStats{Name: "all"}
	for _, stats := range b.Handlers() {
		total.Add(stats)
	}
	return total
}

// GetStatsDescription renders the broker status, every handler's stats and
// every queue set's depths
func (b *Broker) GetStatsDescription() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Broker: %s\n", b.GetStatus())
	for _, set := range b.registry.Load().sets() {
		sb.WriteString(set.handler.GetStats().String())
		sb.WriteString(set.GetDescription())
	}
	sb.WriteString(b.GetStats().String())
	return sb.String()
}

// MessageQueue returns the QueueSet registered under the short type name
// typeName, as reported by QueueSet.TypeName and HandlerStats.Name
func (b *Broker) MessageQueue(typeName string) (*QueueSet, bool) {
	for _, set := range b.registry.Load().sets() {
		if set.typeName == typeName {
			return set, true
		}
	}
	return nil, false
}

// QueueSetFor returns the QueueSet registered for T
func QueueSetFor[T any](b *Broker) (*QueueSet, bool) {
	set, ok := b.registry.Load().byKey[contracts.TypeKeyFor[T]()]
	return set, ok
}

// queueNamesOf returns the names of the QueueSet registered for the body type
// of env, or the names the resolver would give that type
func (b *Broker) queueNamesOf(env *contracts.Envelope) contracts.QueueNames {
	if set, ok := b.registry.Load().byKey[env.TypeKey()]; ok {
		return set.names
	}
	return b.config.nameResolver(env.TypeName())
}
