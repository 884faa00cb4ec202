package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/glimte/mmate-bgmq/contracts"
	"github.com/glimte/mmate-bgmq/interceptors"
)

// HandlerFunc processes one message of type T. A nil result means no response;
// any other value is routed as a response. Returning an error, or a result that
// is itself an error, takes the failure path.
type HandlerFunc[T any] func(ctx context.Context, env *contracts.Envelope, msg T) (any, error)

// ExceptionFunc replaces the default retry/dead-letter policy of a handler.
// The envelope has already been counted as failed when it is called.
type ExceptionFunc func(ctx context.Context, env *contracts.Envelope, err error)

// Handler runs the process function of one message type and decides where the
// outcome goes. All workers of a type share a single Handler.
type Handler struct {
	typeName   string
	names      contracts.QueueNames
	process    interceptors.MessageHandler
	onError    ExceptionFunc
	retryCount int

	client *Client
	config *brokerConfig
	logger *slog.Logger

	processed        atomic.Int64
	failed           atomic.Int64
	retries          atomic.Int64
	normalReceived   atomic.Int64
	priorityReceived atomic.Int64
	lastProcessed    atomic.Int64
}

func newHandler(typeName string, names contracts.QueueNames, process interceptors.MessageHandler,
	opts HandlerOptions, config *brokerConfig, client *Client) *Handler {
	if len(config.interceptors) > 0 {
		process = interceptors.NewInterceptorChain(config.interceptors...).Wrap(process)
	}

	return &Handler{
		typeName:   typeName,
		names:      names,
		process:    process,
		onError:    opts.OnError,
		retryCount: opts.RetryCount,
		client:     client,
		config:     config,
		logger:     config.logger.With("messageType", typeName),
	}
}

// TypeName returns the message type handled
func (h *Handler) TypeName() string {
	return h.typeName
}

// Process handles one envelope taken from queueName. It never panics and
// never returns an error: every outcome is routed through the Client.
func (h *Handler) Process(ctx context.Context, queueName string, env *contracts.Envelope) {
	handled := false
	defer func() {
		h.lastProcessed.Store(time.Now().UnixNano())
		h.countReceived(queueName)
		if !handled {
			h.client.Ack(env)
		}
	}()

	result, err := h.invoke(ctx, env)
	if err == nil {
		if resultErr, ok := result.(error); ok && resultErr != nil {
			result, err = nil, resultErr
		}
	}

	if err != nil {
		handled = h.fail(ctx, env, err)
		return
	}

	h.processed.Add(1)
	h.succeed(ctx, env, result)
}

// GetStats returns a snapshot of the handler counters
func (h *Handler) GetStats() HandlerStats {
	stats := HandlerStats{
		Name:                          h.typeName,
		TotalMessagesProcessed:        h.processed.Load(),
		TotalMessagesFailed:           h.failed.Load(),
		TotalRetries:                  h.retries.Load(),
		TotalNormalMessagesReceived:   h.normalReceived.Load(),
		TotalPriorityMessagesReceived: h.priorityReceived.Load(),
	}
	if nanos := h.lastProcessed.Load(); nanos != 0 {
		last := time.Unix(0, nanos).UTC()
		stats.LastMessageProcessed = &last
	}
	return stats
}

func (h *Handler) invoke(ctx context.Context, env *contracts.Envelope) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.process.Handle(ctx, env)
}

// fail reports whether the envelope's disposition was decided
func (h *Handler) fail(ctx context.Context, env *contracts.Envelope, err error) (handled bool) {
	h.failed.Add(1)
	h.logger.Error("message processing failed",
		"messageId", env.ID,
		"retryAttempts", env.RetryAttempts,
		"error", err,
	)

	if env.ReplyTo != "" {
		h.deliver(ctx, env.ReplyTo, contracts.NewErrorResponse(h.typeName, err), env)
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("exception handler panicked", "messageId", env.ID, "panic", r)
		}
	}()

	if h.onError != nil {
		h.onError(ctx, env, err)
		return false
	}

	requeue := contracts.IsRetryable(err) && env.RetryAttempts < h.retryCount
	env.Error = contracts.NewResponseStatus(err)
	if requeue {
		env.IncrementRetry()
		h.retries.Add(1)
	}

	if nakErr := h.client.Nak(env, requeue, err); nakErr != nil {
		h.logger.Error("failed to nak message", "messageId", env.ID, "requeue", requeue, "error", nakErr)
	}
	return true
}

func (h *Handler) succeed(ctx context.Context, env *contracts.Envelope, result any) {
	if result == nil {
		if env.ReplyTo == "" && env.Options.Has(contracts.NotifyOneWay) && h.config.publishToOutqEnabled(h.typeName) {
			if err := h.client.Notify(h.names.Out, env); err != nil {
				h.logger.Error("failed to notify out queue", "messageId", env.ID, "queue", h.names.Out, "error", err)
			}
		}
		return
	}

	destination := env.ReplyTo
	if destination == "" {
		body := result
		if response, ok := result.(*contracts.Envelope); ok {
			body = response.Body
		}
		responseType := contracts.TypeNameOf(body)
		if !isStructLike(body) || !h.config.publishResponsesEnabled(responseType) {
			return
		}
		destination = h.config.nameResolver(responseType).In
	}

	h.deliver(ctx, destination, result, env)
}

// deliver sends dto to queueName through a reply client when one serves the
// queue, publishing it through the broker otherwise or on failure
func (h *Handler) deliver(ctx context.Context, queueName string, dto any, request *contracts.Envelope) {
	if h.config.replyClients != nil {
		if client := h.config.replyClients(queueName); client != nil {
			err := client.SendOneWay(ctx, queueName, dto)
			if err == nil {
				return
			}
			h.logger.Error("reply client failed, publishing response instead",
				"messageId", request.ID,
				"queue", queueName,
				"error", err,
			)
		}
	}

	response, ok := dto.(*contracts.Envelope)
	if !ok || response == nil {
		response = contracts.NewEnvelope(dto)
	}
	if response.ReplyID == "" {
		response.ReplyID = request.ID
	}
	if response.TraceID == "" {
		response.TraceID = request.TraceID
	}

	if err := h.client.Publish(queueName, response); err != nil {
		h.logger.Error("failed to publish response", "messageId", request.ID, "queue", queueName, "error", err)
	}
}

func (h *Handler) countReceived(queueName string) {
	if queueName == h.names.Priority {
		h.priorityReceived.Add(1)
		return
	}
	h.normalReceived.Add(1)
}

// isStructLike reports whether v is a struct or a pointer to one. Only those
// are routed to their own type's In queue by default.
func isStructLike(v any) bool {
	t := reflect.TypeOf(v)
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}
