package messaging

import (
	"log/slog"

	"github.com/glimte/mmate-bgmq/contracts"
	"github.com/glimte/mmate-bgmq/interceptors"
)

const (
	// DefaultRetryCount allows three attempts in total
	DefaultRetryCount = 2
	// DefaultOutMaxSize bounds every out queue
	DefaultOutMaxSize = 100
	// DefaultThreadCount is the number of workers per In and Priority queue
	DefaultThreadCount = 1
)

// OutHandler observes every envelope passed to Notify
type OutHandler func(queue string, env *contracts.Envelope)

type brokerConfig struct {
	logger       *slog.Logger
	retryCount   int
	outMaxSize   int
	nameResolver contracts.NameResolver
	replyClients ReplyClientFactory
	outHandlers  []OutHandler
	interceptors []interceptors.Interceptor

	priorityQueuesWhitelist   []string
	publishResponsesWhitelist []string
	publishToOutqWhitelist    []string

	disablePriorityQueues      bool
	disablePublishingResponses bool
	disablePublishingToOutq    bool
}

func defaultBrokerConfig() brokerConfig {
	return brokerConfig{
		logger:       slog.Default(),
		retryCount:   DefaultRetryCount,
		outMaxSize:   DefaultOutMaxSize,
		nameResolver: contracts.DefaultNameResolver,
	}
}

// BrokerOption configures the Broker
type BrokerOption func(*brokerConfig)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) BrokerOption {
	return func(c *brokerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryCount sets how many times a failed message is retried before it is dead-lettered
func WithRetryCount(count int) BrokerOption {
	return func(c *brokerConfig) {
		if count >= 0 {
			c.retryCount = count
		}
	}
}

// WithOutMaxSize bounds the out queue of every type; the oldest entries are evicted first
func WithOutMaxSize(size int) BrokerOption {
	return func(c *brokerConfig) {
		if size >= 0 {
			c.outMaxSize = size
		}
	}
}

// WithQueuePrefix changes the prefix of all generated queue names
func WithQueuePrefix(prefix string) BrokerOption {
	return func(c *brokerConfig) {
		c.nameResolver = contracts.PrefixNameResolver(prefix)
	}
}

// WithNameResolver replaces queue name generation
func WithNameResolver(resolver contracts.NameResolver) BrokerOption {
	return func(c *brokerConfig) {
		if resolver != nil {
			c.nameResolver = resolver
		}
	}
}

// WithReplyClientFactory sets the factory used to deliver responses directly
func WithReplyClientFactory(factory ReplyClientFactory) BrokerOption {
	return func(c *brokerConfig) {
		c.replyClients = factory
	}
}

// WithOutHandlers adds observers invoked synchronously by Notify
func WithOutHandlers(handlers ...OutHandler) BrokerOption {
	return func(c *brokerConfig) {
		c.outHandlers = append(c.outHandlers, handlers...)
	}
}

// WithInterceptors wraps every handler's process function
func WithInterceptors(chain ...interceptors.Interceptor) BrokerOption {
	return func(c *brokerConfig) {
		c.interceptors = append(c.interceptors, chain...)
	}
}

// WithPriorityQueuesWhitelist restricts priority workers to the given type names
func WithPriorityQueuesWhitelist(typeNames ...string) BrokerOption {
	return func(c *brokerConfig) {
		c.priorityQueuesWhitelist = append([]string{}, typeNames...)
	}
}

// WithPublishResponsesWhitelist restricts default response routing to the given response type names
func WithPublishResponsesWhitelist(typeNames ...string) BrokerOption {
	return func(c *brokerConfig) {
		c.publishResponsesWhitelist = append([]string{}, typeNames...)
	}
}

// WithPublishToOutqWhitelist restricts out queue notifications to the given request type names
func WithPublishToOutqWhitelist(typeNames ...string) BrokerOption {
	return func(c *brokerConfig) {
		c.publishToOutqWhitelist = append([]string{}, typeNames...)
	}
}

// WithDisablePriorityQueues starts no priority workers at all
func WithDisablePriorityQueues() BrokerOption {
	return func(c *brokerConfig) {
		c.disablePriorityQueues = true
	}
}

// WithDisablePublishingResponses stops responses from being routed to their type's In queue
func WithDisablePublishingResponses() BrokerOption {
	return func(c *brokerConfig) {
		c.disablePublishingResponses = true
	}
}

// WithDisablePublishingToOutq stops processed one-way requests from being sent to the out queue
func WithDisablePublishingToOutq() BrokerOption {
	return func(c *brokerConfig) {
		c.disablePublishingToOutq = true
	}
}

func (c *brokerConfig) priorityEnabled(typeName string) bool {
	return !c.disablePriorityQueues && allowed(c.priorityQueuesWhitelist, typeName)
}

func (c *brokerConfig) publishResponsesEnabled(typeName string) bool {
	return !c.disablePublishingResponses && allowed(c.publishResponsesWhitelist, typeName)
}

func (c *brokerConfig) publishToOutqEnabled(typeName string) bool {
	return !c.disablePublishingToOutq && allowed(c.publishToOutqWhitelist, typeName)
}

// allowed treats a nil whitelist as allowing every type
func allowed(whitelist []string, typeName string) bool {
	if whitelist == nil {
		return true
	}
	for _, name := range whitelist {
		if name == typeName {
			return true
		}
	}
	return false
}

// HandlerOptions configures one handler registration
type HandlerOptions struct {
	ThreadCount int
	RetryCount  int
	OnError     ExceptionFunc
}

// HandlerOption configures handler registration
type HandlerOption func(*HandlerOptions)

// WithThreadCount sets the number of workers for the type's In and Priority queues
func WithThreadCount(threads int) HandlerOption {
	return func(opts *HandlerOptions) {
		opts.ThreadCount = threads
	}
}

// WithHandlerRetryCount overrides the broker retry count for one type
func WithHandlerRetryCount(count int) HandlerOption {
	return func(opts *HandlerOptions) {
		opts.RetryCount = count
	}
}

// WithExceptionHandler replaces the default retry/dead-letter policy for one type
func WithExceptionHandler(fn ExceptionFunc) HandlerOption {
	return func(opts *HandlerOptions) {
		opts.OnError = fn
	}
}
