package contracts

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Options is a bitmask of per-message delivery flags
type Options int

const (
	// NotifyOneWay publishes one-way requests to the type's out queue once processed
	NotifyOneWay Options = 1 << iota
)

// Has reports whether all flags in o are set
func (opts Options) Has(o Options) bool {
	return opts&o == o
}

// MetaQueueName is the Meta key holding the queue an unrouted envelope was published to
const MetaQueueName = "QueueName"

// Envelope wraps a message body as it flows through the broker
type Envelope struct {
	ID            string            `json:"id"`
	Body          any               `json:"body"`
	ReplyTo       string            `json:"replyTo,omitempty"`
	ReplyID       string            `json:"replyId,omitempty"`
	RetryAttempts int               `json:"retryAttempts"`
	Priority      int               `json:"priority,omitempty"`
	Error         *ResponseStatus   `json:"error,omitempty"`
	Meta          map[string]string `json:"meta,omitempty"`
	Options       Options           `json:"options,omitempty"`
	TraceID       string            `json:"traceId,omitempty"`
	Tag           string            `json:"tag,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// NewEnvelope creates an envelope with a generated ID around body
func NewEnvelope(body any) *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
}

// WithReplyTo sets the queue responses should be delivered to
func (e *Envelope) WithReplyTo(queue string) *Envelope {
	e.ReplyTo = queue
	return e
}

// WithOptions sets delivery flags
func (e *Envelope) WithOptions(opts Options) *Envelope {
	e.Options |= opts
	return e
}

// SetMeta stores a side-channel tag, allocating the map on first use
func (e *Envelope) SetMeta(key, value string) {
	if e.Meta == nil {
		e.Meta = make(map[string]string)
	}
	e.Meta[key] = value
}

// GetMeta returns a side-channel tag
func (e *Envelope) GetMeta(key string) string {
	if e.Meta == nil {
		return ""
	}
	return e.Meta[key]
}

// IncrementRetry records one more failed attempt. RetryAttempts never decreases.
func (e *Envelope) IncrementRetry() int {
	e.RetryAttempts++
	return e.RetryAttempts
}

// TypeName returns the type tag of the envelope body
func (e *Envelope) TypeName() string {
	if e == nil {
		return ""
	}
	return TypeNameOf(e.Body)
}

// TypeKey returns the package-qualified identity of the envelope body's type
func (e *Envelope) TypeKey() string {
	if e == nil {
		return ""
	}
	return TypeKeyOf(e.Body)
}

// BodyAs returns the body of env as T
func BodyAs[T any](env *Envelope) (T, bool) {
	var zero T
	if env == nil {
		return zero, false
	}
	if body, ok := env.Body.(T); ok {
		return body, true
	}
	// T and *T share a type name, so either form may arrive
	if ptr, ok := env.Body.(*T); ok && ptr != nil {
		return *ptr, true
	}
	if t := reflect.TypeOf((*T)(nil)).Elem(); t.Kind() == reflect.Pointer && reflect.TypeOf(env.Body) == t.Elem() {
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(reflect.ValueOf(env.Body))
		return ptr.Interface().(T), true
	}
	return zero, false
}

// TypeNameOf returns the short type name that names v's queues. Pointer
// types are dereferenced so *Order and Order share queues.
func TypeNameOf(v any) string {
	if v == nil {
		return ""
	}
	return typeName(reflect.TypeOf(v))
}

// TypeNameFor returns the short type name of T
func TypeNameFor[T any]() string {
	return typeName(reflect.TypeOf((*T)(nil)).Elem())
}

// TypeKeyOf returns the package-qualified identity of v's type. Same-named
// types from different packages get different keys; *Order and Order do not.
func TypeKeyOf(v any) string {
	if v == nil {
		return ""
	}
	return typeKey(reflect.TypeOf(v))
}

// TypeKeyFor returns the package-qualified identity of T
func TypeKeyFor[T any]() string {
	return typeKey(reflect.TypeOf((*T)(nil)).Elem())
}

func typeKey(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() != "" && t.Name() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
