package contracts

import "fmt"

// Queue suffixes appended to a message type name
const (
	SuffixIn       = "inq"
	SuffixPriority = "priorityq"
	SuffixDlq      = "dlq"
	SuffixOut      = "outq"
)

// DefaultQueuePrefix is prepended to every generated queue name
const DefaultQueuePrefix = "mq:"

// QueueNames holds the four canonical queues of one message type
type QueueNames struct {
	In       string
	Priority string
	Dlq      string
	Out      string
}

// NameResolver produces the queue names for a message type name
type NameResolver func(typeName string) QueueNames

// DefaultNameResolver resolves names with DefaultQueuePrefix
var DefaultNameResolver = PrefixNameResolver(DefaultQueuePrefix)

// PrefixNameResolver resolves names as <prefix><type>.<suffix>
func PrefixNameResolver(prefix string) NameResolver {
	return func(typeName string) QueueNames {
		return QueueNames{
			In:       fmt.Sprintf("%s%s.%s", prefix, typeName, SuffixIn),
			Priority: fmt.Sprintf("%s%s.%s", prefix, typeName, SuffixPriority),
			Dlq:      fmt.Sprintf("%s%s.%s", prefix, typeName, SuffixDlq),
			Out:      fmt.Sprintf("%s%s.%s", prefix, typeName, SuffixOut),
		}
	}
}

// NewQueueNames resolves the default queue names of a type name
func NewQueueNames(typeName string) QueueNames {
	return DefaultNameResolver(typeName)
}

// QueueNamesFor resolves the default queue names of T
func QueueNamesFor[T any]() QueueNames {
	return NewQueueNames(TypeNameFor[T]())
}

// All returns the four names in In, Priority, Dlq, Out order
func (q QueueNames) All() []string {
	return []string{q.In, q.Priority, q.Dlq, q.Out}
}

// Contains reports whether name is one of the four queues
func (q QueueNames) Contains(name string) bool {
	switch name {
	case q.In, q.Priority, q.Dlq, q.Out:
		return true
	}
	return false
}
