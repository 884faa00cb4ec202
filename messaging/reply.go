package messaging

import "context"

// ReplyClient delivers a response directly to a queue outside the broker
type ReplyClient interface {
	SendOneWay(ctx context.Context, queue string, dto any) error
}

// ReplyClientFactory returns a client able to reach queue, or nil when the
// response should be published through the broker instead
type ReplyClientFactory func(queue string) ReplyClient

// ReplyClientFunc is a function adapter for ReplyClient
type ReplyClientFunc func(ctx context.Context, queue string, dto any) error

// SendOneWay implements ReplyClient
func (f ReplyClientFunc) SendOneWay(ctx context.Context, queue string, dto any) error {
	return f(ctx, queue, dto)
}
