package contracts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOrder struct {
	Number int
}

func TestEnvelope(t *testing.T) {
	t.Run("NewEnvelope creates valid envelope", func(t *testing.T) {
		env := NewEnvelope(testOrder{Number: 1})

		assert.NotEmpty(t, env.ID)
		assert.NotZero(t, env.CreatedAt)
		assert.Zero(t, env.RetryAttempts)
		assert.Nil(t, env.Meta)

		_, err := uuid.Parse(env.ID)
		assert.NoError(t, err)
	})

	t.Run("IDs are unique", func(t *testing.T) {
		a := NewEnvelope(testOrder{})
		b := NewEnvelope(testOrder{})
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("IncrementRetry only grows", func(t *testing.T) {
		env := NewEnvelope(testOrder{})
		assert.Equal(t, 1, env.IncrementRetry())
		assert.Equal(t, 2, env.IncrementRetry())
		assert.Equal(t, 2, env.RetryAttempts)
	})

	t.Run("Meta is allocated lazily", func(t *testing.T) {
		env := NewEnvelope(testOrder{})
		assert.Empty(t, env.GetMeta(MetaQueueName))

		env.SetMeta(MetaQueueName, "q1")
		assert.Equal(t, "q1", env.GetMeta(MetaQueueName))
	})

	t.Run("Options", func(t *testing.T) {
		env := NewEnvelope(testOrder{}).WithOptions(NotifyOneWay).WithReplyTo("replies")
		assert.True(t, env.Options.Has(NotifyOneWay))
		assert.Equal(t, "replies", env.ReplyTo)

		var none Options
		assert.False(t, none.Has(NotifyOneWay))
	})
}

func TestTypeNames(t *testing.T) {
	assert.Equal(t, "testOrder", TypeNameOf(testOrder{}))
	assert.Equal(t, "testOrder", TypeNameOf(&testOrder{}))
	assert.Equal(t, "testOrder", TypeNameFor[testOrder]())
	assert.Equal(t, "testOrder", TypeNameFor[*testOrder]())
	assert.Equal(t, "string", TypeNameOf("x"))
	assert.Empty(t, TypeNameOf(nil))

	env := NewEnvelope(&testOrder{Number: 7})
	assert.Equal(t, "testOrder", env.TypeName())

	var nilEnv *Envelope
	assert.Empty(t, nilEnv.TypeName())
	assert.Empty(t, nilEnv.TypeKey())
}

func TestTypeKeys(t *testing.T) {
	const key = "github.com/glimte/mmate-bgmq/contracts.testOrder"

	assert.Equal(t, key, TypeKeyOf(testOrder{}))
	assert.Equal(t, key, TypeKeyOf(&testOrder{}))
	assert.Equal(t, key, TypeKeyFor[*testOrder]())
	assert.Equal(t, key, NewEnvelope(testOrder{}).TypeKey())
	assert.Equal(t, "string", TypeKeyOf("x"))
	assert.Equal(t, "map[string]interface {}", TypeKeyFor[map[string]any]())
	assert.Empty(t, TypeKeyOf(nil))
}

func TestBodyAs(t *testing.T) {
	env := NewEnvelope(testOrder{Number: 3})

	order, ok := BodyAs[testOrder](env)
	require.True(t, ok)
	assert.Equal(t, 3, order.Number)

	ptr, ok := BodyAs[*testOrder](env)
	require.True(t, ok)
	assert.Equal(t, 3, ptr.Number)
	ptr.Number = 5
	assert.Equal(t, testOrder{Number: 3}, env.Body, "the body is copied, not aliased")

	_, ok = BodyAs[*testOrder](NewEnvelope("not an order"))
	assert.False(t, ok)

	_, ok = BodyAs[testOrder](nil)
	assert.False(t, ok)

	order, ok = BodyAs[testOrder](NewEnvelope(&testOrder{Number: 4}))
	require.True(t, ok)
	assert.Equal(t, 4, order.Number)
}

func TestQueueNames(t *testing.T) {
	names := NewQueueNames("Order")

	assert.Equal(t, "mq:Order.inq", names.In)
	assert.Equal(t, "mq:Order.priorityq", names.Priority)
	assert.Equal(t, "mq:Order.dlq", names.Dlq)
	assert.Equal(t, "mq:Order.outq", names.Out)
	assert.Len(t, names.All(), 4)
	assert.True(t, names.Contains("mq:Order.dlq"))
	assert.False(t, names.Contains("mq:Other.inq"))

	custom := PrefixNameResolver("site1:")("Order")
	assert.Equal(t, "site1:Order.inq", custom.In)

	assert.Equal(t, NewQueueNames("testOrder"), QueueNamesFor[*testOrder]())
}

type codedError struct{}

func (codedError) Error() string     { return "boom" }
func (codedError) ErrorCode() string { return "E_BOOM" }

func TestResponseStatus(t *testing.T) {
	t.Run("uses error type name as code", func(t *testing.T) {
		status := NewResponseStatus(fmt.Errorf("wrapped: %w", &ResponseStatus{ErrorCode: "Inner", Message: "bad"}))
		assert.Equal(t, "Inner", status.ErrorCode)
		assert.Equal(t, "bad", status.Message)

		status = NewResponseStatus(errors.New("plain"))
		assert.Equal(t, "errorString", status.ErrorCode)
		assert.Equal(t, "plain", status.Message)
	})

	t.Run("honors ErrorCode method", func(t *testing.T) {
		status := NewResponseStatus(codedError{})
		assert.Equal(t, "E_BOOM", status.ErrorCode)
		assert.Equal(t, "E_BOOM: boom", status.Error())
	})

	t.Run("nil error", func(t *testing.T) {
		assert.Nil(t, NewResponseStatus(nil))
	})

	t.Run("ErrorResponse", func(t *testing.T) {
		resp := NewErrorResponse("Order", errors.New("failed"))
		assert.Equal(t, "Order", resp.RequestType)
		assert.Equal(t, "errorString: failed", resp.Error())
	})
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("transient")))

	err := NonRetryable(errors.New("invalid order"))
	assert.False(t, IsRetryable(err))
	assert.False(t, IsRetryable(fmt.Errorf("handler: %w", err)))
	assert.Equal(t, "invalid order", err.Error())

	assert.True(t, IsRetryable(RetryableError{Err: errors.New("x"), Retryable: true}))
	assert.Nil(t, NonRetryable(nil))
}
