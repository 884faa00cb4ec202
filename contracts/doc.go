// Package contracts provides the message value types shared by the broker and its callers.
//
// This package defines:
//   - Envelope: the in-process message wrapper carrying body, retry count and routing hints
//   - QueueNames: the In, Priority, Dlq and Out queue names derived from a message type
//   - ResponseStatus and ErrorResponse: structured failure information
//   - RetryableError: marks processing errors as retryable or not
//
// Envelopes are never serialized by the broker itself; the JSON tags exist for
// reply clients that deliver responses outside the process.
package contracts
