// Package queue provides the blocking FIFO used for every broker queue.
//
// Items live in a ring buffer guarded by a mutex. Consumers block on a
// one-slot signal channel together with their context, so a cancelled
// context releases a waiting Take immediately.
package queue
