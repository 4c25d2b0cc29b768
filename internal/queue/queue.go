// Package queue provides the FIFO used for pending outbound commands.
package queue

// Queue defines a first-in first-out queue.
//
// Implementations are not goroutine-safe; the owner serializes access.
type Queue[T any] interface {
	// Enqueue adds an item to the tail of the queue.
	Enqueue(item T)
	// Dequeue removes and returns the item at the head of the queue.
	// ok is false when the queue is empty.
	Dequeue() (item T, ok bool)
	// Peek returns the item at the head of the queue without removing it.
	Peek() (item T, ok bool)
	// Reset to an empty queue
	Reset()
	// IsEmpty returns true if the queue is empty, false otherwise.
	IsEmpty() bool
	// Length returns the number of items in the queue.
	Length() int
	// Items returns a copy of the queued items in head-to-tail order.
	Items() []T
}
