package queue

import (
	"github.com/rafaelbarros/feira/internal/backend"
	"github.com/rafaelbarros/feira/internal/store"
)

// OnSent registers a callback invoked with the server-confirmed message
// after each successful delivery. Returns an unsubscribe function.
func (q *Queue) OnSent(fn func(backend.Message)) func() {
	q.obsMu.Lock()
	id := q.nextObs
	q.nextObs++
	q.sentObs[id] = fn
	q.obsMu.Unlock()

	return func() {
		q.obsMu.Lock()
		delete(q.sentObs, id)
		q.obsMu.Unlock()
	}
}

// OnFailed registers a callback invoked when a message exhausts its
// retries. Returns an unsubscribe function.
func (q *Queue) OnFailed(fn func(store.QueuedMessage)) func() {
	q.obsMu.Lock()
	id := q.nextObs
	q.nextObs++
	q.failedObs[id] = fn
	q.obsMu.Unlock()

	return func() {
		q.obsMu.Lock()
		delete(q.failedObs, id)
		q.obsMu.Unlock()
	}
}

// Callback lists are snapshotted before invocation and called outside any
// queue lock, so a callback may safely call Enqueue or RetryFailed.
func (q *Queue) snapshotSent() []func(backend.Message) {
	q.obsMu.Lock()
	defer q.obsMu.Unlock()
	out := make([]func(backend.Message), 0, len(q.sentObs))
	for _, fn := range q.sentObs {
		out = append(out, fn)
	}
	return out
}

func (q *Queue) snapshotFailed() []func(store.QueuedMessage) {
	q.obsMu.Lock()
	defer q.obsMu.Unlock()
	out := make([]func(store.QueuedMessage), 0, len(q.failedObs))
	for _, fn := range q.failedObs {
		out = append(out, fn)
	}
	return out
}
