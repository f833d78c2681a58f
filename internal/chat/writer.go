package chat

import (
	"context"
	"log/slog"
	"sync"

	"TypeChat/internal/session"
)

// persistOp is one queued write. Exactly one of save, deleteID or flushed
// is set.
type persistOp struct {
	save     *session.Session
	deleteID string
	flushed  chan struct{}
}

// writer applies persistence operations in submission order on a single
// goroutine. The queue is unbounded so callers never block on a slow store.
type writer struct {
	mirror Mirror
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []persistOp
	closed bool
	done   chan struct{}
}

func newWriter(mirror Mirror, logger *slog.Logger) *writer {
	w := &writer{
		mirror: mirror,
		logger: logger,
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

func (w *writer) run() {
	defer close(w.done)
	ctx := context.Background()

	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		op := w.queue[0]
		w.queue[0] = persistOp{}
		w.queue = w.queue[1:]
		w.mu.Unlock()

		switch {
		case op.flushed != nil:
			close(op.flushed)
		case op.save != nil:
			w.mirror.SaveSession(ctx, op.save)
		default:
			w.mirror.DeleteSession(ctx, op.deleteID)
		}
	}
}

func (w *writer) enqueue(op persistOp) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.queue = append(w.queue, op)
	w.cond.Signal()
	return true
}

// save queues snap, which must not be mutated afterwards.
func (w *writer) save(snap *session.Session) {
	if !w.enqueue(persistOp{save: snap}) {
		w.logger.Warn("dropping session write after close", "session_id", snap.ID)
	}
}

func (w *writer) delete(sessionID string) {
	if !w.enqueue(persistOp{deleteID: sessionID}) {
		w.logger.Warn("dropping session delete after close", "session_id", sessionID)
	}
}

// flush blocks until every operation queued before it has been applied.
func (w *writer) flush() {
	ch := make(chan struct{})
	if !w.enqueue(persistOp{flushed: ch}) {
		<-w.done
		return
	}
	<-ch
}

// close drains the queue and stops the goroutine
func (w *writer) close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
}
