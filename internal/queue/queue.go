// Package queue implements the durable delivery queue behind the messaging
// facade. Messages are persisted to the outbox before any network attempt,
// drained in batches with escalating backoff on failure, and either
// confirmed into the sent table or parked as failed for manual retry.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rafaelbarros/feira/internal/backend"
	"github.com/rafaelbarros/feira/internal/bus"
	"github.com/rafaelbarros/feira/internal/config"
	"github.com/rafaelbarros/feira/internal/netmon"
	"github.com/rafaelbarros/feira/internal/store"
	"go.uber.org/zap"
)

// Queue owns enqueueing, delivery attempts, retry bookkeeping, and
// completion notification. Construct one per session with New; there is no
// package-level instance.
type Queue struct {
	db     *store.DB
	sender backend.MessageSender
	mon    netmon.Monitor
	bus    *bus.Bus
	cfg    config.Queue
	logger *zap.Logger

	// Single-flight guard: only one processing pass at a time. A trigger
	// arriving mid-pass is a no-op; the next tick picks up leftovers.
	processing atomic.Bool

	// stateMu serializes Trigger's goroutine spawn against Stop, so no
	// pass can start once Stop has begun waiting.
	stateMu sync.Mutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}

	obsMu     sync.Mutex
	sentObs   map[int]func(backend.Message)
	failedObs map[int]func(store.QueuedMessage)
	nextObs   int
}

// New creates a delivery queue over the given store and send collaborator.
// Call Start to begin background processing.
func New(db *store.DB, sender backend.MessageSender, mon netmon.Monitor, b *bus.Bus, cfg config.Queue, logger *zap.Logger) *Queue {
	return &Queue{
		db:        db,
		sender:    sender,
		mon:       mon,
		bus:       b,
		cfg:       cfg,
		logger:    logger,
		timers:    make(map[*time.Timer]struct{}),
		sentObs:   make(map[int]func(backend.Message)),
		failedObs: make(map[int]func(store.QueuedMessage)),
	}
}

// Start begins the periodic processor and the reachability listener. An
// immediate pass recovers any backlog persisted by a previous run.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.Tick())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.Trigger()
			case <-q.ctx.Done():
				return
			}
		}
	}()

	ch, unsub := q.mon.Subscribe()
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer unsub()
		for {
			select {
			case online := <-ch:
				if online {
					q.logger.Info("network online, draining outbox")
					q.Trigger()
				}
			case <-q.ctx.Done():
				return
			}
		}
	}()

	q.Trigger()
}

// Stop cancels background processing and waits for the in-flight pass.
// Idempotent.
func (q *Queue) Stop() {
	q.stateMu.Lock()
	if q.cancel == nil || q.stopped {
		q.stateMu.Unlock()
		return
	}
	q.stopped = true
	q.cancel()
	q.stateMu.Unlock()

	q.timersMu.Lock()
	for t := range q.timers {
		t.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	q.timersMu.Unlock()
	q.wg.Wait()
}

// Enqueue persists a message for delivery and returns its client id.
// If the payload carries no client id one is generated. Returns
// immediately; delivery happens in the background.
func (q *Queue) Enqueue(p store.MessagePayload) (string, error) {
	if p.ClientID == "" {
		p.ClientID = uuid.NewString()
	}
	qm := &store.QueuedMessage{
		Payload:    p,
		Status:     store.StatusPending,
		EnqueuedAt: time.Now().UnixMilli(),
	}
	if err := q.db.PutQueued(qm); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	if q.mon.Online() {
		q.Trigger()
	}
	return p.ClientID, nil
}

// Trigger requests a processing pass. No-op if one is already running or
// the queue is stopped.
func (q *Queue) Trigger() {
	q.stateMu.Lock()
	if q.ctx == nil || q.ctx.Err() != nil || q.stopped {
		q.stateMu.Unlock()
		return
	}
	if !q.processing.CompareAndSwap(false, true) {
		q.stateMu.Unlock()
		return
	}
	// Add inside the lock: Stop cannot reach Wait between the stopped
	// check and the Add.
	q.wg.Add(1)
	q.stateMu.Unlock()

	go func() {
		defer q.wg.Done()
		defer q.processing.Store(false)
		if q.ctx.Err() != nil {
			return
		}
		q.process(q.ctx)
	}()
}

// RetryFailed puts every failed message back in line with a fresh attempt
// budget and kicks processing. Returns how many messages were reset.
func (q *Queue) RetryFailed() (int, error) {
	n, err := q.db.ResetFailed()
	if err != nil {
		return 0, fmt.Errorf("retry failed: %w", err)
	}
	if n > 0 {
		q.logger.Info("failed messages reset for retry", zap.Int("count", n))
		q.Trigger()
	}
	return n, nil
}

// PendingCount returns the number of messages awaiting delivery.
func (q *Queue) PendingCount() (int, error) {
	return q.db.CountOutbox(store.StatusPending)
}

// FailedCount returns the number of messages that exhausted their retries.
func (q *Queue) FailedCount() (int, error) {
	return q.db.CountOutbox(store.StatusFailed)
}

// process runs one delivery pass: read pending, oldest first, attempt a
// bounded batch concurrently, then schedule a follow-up if work remains.
func (q *Queue) process(ctx context.Context) {
	if !q.mon.Online() {
		return
	}

	pending, err := q.db.PendingOutbox()
	if err != nil {
		q.logger.Error("failed to read outbox", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].EnqueuedAt < pending[j].EnqueuedAt
	})

	batch := pending
	if len(batch) > q.cfg.BatchSize {
		batch = batch[:q.cfg.BatchSize]
	}

	// Attempts are initiated in FIFO order but run concurrently, so one
	// slow send does not stall the rest of the batch. Completion order is
	// unspecified; reconciliation matches by client id.
	var wg sync.WaitGroup
	for i := range batch {
		entry := batch[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.attempt(ctx, entry)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}
	if n, err := q.db.CountOutbox(store.StatusPending); err == nil && n > 0 {
		q.later(q.cfg.DrainDelay())
	}
}

func (q *Queue) attempt(ctx context.Context, entry store.QueuedMessage) {
	clientID := entry.Payload.ClientID

	// Persist the attempt before touching the network, so a crash mid-send
	// cannot lose the bookkeeping.
	updated, err := q.db.MarkSending(clientID)
	if err != nil {
		q.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_id", clientID))
		return
	}

	confirmed, err := q.sender.SendMessage(ctx, updated.Payload)
	if err != nil {
		q.handleFailure(updated, err)
		return
	}

	if err := q.db.DeleteQueued(clientID); err != nil {
		q.logger.Error("failed to remove delivered message from outbox", zap.Error(err), zap.String("client_id", clientID))
	}
	if err := q.db.PutSent(&store.SentMessage{
		ID:          confirmed.ID,
		ClientID:    clientID,
		ChatID:      confirmed.ChatID,
		SenderID:    confirmed.SenderID,
		Content:     confirmed.Content,
		Attachments: confirmed.Attachments,
		IsRead:      confirmed.IsRead,
		CreatedAt:   confirmed.CreatedAt.UnixMilli(),
	}); err != nil {
		q.logger.Error("failed to record sent message", zap.Error(err), zap.String("server_id", confirmed.ID))
	}

	q.logger.Info("message delivered",
		zap.String("client_id", clientID),
		zap.String("server_id", confirmed.ID),
		zap.Int("attempts", updated.Attempts))

	for _, cb := range q.snapshotSent() {
		cb(*confirmed)
	}
	q.bus.Publish(bus.Event{Kind: bus.KindMessageSent, Timestamp: time.Now(), Payload: *confirmed})
}

func (q *Queue) handleFailure(entry *store.QueuedMessage, sendErr error) {
	clientID := entry.Payload.ClientID

	if entry.Attempts >= q.cfg.MaxRetries {
		if err := q.db.SetQueuedStatus(clientID, store.StatusFailed); err != nil {
			q.logger.Error("failed to mark message failed", zap.Error(err), zap.String("client_id", clientID))
			return
		}
		entry.Status = store.StatusFailed
		q.logger.Error("message exhausted retries",
			zap.Error(sendErr),
			zap.String("client_id", clientID),
			zap.Int("attempts", entry.Attempts))

		for _, cb := range q.snapshotFailed() {
			cb(*entry)
		}
		q.bus.Publish(bus.Event{Kind: bus.KindMessageFailed, Timestamp: time.Now(), Payload: *entry})
		return
	}

	if err := q.db.SetQueuedStatus(clientID, store.StatusPending); err != nil {
		q.logger.Error("failed to requeue message", zap.Error(err), zap.String("client_id", clientID))
		return
	}
	delay := q.backoffDelay(entry.Attempts)
	q.logger.Warn("send failed, will retry",
		zap.Error(sendErr),
		zap.String("client_id", clientID),
		zap.Int("attempts", entry.Attempts),
		zap.Duration("retry_in", delay))
	q.later(delay)
}

// backoffDelay returns the delay before the next attempt, indexed by how
// many attempts have been made, capping at the last schedule entry.
func (q *Queue) backoffDelay(attempts int) time.Duration {
	delays := q.cfg.RetryDelays()
	if len(delays) == 0 {
		return 0
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}

// later schedules a processing trigger after d. Timers are tracked so Stop
// can cancel them.
func (q *Queue) later(d time.Duration) {
	if q.ctx == nil || q.ctx.Err() != nil {
		return
	}
	q.timersMu.Lock()
	defer q.timersMu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		q.timersMu.Lock()
		delete(q.timers, t)
		q.timersMu.Unlock()
		q.Trigger()
	})
	q.timers[t] = struct{}{}
}
