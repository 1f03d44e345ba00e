package storage

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	domainerrors "world-indexer.backend/internal/domain/errors"
	"world-indexer.backend/pkg/logger"
)

// queryKind discriminates executor messages.
type queryKind int

const (
	queryOther queryKind = iota
	queryExecute
	queryFlush
	queryRollback
)

// queryMessage is one unit of work for the executor. Statement messages are
// fire-and-forget; control messages carry a reply channel.
type queryMessage struct {
	kind      queryKind
	statement string
	arguments []any
	updates   []Update
	done      chan error
}

// Executor owns all write access to the database. Producers enqueue
// parameterized statements; the executor applies them in arrival order
// inside one transaction per batch. Execute commits the batch, Rollback
// discards it. A failed statement poisons the batch: the transaction is
// rolled back immediately and the error is delivered on the next control
// message.
type Executor struct {
	db     *gorm.DB
	broker *Broker

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []queryMessage
	closed bool

	tx       *gorm.DB
	pending  []Update
	batchErr error
}

func NewExecutor(db *gorm.DB, broker *Broker) *Executor {
	e := &Executor{db: db, broker: broker}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Enqueue submits one statement. It never blocks.
func (e *Executor) Enqueue(statement string, arguments []any, updates ...Update) {
	e.push(queryMessage{kind: queryOther, statement: statement, arguments: arguments, updates: updates})
}

// Execute commits the current batch and blocks until it is durable.
func (e *Executor) Execute(ctx context.Context) error {
	return e.control(ctx, queryExecute)
}

// Flush blocks until every previously enqueued statement has been applied
// to the open transaction, without committing.
func (e *Executor) Flush(ctx context.Context) error {
	return e.control(ctx, queryFlush)
}

// Rollback discards the current batch.
func (e *Executor) Rollback(ctx context.Context) error {
	return e.control(ctx, queryRollback)
}

func (e *Executor) control(ctx context.Context, kind queryKind) error {
	done := make(chan error, 1)
	e.push(queryMessage{kind: kind, done: done})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) push(msg queryMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		if msg.done != nil {
			msg.done <- domainerrors.ErrStorage
		}
		return
	}
	e.queue = append(e.queue, msg)
	e.cond.Signal()
}

// Run drains the queue until ctx is cancelled. Any open transaction is
// rolled back on exit; the cursor only advances on committed batches so a
// dropped batch is re-indexed after restart.
func (e *Executor) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		e.mu.Lock()
		e.closed = true
		e.cond.Broadcast()
		e.mu.Unlock()
	}()

	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 && e.closed {
			queue := e.queue
			e.queue = nil
			e.mu.Unlock()
			e.shutdown(queue)
			return
		}
		queue := e.queue
		e.queue = nil
		closed := e.closed
		e.mu.Unlock()

		for _, msg := range queue {
			e.handle(msg)
		}
		if closed {
			e.shutdown(nil)
			return
		}
	}
}

func (e *Executor) handle(msg queryMessage) {
	switch msg.kind {
	case queryOther:
		e.apply(msg)
	case queryFlush:
		msg.done <- e.takeBatchErr()
	case queryExecute:
		msg.done <- e.commit()
	case queryRollback:
		e.discard()
		msg.done <- nil
	}
}

func (e *Executor) apply(msg queryMessage) {
	if e.batchErr != nil {
		return
	}
	if e.tx == nil {
		e.tx = e.db.Begin()
		if e.tx.Error != nil {
			e.batchErr = domainerrors.Storage(e.tx.Error)
			e.tx = nil
			return
		}
	}
	if err := e.tx.Exec(msg.statement, msg.arguments...).Error; err != nil {
		logger.Error(context.Background(), "statement failed, batch poisoned",
			zap.String("statement", msg.statement), zap.Error(err))
		e.batchErr = domainerrors.Storage(err)
		e.tx.Rollback()
		e.tx = nil
		e.pending = nil
		return
	}
	e.pending = append(e.pending, msg.updates...)
}

func (e *Executor) commit() error {
	if err := e.takeBatchErr(); err != nil {
		return err
	}
	if e.tx == nil {
		return nil
	}
	if err := e.tx.Commit().Error; err != nil {
		e.tx = nil
		e.pending = nil
		return domainerrors.Storage(err)
	}
	e.tx = nil
	for _, u := range e.pending {
		e.broker.Publish(u)
	}
	e.pending = nil
	return nil
}

func (e *Executor) discard() {
	if e.tx != nil {
		e.tx.Rollback()
		e.tx = nil
	}
	e.pending = nil
	e.batchErr = nil
}

func (e *Executor) takeBatchErr() error {
	err := e.batchErr
	e.batchErr = nil
	return err
}

func (e *Executor) shutdown(remaining []queryMessage) {
	e.discard()
	for _, msg := range remaining {
		if msg.done != nil {
			msg.done <- domainerrors.ErrStorage
		}
	}
	logger.Info(context.Background(), "executor stopped")
}
