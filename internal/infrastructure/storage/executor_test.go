package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "world-indexer.backend/internal/domain/errors"
)

func newTestExecutor(t *testing.T) (*Executor, *Broker, func() int64) {
	t.Helper()
	db := newTestDB(t)
	broker := NewBroker()
	executor := NewExecutor(db, broker)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go executor.Run(ctx)

	count := func() int64 {
		return scanInt(t, db, `SELECT count(*) FROM entities`)
	}
	return executor, broker, count
}

func insertEntity(e *Executor, id string, updates ...Update) {
	e.Enqueue(
		`INSERT INTO entities (id, event_id, executed_at, updated_at) VALUES (?, '0x0', 'now', 'now');`,
		[]any{id}, updates...)
}

func TestExecutorCommitsOnExecute(t *testing.T) {
	executor, _, count := newTestExecutor(t)
	ctx := context.Background()

	insertEntity(executor, "0x1")
	insertEntity(executor, "0x2")
	require.NoError(t, executor.Execute(ctx))
	assert.Equal(t, int64(2), count())
}

func TestExecutorRollbackDiscards(t *testing.T) {
	executor, _, count := newTestExecutor(t)
	ctx := context.Background()

	insertEntity(executor, "0x1")
	require.NoError(t, executor.Rollback(ctx))
	require.NoError(t, executor.Execute(ctx))
	assert.Equal(t, int64(0), count())
}

func TestExecutorStatementErrorPoisonsBatch(t *testing.T) {
	executor, _, count := newTestExecutor(t)
	ctx := context.Background()

	insertEntity(executor, "0x1")
	executor.Enqueue(`INSERT INTO no_such_table (id) VALUES (?);`, []any{"0x2"})
	insertEntity(executor, "0x3")

	err := executor.Execute(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrStorage)
	assert.Equal(t, int64(0), count())

	// The poison does not outlive its batch.
	insertEntity(executor, "0x4")
	require.NoError(t, executor.Execute(ctx))
	assert.Equal(t, int64(1), count())
}

func TestExecutorPublishesAfterCommitOnly(t *testing.T) {
	executor, broker, _ := newTestExecutor(t)
	ctx := context.Background()

	updates, cancel := broker.Subscribe()
	defer cancel()

	insertEntity(executor, "0x1", Update{Kind: UpdateEntity, ID: "0x1"})
	require.NoError(t, executor.Flush(ctx))
	select {
	case u := <-updates:
		t.Fatalf("update %v published before commit", u)
	default:
	}

	require.NoError(t, executor.Execute(ctx))
	select {
	case u := <-updates:
		assert.Equal(t, "0x1", u.ID)
		assert.Equal(t, UpdateEntity, u.Kind)
	case <-time.After(time.Second):
		t.Fatal("no update after commit")
	}
}

func TestExecutorRejectsAfterShutdown(t *testing.T) {
	db := newTestDB(t)
	executor := NewExecutor(db, NewBroker())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		executor.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	err := executor.Execute(context.Background())
	assert.ErrorIs(t, err, domainerrors.ErrStorage)
}

func TestExecutorOrderingWithinBatch(t *testing.T) {
	db := newTestDB(t)
	executor := NewExecutor(db, NewBroker())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go executor.Run(ctx)

	insertEntity(executor, "0x1")
	executor.Enqueue(`UPDATE entities SET event_id = '0x9' WHERE id = ?;`, []any{"0x1"})
	require.NoError(t, executor.Execute(context.Background()))

	var eventID string
	require.NoError(t, db.Raw(`SELECT event_id FROM entities WHERE id = '0x1'`).Scan(&eventID).Error)
	assert.Equal(t, "0x9", eventID)
}
