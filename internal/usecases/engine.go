package usecases

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"go.uber.org/zap"

	"world-indexer.backend/internal/domain/entities"
	domainerrors "world-indexer.backend/internal/domain/errors"
	"world-indexer.backend/internal/domain/repositories"
	"world-indexer.backend/internal/infrastructure/metrics"
	"world-indexer.backend/pkg/logger"
	"world-indexer.backend/pkg/utils"
)

const (
	initialBackoff = time.Second
	maxBackoff     = time.Minute
)

// EngineConfig tunes the indexing loop.
type EngineConfig struct {
	FromBlock         uint64
	PollingInterval   time.Duration
	BlocksChunkSize   uint64
	EventsChunkSize   uint64
	IndexPending      bool
	IndexRawEvents    bool
	IndexTransactions bool
	// DevProvider gates the empty-page early termination some development
	// sequencers need on pending scans.
	DevProvider bool
}

// Engine drives the indexing pipeline: it scans the world's event log in
// block ranges, folds each range through the processor and commits the
// cursor atomically with the range's writes. A failed range is rolled back
// and retried with exponential backoff; the cursor never advances past an
// uncommitted range.
type Engine struct {
	provider  repositories.ChainProvider
	storage   repositories.WorldStorage
	reader    repositories.WorldReader
	processor *EventProcessor
	world     *entities.World
	address   *felt.Felt
	cfg       EngineConfig

	cursorMu sync.Mutex
	cursor   entities.ContractCursor
	backoff  time.Duration
}

func NewEngine(provider repositories.ChainProvider, storage repositories.WorldStorage, reader repositories.WorldReader, processor *EventProcessor, world *entities.World, address *felt.Felt, cfg EngineConfig) *Engine {
	if cfg.BlocksChunkSize == 0 {
		cfg.BlocksChunkSize = 10240
	}
	if cfg.EventsChunkSize == 0 {
		cfg.EventsChunkSize = 1024
	}
	if cfg.PollingInterval == 0 {
		cfg.PollingInterval = time.Second
	}
	return &Engine{
		provider:  provider,
		storage:   storage,
		reader:    reader,
		processor: processor,
		world:     world,
		address:   address,
		cfg:       cfg,
		backoff:   initialBackoff,
	}
}

// Init verifies the world is deployed and restores the committed cursor. A
// world not yet deployed is not an error: indexing starts from an empty
// replica and picks the contract up once it appears.
func (e *Engine) Init(ctx context.Context) error {
	if _, err := e.provider.ClassHashAt(ctx, e.address); err != nil {
		if errors.Is(err, domainerrors.ErrContractNotFound) {
			logger.Warn(ctx, "world not deployed yet, starting with an empty replica",
				zap.String("address", e.world.Address))
		} else {
			return err
		}
	}

	cursors, err := e.reader.Cursors(ctx)
	if err != nil {
		return err
	}
	for _, c := range cursors {
		if c.ContractAddress == e.world.Address {
			e.setCursor(c)
			logger.Info(ctx, "resuming from committed cursor", zap.Uint64("head", c.Head))
			return nil
		}
	}

	fresh := entities.ContractCursor{
		ContractAddress: e.world.Address,
		ContractType:    entities.ContractTypeWorld,
		Head:            e.cfg.FromBlock,
	}
	e.setCursor(fresh)
	if err := e.storage.ResetCursors(ctx, []entities.ContractCursor{fresh}); err != nil {
		return err
	}
	return e.storage.Execute(ctx)
}

// Run polls until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	logger.Info(ctx, "indexing engine started",
		zap.String("world", e.world.Address), zap.Uint64("from_block", e.Cursor().Head))
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "indexing engine stopped")
			return
		case <-time.After(e.cfg.PollingInterval):
		}

		if err := e.Tick(ctx); err != nil {
			metrics.BlocksProcessed.WithLabelValues("error").Inc()
			logger.Warn(ctx, "range failed, backing off",
				zap.Duration("backoff", e.backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.backoff):
			}
			e.backoff *= 2
			if e.backoff > maxBackoff {
				e.backoff = maxBackoff
			}
			continue
		}
		e.backoff = initialBackoff
	}
}

// Tick indexes at most one block range. The whole range commits or none of
// it does.
func (e *Engine) Tick(ctx context.Context) error {
	latest, err := e.provider.BlockNumber(ctx)
	if err != nil {
		return err
	}
	metrics.ChainHead.Set(float64(latest))

	head := e.Cursor().Head
	if head < latest {
		to := head + e.cfg.BlocksChunkSize
		if to > latest {
			to = latest
		}
		if err := e.indexRange(ctx, head+1, to); err != nil {
			if rbErr := e.storage.Rollback(ctx); rbErr != nil {
				logger.Error(ctx, "rollback failed", zap.Error(rbErr))
			}
			return err
		}
		return nil
	}

	if e.cfg.IndexPending {
		if err := e.indexPending(ctx); err != nil {
			if rbErr := e.storage.Rollback(ctx); rbErr != nil {
				logger.Error(ctx, "rollback failed", zap.Error(rbErr))
			}
			return err
		}
	}
	return nil
}

func (e *Engine) indexRange(ctx context.Context, from, to uint64) error {
	events, err := e.fetchRange(ctx, from, to)
	if err != nil {
		return err
	}

	timestamps := map[uint64]uint64{}
	txns := map[string]bool{}
	for i := range events {
		ev := &events[i]
		ts, ok := timestamps[ev.BlockNumber]
		if !ok {
			ts, err = e.provider.BlockTimestamp(ctx, ev.BlockNumber)
			if err != nil {
				return err
			}
			timestamps[ev.BlockNumber] = ts
		}
		ev.BlockTimestamp = ts

		if err := e.processEvent(ctx, ev, txns); err != nil {
			return err
		}
	}

	e.cursorMu.Lock()
	e.cursor.Head = to
	e.cursor.TxnsCount += uint64(len(txns))
	if ts, ok := timestamps[to]; ok {
		e.cursor.LastBlockTimestamp = ts
	}
	e.cursor.LastPendingBlockTx = ""
	e.cursor.LastPendingBlockContractTx = ""
	cursor := e.cursor
	e.cursorMu.Unlock()
	if err := e.storage.SetHead(ctx, cursor); err != nil {
		return err
	}
	if err := e.storage.Execute(ctx); err != nil {
		return err
	}

	metrics.IndexedHead.Set(float64(to))
	metrics.BlocksProcessed.WithLabelValues("ok").Inc()
	if len(events) > 0 {
		logger.Info(ctx, "range committed", zap.Uint64("from", from), zap.Uint64("to", to),
			zap.Int("events", len(events)))
	}
	return nil
}

// fetchRange drains every page of the range, assigning each event its
// position within its transaction.
func (e *Engine) fetchRange(ctx context.Context, from, to uint64) ([]entities.WorldEvent, error) {
	filter := repositories.EventFilter{
		FromBlock: from,
		ToBlock:   to,
		Address:   e.address,
		ChunkSize: e.cfg.EventsChunkSize,
	}

	var events []entities.WorldEvent
	continuation := ""
	for {
		page, err := e.provider.Events(ctx, filter, continuation)
		if err != nil {
			return nil, err
		}
		events = append(events, page.Events...)
		if page.ContinuationToken == "" {
			break
		}
		if e.cfg.DevProvider && len(page.Events) == 0 {
			break
		}
		continuation = page.ContinuationToken
	}

	assignEventIDs(events)
	return events, nil
}

// indexPending scans the pending block, resuming after the last transaction
// already folded in a previous pass. Pending writes advance the cursor
// without moving the head; the next mined block re-scans and the id scheme
// makes replays idempotent.
func (e *Engine) indexPending(ctx context.Context) error {
	filter := repositories.EventFilter{
		Pending:   true,
		Address:   e.address,
		ChunkSize: e.cfg.EventsChunkSize,
	}

	var events []entities.WorldEvent
	continuation := ""
	for {
		page, err := e.provider.Events(ctx, filter, continuation)
		if err != nil {
			return err
		}
		events = append(events, page.Events...)
		if page.ContinuationToken == "" {
			break
		}
		if e.cfg.DevProvider && len(page.Events) == 0 {
			break
		}
		continuation = page.ContinuationToken
	}
	if len(events) == 0 {
		return nil
	}

	cursor := e.Cursor()
	for i := range events {
		events[i].BlockNumber = cursor.Head + 1
	}
	assignEventIDs(events)

	ts, err := e.provider.PendingBlockTimestamp(ctx)
	if err != nil {
		return err
	}

	// Resume after the last pending transaction of the previous pass.
	skip := cursor.LastPendingBlockTx != ""
	txns := map[string]bool{}
	processed := 0
	var lastTx string
	for i := range events {
		ev := &events[i]
		txHash := utils.FeltToHex(ev.TransactionHash)
		if skip {
			if txHash == cursor.LastPendingBlockTx {
				skip = false
			}
			continue
		}
		ev.BlockTimestamp = ts
		if err := e.processEvent(ctx, ev, txns); err != nil {
			return err
		}
		lastTx = txHash
		processed++
	}
	if processed == 0 {
		return nil
	}

	e.cursorMu.Lock()
	e.cursor.LastPendingBlockTx = lastTx
	e.cursor.LastPendingBlockContractTx = lastTx
	e.cursor.LastBlockTimestamp = ts
	cursor = e.cursor
	e.cursorMu.Unlock()
	if err := e.storage.UpdateCursors(ctx, []entities.ContractCursor{cursor}); err != nil {
		return err
	}
	return e.storage.Execute(ctx)
}

func (e *Engine) processEvent(ctx context.Context, ev *entities.WorldEvent, txns map[string]bool) error {
	txHash := utils.FeltToHex(ev.TransactionHash)
	if e.cfg.IndexTransactions && !txns[txHash] {
		tx := &entities.Transaction{
			ID:              fmt.Sprintf("0x%016x:%s", ev.BlockNumber, txHash),
			TransactionHash: txHash,
		}
		if err := e.storage.StoreTransaction(ctx, tx, ev.BlockTimestamp); err != nil {
			return err
		}
	}
	txns[txHash] = true

	if e.cfg.IndexRawEvents {
		if err := e.storage.StoreEvent(ctx, ev); err != nil {
			return err
		}
	}

	metrics.EventsProcessed.Inc()
	return e.processor.Process(ctx, ev)
}

// assignEventIDs numbers events by position within their transaction. All
// fields are fixed width so ids sort in chain order.
func assignEventIDs(events []entities.WorldEvent) {
	var lastTx string
	idx := uint32(0)
	for i := range events {
		ev := &events[i]
		txHash := utils.FeltToHex(ev.TransactionHash)
		if txHash != lastTx {
			lastTx = txHash
			idx = 0
		}
		ev.ID = entities.EventID(ev.BlockNumber, ev.TransactionHash, idx)
		idx++
	}
}

// Cursor exposes the current in-memory cursor for the status surface. It is
// read from request goroutines while the engine advances it.
func (e *Engine) Cursor() entities.ContractCursor {
	e.cursorMu.Lock()
	defer e.cursorMu.Unlock()
	return e.cursor
}

func (e *Engine) setCursor(c entities.ContractCursor) {
	e.cursorMu.Lock()
	defer e.cursorMu.Unlock()
	e.cursor = c
}
