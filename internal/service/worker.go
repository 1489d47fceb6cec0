package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
	"github.com/alanyoungcy/fulcrumbot/internal/task"
)

// Executor runs a task to a terminal state. processor.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, t *task.Task, account common.Address, skipGas bool) error
}

// WorkerConfig tunes the stream consumer.
type WorkerConfig struct {
	StartID      string        // stream id to resume after; "0" replays the retained stream
	BatchSize    int           // entries per read
	PollInterval time.Duration // idle wait between empty reads
	LockTTL      time.Duration // upper bound on one trade holding the wallet
	LockRetry    time.Duration
	DedupTTL     time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.StartID == "" {
		c.StartID = "0"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 15 * time.Minute
	}
	if c.LockRetry <= 0 {
		c.LockRetry = 2 * time.Second
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = time.Hour
	}
	return c
}

// TradeWorker consumes StreamTrades and executes each submission with the
// configured wallet. Trades for one wallet are serialised through the lock
// manager so nonces never interleave across worker processes.
type TradeWorker struct {
	bus     domain.SignalBus
	locks   domain.LockManager
	tasks   domain.TaskStore
	engine  Executor
	trades  *TradeService
	account common.Address
	dedup   *Dedup
	cfg     WorkerConfig
	logger  *slog.Logger
}

// NewTradeWorker creates a TradeWorker. locks and tasks may be nil for a
// single-process deployment.
func NewTradeWorker(
	bus domain.SignalBus,
	locks domain.LockManager,
	tasks domain.TaskStore,
	engine Executor,
	trades *TradeService,
	account common.Address,
	cfg WorkerConfig,
	logger *slog.Logger,
) *TradeWorker {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &TradeWorker{
		bus:     bus,
		locks:   locks,
		tasks:   tasks,
		engine:  engine,
		trades:  trades,
		account: account,
		dedup:   NewDedup(cfg.DedupTTL),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "trade_worker")),
	}
}

// Run reads the stream until ctx is done. Trades run one at a time in
// stream order.
func (w *TradeWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "trade worker started",
		slog.String("account", w.account.Hex()),
		slog.String("start_id", w.cfg.StartID),
	)
	defer w.logger.Info("trade worker stopped")

	lastID := w.cfg.StartID
	lastCleanup := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Since(lastCleanup) > w.cfg.DedupTTL {
			w.dedup.Cleanup()
			lastCleanup = time.Now()
		}

		msgs, err := w.bus.StreamRead(ctx, domain.StreamTrades, lastID, w.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.WarnContext(ctx, "stream read failed", slog.String("error", err.Error()))
			w.idle(ctx)
			continue
		}
		if len(msgs) == 0 {
			w.idle(ctx)
			continue
		}
		for _, msg := range msgs {
			lastID = msg.ID
			w.handle(ctx, msg)
		}
	}
}

func (w *TradeWorker) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.PollInterval):
	}
}

// handle executes one stream entry. Malformed, duplicate and already-claimed
// entries are skipped.
func (w *TradeWorker) handle(ctx context.Context, msg domain.StreamMessage) {
	var sub domain.TradeSubmission
	if err := json.Unmarshal(msg.Payload, &sub); err != nil || sub.TaskID == "" {
		w.logger.ErrorContext(ctx, "malformed trade submission", slog.String("stream_id", msg.ID))
		return
	}
	log := w.logger.With(slog.String("task_id", sub.TaskID), slog.String("stream_id", msg.ID))

	if w.dedup.Seen(sub.TaskID) {
		log.DebugContext(ctx, "submission already handled")
		return
	}

	unlock, err := w.lockWallet(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.ErrorContext(ctx, "wallet lock failed", slog.String("error", err.Error()))
		t := w.trades.NewTask(ctx, sub.TaskID, sub.Request)
		_, _ = t.Fail(fmt.Sprintf("wallet lock: %v", err))
		return
	}
	defer unlock()

	if claimed, reason := w.claim(ctx, sub.TaskID); !claimed {
		log.InfoContext(ctx, "submission skipped", slog.String("reason", reason))
		return
	}

	t := w.trades.NewTask(ctx, sub.TaskID, sub.Request)
	if err := sub.Request.Validate(); err != nil {
		_, _ = t.Fail(err.Error())
		return
	}
	if err := w.engine.Execute(ctx, t, w.account, sub.SkipGas); err != nil {
		log.WarnContext(ctx, "trade did not complete", slog.String("error", err.Error()))
		return
	}
	log.InfoContext(ctx, "trade completed", slog.String("tx_hash", t.Snapshot().TxHash))
}

// claim moves the stored task from Created to Running so a concurrent
// Cancel can no longer win it. With no store every submission is claimable;
// a submission whose task row is missing is claimed as well.
func (w *TradeWorker) claim(ctx context.Context, id string) (bool, string) {
	if w.tasks == nil {
		return true, ""
	}
	ok, err := w.tasks.ClaimCreated(ctx, id, domain.TaskRunning, time.Now().UTC())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return true, ""
	case err != nil:
		return false, "task claim failed: " + err.Error()
	case ok:
		return true, ""
	}
	if snap, err := w.tasks.GetByID(ctx, id); err == nil {
		return false, "task is " + string(snap.Status)
	}
	return false, "task already claimed"
}

func (w *TradeWorker) lockWallet(ctx context.Context) (func(), error) {
	if w.locks == nil {
		return func() {}, nil
	}
	key := "wallet:" + w.account.Hex()
	for {
		unlock, err := w.locks.Acquire(ctx, key, w.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.cfg.LockRetry):
		}
	}
}

// RunOnce executes req in the calling goroutine and returns the final
// snapshot. Used by the one-shot CLI mode.
func RunOnce(ctx context.Context, trades *TradeService, engine Executor, account common.Address, req domain.TradeRequest, skipGas bool) (domain.TaskSnapshot, error) {
	t := trades.NewTask(ctx, "", req)
	if err := req.Validate(); err != nil {
		snap, _ := t.Fail(err.Error())
		return snap, err
	}
	err := engine.Execute(ctx, t, account, skipGas)
	return t.Snapshot(), err
}
