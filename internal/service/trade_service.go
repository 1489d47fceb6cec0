package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
	"github.com/alanyoungcy/fulcrumbot/internal/task"
)

// OutcomeNotifier receives terminal task snapshots.
type OutcomeNotifier interface {
	TaskOutcome(ctx context.Context, snap domain.TaskSnapshot) error
}

// TradeService accepts trade requests, queues them for workers and records
// every task transition. Each dependency except the logger may be nil; the
// service then skips that side effect.
type TradeService struct {
	tasks    domain.TaskStore
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier OutcomeNotifier
	logger   *slog.Logger
}

// NewTradeService creates a TradeService.
func NewTradeService(
	tasks domain.TaskStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier OutcomeNotifier,
	logger *slog.Logger,
) *TradeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TradeService{
		tasks:    tasks,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "trade_service")),
	}
}

// Submit validates req, persists a Created snapshot and appends the request
// to the trade stream for a worker to pick up.
func (s *TradeService) Submit(ctx context.Context, req domain.TradeRequest, skipGas bool) (domain.TaskSnapshot, error) {
	if err := req.Validate(); err != nil {
		return domain.TaskSnapshot{}, fmt.Errorf("trade_service: %w", err)
	}
	if s.bus == nil {
		return domain.TaskSnapshot{}, fmt.Errorf("trade_service: no signal bus configured for queued trades")
	}

	t := task.New(uuid.NewString(), req)
	snap := t.Snapshot()
	if s.tasks != nil {
		if err := s.tasks.Upsert(ctx, snap); err != nil {
			return domain.TaskSnapshot{}, fmt.Errorf("trade_service: persist task: %w", err)
		}
	}

	payload, err := json.Marshal(domain.TradeSubmission{
		TaskID:      snap.ID,
		Request:     req,
		SkipGas:     skipGas,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.TaskSnapshot{}, fmt.Errorf("trade_service: marshal submission: %w", err)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamTrades, payload); err != nil {
		return domain.TaskSnapshot{}, fmt.Errorf("trade_service: enqueue: %w", err)
	}

	s.record(ctx, "trade.submitted", map[string]any{
		"task_id":  snap.ID,
		"key":      req.TokenKey().String(),
		"type":     string(req.TradeType),
		"amount":   req.Amount.String(),
		"skip_gas": skipGas,
	})
	s.logger.InfoContext(ctx, "trade submitted",
		slog.String("task_id", snap.ID),
		slog.String("key", req.TokenKey().String()),
		slog.String("amount", req.Amount.String()),
	)
	s.publish(ctx, snap)
	return snap, nil
}

// NewTask wraps req in a Task whose transitions flow through Observe.
func (s *TradeService) NewTask(ctx context.Context, id string, req domain.TradeRequest) *task.Task {
	if id == "" {
		id = uuid.NewString()
	}
	return task.New(id, req, s.Observer(ctx))
}

// Observer returns a task.Observer bound to ctx. Side-effect failures are
// logged; they never interrupt the trade.
func (s *TradeService) Observer(ctx context.Context) task.Observer {
	// the execution ctx may be cancelled mid-trade; the record must still land
	ctx = context.WithoutCancel(ctx)
	return func(snap domain.TaskSnapshot) {
		s.Observe(ctx, snap)
	}
}

// Observe persists snap, publishes it on ChannelTask and, for terminal
// states, writes the audit entry and alerts the notifier.
func (s *TradeService) Observe(ctx context.Context, snap domain.TaskSnapshot) {
	if s.tasks != nil {
		if err := s.tasks.Upsert(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "persist task snapshot failed",
				slog.String("task_id", snap.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.publish(ctx, snap)

	if !snap.Status.IsTerminal() {
		return
	}
	s.record(ctx, "trade."+string(snap.Status), map[string]any{
		"task_id": snap.ID,
		"stage":   snap.CurrentStage(),
		"tx_hash": snap.TxHash,
		"reason":  snap.Reason,
	})
	if s.notifier != nil {
		if err := s.notifier.TaskOutcome(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "task outcome notification failed",
				slog.String("task_id", snap.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ErrNotCancellable is returned when Cancel targets a task a worker has
// already started or finished.
var ErrNotCancellable = errors.New("trade_service: task is no longer queued")

// Cancel ends a queued task before any worker claims it. The store decides
// the race with a worker: whichever moves the row out of Created first wins.
func (s *TradeService) Cancel(ctx context.Context, id string) (domain.TaskSnapshot, error) {
	stored, err := s.Get(ctx, id)
	if err != nil {
		return domain.TaskSnapshot{}, err
	}
	if stored.Status != domain.TaskCreated {
		return stored, fmt.Errorf("%w (status %s)", ErrNotCancellable, stored.Status)
	}
	ok, err := s.tasks.ClaimCreated(ctx, id, domain.TaskCancelled, time.Now().UTC())
	if err != nil {
		return stored, fmt.Errorf("trade_service: cancel %s: %w", id, err)
	}
	if !ok {
		if latest, err := s.Get(ctx, id); err == nil {
			stored = latest
		}
		return stored, fmt.Errorf("%w (status %s)", ErrNotCancellable, stored.Status)
	}
	snap, err := s.NewTask(ctx, stored.ID, stored.Request).Cancel()
	if err != nil {
		return stored, fmt.Errorf("trade_service: cancel %s: %w", id, err)
	}
	return snap, nil
}

// Get returns the stored snapshot for id.
func (s *TradeService) Get(ctx context.Context, id string) (domain.TaskSnapshot, error) {
	if s.tasks == nil {
		return domain.TaskSnapshot{}, fmt.Errorf("trade_service: get %s: %w", id, domain.ErrNotFound)
	}
	snap, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return domain.TaskSnapshot{}, fmt.Errorf("trade_service: get %s: %w", id, err)
	}
	return snap, nil
}

// List returns recent tasks.
func (s *TradeService) List(ctx context.Context, opts domain.ListOpts) ([]domain.TaskSnapshot, error) {
	if s.tasks == nil {
		return nil, nil
	}
	snaps, err := s.tasks.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list: %w", err)
	}
	return snaps, nil
}

func (s *TradeService) publish(ctx context.Context, snap domain.TaskSnapshot) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal task snapshot failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelTask, payload); err != nil {
		s.logger.WarnContext(ctx, "publish task snapshot failed",
			slog.String("task_id", snap.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *TradeService) record(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
