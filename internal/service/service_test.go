package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
	"github.com/alanyoungcy/fulcrumbot/internal/task"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// memBus is an in-process SignalBus with a single ordered stream.
type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    []domain.StreamMessage
}

func newMemBus() *memBus { return &memBus{published: map[string][][]byte{}} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, domain.StreamMessage{ID: fmt.Sprintf("%d-0", len(b.stream)+1), Payload: payload})
	return nil
}

func (b *memBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.stream {
		if streamAfter(m.ID, lastID) && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func streamAfter(id, lastID string) bool {
	var a, b int
	fmt.Sscanf(id, "%d-", &a)
	fmt.Sscanf(lastID, "%d", &b)
	return a > b
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

type memTasks struct {
	mu    sync.Mutex
	snaps map[string]domain.TaskSnapshot
}

func newMemTasks() *memTasks { return &memTasks{snaps: map[string]domain.TaskSnapshot{}} }

func (m *memTasks) Upsert(_ context.Context, snap domain.TaskSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.snaps[snap.ID]; ok && (cur.Status.IsTerminal() || cur.UpdatedAt.After(snap.UpdatedAt)) {
		return nil
	}
	m.snaps[snap.ID] = snap
	return nil
}

func (m *memTasks) ClaimCreated(_ context.Context, id string, status domain.TaskStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.snaps[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if cur.Status != domain.TaskCreated {
		return false, nil
	}
	cur.Status = status
	cur.UpdatedAt = at
	m.snaps[id] = cur
	return true, nil
}

func (m *memTasks) GetByID(_ context.Context, id string) (domain.TaskSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	if !ok {
		return domain.TaskSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memTasks) ListRecent(context.Context, domain.ListOpts) ([]domain.TaskSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TaskSnapshot, 0, len(m.snaps))
	for _, s := range m.snaps {
		out = append(out, s)
	}
	return out, nil
}

func (m *memTasks) ListFinishedBefore(context.Context, time.Time) ([]domain.TaskSnapshot, error) {
	return nil, nil
}

func (m *memTasks) MarkArchived(context.Context, []string) error { return nil }

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) { return nil, nil }

type countingNotifier struct {
	mu    sync.Mutex
	snaps []domain.TaskSnapshot
}

func (n *countingNotifier) TaskOutcome(_ context.Context, snap domain.TaskSnapshot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snaps = append(n.snaps, snap)
	return nil
}

// scriptedEngine starts the task with two stages and succeeds or fails.
// beforeStart runs ahead of Start, where the real engine resolves contracts.
type scriptedEngine struct {
	mu          sync.Mutex
	fail        error
	ran         []string
	skipGas     []bool
	beforeStart func(id string)
}

func (e *scriptedEngine) Execute(_ context.Context, t *task.Task, _ common.Address, skipGas bool) error {
	e.mu.Lock()
	e.ran = append(e.ran, t.ID())
	e.skipGas = append(e.skipGas, skipGas)
	e.mu.Unlock()

	if e.beforeStart != nil {
		e.beforeStart(t.ID())
	}

	_, _ = t.Start([]string{"submit", "confirm"})
	_, _ = t.RecordTxHash("0xfeed")
	_, _ = t.Advance()
	if e.fail != nil {
		_, _ = t.Fail(e.fail.Error())
		return e.fail
	}
	_, _ = t.Succeed()
	return nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

func testRequest() domain.TradeRequest {
	return domain.NewTradeRequest(domain.TradeTypeOpen, domain.AssetETH, domain.AssetDAI, domain.AssetDAI,
		domain.PositionLong, 2, decimal.NewFromInt(10), false, 0)
}

var testAccount = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func TestTradeService_SubmitQueuesAndPersists(t *testing.T) {
	bus, store, audit := newMemBus(), newMemTasks(), &memAudit{}
	svc := NewTradeService(store, bus, audit, nil, quietLogger())

	snap, err := svc.Submit(context.Background(), testRequest(), true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap.Status != domain.TaskCreated || snap.ID == "" {
		t.Errorf("snapshot = %+v", snap)
	}
	if _, err := store.GetByID(context.Background(), snap.ID); err != nil {
		t.Errorf("not persisted: %v", err)
	}
	if len(bus.stream) != 1 {
		t.Fatalf("stream has %d entries", len(bus.stream))
	}
	var sub domain.TradeSubmission
	if err := json.Unmarshal(bus.stream[0].Payload, &sub); err != nil {
		t.Fatal(err)
	}
	if sub.TaskID != snap.ID || !sub.SkipGas || !sub.Request.Amount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("submission = %+v", sub)
	}
	if bus.count(domain.ChannelTask) != 1 {
		t.Errorf("task channel publishes = %d", bus.count(domain.ChannelTask))
	}
	if len(audit.events) != 1 || audit.events[0] != "trade.submitted" {
		t.Errorf("audit = %v", audit.events)
	}
}

func TestTradeService_SubmitRejectsInvalid(t *testing.T) {
	bus := newMemBus()
	svc := NewTradeService(nil, bus, nil, nil, quietLogger())
	req := testRequest()
	req.Leverage = 0
	if _, err := svc.Submit(context.Background(), req, false); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("err = %v", err)
	}
	if len(bus.stream) != 0 {
		t.Error("invalid request was queued")
	}
}

func TestTradeService_ObserverNotifiesOnlyTerminal(t *testing.T) {
	bus, store, audit, notifier := newMemBus(), newMemTasks(), &memAudit{}, &countingNotifier{}
	svc := NewTradeService(store, bus, audit, notifier, quietLogger())

	tk := svc.NewTask(context.Background(), "t-1", testRequest())
	_, _ = tk.Start([]string{"a", "b"})
	_, _ = tk.Advance()
	_, _ = tk.Fail("reverted by EVM")

	if len(notifier.snaps) != 1 || notifier.snaps[0].Status != domain.TaskFailed {
		t.Errorf("notifier = %+v", notifier.snaps)
	}
	stored, _ := store.GetByID(context.Background(), "t-1")
	if stored.Status != domain.TaskFailed || stored.Reason != "reverted by EVM" {
		t.Errorf("stored = %+v", stored)
	}
	if bus.count(domain.ChannelTask) != 3 {
		t.Errorf("task channel publishes = %d, want 3", bus.count(domain.ChannelTask))
	}
	if len(audit.events) != 1 || audit.events[0] != "trade.failed" {
		t.Errorf("audit = %v", audit.events)
	}
}

func TestTradeService_Cancel(t *testing.T) {
	bus, store := newMemBus(), newMemTasks()
	svc := NewTradeService(store, bus, nil, nil, quietLogger())
	ctx := context.Background()

	snap, _ := svc.Submit(ctx, testRequest(), false)
	cancelled, err := svc.Cancel(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != domain.TaskCancelled {
		t.Errorf("status = %s", cancelled.Status)
	}
	if _, err := svc.Cancel(ctx, snap.ID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("second cancel err = %v", err)
	}
	if _, err := svc.Cancel(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing cancel err = %v", err)
	}
}

func newWorkerHarness(engine *scriptedEngine, locks domain.LockManager) (*TradeWorker, *TradeService, *memBus, *memTasks) {
	bus, store := newMemBus(), newMemTasks()
	svc := NewTradeService(store, bus, nil, nil, quietLogger())
	w := NewTradeWorker(bus, locks, store, engine, svc, testAccount,
		WorkerConfig{PollInterval: 5 * time.Millisecond, LockRetry: time.Millisecond}, quietLogger())
	return w, svc, bus, store
}

func TestTradeWorker_ExecutesQueuedTrades(t *testing.T) {
	engine := &scriptedEngine{}
	w, svc, bus, store := newWorkerHarness(engine, &memLocks{held: map[string]bool{}})
	ctx := context.Background()

	first, _ := svc.Submit(ctx, testRequest(), true)
	second, _ := svc.Submit(ctx, testRequest(), false)

	msgs, _ := bus.StreamRead(ctx, domain.StreamTrades, "0", 10)
	for _, m := range msgs {
		w.handle(ctx, m)
	}

	if len(engine.ran) != 2 || engine.ran[0] != first.ID || engine.ran[1] != second.ID {
		t.Fatalf("ran = %v", engine.ran)
	}
	if !engine.skipGas[0] || engine.skipGas[1] {
		t.Errorf("skipGas = %v", engine.skipGas)
	}
	for _, id := range []string{first.ID, second.ID} {
		if s, _ := store.GetByID(ctx, id); s.Status != domain.TaskSucceeded || s.TxHash != "0xfeed" {
			t.Errorf("task %s = %+v", id, s)
		}
	}

	// Replay is ignored.
	for _, m := range msgs {
		w.handle(ctx, m)
	}
	if len(engine.ran) != 2 {
		t.Errorf("replayed entries executed: %v", engine.ran)
	}
}

func TestTradeWorker_SkipsCancelledAndClaimedTasks(t *testing.T) {
	engine := &scriptedEngine{}
	w, svc, bus, store := newWorkerHarness(engine, nil)
	ctx := context.Background()

	snap, _ := svc.Submit(ctx, testRequest(), false)
	if _, err := svc.Cancel(ctx, snap.ID); err != nil {
		t.Fatal(err)
	}
	w.handle(ctx, bus.stream[0])
	if len(engine.ran) != 0 {
		t.Errorf("cancelled task executed")
	}
	if s, _ := store.GetByID(ctx, snap.ID); s.Status != domain.TaskCancelled {
		t.Errorf("status = %s", s.Status)
	}
}

func TestTradeWorker_CancelAfterClaimIsRefused(t *testing.T) {
	engine := &scriptedEngine{}
	w, svc, bus, store := newWorkerHarness(engine, nil)
	ctx := context.Background()

	snap, _ := svc.Submit(ctx, testRequest(), false)
	var cancelErr error
	engine.beforeStart = func(id string) {
		_, cancelErr = svc.Cancel(ctx, id)
	}
	w.handle(ctx, bus.stream[0])

	if !errors.Is(cancelErr, ErrNotCancellable) {
		t.Fatalf("cancel during execution: err = %v, want ErrNotCancellable", cancelErr)
	}
	if s, _ := store.GetByID(ctx, snap.ID); s.Status != domain.TaskSucceeded {
		t.Errorf("status = %s, want succeeded", s.Status)
	}
}

func TestTradeWorker_ClaimLosesToCancel(t *testing.T) {
	engine := &scriptedEngine{}
	w, svc, bus, store := newWorkerHarness(engine, nil)
	ctx := context.Background()

	snap, _ := svc.Submit(ctx, testRequest(), false)
	if ok, err := store.ClaimCreated(ctx, snap.ID, domain.TaskCancelled, time.Now().UTC()); !ok || err != nil {
		t.Fatalf("ClaimCreated = %v, %v", ok, err)
	}
	w.handle(ctx, bus.stream[0])
	if len(engine.ran) != 0 {
		t.Error("cancelled task executed")
	}

	// A late Running snapshot must not resurrect the cancelled row.
	late := snap
	late.Status = domain.TaskRunning
	late.UpdatedAt = time.Now().UTC().Add(time.Minute)
	_ = store.Upsert(ctx, late)
	if s, _ := store.GetByID(ctx, snap.ID); s.Status != domain.TaskCancelled {
		t.Errorf("status = %s, want cancelled", s.Status)
	}
}

func TestTradeWorker_LockFailureFailsTask(t *testing.T) {
	engine := &scriptedEngine{}
	w, svc, bus, store := newWorkerHarness(engine, &memLocks{err: errors.New("redis down")})
	ctx := context.Background()

	snap, _ := svc.Submit(ctx, testRequest(), false)
	w.handle(ctx, bus.stream[0])

	if len(engine.ran) != 0 {
		t.Error("executed without wallet lock")
	}
	if s, _ := store.GetByID(ctx, snap.ID); s.Status != domain.TaskFailed {
		t.Errorf("status = %s", s.Status)
	}
}

func TestTradeWorker_WaitsForWalletLock(t *testing.T) {
	locks := &memLocks{held: map[string]bool{"wallet:" + testAccount.Hex(): true}}
	engine := &scriptedEngine{}
	w, svc, bus, _ := newWorkerHarness(engine, locks)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _ = svc.Submit(ctx, testRequest(), false)
	done := make(chan struct{})
	go func() {
		w.handle(ctx, bus.stream[0])
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	engine.mu.Lock()
	ranEarly := len(engine.ran)
	engine.mu.Unlock()
	if ranEarly != 0 {
		t.Fatal("executed while wallet locked")
	}

	locks.mu.Lock()
	delete(locks.held, "wallet:"+testAccount.Hex())
	locks.mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never acquired the released lock")
	}
	if len(engine.ran) != 1 {
		t.Errorf("ran = %v", engine.ran)
	}
}

func TestTradeWorker_RunStopsOnCancel(t *testing.T) {
	engine := &scriptedEngine{}
	w, svc, _, _ := newWorkerHarness(engine, nil)
	ctx, cancel := context.WithCancel(context.Background())

	_, _ = svc.Submit(ctx, testRequest(), false)
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		engine.mu.Lock()
		n := len(engine.ran)
		engine.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Run err = %v", err)
	}
	if len(engine.ran) != 1 {
		t.Errorf("ran = %v", engine.ran)
	}
}

func TestRunOnce(t *testing.T) {
	svc := NewTradeService(nil, nil, nil, nil, quietLogger())

	snap, err := RunOnce(context.Background(), svc, &scriptedEngine{}, testAccount, testRequest(), false)
	if err != nil || snap.Status != domain.TaskSucceeded {
		t.Errorf("RunOnce = %+v, %v", snap, err)
	}

	boom := errors.New("boom")
	snap, err = RunOnce(context.Background(), svc, &scriptedEngine{fail: boom}, testAccount, testRequest(), false)
	if !errors.Is(err, boom) || snap.Status != domain.TaskFailed {
		t.Errorf("RunOnce failure = %+v, %v", snap, err)
	}
}

func TestDedup(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	if d.Seen("a") {
		t.Error("first sighting reported as seen")
	}
	if !d.Seen("a") {
		t.Error("second sighting not detected")
	}
	now = now.Add(2 * time.Minute)
	d.Cleanup()
	if d.Len() != 0 {
		t.Errorf("Len after cleanup = %d", d.Len())
	}
	if d.Seen("a") {
		t.Error("expired id still seen")
	}
}
