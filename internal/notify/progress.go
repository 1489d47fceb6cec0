package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

// ProgressFuncs adapts a callback pair to domain.ProgressNotifier. Either
// callback may be nil.
type ProgressFuncs struct {
	OnOpen  func(taskID string)
	OnClose func(taskID string)
}

func (p ProgressFuncs) Notify(e domain.ProgressEvent) {
	switch e.Kind {
	case domain.ProgressOpenDialog:
		if p.OnOpen != nil {
			p.OnOpen(e.TaskID)
		}
	case domain.ProgressCloseDialog:
		if p.OnClose != nil {
			p.OnClose(e.TaskID)
		}
	}
}

// BusProgress publishes events as JSON on domain.ChannelProgress so the web
// server can forward them to browsers. Events are published one at a time in
// Notify order, so a close never overtakes the open it follows.
type BusProgress struct {
	bus     domain.SignalBus
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	queue    []domain.ProgressEvent
	draining bool
}

// NewBusProgress creates a BusProgress.
func NewBusProgress(bus domain.SignalBus, logger *slog.Logger) *BusProgress {
	return &BusProgress{
		bus:     bus,
		timeout: 2 * time.Second,
		logger:  logger.With(slog.String("component", "bus_progress")),
	}
}

// Notify queues e and returns without waiting for the publish. A single
// drain goroutine runs while the queue is non-empty.
func (b *BusProgress) Notify(e domain.ProgressEvent) {
	b.mu.Lock()
	b.queue = append(b.queue, e)
	start := !b.draining
	b.draining = true
	b.mu.Unlock()
	if start {
		go b.drain()
	}
}

func (b *BusProgress) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		e := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		b.publish(e)
	}
}

// publish failures are only logged.
func (b *BusProgress) publish(e domain.ProgressEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		b.logger.Error("encode progress event", slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.bus.Publish(ctx, domain.ChannelProgress, payload); err != nil {
		b.logger.Warn("publish progress event",
			slog.String("task_id", e.TaskID),
			slog.String("kind", string(e.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// MultiProgress fans an event out to several notifiers.
type MultiProgress []domain.ProgressNotifier

func (m MultiProgress) Notify(e domain.ProgressEvent) {
	for _, n := range m {
		if n != nil {
			n.Notify(e)
		}
	}
}

var (
	_ domain.ProgressNotifier = ProgressFuncs{}
	_ domain.ProgressNotifier = (*BusProgress)(nil)
	_ domain.ProgressNotifier = MultiProgress(nil)
)
