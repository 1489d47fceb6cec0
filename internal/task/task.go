// Package task implements the staged progress record wrapped around a single
// trade request. A Task moves Created -> Running(stage) -> terminal and is
// never restarted; every transition yields an immutable snapshot.
package task

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

var (
	ErrAlreadyStarted = errors.New("task: already started")
	ErrNotRunning     = errors.New("task: not running")
	ErrLastStage      = errors.New("task: already at last stage")
	ErrTerminal       = errors.New("task: already in a terminal state")
	ErrTxHashSet      = errors.New("task: transaction hash already recorded")
	ErrNoStages       = errors.New("task: stage list is empty")
	ErrSubmitted      = errors.New("task: transaction already submitted")
)

// Observer is called after every successful transition with the new state.
// It runs synchronously on the goroutine driving the task.
type Observer func(domain.TaskSnapshot)

// Task is a staged execution record. It is safe for concurrent readers; only
// the processor executing it should call the mutating methods.
type Task struct {
	mu         sync.RWMutex
	id         string
	request    domain.TradeRequest
	status     domain.TaskStatus
	stages     []string
	stageIndex int
	txHash     string
	reason     string
	updatedAt  time.Time
	observers  []Observer
}

// New wraps req in a Task in the Created state.
func New(id string, req domain.TradeRequest, observers ...Observer) *Task {
	return &Task{
		id:         id,
		request:    req,
		status:     domain.TaskCreated,
		stageIndex: -1,
		updatedAt:  time.Now().UTC(),
		observers:  observers,
	}
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Request returns the wrapped trade request.
func (t *Task) Request() domain.TradeRequest { return t.request }

// Snapshot returns a copy of the current state.
func (t *Task) Snapshot() domain.TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Task) snapshotLocked() domain.TaskSnapshot {
	stages := make([]string, len(t.stages))
	copy(stages, t.stages)
	return domain.TaskSnapshot{
		ID:         t.id,
		Request:    t.request,
		Status:     t.status,
		Stages:     stages,
		StageIndex: t.stageIndex,
		TxHash:     t.txHash,
		Reason:     t.reason,
		UpdatedAt:  t.updatedAt,
	}
}

// Start records the stage list and enters Running(0).
func (t *Task) Start(stages []string) (domain.TaskSnapshot, error) {
	return t.transition(func() error {
		if t.status != domain.TaskCreated {
			return ErrAlreadyStarted
		}
		if len(stages) == 0 {
			return ErrNoStages
		}
		t.stages = append([]string(nil), stages...)
		t.stageIndex = 0
		t.status = domain.TaskRunning
		return nil
	})
}

// Advance moves to the next stage.
func (t *Task) Advance() (domain.TaskSnapshot, error) {
	return t.transition(func() error {
		if t.status != domain.TaskRunning {
			return ErrNotRunning
		}
		if t.stageIndex >= len(t.stages)-1 {
			return ErrLastStage
		}
		t.stageIndex++
		return nil
	})
}

// RecordTxHash stores the submitted transaction hash. It may be set once and
// only while running.
func (t *Task) RecordTxHash(hash string) (domain.TaskSnapshot, error) {
	return t.transition(func() error {
		if t.status != domain.TaskRunning {
			return ErrNotRunning
		}
		if t.txHash != "" {
			return ErrTxHashSet
		}
		t.txHash = hash
		return nil
	})
}

// Succeed ends a running task successfully.
func (t *Task) Succeed() (domain.TaskSnapshot, error) {
	return t.transition(func() error {
		if t.status.IsTerminal() {
			return ErrTerminal
		}
		if t.status != domain.TaskRunning {
			return ErrNotRunning
		}
		t.status = domain.TaskSucceeded
		return nil
	})
}

// Fail ends the task with reason. Precondition failures happen before Start,
// so a Created task may fail too.
func (t *Task) Fail(reason string) (domain.TaskSnapshot, error) {
	return t.transition(func() error {
		if t.status.IsTerminal() {
			return ErrTerminal
		}
		t.status = domain.TaskFailed
		t.reason = reason
		return nil
	})
}

// Cancel ends the task without executing further. Once a transaction hash
// is recorded the trade is on-chain and can no longer be cancelled.
func (t *Task) Cancel() (domain.TaskSnapshot, error) {
	return t.transition(func() error {
		if t.status.IsTerminal() {
			return ErrTerminal
		}
		if t.txHash != "" {
			return ErrSubmitted
		}
		t.status = domain.TaskCancelled
		return nil
	})
}

// transition applies fn under the lock and, on success, notifies observers
// with the resulting snapshot outside the lock.
func (t *Task) transition(fn func() error) (domain.TaskSnapshot, error) {
	t.mu.Lock()
	if err := fn(); err != nil {
		snap := t.snapshotLocked()
		t.mu.Unlock()
		return snap, fmt.Errorf("%w (task %s, status %s)", err, t.id, snap.Status)
	}
	t.updatedAt = time.Now().UTC()
	snap := t.snapshotLocked()
	observers := t.observers
	t.mu.Unlock()

	for _, obs := range observers {
		obs(snap)
	}
	return snap, nil
}
