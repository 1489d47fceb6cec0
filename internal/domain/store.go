package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	// Status filters task listings; Event filters audit listings.
	Status TaskStatus
	Event  string
}

// TaskStore keeps the latest snapshot of every task.
type TaskStore interface {
	// Upsert never overwrites a row that is already terminal.
	Upsert(ctx context.Context, snap TaskSnapshot) error
	// ClaimCreated atomically moves a Created task to status. It reports
	// false when the task has already left Created and returns ErrNotFound
	// when there is no such task.
	ClaimCreated(ctx context.Context, id string, status TaskStatus, at time.Time) (bool, error)
	GetByID(ctx context.Context, id string) (TaskSnapshot, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]TaskSnapshot, error)
	// ListFinishedBefore returns terminal tasks last updated before the cutoff.
	ListFinishedBefore(ctx context.Context, before time.Time) ([]TaskSnapshot, error)
	// MarkArchived flags tasks so later ListFinishedBefore calls skip them.
	MarkArchived(ctx context.Context, ids []string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
