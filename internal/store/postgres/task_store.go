package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

var _ domain.TaskStore = (*TaskStore)(nil)

// TaskStore keeps the latest snapshot of each task in trade_tasks.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore creates a new TaskStore backed by the given connection pool.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

const taskColumns = `id, request, status, stages, stage_index, tx_hash, reason, updated_at`

// Upsert writes snap. A snapshot older than the stored row is ignored so
// out-of-order observers cannot move a task backwards, and a terminal row is
// never rewritten.
func (s *TaskStore) Upsert(ctx context.Context, snap domain.TaskSnapshot) error {
	reqJSON, err := json.Marshal(snap.Request)
	if err != nil {
		return fmt.Errorf("postgres: marshal task request: %w", err)
	}
	stages := snap.Stages
	if stages == nil {
		stages = []string{}
	}
	stagesJSON, err := json.Marshal(stages)
	if err != nil {
		return fmt.Errorf("postgres: marshal task stages: %w", err)
	}

	const query = `
		INSERT INTO trade_tasks (
			id, request_id, trade_type, token_key, request,
			status, stages, stage_index, tx_hash, reason, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status      = EXCLUDED.status,
			stages      = EXCLUDED.stages,
			stage_index = EXCLUDED.stage_index,
			tx_hash     = EXCLUDED.tx_hash,
			reason      = EXCLUDED.reason,
			updated_at  = EXCLUDED.updated_at
		WHERE trade_tasks.updated_at <= EXCLUDED.updated_at
		  AND trade_tasks.status NOT IN ('succeeded', 'failed', 'cancelled')`

	_, err = s.pool.Exec(ctx, query,
		snap.ID,
		snap.Request.ID,
		string(snap.Request.TradeType),
		snap.Request.TokenKey().String(),
		reqJSON,
		string(snap.Status),
		stagesJSON,
		snap.StageIndex,
		snap.TxHash,
		snap.Reason,
		snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert task %s: %w", snap.ID, err)
	}
	return nil
}

// ClaimCreated is a compare-and-set on status: only one of a worker claim
// and an API cancel can win a Created row.
func (s *TaskStore) ClaimCreated(ctx context.Context, id string, status domain.TaskStatus, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trade_tasks SET status = $2, updated_at = $3 WHERE id = $1 AND status = 'created'`,
		id, string(status), at,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: claim task %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trade_tasks WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: claim task %s: %w", id, err)
	}
	if !exists {
		return false, fmt.Errorf("postgres: task %s: %w", id, domain.ErrNotFound)
	}
	return false, nil
}

// GetByID returns domain.ErrNotFound when no row exists.
func (s *TaskStore) GetByID(ctx context.Context, id string) (domain.TaskSnapshot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM trade_tasks WHERE id = $1`, id)
	snap, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TaskSnapshot{}, fmt.Errorf("postgres: task %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TaskSnapshot{}, fmt.Errorf("postgres: get task %s: %w", id, err)
	}
	return snap, nil
}

// ListRecent returns tasks ordered by last update, newest first.
func (s *TaskStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TaskSnapshot, error) {
	q := newListQuery(`SELECT ` + taskColumns + ` FROM trade_tasks`)
	if opts.Status != "" {
		q.where("status = $%d", string(opts.Status))
	}
	q.timeRange("updated_at", opts.Since, opts.Until)
	q.page("updated_at DESC", opts.Limit, opts.Offset)
	return s.query(ctx, "list recent tasks", q.String(), q.args...)
}

// ListFinishedBefore returns unarchived terminal tasks updated before the
// cutoff, oldest first.
func (s *TaskStore) ListFinishedBefore(ctx context.Context, before time.Time) ([]domain.TaskSnapshot, error) {
	const query = `SELECT ` + taskColumns + ` FROM trade_tasks
		WHERE archived_at IS NULL
		  AND status IN ('succeeded', 'failed', 'cancelled')
		  AND updated_at < $1
		ORDER BY updated_at ASC`
	return s.query(ctx, "list finished tasks", query, before)
}

// MarkArchived stamps archived_at on the given ids.
func (s *TaskStore) MarkArchived(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE trade_tasks SET archived_at = NOW() WHERE id = ANY($1)`, ids,
	); err != nil {
		return fmt.Errorf("postgres: mark %d tasks archived: %w", len(ids), err)
	}
	return nil
}

func (s *TaskStore) query(ctx context.Context, what, query string, args ...any) ([]domain.TaskSnapshot, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	defer rows.Close()

	var out []domain.TaskSnapshot
	for rows.Next() {
		snap, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: %w", what, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", what, err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (domain.TaskSnapshot, error) {
	var (
		snap       domain.TaskSnapshot
		reqJSON    []byte
		stagesJSON []byte
		status     string
	)
	if err := row.Scan(&snap.ID, &reqJSON, &status, &stagesJSON,
		&snap.StageIndex, &snap.TxHash, &snap.Reason, &snap.UpdatedAt); err != nil {
		return domain.TaskSnapshot{}, err
	}
	snap.Status = domain.TaskStatus(status)
	if err := json.Unmarshal(reqJSON, &snap.Request); err != nil {
		return domain.TaskSnapshot{}, fmt.Errorf("unmarshal request: %w", err)
	}
	if err := json.Unmarshal(stagesJSON, &snap.Stages); err != nil {
		return domain.TaskSnapshot{}, fmt.Errorf("unmarshal stages: %w", err)
	}
	snap.UpdatedAt = snap.UpdatedAt.UTC()
	return snap, nil
}
