package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// multipartThreshold switches uploads to the transfer manager.
const multipartThreshold = 8 * 1024 * 1024

// TaskArchiveStore is the slice of domain.TaskStore the archiver needs.
type TaskArchiveStore interface {
	ListFinishedBefore(ctx context.Context, before time.Time) ([]domain.TaskSnapshot, error)
	MarkArchived(ctx context.Context, ids []string) error
}

var _ domain.Archiver = (*TaskArchiver)(nil)

// TaskArchiver copies terminal tasks into monthly JSONL objects at
// archive/tasks/YYYY-MM.jsonl, keyed by each task's last update. Rows are
// flagged archived in the store only after the upload succeeds; they are
// never deleted here.
type TaskArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	tasks  TaskArchiveStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver wires the archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, tasks TaskArchiveStore, audit domain.AuditStore, logger *slog.Logger) *TaskArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskArchiver{
		writer: writer,
		reader: reader,
		tasks:  tasks,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTasks archives every unarchived terminal task updated before the
// cutoff and returns how many were written.
func (a *TaskArchiver) ArchiveTasks(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.tasks.ListFinishedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive tasks query: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.TaskSnapshot)
	for _, s := range snaps {
		path := archivePath("tasks", s.UpdatedAt)
		byMonth[path] = append(byMonth[path], s)
	}
	paths := make([]string, 0, len(byMonth))
	for p := range byMonth {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var total int64
	for _, path := range paths {
		group := byMonth[path]
		if err := a.appendObject(ctx, path, group); err != nil {
			return total, err
		}
		ids := make([]string, len(group))
		for i, s := range group {
			ids[i] = s.ID
		}
		if err := a.tasks.MarkArchived(ctx, ids); err != nil {
			return total, fmt.Errorf("s3blob: mark archived: %w", err)
		}
		total += int64(len(group))
		a.logger.InfoContext(ctx, "tasks archived", slog.String("path", path), slog.Int("count", len(group)))
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.tasks", map[string]any{
			"count":  total,
			"paths":  paths,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive tasks audit log: %w", err)
		}
	}
	return total, nil
}

// Run archives tasks older than retention every interval until ctx ends.
func (a *TaskArchiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := a.ArchiveTasks(ctx, time.Now().Add(-retention))
			if err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archive run complete", slog.Int64("count", n))
			}
		}
	}
}

// appendObject uploads the existing object's lines followed by records.
// Rewriting whole objects keeps repeated runs within a month additive.
func (a *TaskArchiver) appendObject(ctx context.Context, path string, records []domain.TaskSnapshot) error {
	var buf bytes.Buffer
	if a.reader != nil {
		existing, err := a.reader.Get(ctx, path)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return fmt.Errorf("s3blob: read existing archive %s: %w", path, err)
		default:
			_, copyErr := io.Copy(&buf, existing)
			existing.Close()
			if copyErr != nil {
				return fmt.Errorf("s3blob: read existing archive %s: %w", path, copyErr)
			}
			if n := buf.Len(); n > 0 && buf.Bytes()[n-1] != '\n' {
				buf.WriteByte('\n')
			}
		}
	}

	if err := writeJSONL(&buf, records); err != nil {
		return fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	if buf.Len() >= multipartThreshold {
		if err := a.writer.PutMultipart(ctx, path, &buf, MinPartSize); err != nil {
			return fmt.Errorf("s3blob: archive upload: %w", err)
		}
		return nil
	}
	if err := a.writer.Put(ctx, path, &buf, jsonlContentType); err != nil {
		return fmt.Errorf("s3blob: archive upload: %w", err)
	}
	return nil
}

// archivePath partitions archives by UTC year-month, e.g.
// archive/tasks/2025-01.jsonl.
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, at.UTC().Format("2006-01"))
}

// writeJSONL encodes one compact JSON document per line.
func writeJSONL[T any](w io.Writer, records []T) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return nil
}
