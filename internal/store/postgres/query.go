package postgres

import (
	"fmt"
	"strings"
	"time"
)

// listQuery accumulates WHERE clauses and positional args for list endpoints.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func newListQuery(base string) *listQuery {
	q := &listQuery{}
	q.sb.WriteString(base)
	q.sb.WriteString(" WHERE 1=1")
	return q
}

func (q *listQuery) where(clause string, arg any) {
	q.args = append(q.args, arg)
	fmt.Fprintf(&q.sb, " AND "+clause, len(q.args))
}

func (q *listQuery) timeRange(column string, since, until *time.Time) {
	if since != nil {
		q.where(column+" >= $%d", *since)
	}
	if until != nil {
		q.where(column+" <= $%d", *until)
	}
}

func (q *listQuery) page(orderBy string, limit, offset int) {
	q.sb.WriteString(" ORDER BY " + orderBy)
	if limit > 0 {
		q.args = append(q.args, limit)
		fmt.Fprintf(&q.sb, " LIMIT $%d", len(q.args))
	}
	if offset > 0 {
		q.args = append(q.args, offset)
		fmt.Fprintf(&q.sb, " OFFSET $%d", len(q.args))
	}
}

func (q *listQuery) String() string { return q.sb.String() }
