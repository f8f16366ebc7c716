package sqlstore

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/example/classroom-attendance/internal/persistence"
)

// queries implements persistence.Queries against either a transaction or the pool.
type queries struct {
	ext     sqlx.ExtContext
	dialect dialect
}

var _ persistence.Queries = (*queries)(nil)

func (q *queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return classify(sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...))
}

func (q *queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return classify(sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...))
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
	if err != nil {
		return 0, classify(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, classify(err)
	}
	return affected, nil
}

// execOne runs a statement that must touch exactly one row.
func (q *queries) execOne(ctx context.Context, query string, args ...any) error {
	affected, err := q.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (q *queries) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := q.get(ctx, &n, query, args...); err != nil {
		return 0, err
	}
	return n, nil
}

func (q *queries) exists(ctx context.Context, query string, args ...any) (bool, error) {
	n, err := q.count(ctx, query, args...)
	return n > 0, err
}

func (q *queries) forUpdate(query string) string {
	return query + q.dialect.lockSuffix
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
