// Package sqlxrepos implements the core repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/timnyborg/redpot-unchained-sub001/core"
)

const uniqueViolation = "23505"

func sqlxGet(ctx context.Context, exec core.DBExecutor, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, exec, dest, query, args...)
}

func sqlxSelect(ctx context.Context, exec core.DBExecutor, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, exec, dest, query, args...)
}

// namedGet binds :name parameters from arg and scans the single resulting row into dest.
func namedGet(ctx context.Context, exec core.DBExecutor, dest interface{}, query string, arg interface{}) error {
	q, args, err := exec.BindNamed(query, arg)
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, exec, dest, q, args...)
}

// isUniqueViolation reports whether err is a unique violation of constraint (any constraint when empty).
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
}

func int64s(ids []int) pq.Int64Array {
	return lo.Map(ids, func(id int, _ int) int64 { return int64(id) })
}
