package manifest

import (
	"context"
	"database/sql"
)

// RawExecForTest runs a statement directly against the database.
func (s *Store) RawExecForTest(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}
