package publish

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tractkit/internal/config"
	"tractkit/internal/services"
)

// pgConn is the subset of *pgx.Conn used here.
type pgConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type connectFunc func(ctx context.Context, dsn string) (pgConn, error)

func connectPGX(ctx context.Context, dsn string) (pgConn, error) {
	return pgx.Connect(ctx, dsn)
}

var exportColumns = []string{"run_id", "report_date", "grp", "subject", "tract", "measure", "mean", "std", "count"}

// PostgresExporter replaces the rows of a report date in a PostgreSQL table.
type PostgresExporter struct {
	dsn     string
	table   string
	connect connectFunc
}

// NewPostgresExporter builds an exporter for the configured database.
func NewPostgresExporter(cfg config.Database) *PostgresExporter {
	return &PostgresExporter{dsn: cfg.DSN, table: cfg.Table, connect: connectPGX}
}

// Export writes every row of report. Rows previously exported for the same
// report date are replaced in one transaction, so reruns on one day do not
// duplicate data and a failed copy leaves the earlier rows in place.
func (e *PostgresExporter) Export(ctx context.Context, report Report) (int64, error) {
	conn, err := e.connect(ctx, e.dsn)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "publish", "postgres", "connect", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "publish", "postgres", "begin", err)
	}
	// no-op once committed
	defer func() { _ = tx.Rollback(ctx) }()

	table := pgx.Identifier{e.table}
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run_id TEXT NOT NULL,
		report_date DATE NOT NULL,
		grp TEXT NOT NULL,
		subject TEXT NOT NULL,
		tract TEXT NOT NULL,
		measure TEXT NOT NULL,
		mean TEXT NOT NULL,
		std TEXT NOT NULL,
		count TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, table.Sanitize())
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, services.Wrap(services.ErrTransient, "publish", "postgres", "create table", err)
	}

	date := report.Date.Format("2006-01-02")
	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE report_date = $1", table.Sanitize()), date); err != nil {
		return 0, services.Wrap(services.ErrTransient, "publish", "postgres", "replace rows", err)
	}

	rows := make([][]any, 0, len(report.Rows))
	for _, row := range report.Rows {
		rows = append(rows, []any{report.RunID, date, row.Group, row.Subject, row.Tract, row.Measure, row.Mean, row.Std, row.Count})
	}
	n, err := tx.CopyFrom(ctx, table, exportColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "publish", "postgres", "copy rows", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, services.Wrap(services.ErrTransient, "publish", "postgres", "commit", err)
	}
	return n, nil
}

// Check reports whether the database accepts connections.
func (e *PostgresExporter) Check(ctx context.Context) error {
	conn, err := e.connect(ctx, e.dsn)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(ctx) }()
	return conn.Ping(ctx)
}
