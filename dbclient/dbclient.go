// Package dbclient executes the configured SELECT statement against the
// relational source and returns the result as a record set. It is a
// constrained pass-through: the statement runs exactly as given and only
// plain reads are allowed.
package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	// Registered drivers: sqlite3 for local sources, pgx for Postgres.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kmehring/go-dbapi-compare/config"
	"github.com/kmehring/go-dbapi-compare/models"
	"github.com/kmehring/go-dbapi-compare/progress"
)

var (
	// Keywords that must not appear in a pure read.
	forbidden = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|CREATE|ALTER|DROP|TRUNCATE|EXEC|EXECUTE|GRANT|REVOKE)\b`)

	// Coarse SELECT detection, allowing a WITH-CTE prelude.
	selectAllow = regexp.MustCompile(`(?is)^\s*(WITH\b.*?\)\s*)?SELECT\b`)

	// Statement separation is not attempted; semicolon cascades only warn.
	semicolonMulti = regexp.MustCompile(`;\s*\S`)
)

// Client reads SELECT results into record sets.
type Client struct {
	logger *slog.Logger
}

// NewClient builds a db client with an explicit logger handle.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{logger: logger}
}

// ReadSelect validates and executes the configured statement. Cancellation
// is checked before connecting and again before executing; a cancelled call
// returns an empty set and a progress notice, not an error.
func (c *Client) ReadSelect(ctx context.Context, cfg config.SQLConfig, token *progress.Token, sink *progress.Sink) (*models.RecordSet, error) {
	stmt, err := validateSQL(cfg.SQL, c.logger)
	if err != nil {
		return nil, err
	}
	if token.IsSet() {
		sink.Put("db: cancelled before start")
		return models.NewRecordSet(), nil
	}

	sink.Put("db: connecting …")
	db, err := sql.Open(driverName(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, nonZero(cfg.LoginTimeout, 15*time.Second))
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	if token.IsSet() {
		sink.Put("db: cancelled before execution")
		return models.NewRecordSet(), nil
	}

	sink.Put("db: reading …")
	queryCtx, cancel := context.WithTimeout(ctx, nonZero(cfg.QueryTimeout, 60*time.Second))
	defer cancel()

	rows, err := db.QueryContext(queryCtx, stmt)
	if err != nil {
		return nil, fmt.Errorf("db query: %w", err)
	}
	defer rows.Close()

	rs, capped, err := scanRows(rows, cfg.MaxRows)
	if err != nil {
		return nil, fmt.Errorf("db scan: %w", err)
	}
	if capped {
		sink.Putf("db: row cap reached - stopped after %d rows", cfg.MaxRows)
	}
	sink.Putf("db: %d rows read", rs.Len())
	return rs, nil
}

func driverName(driver string) string {
	if driver == "postgres" {
		return "pgx"
	}
	return driver
}

// validateSQL applies the conservative read-only guard. The statement is
// never rewritten.
func validateSQL(stmt string, logger *slog.Logger) (string, error) {
	text := strings.TrimSpace(stmt)
	if text == "" {
		return "", fmt.Errorf("empty sql statement")
	}
	if !selectAllow.MatchString(text) {
		return "", fmt.Errorf("only SELECT statements are allowed (WITH…SELECT included)")
	}
	if forbidden.MatchString(text) {
		return "", fmt.Errorf("sql contains forbidden keywords (DML/DDL/EXEC)")
	}
	if semicolonMulti.MatchString(text) && logger != nil {
		logger.Warn("sql appears to contain multiple statements", slog.String("hint", "semicolon detected"))
	}
	return text, nil
}

// scanRows reads up to maxRows rows (0 = unlimited) into a record set,
// converting driver values to the shared loose cell types.
func scanRows(rows *sql.Rows, maxRows int) (*models.RecordSet, bool, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, false, err
	}

	rs := models.NewRecordSet(columns...)
	capped := false
	for rows.Next() {
		if maxRows > 0 && rs.Len() >= maxRows {
			capped = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, false, err
		}
		row := make([]any, len(columns))
		for i, v := range values {
			row[i] = convertCell(v)
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return rs, capped, nil
}

// convertCell normalizes driver output. Byte slices are copied because
// drivers may reuse the backing buffer between Scan calls.
func convertCell(v any) any {
	switch t := v.(type) {
	case []byte:
		return append([]byte(nil), t...)
	case nil, string, int64, float64, bool, time.Time:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
