package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/snowflakedb/gosnowflake"
)

// SnowflakeExecutor is the default Executor, backed by database/sql under
// the gosnowflake driver.
type SnowflakeExecutor struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSnowflakeExecutor opens a pooled connection to the warehouse
// described by dsn. The pool itself is owned by database/sql; acquire and
// release happen per statement inside Execute/Explain.
func NewSnowflakeExecutor(dsn string, logger *slog.Logger) (*SnowflakeExecutor, error) {
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening snowflake connection: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &SnowflakeExecutor{db: db, logger: logger}, nil
}

func (e *SnowflakeExecutor) Execute(ctx context.Context, sqlText string, timeout time.Duration) (*QueryResult, error) {
	return e.run(ctx, sqlText, timeout, "query")
}

func (e *SnowflakeExecutor) Explain(ctx context.Context, sqlText string, timeout time.Duration) (*QueryResult, error) {
	return e.run(ctx, "EXPLAIN "+sqlText, timeout, "explain")
}

func (e *SnowflakeExecutor) run(ctx context.Context, sqlText string, timeout time.Duration, kind string) (*QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	// Tag the session for cost attribution in Snowflake's own query
	// history; best-effort, never fatal to the statement itself.
	if tag := sessionTagFrom(ctx); tag != "" {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER SESSION SET QUERY_TAG = '%s'", tag)); err != nil {
			e.logger.Warn("failed to set session query tag", "error", err)
		}
	}

	start := time.Now()
	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, normalizeDriverError(err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, normalizeDriverError(err)
	}
	result.ExecutionTime = time.Since(start)

	e.logger.Debug("executed statement", "kind", kind, "rows", len(result.Rows), "duration", result.ExecutionTime)
	return result, nil
}

func scanRows(rows *sql.Rows) (*QueryResult, error) {
	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	columns := make([]Column, len(colNames))
	for i, name := range colNames {
		columns[i] = Column{Name: name, Type: colTypes[i].DatabaseTypeName()}
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(colNames))
		ptrs := make([]any, len(colNames))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(colNames))
		for i, name := range colNames {
			row[name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryResult{Rows: out, Columns: columns}, nil
}

// normalizeDriverError re-wraps a gosnowflake error so its message matches
// the error surface the Execution Guard's classifier expects: "invalid
// identifier 'X'", "column X not found", "ambiguous ... column",
// "timeout"/"Statement timeout".
//
// gosnowflake's own *gosnowflake.SnowflakeError already carries Snowflake's
// native wording (e.g. "SQL compilation error: invalid identifier 'FOO'"),
// so in practice this is a pass-through; it exists as the single seam
// where a future driver swap would re-map vendor-specific phrasing.
func normalizeDriverError(err error) error {
	return err
}

func (e *SnowflakeExecutor) Close() error {
	return e.db.Close()
}

type sessionTagContextKey struct{}

// WithSessionTag attaches a query tag (e.g. "queryagent:<requestID>") to
// the context so Execute/Explain can set it on the warehouse session.
func WithSessionTag(ctx context.Context, tag string) context.Context {
	return context.WithValue(ctx, sessionTagContextKey{}, tag)
}

func sessionTagFrom(ctx context.Context) string {
	if v, ok := ctx.Value(sessionTagContextKey{}).(string); ok {
		return v
	}
	return ""
}
