package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/queryfabric/queryagent/internal/sql"
	"github.com/queryfabric/queryagent/internal/warehouse"
)

// GuardConfig bounds the Execution Guard's timeouts and retry behavior,
// mirroring config.WarehouseConfig/RetryConfig without importing the
// config package directly.
type GuardConfig struct {
	StatementTimeout time.Duration
	ExplainTimeout   time.Duration
	MaxRetries       int
	InitialBackoff   time.Duration
}

// Guard is the single entry point the orchestrator's execution tools call
// to run SQL against the warehouse: preflight policy check, cache lookup,
// timeout-bounded retries behind a circuit breaker, and up to two
// classifier-driven repair attempts on failure.
type Guard struct {
	executor warehouse.Executor
	cache    *ResultCache
	breaker  *gobreaker.CircuitBreaker
	cfg      GuardConfig
	logger   *slog.Logger
}

// NewGuard wires an Executor, result cache, and circuit breaker into a
// Guard. The cache and breaker are constructed by the caller (cmd/queryagent)
// so they can be shared across Guard instances built per request.
func NewGuard(executor warehouse.Executor, cache *ResultCache, breaker *gobreaker.CircuitBreaker, cfg GuardConfig, logger *slog.Logger) *Guard {
	return &Guard{executor: executor, cache: cache, breaker: breaker, cfg: cfg, logger: logger}
}

// Execute runs sqlText, repairing and retrying as needed, and always
// returns a Result rather than an error: failure is communicated via
// Result.OK/Result.Error so the orchestrator can narrate it without a type
// switch. rctx supplies the entities and aliases a repair attempt needs to
// requalify a broken identifier.
func (g *Guard) Execute(ctx context.Context, sqlText string, rctx RepairContext) Result {
	start := time.Now()
	result := Result{AttemptedSQL: sqlText}

	if err := sql.ValidateSyntax(sqlText); err != nil {
		result.Error = err.Error()
		result.ExecutionTime = time.Since(start)
		return result
	}

	if cached, ok := g.cache.Get(sqlText); ok {
		g.logger.Debug("execution cache hit", "sql_len", len(sqlText))
		return cached
	}

	current := sqlText
	repaired := false
	var repairReasons []string

	const maxRepairAttempts = 2
	for attempt := 0; ; attempt++ {
		qr, execErr := g.executeWithRetry(ctx, current)
		if execErr == nil {
			result.OK = true
			result.AttemptedSQL = current
			result.Repaired = repaired
			result.RepairReason = strings.Join(repairReasons, "; ")
			truncated, rows, cols, queryID := convertQueryResult(qr)
			result.Rows = rows
			result.Columns = cols
			result.LastQueryID = queryID
			result.Truncated = truncated
			result.ExecutionTime = time.Since(start)
			g.cache.Put(sqlText, result)
			return result
		}

		if errors.Is(execErr, ErrPolicy) || errors.Is(execErr, ErrBreakerOpen) {
			result.AttemptedSQL = current
			result.Repaired = repaired
			result.RepairReason = strings.Join(repairReasons, "; ")
			result.Error = execErr.Error()
			result.ExecutionTime = time.Since(start)
			return result
		}

		if attempt >= maxRepairAttempts {
			result.AttemptedSQL = current
			result.Repaired = repaired
			result.RepairReason = strings.Join(repairReasons, "; ")
			result.Error = execErr.Error()
			result.ExecutionTime = time.Since(start)
			return result
		}

		cls := Classify(execErr.Error())
		rewritten, reason, ok := Repair(current, cls, rctx)
		if !ok {
			result.AttemptedSQL = current
			result.Repaired = repaired
			result.RepairReason = strings.Join(repairReasons, "; ")
			result.Error = execErr.Error()
			result.ExecutionTime = time.Since(start)
			return result
		}

		g.logger.Info("repairing statement after classified failure", "kind", cls.Kind, "reason", reason)
		current = rewritten
		repaired = true
		repairReasons = append(repairReasons, reason)
	}
}

// Explain runs an EXPLAIN-shaped statement with a single attempt: no
// retries, no repair, only the preflight policy check and the circuit
// breaker.
func (g *Guard) Explain(ctx context.Context, sqlText string) (*warehouse.QueryResult, error) {
	if err := sql.ValidateSyntax(sqlText); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicy, err)
	}

	v, err := g.breaker.Execute(func() (interface{}, error) {
		return g.executor.Explain(ctx, sqlText, g.cfg.ExplainTimeout)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	return v.(*warehouse.QueryResult), nil
}

// executeWithRetry runs sqlText through the circuit breaker up to
// cfg.MaxRetries times, backing off 250*2^(k-2)ms before attempt k for
// k > 1 (so the first retry waits InitialBackoff, the next doubles it, and
// so on). A breaker rejection is never retried.
func (g *Guard) executeWithRetry(ctx context.Context, sqlText string) (*warehouse.QueryResult, error) {
	var lastErr error

	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			backoff := g.cfg.InitialBackoff * time.Duration(1<<uint(attempt-2))
			g.logger.Warn("retrying statement execution", "attempt", attempt, "backoff", backoff, "error", lastErr)
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		v, err := g.breaker.Execute(func() (interface{}, error) {
			return g.executor.Execute(ctx, sqlText, g.cfg.StatementTimeout)
		})
		if err == nil {
			return v.(*warehouse.QueryResult), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
		}

		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrExecution, lastErr)
}

// convertQueryResult adapts a warehouse.QueryResult into exec.Result
// fields, capping visible rows at 1000 and flagging truncation when the
// renderer's LIMIT 1001 caught an extra row.
func convertQueryResult(qr *warehouse.QueryResult) (truncated bool, rows []map[string]any, cols []Column, queryID string) {
	rows = qr.Rows
	if len(rows) > 1000 {
		truncated = true
		rows = rows[:1000]
	}
	cols = make([]Column, len(qr.Columns))
	for i, c := range qr.Columns {
		cols[i] = Column{Name: c.Name, Type: c.Type}
	}
	return truncated, rows, cols, qr.QueryID
}
