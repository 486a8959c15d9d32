package pool

import (
	"context"
	"database/sql"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// Result is the outcome of one statement.
type Result struct {
	Columns      []string
	Rows         []model.Row
	RowsAffected int64
	LastInsertID int64
}

// Statement is one step of a transaction.
type Statement struct {
	SQL  string
	Args []interface{}
}

// queryer is satisfied by *sql.Conn and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (p *Pool) timeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return p.opts.QueryTimeout
}

// ExecuteQuery runs one statement on a pooled connection and returns its rows.
// The connection is released on every path. timeout <= 0 uses the pool's query timeout.
func ExecuteQuery(ctx context.Context, p *Pool, query string, args []interface{}, timeout time.Duration) (*Result, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release(conn)

	qctx, cancel := context.WithTimeout(ctx, p.timeout(timeout))
	defer cancel()
	return runQuery(qctx, conn, query, args)
}

// ExecuteQueryInTransaction runs the statements in order inside one transaction,
// collecting one result per statement. Any failure rolls back before the error is returned.
func ExecuteQueryInTransaction(ctx context.Context, p *Pool, stmts []Statement, timeout time.Duration) ([]*Result, error) {
	if len(stmts) == 0 {
		return nil, exception.NewValidationError(moduleName, "transaction has no statements")
	}
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release(conn)

	qctx, cancel := context.WithTimeout(ctx, p.timeout(timeout))
	defer cancel()

	tx, err := conn.BeginTx(qctx, nil)
	if err != nil {
		return nil, classifyQuery(err)
	}
	results := make([]*Result, 0, len(stmts))
	for i, st := range stmts {
		res, err := runQuery(qctx, tx, st.SQL, st.Args)
		if err != nil {
			rollback(tx, i)
			return nil, err
		}
		results = append(results, res)
	}
	if err := tx.Commit(); err != nil {
		rollback(tx, len(stmts))
		return nil, classifyQuery(err)
	}
	return results, nil
}

func rollback(tx *sql.Tx, failedAt int) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logger.Errorf("pool: rollback after statement %d failed: %v", failedAt, err)
	}
}

// Exec runs a statement that returns no rows on a pooled connection.
func Exec(ctx context.Context, p *Pool, query string, args []interface{}, timeout time.Duration) (*Result, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release(conn)

	qctx, cancel := context.WithTimeout(ctx, p.timeout(timeout))
	defer cancel()
	return runExec(qctx, conn, query, args)
}

// QueryConnection runs one statement on a single-use connection.
func QueryConnection(ctx context.Context, c *Connection, query string, args []interface{}) (*Result, error) {
	qctx, cancel := context.WithTimeout(ctx, c.opts.QueryTimeout)
	defer cancel()
	return runQuery(qctx, c.conn, query, args)
}

func runExec(ctx context.Context, e execer, query string, args []interface{}) (*Result, error) {
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classifyQuery(err)
	}
	out := &Result{}
	out.RowsAffected, _ = res.RowsAffected()
	out.LastInsertID, _ = res.LastInsertId()
	return out, nil
}

func runQuery(ctx context.Context, q queryer, query string, args []interface{}) (*Result, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyQuery(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classifyQuery(err)
	}
	out := &Result{Columns: cols, Rows: []model.Row{}}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classifyQuery(err)
		}
		row := make(model.Row, len(cols))
		for i, c := range cols {
			row[c] = normalize(values[i])
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyQuery(err)
	}
	out.RowsAffected = int64(len(out.Rows))
	return out, nil
}

// normalize converts driver byte slices to strings so rows serialize as JSON text.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	default:
		return v
	}
}
