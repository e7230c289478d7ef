// ABOUTME: Query executor serializing all access to the backend connection
// ABOUTME: Runs one statement end-to-end with busy retry and tabular results
package db

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	busyRetryDelay = 25 * time.Millisecond
	busyRetryLimit = 400
)

// Row is one result row: column name to string value. NULL columns are
// omitted from the map.
type Row map[string]string

// Result is the uniform outcome of a successfully executed statement.
type Result struct {
	Rows        []Row
	InsertID    int64
	RowsChanged int64
}

// Empty reports whether the result carries no rows. Distinct from failure:
// a failed statement returns an error, not an empty result.
func (r *Result) Empty() bool { return len(r.Rows) == 0 }

// First returns the first row, or nil.
func (r *Result) First() Row {
	if len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}

// Int reads a column as an integer; absent or malformed columns read as 0.
func (w Row) Int(col string) int64 {
	n, _ := strconv.ParseInt(w[col], 10, 64)
	return n
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

// runner executes one statement. Store.run acquires the critical section per
// statement; a transaction runner holds it across the whole transaction.
type runner interface {
	run(query string, args ...any) (*Result, error)
}

// run executes a single statement while holding the backend critical section.
func (s *Store) run(query string, args ...any) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execute(s.conn, query, args...)
}

// transact runs fn with exclusive use of the backend connection inside a
// transaction. Any error from fn rolls the whole transaction back; callers
// never observe partial writes.
func (s *Store) transact(fn func(x runner) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return ErrBackend.Wrap(err)
	}

	if err := fn(txRunner{s: s, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return ErrBackend.Wrap(err)
	}
	return nil
}

type txRunner struct {
	s  *Store
	tx *sql.Tx
}

func (t txRunner) run(query string, args ...any) (*Result, error) {
	return t.s.execute(t.tx, query, args...)
}

// execute runs one statement end-to-end against q. A transient busy signal is
// retried after a short delay rather than failing; a constraint violation is
// reported as AlreadyExists; anything else is BackendFailure. Callers must
// hold s.mu.
func (s *Store) execute(q querier, query string, args ...any) (*Result, error) {
	if s.slowdown != nil {
		s.slowdown(query)
	}
	s.log.Debug("execute", zap.String("query", query))

	for attempt := 0; ; attempt++ {
		res, err := s.executeOnce(q, query, args...)
		if err == nil {
			return res, nil
		}
		if isBusy(err) && attempt < busyRetryLimit {
			time.Sleep(busyRetryDelay)
			continue
		}
		if isConstraint(err) {
			return nil, ErrAlreadyExists.New("constraint violated: %v", err)
		}
		s.log.Debug("statement failed", zap.String("query", query), zap.Error(err))
		return nil, ErrBackend.New("statement %q failed: %v", query, err)
	}
}

func (s *Store) executeOnce(q querier, query string, args ...any) (*Result, error) {
	if !isQuery(query) {
		sqlRes, err := q.Exec(query, args...)
		if err != nil {
			return nil, err
		}
		res := &Result{}
		res.InsertID, _ = sqlRes.LastInsertId()
		res.RowsChanged, _ = sqlRes.RowsAffected()
		return res, nil
	}

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for rows.Next() {
		raw := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if raw[i].Valid {
				row[col] = raw[i].String
			}
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func isQuery(query string) bool {
	q := strings.TrimSpace(query)
	if len(q) < 6 {
		return false
	}
	return strings.EqualFold(q[:6], "SELECT")
}

func isBusy(err error) bool {
	if se, ok := err.(sqlite3.Error); ok {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func isConstraint(err error) bool {
	if se, ok := err.(sqlite3.Error); ok {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}
