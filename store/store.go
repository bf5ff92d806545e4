// Package store persists disentangling runs in a sqlite database.
//
// A run owns its diagnostics, written through a Record, and its optimized unitary.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/SnackerBit/disoTPS/disentangle"
	"github.com/SnackerBit/disoTPS/linalg"
)

const (
	tableRuns        = "runs"
	tableDiagnostics = "diagnostics"
	tableMatrices    = "matrices"
	tableUnitary     = "unitary"

	shortTimeout = 3 * time.Second
	longTimeout  = 10 * time.Minute
)

// DB is a sqlite database of disentangling runs.
type DB struct {
	Path string

	db *sql.DB
}

// Open opens the database at dbPath, creating its tables if necessary.
func Open(dbPath string) (*DB, error) {
	db, err := newDB(dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return &DB{Path: dbPath, db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// NewRun registers a run and returns its id.
func (d *DB) NewRun(name string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), shortTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT INTO %s (name, created) VALUES (?, ?)`, tableRuns)
	res, err := d.db.ExecContext(ctx, sqlStr, name, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return -1, errors.Wrap(err, fmt.Sprintf("db %s", d.Path))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return -1, errors.Wrap(err, "")
	}
	return id, nil
}

// SaveUnitary stores the disentangling unitary of a run, replacing any previous one.
func (d *DB) SaveUnitary(run int64, u *linalg.Tensor4) error {
	ctx, cancel := context.WithTimeout(context.Background(), longTimeout)
	defer cancel()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer tx.Rollback()

	sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE run=?`, tableUnitary)
	if _, err := tx.ExecContext(ctx, sqlStr, run); err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr = fmt.Sprintf(`INSERT INTO %s (run, a, b, c, d, re, im) VALUES (?, ?, ?, ?, ?, ?, ?)`, tableUnitary)
	s := u.Shape
	for a := range s[0] {
		for b := range s[1] {
			for c := range s[2] {
				for dd := range s[3] {
					v := u.At(a, b, c, dd)
					args := []any{run, a, b, c, dd, real(v), imag(v)}
					if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
						return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
					}
				}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Unitary returns the disentangling unitary of a run.
func (d *DB) Unitary(run int64) (*linalg.Tensor4, error) {
	ctx, cancel := context.WithTimeout(context.Background(), longTimeout)
	defer cancel()

	var shape [4]int
	sqlStr := fmt.Sprintf(`SELECT MAX(a)+1, MAX(b)+1, MAX(c)+1, MAX(d)+1 FROM %s WHERE run=?`, tableUnitary)
	var ns [4]sql.NullInt64
	if err := d.db.QueryRowContext(ctx, sqlStr, run).Scan(&ns[0], &ns[1], &ns[2], &ns[3]); err != nil {
		return nil, errors.Wrap(err, "")
	}
	for i, n := range ns {
		if !n.Valid {
			return nil, errors.Errorf("no unitary for run %d", run)
		}
		shape[i] = int(n.Int64)
	}

	u := linalg.NewTensor4(shape, nil)
	sqlStr = fmt.Sprintf(`SELECT a, b, c, d, re, im FROM %s WHERE run=?`, tableUnitary)
	rows, err := d.db.QueryContext(ctx, sqlStr, run)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()
	for rows.Next() {
		var a, b, c, dd int
		var re, im float64
		if err := rows.Scan(&a, &b, &c, &dd, &re, &im); err != nil {
			return nil, errors.Wrap(err, "")
		}
		u.Set(a, b, c, dd, complex(re, im))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return u, nil
}

// Values returns the diagnostics of a run under key, in order.
func (d *DB) Values(run int64, key string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), longTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT value FROM %s WHERE run=? AND key=? ORDER BY idx`, tableDiagnostics)
	rows, err := d.db.QueryContext(ctx, sqlStr, run, key)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	values := make([]float64, 0)
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "")
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return values, nil
}

// Matrices returns the matrices of a run under key, in order.
func (d *DB) Matrices(run int64, key string) ([]*mat.CDense, error) {
	ctx, cancel := context.WithTimeout(context.Background(), longTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT idx, nrows, ncols, i, j, re, im FROM %s WHERE run=? AND key=? ORDER BY idx, i, j`, tableMatrices)
	rows, err := d.db.QueryContext(ctx, sqlStr, run, key)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	ms := make([]*mat.CDense, 0)
	for rows.Next() {
		var idx, r, c, i, j int
		var re, im float64
		if err := rows.Scan(&idx, &r, &c, &i, &j, &re, &im); err != nil {
			return nil, errors.Wrap(err, "")
		}
		for len(ms) <= idx {
			ms = append(ms, nil)
		}
		if ms[idx] == nil {
			ms[idx] = mat.NewCDense(r, c, nil)
		}
		ms[idx].Set(i, j, complex(re, im))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return ms, nil
}

func (d *DB) appendValue(run int64, key string, v float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), shortTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT INTO %[1]s (run, key, idx, value)
		SELECT ?, ?, COALESCE(MAX(idx)+1, 0), ? FROM %[1]s WHERE run=? AND key=?`, tableDiagnostics)
	args := []any{run, key, v, run, key}
	if _, err := d.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
	}
	return nil
}

func (d *DB) setValues(run int64, key string, values []float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), longTimeout)
	defer cancel()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer tx.Rollback()

	sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE run=? AND key=?`, tableDiagnostics)
	if _, err := tx.ExecContext(ctx, sqlStr, run, key); err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr = fmt.Sprintf(`INSERT INTO %s (run, key, idx, value) VALUES (?, ?, ?, ?)`, tableDiagnostics)
	for i, v := range values {
		if _, err := tx.ExecContext(ctx, sqlStr, run, key, i, v); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", i))
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func (d *DB) setMatrices(run int64, key string, ms []*mat.CDense) error {
	ctx, cancel := context.WithTimeout(context.Background(), longTimeout)
	defer cancel()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer tx.Rollback()

	sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE run=? AND key=?`, tableMatrices)
	if _, err := tx.ExecContext(ctx, sqlStr, run, key); err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr = fmt.Sprintf(`INSERT INTO %s (run, key, idx, nrows, ncols, i, j, re, im) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, tableMatrices)
	for idx, m := range ms {
		r, c := m.Dims()
		for i := range r {
			for j := range c {
				v := m.At(i, j)
				if _, err := tx.ExecContext(ctx, sqlStr, run, key, idx, r, c, i, j, real(v), imag(v)); err != nil {
					return errors.Wrap(err, fmt.Sprintf("%d %d %d", idx, i, j))
				}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Record is a disentangle.Record that writes to the diagnostics of a run.
// Its methods panic on database errors.
type Record struct {
	db    *DB
	run   int64
	level disentangle.Level
}

// Record returns the diagnostics sink of a run.
func (d *DB) Record(run int64, level disentangle.Level) *Record {
	return &Record{db: d, run: run, level: level}
}

func (r *Record) Level() disentangle.Level { return r.level }

func (r *Record) Append(key string, v float64) {
	if err := r.db.appendValue(r.run, key, v); err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
}

func (r *Record) Set(key string, values []float64) {
	if err := r.db.setValues(r.run, key, values); err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
}

func (r *Record) SetMatrices(key string, ms []*mat.CDense) {
	if err := r.db.setMatrices(r.run, key, ms); err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
}

func newDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}

	return db, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), shortTimeout)
	defer cancel()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY, name TEXT, created TEXT) STRICT`, tableRuns),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run INTEGER, key TEXT, idx INTEGER, value REAL, PRIMARY KEY (run, key, idx)) STRICT`, tableDiagnostics),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run INTEGER, key TEXT, idx INTEGER, nrows INTEGER, ncols INTEGER, i INTEGER, j INTEGER, re REAL, im REAL, PRIMARY KEY (run, key, idx, i, j)) STRICT`, tableMatrices),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run INTEGER, a INTEGER, b INTEGER, c INTEGER, d INTEGER, re REAL, im REAL, PRIMARY KEY (run, a, b, c, d)) STRICT`, tableUnitary),
	}
	for _, sqlStr := range stmts {
		if _, err := db.ExecContext(ctx, sqlStr); err != nil {
			return errors.Wrap(err, sqlStr)
		}
	}
	return nil
}
