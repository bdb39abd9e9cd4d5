// Package db provides the Postgres access interface shared by the Lambdas and
// the operator CLI.
package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/rotisserie/eris"
)

// DB defines the database operations used by the order store.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error)
	Insert(ctx context.Context, sql string, args ...any) (string, error)
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// CredentialsFunc returns database credentials with keys:
// host, port, dbname, username, password.
type CredentialsFunc func(ctx context.Context) (map[string]string, error)

// PgxDB implements DB using pgxpool.
type PgxDB struct {
	credsFn  CredentialsFunc
	maxConns int
	pool     *pgxpool.Pool
	once     sync.Once
	initErr  error
}

// New creates a new PgxDB with lazy pool initialization. Lambdas keep the
// pool small; the CLI can ask for more.
func New(credsFn CredentialsFunc, maxConns int) *PgxDB {
	if maxConns <= 0 {
		maxConns = 2
	}
	return &PgxDB{credsFn: credsFn, maxConns: maxConns}
}

func (d *PgxDB) init(ctx context.Context) error {
	d.once.Do(func() {
		creds, err := d.credsFn(ctx)
		if err != nil {
			d.initErr = eris.Wrap(err, "get db credentials")
			return
		}

		port := creds["port"]
		if port == "" {
			port = "5432"
		}
		dbname := creds["dbname"]
		if dbname == "" {
			dbname = creds["database"]
		}
		if dbname == "" {
			dbname = "postgres"
		}

		connStr := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?search_path=oit,public&pool_max_conns=%d&connect_timeout=10",
			creds["username"], creds["password"], creds["host"], port, dbname, d.maxConns,
		)

		config, err := pgxpool.ParseConfig(connStr)
		if err != nil {
			d.initErr = eris.Wrap(err, "parse pool config")
			return
		}

		// standards.embedding is a halfvec column
		config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}

		pool, err := pgxpool.NewWithConfig(ctx, config)
		if err != nil {
			d.initErr = eris.Wrap(err, "create pool")
			return
		}
		d.pool = pool
	})
	return d.initErr
}

// Close releases the pool if it was opened.
func (d *PgxDB) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

// Query executes a SQL query and returns results as a slice of column maps.
func (d *PgxDB) Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	if err := d.init(ctx); err != nil {
		return nil, err
	}

	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "query")
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	var results []map[string]any

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "scan row")
		}

		row := make(map[string]any, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "rows iteration")
	}

	return results, nil
}

// Insert executes a SQL INSERT with RETURNING id and returns the id as a string.
func (d *PgxDB) Insert(ctx context.Context, sql string, args ...any) (string, error) {
	if err := d.init(ctx); err != nil {
		return "", err
	}

	var id any
	if err := d.pool.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return "", eris.Wrap(err, "insert")
	}

	return fmt.Sprintf("%v", id), nil
}

// Exec executes a statement and returns the number of affected rows, which the
// store uses to detect lost version races.
func (d *PgxDB) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if err := d.init(ctx); err != nil {
		return 0, err
	}

	tag, err := d.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, eris.Wrap(err, "exec")
	}
	return tag.RowsAffected(), nil
}
