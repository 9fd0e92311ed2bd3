package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

const (
	DriverMySQL = "mysql"
	DriverPgx   = "pgx"
)

// Executor is implemented by both *sqlx.DB and *sqlx.Tx.
type Executor interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

type txKey struct{}

func Open(ctx context.Context, driver string, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverMySQL, DriverPgx:
	default:
		return nil, fmt.Errorf("%w: sql driver %q", commonerrors.ErrUnsupported, driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to ping db: %v", commonerrors.ErrUnavailable, err)
	}
	return db, nil
}

// Conn returns the transaction carried by ctx, or db outside of Transact.
func Conn(ctx context.Context, db *sqlx.DB) Executor {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db
}

// InTransaction reports whether ctx carries a transaction started by Transact.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return ok
}

// Transact runs fn inside one transaction; repositories reach it through Conn(ctx).
// A nested call joins the outer transaction. Any error or panic rolls back.
func Transact(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context) error) (err error) {
	if InTransaction(ctx) {
		return fn(ctx)
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", commonerrors.ErrUnavailable, err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = fn(context.WithValue(ctx, txKey{}, tx))
	if err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", commonerrors.ErrUnavailable, err)
	}
	return nil
}

// In expands the slice arguments of query and rebinds it for the connection's driver.
func In(conn Executor, query string, args ...interface{}) (string, []interface{}, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return conn.Rebind(query), args, nil
}

// Get runs a single-row query, reporting a missing row as commonerrors.ErrNotFound.
func Get(ctx context.Context, conn Executor, dest interface{}, query string, args ...interface{}) error {
	err := conn.GetContext(ctx, dest, conn.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", commonerrors.ErrNotFound, err)
	}
	return Unavailable(err)
}

// Exec runs query and returns the number of affected rows.
func Exec(ctx context.Context, conn Executor, query string, args ...interface{}) (int64, error) {
	res, err := conn.ExecContext(ctx, conn.Rebind(query), args...)
	if err != nil {
		return 0, Unavailable(err)
	}
	n, err := res.RowsAffected()
	return n, Unavailable(err)
}
