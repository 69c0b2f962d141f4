package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX は*sql.DBと*sql.Txに共通するクエリ実行インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transactor は複数のリポジトリ操作を1つのトランザクションで実行する。
type Transactor interface {
	// WithinTx はfnをトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
	// ctxが既にトランザクションを保持している場合は外側のトランザクションに参加する。
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// PostgresTransactor は*sql.DBを使用したTransactor。
type PostgresTransactor struct {
	db *sql.DB
}

// NewPostgresTransactor はPostgresTransactorを生成する。
func NewPostgresTransactor(db *sql.DB) *PostgresTransactor {
	return &PostgresTransactor{db: db}
}

// WithinTx はfnをトランザクション内で実行する。
func (t *PostgresTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withinTx(ctx, t.db, func(ctx context.Context, _ DBTX) error {
		return fn(ctx)
	})
}

// withinTx はctxのトランザクションに参加するか、新たに開始してfnを実行する。
func withinTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, q DBTX) error) error {
	if tx, ok := txFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// conn はctxにトランザクションがあればそれを、なければdbを返す。
func conn(ctx context.Context, db *sql.DB) DBTX {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return db
}

// compile-time interface check
var _ Transactor = (*PostgresTransactor)(nil)
