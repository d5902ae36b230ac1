package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgconn"
	"github.com/shopspring/decimal"

	"github.com/yashasviy/payments-transfer-api/models"
	"github.com/yashasviy/payments-transfer-api/transfer"
)

// Postgres error codes that mean "another transaction got there first".
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// ErrDuplicateName is returned by CreateAccount when the name is taken.
var ErrDuplicateName = errors.New("account name already exists")

// Store is the Postgres-backed Account Store and Payment Log.
type Store struct {
	db *sql.DB
}

var _ transfer.Transactor = (*Store)(nil)

// NewStore wraps an open connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateAccount inserts a new account. Accounts are never created by transfers.
func (s *Store) CreateAccount(ctx context.Context, name string, balance decimal.Decimal) (models.Account, error) {
	if !models.ValidAccountName(name) {
		return models.Account{}, fmt.Errorf("invalid account name %q", name)
	}
	if !models.ValidMoneyScale(balance) {
		return models.Account{}, fmt.Errorf("balance %s: %w", balance, transfer.ErrAmountScale)
	}

	acc := models.Account{Name: name, Balance: balance}
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO account (name, balance) VALUES ($1, $2) RETURNING id, version",
		name, balance).Scan(&acc.ID, &acc.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			return models.Account{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		return models.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return acc, nil
}

// Account reads the committed state of an account.
func (s *Store) Account(ctx context.Context, id int64) (models.Account, error) {
	return getAccount(ctx, s.db, id)
}

// WithinTx runs fn in a read-committed transaction. Isolation between transfers comes
// from the row locks taken by LockForUpdate and the version check in SaveAll.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, accounts transfer.AccountStore, payments transfer.PaymentLog) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}
	defer tx.Rollback() // no-op if already committed

	q := &txQueries{tx: tx}
	if err := fn(ctx, q, q); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAccount(ctx context.Context, q queryRower, id int64) (models.Account, error) {
	var acc models.Account
	err := q.QueryRowContext(ctx,
		"SELECT id, name, balance, version FROM account WHERE id = $1", id).
		Scan(&acc.ID, &acc.Name, &acc.Balance, &acc.Version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.Account{}, transfer.ErrAccountNotFound
	case err != nil:
		return models.Account{}, fmt.Errorf("select account %d: %w", id, classify(err))
	}
	return acc, nil
}

type txQueries struct {
	tx *sql.Tx
}

func (q *txQueries) LockForUpdate(ctx context.Context, ids ...int64) error {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		var locked int64
		err := q.tx.QueryRowContext(ctx, "SELECT id FROM account WHERE id = $1 FOR UPDATE", id).Scan(&locked)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lock account %d: %w", id, classify(err))
		}
	}
	return nil
}

func (q *txQueries) GetByID(ctx context.Context, id int64) (models.Account, error) {
	return getAccount(ctx, q.tx, id)
}

// SaveAll refuses values NUMERIC(18, 2) would round instead of letting Postgres round them.
func (q *txQueries) SaveAll(ctx context.Context, accounts ...models.Account) error {
	for _, acc := range accounts {
		if !models.ValidMoneyScale(acc.Balance) {
			return fmt.Errorf("account %d balance %s: %w", acc.ID, acc.Balance, transfer.ErrAmountScale)
		}
		res, err := q.tx.ExecContext(ctx,
			"UPDATE account SET balance = $1, version = version + 1 WHERE id = $2 AND version = $3",
			acc.Balance, acc.ID, acc.Version)
		if err != nil {
			return fmt.Errorf("update account %d: %w", acc.ID, classify(err))
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update account %d: %w", acc.ID, err)
		}
		if rows == 0 {
			return fmt.Errorf("account %d: %w", acc.ID, transfer.ErrConflict)
		}
	}
	return nil
}

func (q *txQueries) Append(ctx context.Context, p models.Payment) (models.Payment, error) {
	if !models.ValidMoneyScale(p.Amount) {
		return models.Payment{}, fmt.Errorf("payment amount %s: %w", p.Amount, transfer.ErrAmountScale)
	}
	err := q.tx.QueryRowContext(ctx, `
		INSERT INTO payment (sender_account_id, receiver_account_id, amount, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		p.SenderAccountID, p.ReceiverAccountID, p.Amount, p.Timestamp).Scan(&p.ID, &p.Timestamp)
	if err != nil {
		return models.Payment{}, fmt.Errorf("insert payment: %w", classify(err))
	}
	return p, nil
}

// classify tags lock and serialization failures with transfer.ErrConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %w", transfer.ErrConflict, err)
		}
	}
	return err
}
