package transfer

import (
	"context"

	"github.com/yashasviy/payments-transfer-api/models"
)

// AccountStore reads and writes account balances inside a transaction.
type AccountStore interface {
	// LockForUpdate gives the transaction exclusive use of the given accounts until it
	// ends. Implementations lock in ascending id order and ignore unknown ids.
	LockForUpdate(ctx context.Context, ids ...int64) error

	// GetByID returns ErrAccountNotFound when no account has the id.
	GetByID(ctx context.Context, id int64) (models.Account, error)

	// SaveAll persists the balances of accounts previously read in the same
	// transaction. It returns ErrConflict if one of them changed in the meantime.
	SaveAll(ctx context.Context, accounts ...models.Account) error
}

// PaymentLog is the append-only record of completed transfers.
type PaymentLog interface {
	// Append stores p and returns it with the assigned id and timestamp.
	Append(ctx context.Context, p models.Payment) (models.Payment, error)
}

// Transactor runs fn inside one store transaction. The transaction commits iff fn
// returns nil; otherwise it is rolled back and fn's error is returned unchanged.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, accounts AccountStore, payments PaymentLog) error) error
}
