// Package memstore is an in-process Account Store and Payment Log with the same
// transactional guarantees as the PostgreSQL store: per-account exclusive locks taken
// in id order, buffered writes applied atomically on commit, and version checks that
// turn lost updates into transfer.ErrConflict.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/yashasviy/payments-transfer-api/models"
	"github.com/yashasviy/payments-transfer-api/transfer"
)

var (
	ErrInvalidName     = errors.New("invalid account name")
	ErrNegativeBalance = errors.New("balance must not be negative")
	ErrDuplicateName   = errors.New("account name already exists")
)

// Store keeps accounts and payments in memory. The zero value is not usable; call New.
type Store struct {
	mu            sync.RWMutex // guards everything below
	accounts      map[int64]models.Account
	names         map[string]int64
	payments      []models.Payment
	nextAccountID int64
	nextPaymentID int64
	locks         map[int64]chan struct{}
}

var _ transfer.Transactor = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts: make(map[int64]models.Account),
		names:    make(map[string]int64),
		locks:    make(map[int64]chan struct{}),
	}
}

// CreateAccount adds an account outside any transfer.
func (s *Store) CreateAccount(_ context.Context, name string, balance decimal.Decimal) (models.Account, error) {
	if !models.ValidAccountName(name) {
		return models.Account{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if balance.IsNegative() {
		return models.Account{}, ErrNegativeBalance
	}
	if !models.ValidMoneyScale(balance) {
		return models.Account{}, fmt.Errorf("balance %s: %w", balance, transfer.ErrAmountScale)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.names[name]; ok {
		return models.Account{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	s.nextAccountID++
	acc := models.Account{ID: s.nextAccountID, Name: name, Balance: balance}
	s.accounts[acc.ID] = acc
	s.names[name] = acc.ID
	s.locks[acc.ID] = make(chan struct{}, 1)
	return acc, nil
}

// Account returns the committed state of an account.
func (s *Store) Account(_ context.Context, id int64) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return models.Account{}, transfer.ErrAccountNotFound
	}
	return acc, nil
}

// Payments returns every committed payment in id order.
func (s *Store) Payments(_ context.Context) []models.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Payment, len(s.payments))
	copy(out, s.payments)
	return out
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// WithinTx runs fn in a transaction and commits if it returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, accounts transfer.AccountStore, payments transfer.PaymentLog) error) error {
	tx := &memTx{
		store:   s,
		held:    make(map[int64]chan struct{}),
		pending: make(map[int64]models.Account),
	}
	defer tx.release()

	if err := fn(ctx, tx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

// lockFor returns the row lock of an existing account. Unknown ids have none.
func (s *Store) lockFor(id int64) (chan struct{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.locks[id]
	return l, ok
}

func (s *Store) nextPayment() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPaymentID++
	return s.nextPaymentID
}

type memTx struct {
	store    *Store
	held     map[int64]chan struct{}
	pending  map[int64]models.Account
	payments []models.Payment
}

func (tx *memTx) LockForUpdate(ctx context.Context, ids ...int64) error {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, id := range sorted {
		if _, ok := tx.held[id]; ok {
			continue
		}
		l, ok := tx.store.lockFor(id)
		if !ok {
			continue
		}
		select {
		case l <- struct{}{}:
			tx.held[id] = l
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (tx *memTx) GetByID(ctx context.Context, id int64) (models.Account, error) {
	if acc, ok := tx.pending[id]; ok {
		return acc, nil
	}
	return tx.store.Account(ctx, id)
}

func (tx *memTx) SaveAll(_ context.Context, accounts ...models.Account) error {
	for _, acc := range accounts {
		if acc.Balance.IsNegative() {
			return fmt.Errorf("account %d: %w", acc.ID, ErrNegativeBalance)
		}
		if !models.ValidMoneyScale(acc.Balance) {
			return fmt.Errorf("account %d balance %s: %w", acc.ID, acc.Balance, transfer.ErrAmountScale)
		}
		tx.pending[acc.ID] = acc
	}
	return nil
}

func (tx *memTx) Append(_ context.Context, p models.Payment) (models.Payment, error) {
	if !models.ValidMoneyScale(p.Amount) {
		return models.Payment{}, fmt.Errorf("payment amount %s: %w", p.Amount, transfer.ErrAmountScale)
	}
	p.ID = tx.store.nextPayment()
	tx.payments = append(tx.payments, p)
	return p, nil
}

func (tx *memTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, acc := range tx.pending {
		current, ok := s.accounts[id]
		if !ok || current.Version != acc.Version {
			return fmt.Errorf("account %d: %w", id, transfer.ErrConflict)
		}
	}
	for id, acc := range tx.pending {
		acc.Version++
		s.accounts[id] = acc
	}
	// Ids are taken at Append, so a slower transaction can commit an older id.
	for _, p := range tx.payments {
		i := sort.Search(len(s.payments), func(i int) bool { return s.payments[i].ID > p.ID })
		s.payments = slices.Insert(s.payments, i, p)
	}
	return nil
}

func (tx *memTx) release() {
	for id, l := range tx.held {
		<-l
		delete(tx.held, id)
	}
}

// AccountsTotal sums every committed balance. Used to check conservation.
func (s *Store) AccountsTotal() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, acc := range s.accounts {
		total = total.Add(acc.Balance)
	}
	return total
}
