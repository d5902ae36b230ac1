// Package transfer moves funds between two accounts and records the movement
// as a single atomic unit.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yashasviy/payments-transfer-api/models"
)

// Recorder observes the outcome of every Execute call.
type Recorder interface {
	ObserveTransfer(outcome string, elapsed time.Duration)
}

// OutcomeSuccess is the outcome label of a committed transfer. Failures use Kind.Code().
const OutcomeSuccess = "SUCCESS"

// Engine executes transfers against a transactional store.
type Engine struct {
	store    Transactor
	logger   *zap.Logger
	now      func() time.Time
	recorder Recorder
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the source of payment timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRecorder registers r to observe transfer outcomes.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine returns an Engine committing through store.
func NewEngine(store Transactor, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute moves amount from senderID to receiverID. On failure the returned error is
// always a *Error and nothing has been written.
//
// Checks run in a fixed order: amount sign and scale, sender existence, sender funds, receiver
// existence. The receiver is only looked up once the sender is known to cover amount.
func (e *Engine) Execute(ctx context.Context, amount decimal.Decimal, senderID, receiverID int64) (models.Receipt, error) {
	start := time.Now()
	log := e.logger.With(
		zap.Int64("sender_id", senderID),
		zap.Int64("receiver_id", receiverID),
		zap.String("amount", amount.String()),
	)

	receipt, err := e.execute(ctx, amount, senderID, receiverID)
	if err != nil {
		var te *Error
		if !errors.As(err, &te) {
			te = newPersistenceFailure(err)
		}
		if te.IsBusiness() {
			log.Warn("transfer rejected", zap.String("code", te.Code()), zap.String("reason", te.Message))
		} else {
			log.Error("transfer failed", zap.Error(te.Err))
		}
		e.observe(te.Code(), start)
		return models.Receipt{}, te
	}

	log.Info("transfer committed", zap.Int64("payment_id", receipt.TransactionID))
	e.observe(OutcomeSuccess, start)
	return receipt, nil
}

func (e *Engine) execute(ctx context.Context, amount decimal.Decimal, senderID, receiverID int64) (models.Receipt, error) {
	if amount.IsNegative() {
		return models.Receipt{}, &Error{Kind: KindZeroOrNegativeAmount, Message: "Amount can't be less than 0"}
	}
	if !models.ValidMoneyScale(amount) {
		return models.Receipt{}, &Error{
			Kind:    KindAmountScale,
			Message: fmt.Sprintf("Amount can't have more than %d fractional digits", models.MoneyScale),
			Err:     ErrAmountScale,
		}
	}

	var payment models.Payment
	err := e.store.WithinTx(ctx, func(ctx context.Context, accounts AccountStore, payments PaymentLog) error {
		if err := accounts.LockForUpdate(ctx, senderID, receiverID); err != nil {
			return err
		}

		sender, err := accounts.GetByID(ctx, senderID)
		if errors.Is(err, ErrAccountNotFound) {
			return newNotFound(RoleSender, senderID)
		}
		if err != nil {
			return err
		}

		if amount.GreaterThan(sender.Balance) {
			return &Error{Kind: KindInsufficientFunds, Message: "Sender balance is not enough"}
		}

		receiver, err := accounts.GetByID(ctx, receiverID)
		if errors.Is(err, ErrAccountNotFound) {
			return newNotFound(RoleReceiver, receiverID)
		}
		if err != nil {
			return err
		}

		// A self-transfer touches one row; debit and credit cancel out.
		touched := []models.Account{sender}
		if senderID != receiverID {
			sender.Balance = sender.Balance.Sub(amount)
			receiver.Balance = receiver.Balance.Add(amount)
			touched = []models.Account{sender, receiver}
		}

		payment, err = payments.Append(ctx, models.Payment{
			SenderAccountID:   senderID,
			ReceiverAccountID: receiverID,
			Amount:            amount,
			Timestamp:         e.now(),
		})
		if err != nil {
			return err
		}

		return accounts.SaveAll(ctx, touched...)
	})
	if err != nil {
		return models.Receipt{}, err
	}

	return models.Receipt{TransactionID: payment.ID, Timestamp: payment.Timestamp}, nil
}

func (e *Engine) observe(outcome string, start time.Time) {
	if e.recorder != nil {
		e.recorder.ObserveTransfer(outcome, time.Since(start))
	}
}
