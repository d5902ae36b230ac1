package transfer

import (
	"errors"
	"fmt"
)

// Sentinels reported by AccountStore and PaymentLog implementations.
var (
	// ErrAccountNotFound is returned by AccountStore.GetByID for an unknown id.
	ErrAccountNotFound = errors.New("account not found")

	// ErrConflict is returned when a concurrent transaction touched the same rows.
	// Retrying the whole transfer is the caller's decision.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrAmountScale is returned when a balance or amount carries more fractional
	// digits than models.MoneyScale.
	ErrAmountScale = errors.New("amount exceeds money scale")
)

// Kind is the closed set of reasons a transfer can fail.
type Kind int

const (
	KindZeroOrNegativeAmount Kind = iota + 1
	KindAccountNotFound
	KindInsufficientFunds
	KindPersistenceFailure
	KindAmountScale
)

// Code returns the machine-stable code exposed to API clients.
func (k Kind) Code() string {
	switch k {
	case KindZeroOrNegativeAmount:
		return "ZERO_AMOUNT"
	case KindAccountNotFound:
		return "NOT_FOUND_OWNER"
	case KindInsufficientFunds:
		return "NOT_ENOUGH_AMOUNT"
	case KindPersistenceFailure:
		return "PERSISTENCE_FAILURE"
	case KindAmountScale:
		return "INVALID_AMOUNT_SCALE"
	default:
		return "UNKNOWN"
	}
}

func (k Kind) String() string {
	switch k {
	case KindZeroOrNegativeAmount:
		return "ZeroOrNegativeAmount"
	case KindAccountNotFound:
		return "AccountNotFound"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindPersistenceFailure:
		return "PersistenceFailure"
	case KindAmountScale:
		return "AmountScale"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Role tells which side of a transfer an AccountNotFound refers to.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Error is the failure returned by Engine.Execute.
type Error struct {
	Kind    Kind
	Role    Role // set for KindAccountNotFound only
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Code is shorthand for e.Kind.Code().
func (e *Error) Code() string { return e.Kind.Code() }

// IsBusiness reports whether the failure is a domain rejection rather than a storage problem.
func (e *Error) IsBusiness() bool { return e.Kind != KindPersistenceFailure }

// KindOf extracts the Kind of a transfer failure anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

func newNotFound(role Role, id int64) *Error {
	var label string
	switch role {
	case RoleSender:
		label = "Sender"
	default:
		label = "Receiver"
	}
	return &Error{
		Kind:    KindAccountNotFound,
		Role:    role,
		Message: fmt.Sprintf("%s account not found %d", label, id),
		Err:     ErrAccountNotFound,
	}
}

func newPersistenceFailure(err error) *Error {
	msg := "transfer could not be stored"
	if errors.Is(err, ErrConflict) {
		msg = "transfer conflicted with a concurrent update"
	}
	return &Error{Kind: KindPersistenceFailure, Message: msg, Err: err}
}
