package models

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// AccountNamePattern accepts email-like or token-like account names.
var AccountNamePattern = regexp.MustCompile(`^(?:[a-zA-Z0-9!$&*+=?^_` + "`" + `{|}~.-]+@[a-zA-Z0-9-]+(?:\.[a-zA-Z0-9-]+)*|[_.@A-Za-z0-9-]+)$`)

// MaxAccountNameLength is the column width of account.name.
const MaxAccountNameLength = 50

// ValidAccountName reports whether name can be stored as an account name.
func ValidAccountName(name string) bool {
	return len(name) >= 1 && len(name) <= MaxAccountNameLength && AccountNamePattern.MatchString(name)
}

// MoneyScale is the number of fractional digits a stored amount or balance may carry.
// It matches the NUMERIC(18, 2) columns of the Postgres schema.
const MoneyScale = 2

// ValidMoneyScale reports whether d fits in MoneyScale fractional digits without rounding.
func ValidMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// Account holds a balance that only the transfer engine mutates.
type Account struct {
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`

	// Version is bumped on every committed balance change.
	Version int64 `json:"-"`
}

// Payment is the append-only record of a completed transfer.
type Payment struct {
	ID                int64           `json:"id"`
	SenderAccountID   int64           `json:"senderAccountId"`
	ReceiverAccountID int64           `json:"receiverAccountId"`
	Amount            decimal.Decimal `json:"amount"`
	Timestamp         time.Time       `json:"timestamp"`
}

// Receipt is returned to the caller of a successful transfer.
type Receipt struct {
	TransactionID int64     `json:"transactionId"`
	Timestamp     time.Time `json:"timestamp"`
}

// TransferRequest is what the user sends in the API call.
// Fields are pointers so a missing field is distinguishable from a zero value.
type TransferRequest struct {
	SenderAccountID   *int64           `json:"senderAccountId" validate:"required"`
	ReceiverAccountID *int64           `json:"receiverAccountId" validate:"required"`
	Amount            *decimal.Decimal `json:"amount" validate:"required,money"`
}
