package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yashasviy/payments-transfer-api/models"
	"github.com/yashasviy/payments-transfer-api/transfer"
)

// Transferer executes one transfer; *transfer.Engine satisfies it.
type Transferer interface {
	Execute(ctx context.Context, amount decimal.Decimal, senderID, receiverID int64) (models.Receipt, error)
}

// TransferHandler parses and validates a payment request and hands it to the engine.
func TransferHandler(engine Transferer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn("malformed payment request", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, models.ErrorMessage{
				Type:   models.ErrorTypeValidation,
				Errors: []models.ErrorInfo{{Code: "MALFORMED_BODY", Message: "Request body is not valid JSON"}},
			})
			return
		}

		if infos := validateRequest(&req); len(infos) > 0 {
			logger.Warn("invalid payment request", zap.Any("errors", infos))
			writeJSON(w, http.StatusBadRequest, models.ErrorMessage{Type: models.ErrorTypeValidation, Errors: infos})
			return
		}

		receipt, err := engine.Execute(r.Context(), *req.Amount, *req.SenderAccountID, *req.ReceiverAccountID)
		if err != nil {
			status, body := transferError(err)
			writeJSON(w, status, body)
			return
		}

		writeJSON(w, http.StatusOK, receipt)
	}
}

// transferError maps engine failures to the response envelope. Business failures are
// client errors; storage failures are server errors, 503 when a retry may succeed.
func transferError(err error) (int, models.ErrorMessage) {
	var te *transfer.Error
	if !errors.As(err, &te) {
		return http.StatusInternalServerError, models.ErrorMessage{
			Type:   models.ErrorTypeServer,
			Errors: []models.ErrorInfo{{Code: "INTERNAL", Message: "Internal server error"}},
		}
	}

	if te.IsBusiness() {
		return http.StatusBadRequest, models.ErrorMessage{
			Type:   models.ErrorTypeTransaction,
			Errors: []models.ErrorInfo{{Code: te.Code(), Message: te.Message}},
		}
	}

	status := http.StatusInternalServerError
	if errors.Is(err, transfer.ErrConflict) {
		status = http.StatusServiceUnavailable
	}
	return status, models.ErrorMessage{
		Type:   models.ErrorTypeServer,
		Errors: []models.ErrorInfo{{Code: te.Code(), Message: te.Message}},
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
