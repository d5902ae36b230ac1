package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yashasviy/payments-transfer-api/memstore"
	"github.com/yashasviy/payments-transfer-api/middleware"
	"github.com/yashasviy/payments-transfer-api/models"
	"github.com/yashasviy/payments-transfer-api/transfer"
)

type testServer struct {
	handler http.Handler
	store   *memstore.Store
}

func newTestServer(t *testing.T, rdb *redis.Client) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memstore.New()
	return &testServer{
		store: store,
		handler: NewRouter(RouterConfig{
			Engine: transfer.NewEngine(store, logger),
			Store:  store,
			Redis:  rdb,
			Logger: logger,
		}),
	}
}

func (s *testServer) account(t *testing.T, name string, balance int64) models.Account {
	t.Helper()
	acc, err := s.store.CreateAccount(context.Background(), name, decimal.NewFromInt(balance))
	require.NoError(t, err)
	return acc
}

func (s *testServer) balance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	acc, err := s.store.Account(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func (s *testServer) pay(t *testing.T, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payment", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func paymentBody(sender, receiver int64, amount string) string {
	b, _ := json.Marshal(map[string]any{
		"senderAccountId":   sender,
		"receiverAccountId": receiver,
		"amount":            json.Number(amount),
	})
	return string(b)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorMessage {
	t.Helper()
	var msg models.ErrorMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	return msg
}

func TestPayment_Success(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.account(t, "Test_User", 100)
	b := s.account(t, "Ridango_User", 100)

	rec := s.pay(t, paymentBody(a.ID, b.ID, "100"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.IsType(t, float64(0), body["transactionId"])
	assert.NotEmpty(t, body["timestamp"])

	assert.True(t, s.balance(t, a.ID).IsZero())
	assert.True(t, s.balance(t, b.ID).Equal(decimal.NewFromInt(200)))
}

func TestPayment_TransactionErrors(t *testing.T) {
	tests := []struct {
		name          string
		senderFunds   int64
		amount        string
		unknownSender bool
		unknownRecv   bool
		wantCode      string
		wantMessage   string
	}{
		{name: "not enough", senderFunds: 99, amount: "100", wantCode: "NOT_ENOUGH_AMOUNT"},
		{name: "negative", senderFunds: 100, amount: "-1", wantCode: "ZERO_AMOUNT"},
		{name: "unknown both", senderFunds: 100, amount: "100", unknownSender: true, unknownRecv: true, wantCode: "NOT_FOUND_OWNER", wantMessage: "Sender account not found 9001"},
		{name: "unknown receiver", senderFunds: 100, amount: "100", unknownRecv: true, wantCode: "NOT_FOUND_OWNER", wantMessage: "Receiver account not found 9002"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			a := s.account(t, "sender", tc.senderFunds)
			b := s.account(t, "receiver", 100)

			senderID, receiverID := a.ID, b.ID
			if tc.unknownSender {
				senderID = 9001
			}
			if tc.unknownRecv {
				receiverID = 9002
			}

			rec := s.pay(t, paymentBody(senderID, receiverID, tc.amount))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			msg := decodeError(t, rec)
			assert.Equal(t, models.ErrorTypeTransaction, msg.Type)
			require.Len(t, msg.Errors, 1)
			assert.Equal(t, tc.wantCode, msg.Errors[0].Code)
			if tc.wantMessage != "" {
				assert.Equal(t, tc.wantMessage, msg.Errors[0].Message)
			}

			assert.True(t, s.balance(t, a.ID).Equal(decimal.NewFromInt(tc.senderFunds)))
			assert.True(t, s.balance(t, b.ID).Equal(decimal.NewFromInt(100)))
		})
	}
}

func TestPayment_ValidationErrors(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.pay(t, `{"senderAccountId": 1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	msg := decodeError(t, rec)
	assert.Equal(t, models.ErrorTypeValidation, msg.Type)

	fields := map[string]string{}
	for _, e := range msg.Errors {
		fields[e.Field] = e.Code
	}
	assert.Equal(t, map[string]string{"receiverAccountId": "NotNull", "amount": "NotNull"}, fields)

	rec = s.pay(t, `{"senderAccountId": "one"`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	msg = decodeError(t, rec)
	assert.Equal(t, models.ErrorTypeValidation, msg.Type)
	assert.Equal(t, "MALFORMED_BODY", msg.Errors[0].Code)
}

func TestPayment_SubCentAmount(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.account(t, "sender", 100)
	b := s.account(t, "receiver", 100)

	for _, amount := range []string{"0.005", "99.995", "1.001"} {
		rec := s.pay(t, paymentBody(a.ID, b.ID, amount))
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

		msg := decodeError(t, rec)
		assert.Equal(t, models.ErrorTypeValidation, msg.Type)
		require.Len(t, msg.Errors, 1)
		assert.Equal(t, "amount", msg.Errors[0].Field)
		assert.Equal(t, "Digits", msg.Errors[0].Code)
	}
	assert.True(t, s.balance(t, a.ID).Equal(decimal.NewFromInt(100)))
	assert.True(t, s.balance(t, b.ID).Equal(decimal.NewFromInt(100)))
	assert.Empty(t, s.store.Payments(context.Background()))

	rec := s.pay(t, paymentBody(a.ID, b.ID, "0.50"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, s.balance(t, a.ID).Equal(decimal.RequireFromString("99.50")))
	assert.True(t, s.balance(t, b.ID).Equal(decimal.RequireFromString("100.50")))
}

type stubEngine struct{ err error }

func (s stubEngine) Execute(context.Context, decimal.Decimal, int64, int64) (models.Receipt, error) {
	return models.Receipt{}, s.err
}

func TestTransferHandler_ServerErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"conflict", &transfer.Error{Kind: transfer.KindPersistenceFailure, Message: "conflict", Err: transfer.ErrConflict}, http.StatusServiceUnavailable, "PERSISTENCE_FAILURE"},
		{"io", &transfer.Error{Kind: transfer.KindPersistenceFailure, Message: "io", Err: errors.New("reset")}, http.StatusInternalServerError, "PERSISTENCE_FAILURE"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := TransferHandler(stubEngine{err: tc.err}, zaptest.NewLogger(t))
			req := httptest.NewRequest(http.MethodPost, "/payment", bytes.NewBufferString(paymentBody(1, 2, "5")))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			msg := decodeError(t, rec)
			assert.Equal(t, models.ErrorTypeServer, msg.Type)
			assert.Equal(t, tc.wantCode, msg.Errors[0].Code)
		})
	}
}

func TestPayment_IdempotentReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	s := newTestServer(t, rdb)
	a := s.account(t, "sender", 100)
	b := s.account(t, "receiver", 0)

	first := s.pay(t, paymentBody(a.ID, b.ID, "40"), middleware.IdempotencyHeader, "retry-me")
	require.Equal(t, http.StatusOK, first.Code)
	second := s.pay(t, paymentBody(a.ID, b.ID, "40"), middleware.IdempotencyHeader, "retry-me")
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, "true", second.Header().Get(middleware.IdempotencyHitHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.True(t, s.balance(t, a.ID).Equal(decimal.NewFromInt(60)))
	assert.Len(t, s.store.Payments(context.Background()), 1)
}

func TestPayment_IdempotencyKeyReusedForDifferentPayment(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	s := newTestServer(t, rdb)
	a := s.account(t, "sender", 100)
	b := s.account(t, "receiver", 0)
	c := s.account(t, "other", 0)

	first := s.pay(t, paymentBody(a.ID, b.ID, "10"), middleware.IdempotencyHeader, "k")
	require.Equal(t, http.StatusOK, first.Code)

	second := s.pay(t, paymentBody(a.ID, c.ID, "50"), middleware.IdempotencyHeader, "k")
	require.Equal(t, http.StatusUnprocessableEntity, second.Code, second.Body.String())
	assert.Empty(t, second.Header().Get(middleware.IdempotencyHitHeader))

	assert.True(t, s.balance(t, a.ID).Equal(decimal.NewFromInt(90)))
	assert.True(t, s.balance(t, b.ID).Equal(decimal.NewFromInt(10)))
	assert.True(t, s.balance(t, c.ID).IsZero())
	assert.Len(t, s.store.Payments(context.Background()), 1)
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("down") }

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	HealthHandler(downStore{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
