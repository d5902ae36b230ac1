// Command stresstest fires concurrent transfers in both directions between two
// fresh accounts and verifies that no funds were created, lost, or overdrawn.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yashasviy/payments-transfer-api/db"
	"github.com/yashasviy/payments-transfer-api/middleware"
	"github.com/yashasviy/payments-transfer-api/models"
)

const (
	// DefaultURL is the target API endpoint
	DefaultURL = "http://localhost:8080/payment"

	// DefaultConcurrency is the number of concurrent requests per direction
	DefaultConcurrency = 50
)

// TestConfig holds the stress test configuration
type TestConfig struct {
	URL                string
	DatabaseURL        string
	ConcurrentRequests int
	InitialBalance     decimal.Decimal
	Amount             decimal.Decimal
	UseIdempotencyKeys bool
}

// TestResults tracks the outcomes of all requests
type TestResults struct {
	SuccessCount      int32
	InsufficientCount int32
	ConflictCount     int32
	ErrorCount        int32
	Duration          time.Duration
}

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	config := TestConfig{}
	var initial, amount string
	flag.StringVar(&config.URL, "url", DefaultURL, "API endpoint URL")
	flag.StringVar(&config.DatabaseURL, "db", os.Getenv("DB_URL"), "Postgres DSN used to seed and verify accounts")
	flag.IntVar(&config.ConcurrentRequests, "concurrent", DefaultConcurrency, "Concurrent requests per direction")
	flag.StringVar(&initial, "balance", "100.00", "Initial balance of each account")
	flag.StringVar(&amount, "amount", "7.50", "Payment amount")
	flag.BoolVar(&config.UseIdempotencyKeys, "idempotency", true, "Send a unique Idempotency-Key per request")
	flag.Parse()

	var err error
	if config.InitialBalance, err = decimal.NewFromString(initial); err != nil {
		logger.Fatal("invalid -balance", zap.Error(err))
	}
	if config.Amount, err = decimal.NewFromString(amount); err != nil {
		logger.Fatal("invalid -amount", zap.Error(err))
	}
	if !models.ValidMoneyScale(config.Amount) {
		logger.Fatal("-amount must have at most two fractional digits", zap.String("amount", amount))
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, config.DatabaseURL, db.PoolConfig{MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxLifetime: time.Minute})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	if err := db.Initialize(ctx, conn); err != nil {
		logger.Fatal("failed to initialize schema", zap.Error(err))
	}
	store := db.NewStore(conn)

	suffix := uuid.NewString()[:8]
	left, err := store.CreateAccount(ctx, "stress-left-"+suffix, config.InitialBalance)
	if err != nil {
		logger.Fatal("failed to create account", zap.Error(err))
	}
	right, err := store.CreateAccount(ctx, "stress-right-"+suffix, config.InitialBalance)
	if err != nil {
		logger.Fatal("failed to create account", zap.Error(err))
	}

	fmt.Println("  PAYMENTS TRANSFER API - CONCURRENT STRESS TEST")
	fmt.Printf("Endpoint:       %s\n", config.URL)
	fmt.Printf("Concurrency:    %d requests per direction\n", config.ConcurrentRequests)
	fmt.Printf("Payment:        %s between accounts %d and %d (start %s each)\n", config.Amount, left.ID, right.ID, config.InitialBalance)
	fmt.Println("---------------------------------------------------------------")

	results := runStressTest(config, left.ID, right.ID, logger)

	finalLeft, err := store.Account(ctx, left.ID)
	if err != nil {
		logger.Fatal("failed to read account", zap.Error(err))
	}
	finalRight, err := store.Account(ctx, right.ID)
	if err != nil {
		logger.Fatal("failed to read account", zap.Error(err))
	}

	if !printResults(results, config, finalLeft, finalRight) {
		os.Exit(1)
	}
}

// runStressTest executes concurrent requests in both directions and returns aggregated results
func runStressTest(config TestConfig, leftID, rightID int64, logger *zap.Logger) TestResults {
	var (
		results TestResults
		wg      sync.WaitGroup
		start   = time.Now()
		client  = &http.Client{Timeout: 10 * time.Second}
	)

	for i := 0; i < config.ConcurrentRequests; i++ {
		wg.Add(2)
		go func(requestID int) {
			defer wg.Done()
			executeRequest(client, config, leftID, rightID, requestID, &results, logger)
		}(2 * i)
		go func(requestID int) {
			defer wg.Done()
			executeRequest(client, config, rightID, leftID, requestID, &results, logger)
		}(2*i + 1)
	}

	wg.Wait()
	results.Duration = time.Since(start)

	return results
}

// executeRequest sends a single HTTP request and updates results atomically
func executeRequest(client *http.Client, config TestConfig, fromID, toID int64, requestID int, results *TestResults, logger *zap.Logger) {
	log := logger.With(zap.Int("request", requestID))

	payload, err := json.Marshal(map[string]any{
		"senderAccountId":   fromID,
		"receiverAccountId": toID,
		"amount":            config.Amount,
	})
	if err != nil {
		log.Error("failed to marshal JSON", zap.Error(err))
		atomic.AddInt32(&results.ErrorCount, 1)
		return
	}

	req, err := http.NewRequest(http.MethodPost, config.URL, bytes.NewBuffer(payload))
	if err != nil {
		log.Error("failed to create request", zap.Error(err))
		atomic.AddInt32(&results.ErrorCount, 1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if config.UseIdempotencyKeys {
		req.Header.Set(middleware.IdempotencyHeader, uuid.NewString())
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Error("HTTP error", zap.Error(err))
		atomic.AddInt32(&results.ErrorCount, 1)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		atomic.AddInt32(&results.SuccessCount, 1)
	case http.StatusBadRequest:
		var msg models.ErrorMessage
		if err := json.NewDecoder(resp.Body).Decode(&msg); err == nil && len(msg.Errors) > 0 && msg.Errors[0].Code == "NOT_ENOUGH_AMOUNT" {
			atomic.AddInt32(&results.InsufficientCount, 1)
			return
		}
		log.Warn("unexpected client error", zap.Any("body", msg))
		atomic.AddInt32(&results.ErrorCount, 1)
	case http.StatusServiceUnavailable:
		atomic.AddInt32(&results.ConflictCount, 1)
	default:
		log.Warn("unexpected status", zap.Int("status", resp.StatusCode))
		atomic.AddInt32(&results.ErrorCount, 1)
	}
}

// printResults displays formatted test results and reports whether the invariants held
func printResults(results TestResults, config TestConfig, left, right models.Account) bool {
	total := config.ConcurrentRequests * 2
	fmt.Println("                    TEST RESULTS")
	fmt.Printf("Duration:                     %v\n", results.Duration)
	fmt.Printf("Requests per second:          %.2f\n", float64(total)/results.Duration.Seconds())
	fmt.Printf("[SUCCESS]  Committed:                 %d\n", results.SuccessCount)
	fmt.Printf("[REJECTED] Insufficient funds:        %d\n", results.InsufficientCount)
	fmt.Printf("[CONFLICT] Persistence conflicts:     %d\n", results.ConflictCount)
	fmt.Printf("[ERROR]    Network/unexpected errors: %d\n", results.ErrorCount)
	fmt.Printf("Final balances:               %s / %s\n", left.Balance, right.Balance)

	expectedTotal := config.InitialBalance.Mul(decimal.NewFromInt(2))
	conserved := left.Balance.Add(right.Balance).Equal(expectedTotal)
	nonNegative := !left.Balance.IsNegative() && !right.Balance.IsNegative()

	if conserved && nonNegative && results.ErrorCount == 0 {
		fmt.Println("TEST PASSED: funds conserved and no account overdrawn")
		return true
	}

	fmt.Println("TEST FAILED: System has critical issues")
	if !conserved {
		fmt.Printf("  * CRITICAL: total is %s, expected %s\n", left.Balance.Add(right.Balance), expectedTotal)
	}
	if !nonNegative {
		fmt.Println("  * CRITICAL: negative balance detected")
	}
	if results.ErrorCount > 0 {
		fmt.Printf("  * Network/unexpected errors: %d\n", results.ErrorCount)
	}
	return false
}
