package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTransfer(t *testing.T) {
	m := NewTransfers()
	m.ObserveTransfer("SUCCESS", 5*time.Millisecond)
	m.ObserveTransfer("SUCCESS", time.Millisecond)
	m.ObserveTransfer("NOT_ENOUGH_AMOUNT", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.total.WithLabelValues("SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.total.WithLabelValues("NOT_ENOUGH_AMOUNT")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `payments_transfers_total{outcome="SUCCESS"} 2`)
}
