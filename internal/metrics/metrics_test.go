package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeHaltReason maps free-form halt text to the bounded set
func TestNormalizeHaltReason(t *testing.T) {
	assert.Equal(t, HaltReasonCalibration, NormalizeHaltReason("range coverage deviation exceeds tolerance"))
	assert.Equal(t, HaltReasonCalibration, NormalizeHaltReason("confidence bucket inversion"))
	assert.Equal(t, HaltReasonInvariant, NormalizeHaltReason("invariant violation: confidence rose with unknowns"))
	assert.Equal(t, HaltReasonTransition, NormalizeHaltReason("illegal transition OBSERVE -> EXECUTE_TRADE"))
	assert.Equal(t, HaltReasonPersistence, NormalizeHaltReason("persistence failure after retries"))
	assert.Equal(t, HaltReasonManual, NormalizeHaltReason("operator requested stop"))
	assert.Equal(t, HaltReasonOther, NormalizeHaltReason("something unexpected"))
}

// TestNormalizeConnectorError maps connector failures to the bounded set
func TestNormalizeConnectorError(t *testing.T) {
	assert.Equal(t, "", NormalizeConnectorError(nil))
	assert.Equal(t, ConnectorErrorTimeout, NormalizeConnectorError(errors.New("context deadline exceeded")))
	assert.Equal(t, ConnectorErrorUnavailable, NormalizeConnectorError(errors.New("connection refused")))
	assert.Equal(t, ConnectorErrorUnavailable, NormalizeConnectorError(errors.New("circuit breaker is open")))
	assert.Equal(t, ConnectorErrorParse, NormalizeConnectorError(errors.New("failed to unmarshal payload")))
	assert.Equal(t, ConnectorErrorOther, NormalizeConnectorError(errors.New("boom")))
}

// TestHandlerServesMetricsAndHealth exposes both endpoints
func TestHandlerServesMetricsAndHealth(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	TradesExecuted.Inc()
	NoTradeDecisions.WithLabelValues("insufficient_edge").Inc()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "edgewatch_trades_executed_total")
	assert.Contains(t, string(body), "edgewatch_no_trade_total")

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
