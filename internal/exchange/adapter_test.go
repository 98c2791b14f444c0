package exchange_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"DeficitLedger/internal/exchange"

	"github.com/stretchr/testify/require"
)

func TestHTTPAdapter_Exchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/swap", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"destination": "deficit-ledger",
			"source_asset": "WETH",
			"source_amount": 50000000,
			"return_asset": "USDC",
			"return_amount": 120000000,
			"rate": "2.4"
		}`))
	}))
	defer srv.Close()

	adapter := exchange.NewHTTPAdapter(srv.URL, 2*time.Second)
	res, err := adapter.Exchange(context.Background(), []byte(`{"route":"weth-usdc"}`))
	require.NoError(t, err)
	require.Equal(t, "deficit-ledger", res.Destination)
	require.Equal(t, int64(50_000_000), res.SourceAmount)
	require.Equal(t, int64(120_000_000), res.ReturnAmount)
	require.Equal(t, "2.4", res.EffectiveRate().String())
}

func TestHTTPAdapter_Exchange_RateMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"destination": "deficit-ledger",
			"source_asset": "WETH",
			"source_amount": 50000000,
			"return_asset": "USDC",
			"return_amount": 90000000,
			"rate": "2.4"
		}`))
	}))
	defer srv.Close()

	adapter := exchange.NewHTTPAdapter(srv.URL, 2*time.Second)
	_, err := adapter.Exchange(context.Background(), []byte(`{}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "implies return")
}

func TestHTTPAdapter_Exchange_FacilityError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no route", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	adapter := exchange.NewHTTPAdapter(srv.URL, 2*time.Second)
	_, err := adapter.Exchange(context.Background(), []byte(`{}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "422")
}

func TestResult_EffectiveRate_ZeroSource(t *testing.T) {
	r := &exchange.Result{ReturnAmount: 10}
	require.True(t, r.EffectiveRate().IsZero())
}
