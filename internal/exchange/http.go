package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPAdapter executes swaps through an external swap facility's REST API.
// The routing data is forwarded verbatim; the facility decides the route.
type HTTPAdapter struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAdapter(baseURL string, timeout time.Duration) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// swapResponse is the facility's wire format. Amounts are fixed-point
// integers; the rate is a decimal string used to cross-check them.
type swapResponse struct {
	Destination  string `json:"destination"`
	SourceAsset  string `json:"source_asset"`
	SourceAmount int64  `json:"source_amount"`
	ReturnAsset  string `json:"return_asset"`
	ReturnAmount int64  `json:"return_amount"`
	Rate         string `json:"rate"`
}

func (a *HTTPAdapter) Exchange(ctx context.Context, routingData []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/swap", bytes.NewReader(routingData))
	if err != nil {
		return nil, fmt.Errorf("build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute swap: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read swap response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swap facility returned %d: %s", resp.StatusCode, string(body))
	}

	var wire swapResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode swap response: %w", err)
	}

	if wire.SourceAmount <= 0 || wire.ReturnAmount < 0 {
		return nil, fmt.Errorf("swap response has invalid amounts: source=%d return=%d",
			wire.SourceAmount, wire.ReturnAmount)
	}

	// The quoted rate and the integer amounts come from the same untrusted
	// response; reject when they disagree by more than one smallest unit of
	// truncation.
	if wire.Rate != "" {
		rate, err := decimal.NewFromString(wire.Rate)
		if err != nil {
			return nil, fmt.Errorf("decode swap rate %q: %w", wire.Rate, err)
		}
		implied := decimal.NewFromInt(wire.SourceAmount).Mul(rate).Floor()
		diff := implied.Sub(decimal.NewFromInt(wire.ReturnAmount)).Abs()
		if diff.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("swap rate %s implies return %s, facility reported %d",
				rate, implied, wire.ReturnAmount)
		}
	}

	return &Result{
		Destination:  wire.Destination,
		SourceAsset:  wire.SourceAsset,
		SourceAmount: wire.SourceAmount,
		ReturnAsset:  wire.ReturnAsset,
		ReturnAmount: wire.ReturnAmount,
	}, nil
}
