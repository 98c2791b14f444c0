package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Result is what the adapter reports back after executing a swap. The data
// that produced it is untrusted routing input, so the core re-checks the
// destination and the returned amount before any balance moves.
type Result struct {
	// Destination is the account the proceeds were credited to; must be the
	// ledger's own account.
	Destination string

	SourceAsset  string
	SourceAmount int64
	ReturnAsset  string
	ReturnAmount int64
}

// EffectiveRate returns the realized return-per-source rate as a decimal,
// for logging and slippage diagnostics.
func (r *Result) EffectiveRate() decimal.Decimal {
	if r.SourceAmount == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(r.ReturnAmount).Div(decimal.NewFromInt(r.SourceAmount))
}

// Adapter executes a swap described by opaque routing data. Execution is
// trusted to be atomic on the adapter side: either the full trade settles
// and a Result comes back, or an error does and nothing moved.
type Adapter interface {
	Exchange(ctx context.Context, routingData []byte) (*Result, error)
}
