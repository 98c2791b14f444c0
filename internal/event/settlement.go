package event

import "github.com/google/uuid"

// SettlementKind discriminates settlement records emitted alongside applied
// control operations.
type SettlementKind int32

const (
	SettlementKindLiquidation SettlementKind = iota
	SettlementKindRedemption
	SettlementKindReclaim
)

func (k SettlementKind) String() string {
	switch k {
	case SettlementKindLiquidation:
		return "liquidation"
	case SettlementKindRedemption:
		return "redemption"
	case SettlementKindReclaim:
		return "reclaim"
	default:
		return "unknown"
	}
}

// SettlementRecord carries the derived outcome of a liquidation, redemption
// or reclaim to the projection layer, which cannot recompute it from
// journals alone.
type SettlementRecord struct {
	Kind SettlementKind
	Loan uuid.UUID
	Pool uuid.UUID

	// Asset of the owning pool
	Asset string

	// Liquidation: the exact split owed == paid + shortfall
	Owed      int64
	Paid      int64
	Shortfall int64

	// Redemption: holding burned and recovery credited to the treasury
	Burned   int64
	Redeemed int64

	// Reclaim: holder paid from the treasury
	Holder uuid.UUID
	Amount int64

	// Claim state after the operation
	ClaimOutstanding int64
	ClaimSupply      int64

	// Pool deficit after the operation
	PoolDeficit int64

	Timestamp int64 // Epoch microseconds
}
