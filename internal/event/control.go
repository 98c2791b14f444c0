package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LiquidateLoan asks the core to liquidate a defaulted loan: seize the
// instrument, pay the owning pool what the treasury can cover, and mint a
// deficiency claim for the shortfall. Idempotency key: request_id, so a
// retried request is deduplicated while a fresh request against an already
// liquidated loan is rejected.
type LiquidateLoan struct {
	RequestID uuid.UUID
	Loan      uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (l *LiquidateLoan) IdempotencyKey() string {
	return fmt.Sprintf("liquidate:%s", l.RequestID)
}

func (l *LiquidateLoan) EventType() EventType {
	return EventTypeLiquidated
}

func (l *LiquidateLoan) LoanID() *string {
	s := l.Loan.String()
	return &s
}

func (l *LiquidateLoan) SourceSequence() int64 {
	return l.Sequence
}

// RedeemLoan burns the ledger's remaining holding of a liquidated instrument
// for its pro rata share of the recovery balance.
type RedeemLoan struct {
	RequestID uuid.UUID
	Loan      uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (r *RedeemLoan) IdempotencyKey() string {
	return fmt.Sprintf("redeem:%s", r.RequestID)
}

func (r *RedeemLoan) EventType() EventType {
	return EventTypeRedeemed
}

func (r *RedeemLoan) LoanID() *string {
	s := r.Loan.String()
	return &s
}

func (r *RedeemLoan) SourceSequence() int64 {
	return r.Sequence
}

// ReclaimDeficit burns a holder's claim tokens against the treasury. The
// payment is all-or-nothing; a treasury that cannot cover the full amount
// rejects the whole operation.
type ReclaimDeficit struct {
	RequestID uuid.UUID
	Loan      uuid.UUID
	Holder    uuid.UUID
	Amount    int64
	Sequence  int64
	Timestamp time.Time
}

func (r *ReclaimDeficit) IdempotencyKey() string {
	return fmt.Sprintf("reclaim:%s", r.RequestID)
}

func (r *ReclaimDeficit) EventType() EventType {
	return EventTypeReclaimed
}

func (r *ReclaimDeficit) LoanID() *string {
	s := r.Loan.String()
	return &s
}

func (r *ReclaimDeficit) SourceSequence() int64 {
	return r.Sequence
}

// SwapOutcome pins the facility's fill to the event. The core fills it in
// after executing the swap, so the event log carries the actual fill and
// replay never re-contacts the facility.
type SwapOutcome struct {
	Destination  string
	SourceAsset  string
	SourceAmount int64
	ReturnAsset  string
	ReturnAmount int64
}

// SwapTreasury rebalances treasury assets through the exchange adapter.
// RoutingData is opaque to the core; the adapter's result is re-checked
// against MinReturn and the ledger's own account before any balance moves.
type SwapTreasury struct {
	SwapID      uuid.UUID
	RoutingData []byte
	MinReturn   int64
	Sequence    int64
	Timestamp   time.Time

	// Outcome is nil on submission and set by the core once the swap has
	// executed. A replayed event applies the recorded fill verbatim.
	Outcome *SwapOutcome
}

func (s *SwapTreasury) IdempotencyKey() string {
	return fmt.Sprintf("swap:%s", s.SwapID)
}

func (s *SwapTreasury) EventType() EventType {
	return EventTypeSwapped
}

func (s *SwapTreasury) LoanID() *string {
	return nil // Treasury-level operation
}

func (s *SwapTreasury) SourceSequence() int64 {
	return s.Sequence
}
