package event

import (
	"time"

	"github.com/google/uuid"
)

// TreasuryDeposit records external income into the ledger's own treasury
// (protocol fees, capital injections). Idempotency key: deposit_id.
type TreasuryDeposit struct {
	DepositID uuid.UUID
	Asset     string
	Amount    int64
	Sequence  int64
	Timestamp time.Time
}

func (t *TreasuryDeposit) IdempotencyKey() string {
	return t.DepositID.String()
}

func (t *TreasuryDeposit) EventType() EventType {
	return EventTypeTreasuryDeposit
}

func (t *TreasuryDeposit) LoanID() *string {
	return nil // Treasury-level event
}

func (t *TreasuryDeposit) SourceSequence() int64 {
	return t.Sequence
}
