package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PoolRegistered announces a new lending pool.
// Idempotency key: "{pool}:registered".
type PoolRegistered struct {
	Pool      uuid.UUID
	Asset     string
	Sequence  int64
	Timestamp time.Time
}

func (p *PoolRegistered) IdempotencyKey() string {
	return fmt.Sprintf("%s:registered", p.Pool)
}

func (p *PoolRegistered) EventType() EventType {
	return EventTypePoolRegistered
}

func (p *PoolRegistered) LoanID() *string {
	return nil // Pool-level event
}

func (p *PoolRegistered) SourceSequence() int64 {
	return p.Sequence
}

// PoolDeposit mints pool shares for a depositor at the current share price.
// Idempotency key: deposit_id.
type PoolDeposit struct {
	DepositID uuid.UUID
	Pool      uuid.UUID
	Depositor uuid.UUID
	Amount    int64
	Sequence  int64
	Timestamp time.Time
}

func (p *PoolDeposit) IdempotencyKey() string {
	return p.DepositID.String()
}

func (p *PoolDeposit) EventType() EventType {
	return EventTypePoolDeposit
}

func (p *PoolDeposit) LoanID() *string {
	return nil
}

func (p *PoolDeposit) SourceSequence() int64 {
	return p.Sequence
}

// PoolRedeem burns pool shares for the underlying at the current share price.
// Idempotency key: redemption_id.
type PoolRedeem struct {
	RedemptionID uuid.UUID
	Pool         uuid.UUID
	Depositor    uuid.UUID
	Shares       int64
	Sequence     int64
	Timestamp    time.Time
}

func (p *PoolRedeem) IdempotencyKey() string {
	return p.RedemptionID.String()
}

func (p *PoolRedeem) EventType() EventType {
	return EventTypePoolRedeem
}

func (p *PoolRedeem) LoanID() *string {
	return nil
}

func (p *PoolRedeem) SourceSequence() int64 {
	return p.Sequence
}
