package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePoolRegistered
	EventTypePoolDeposit
	EventTypePoolRedeem
	EventTypeLoanRegistered
	EventTypeLoanFunded
	EventTypeLoanWithdrawn
	EventTypeRepaymentReceived
	EventTypeLoanDefaulted
	EventTypeRecoveryDeposited
	EventTypeTreasuryDeposit
	EventTypeLiquidated
	EventTypeRedeemed
	EventTypeReclaimed
	EventTypeSwapped
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Loan context (nullable for pool/treasury events)
	LoanID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// LoanID returns the loan context (nil for pool/treasury events)
	LoanID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypePoolRegistered:
		return "PoolRegistered"
	case EventTypePoolDeposit:
		return "PoolDeposit"
	case EventTypePoolRedeem:
		return "PoolRedeem"
	case EventTypeLoanRegistered:
		return "LoanRegistered"
	case EventTypeLoanFunded:
		return "LoanFunded"
	case EventTypeLoanWithdrawn:
		return "LoanWithdrawn"
	case EventTypeRepaymentReceived:
		return "RepaymentReceived"
	case EventTypeLoanDefaulted:
		return "LoanDefaulted"
	case EventTypeRecoveryDeposited:
		return "RecoveryDeposited"
	case EventTypeTreasuryDeposit:
		return "TreasuryDeposit"
	case EventTypeLiquidated:
		return "Liquidated"
	case EventTypeRedeemed:
		return "Redeemed"
	case EventTypeReclaimed:
		return "Reclaimed"
	case EventTypeSwapped:
		return "Swapped"
	default:
		return "Unknown"
	}
}
