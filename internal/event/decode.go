package event

import (
	"encoding/json"
	"fmt"
)

// DecodePayload reconstructs a typed event from an envelope payload. The
// payload is the JSON form of the Go struct written at apply time, so a
// decoded event replays to the exact same state transition, including the
// pinned swap outcome.
func DecodePayload(et EventType, payload []byte) (Event, error) {
	var evt Event

	switch et {
	case EventTypePoolRegistered:
		evt = &PoolRegistered{}
	case EventTypePoolDeposit:
		evt = &PoolDeposit{}
	case EventTypePoolRedeem:
		evt = &PoolRedeem{}
	case EventTypeLoanRegistered:
		evt = &LoanRegistered{}
	case EventTypeLoanFunded:
		evt = &LoanFunded{}
	case EventTypeLoanWithdrawn:
		evt = &LoanWithdrawn{}
	case EventTypeRepaymentReceived:
		evt = &RepaymentReceived{}
	case EventTypeLoanDefaulted:
		evt = &LoanDefaulted{}
	case EventTypeRecoveryDeposited:
		evt = &RecoveryDeposited{}
	case EventTypeTreasuryDeposit:
		evt = &TreasuryDeposit{}
	case EventTypeLiquidated:
		evt = &LiquidateLoan{}
	case EventTypeRedeemed:
		evt = &RedeemLoan{}
	case EventTypeReclaimed:
		evt = &ReclaimDeficit{}
	case EventTypeSwapped:
		evt = &SwapTreasury{}
	default:
		return nil, fmt.Errorf("decode payload: unknown event type %d", et)
	}

	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", et, err)
	}
	return evt, nil
}

// ParseEventType maps the string form stored in the event log back to the
// discriminator. Inverse of EventType.String for all known types.
func ParseEventType(s string) (EventType, error) {
	switch s {
	case "PoolRegistered":
		return EventTypePoolRegistered, nil
	case "PoolDeposit":
		return EventTypePoolDeposit, nil
	case "PoolRedeem":
		return EventTypePoolRedeem, nil
	case "LoanRegistered":
		return EventTypeLoanRegistered, nil
	case "LoanFunded":
		return EventTypeLoanFunded, nil
	case "LoanWithdrawn":
		return EventTypeLoanWithdrawn, nil
	case "RepaymentReceived":
		return EventTypeRepaymentReceived, nil
	case "LoanDefaulted":
		return EventTypeLoanDefaulted, nil
	case "RecoveryDeposited":
		return EventTypeRecoveryDeposited, nil
	case "TreasuryDeposit":
		return EventTypeTreasuryDeposit, nil
	case "Liquidated":
		return EventTypeLiquidated, nil
	case "Redeemed":
		return EventTypeRedeemed, nil
	case "Reclaimed":
		return EventTypeReclaimed, nil
	case "Swapped":
		return EventTypeSwapped, nil
	default:
		return EventTypeUnknown, fmt.Errorf("unknown event type: %q", s)
	}
}
