package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"DeficitLedger/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before sending to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "PoolRegistered":
		return parsePoolRegistered(raw.Data)
	case "PoolDeposit":
		return parsePoolDeposit(raw.Data)
	case "PoolRedeem":
		return parsePoolRedeem(raw.Data)
	case "LoanRegistered":
		return parseLoanRegistered(raw.Data)
	case "LoanFunded":
		return parseLoanFunded(raw.Data)
	case "LoanWithdrawn":
		return parseLoanWithdrawn(raw.Data)
	case "RepaymentReceived":
		return parseRepaymentReceived(raw.Data)
	case "LoanDefaulted":
		return parseLoanDefaulted(raw.Data)
	case "RecoveryDeposited":
		return parseRecoveryDeposited(raw.Data)
	case "TreasuryDeposit":
		return parseTreasuryDeposit(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type poolRegisteredJSON struct {
	PoolID      string `json:"pool_id"`
	Asset       string `json:"asset"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePoolRegistered(data []byte) (*event.PoolRegistered, error) {
	var j poolRegisteredJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolRegistered: %w", err)
	}
	poolID, err := uuid.Parse(j.PoolID)
	if err != nil {
		return nil, fmt.Errorf("parse pool_id: %w", err)
	}
	return &event.PoolRegistered{
		Pool:      poolID,
		Asset:     j.Asset,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type poolDepositJSON struct {
	DepositID   string `json:"deposit_id"`
	PoolID      string `json:"pool_id"`
	DepositorID string `json:"depositor_id"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePoolDeposit(data []byte) (*event.PoolDeposit, error) {
	var j poolDepositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolDeposit: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	poolID, err := uuid.Parse(j.PoolID)
	if err != nil {
		return nil, fmt.Errorf("parse pool_id: %w", err)
	}
	depositorID, err := uuid.Parse(j.DepositorID)
	if err != nil {
		return nil, fmt.Errorf("parse depositor_id: %w", err)
	}
	return &event.PoolDeposit{
		DepositID: depositID,
		Pool:      poolID,
		Depositor: depositorID,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type poolRedeemJSON struct {
	RedemptionID string `json:"redemption_id"`
	PoolID       string `json:"pool_id"`
	DepositorID  string `json:"depositor_id"`
	Shares       int64  `json:"shares"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parsePoolRedeem(data []byte) (*event.PoolRedeem, error) {
	var j poolRedeemJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolRedeem: %w", err)
	}
	redemptionID, err := uuid.Parse(j.RedemptionID)
	if err != nil {
		return nil, fmt.Errorf("parse redemption_id: %w", err)
	}
	poolID, err := uuid.Parse(j.PoolID)
	if err != nil {
		return nil, fmt.Errorf("parse pool_id: %w", err)
	}
	depositorID, err := uuid.Parse(j.DepositorID)
	if err != nil {
		return nil, fmt.Errorf("parse depositor_id: %w", err)
	}
	return &event.PoolRedeem{
		RedemptionID: redemptionID,
		Pool:         poolID,
		Depositor:    depositorID,
		Shares:       j.Shares,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type loanRegisteredJSON struct {
	LoanID        string `json:"loan_id"`
	PoolID        string `json:"pool_id"`
	Principal     int64  `json:"principal"`
	RatePPM       int64  `json:"rate_ppm"`
	TermDays      int64  `json:"term_days"`
	TokenSupply   int64  `json:"token_supply"`
	LedgerHolding int64  `json:"ledger_holding"`
	Sequence      int64  `json:"sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseLoanRegistered(data []byte) (*event.LoanRegistered, error) {
	var j loanRegisteredJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LoanRegistered: %w", err)
	}
	loanID, err := uuid.Parse(j.LoanID)
	if err != nil {
		return nil, fmt.Errorf("parse loan_id: %w", err)
	}
	poolID, err := uuid.Parse(j.PoolID)
	if err != nil {
		return nil, fmt.Errorf("parse pool_id: %w", err)
	}
	return &event.LoanRegistered{
		Loan:          loanID,
		Pool:          poolID,
		Principal:     j.Principal,
		RatePPM:       j.RatePPM,
		TermDays:      j.TermDays,
		TokenSupply:   j.TokenSupply,
		LedgerHolding: j.LedgerHolding,
		Sequence:      j.Sequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}

type loanLifecycleJSON struct {
	LoanID      string `json:"loan_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseLoanFunded(data []byte) (*event.LoanFunded, error) {
	var j loanLifecycleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LoanFunded: %w", err)
	}
	loanID, err := uuid.Parse(j.LoanID)
	if err != nil {
		return nil, fmt.Errorf("parse loan_id: %w", err)
	}
	return &event.LoanFunded{
		Loan:      loanID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseLoanWithdrawn(data []byte) (*event.LoanWithdrawn, error) {
	var j loanLifecycleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LoanWithdrawn: %w", err)
	}
	loanID, err := uuid.Parse(j.LoanID)
	if err != nil {
		return nil, fmt.Errorf("parse loan_id: %w", err)
	}
	return &event.LoanWithdrawn{
		Loan:      loanID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseLoanDefaulted(data []byte) (*event.LoanDefaulted, error) {
	var j loanLifecycleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LoanDefaulted: %w", err)
	}
	loanID, err := uuid.Parse(j.LoanID)
	if err != nil {
		return nil, fmt.Errorf("parse loan_id: %w", err)
	}
	return &event.LoanDefaulted{
		Loan:      loanID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type repaymentJSON struct {
	PaymentID   string `json:"payment_id"`
	LoanID      string `json:"loan_id"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseRepaymentReceived(data []byte) (*event.RepaymentReceived, error) {
	var j repaymentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RepaymentReceived: %w", err)
	}
	paymentID, err := uuid.Parse(j.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("parse payment_id: %w", err)
	}
	loanID, err := uuid.Parse(j.LoanID)
	if err != nil {
		return nil, fmt.Errorf("parse loan_id: %w", err)
	}
	return &event.RepaymentReceived{
		PaymentID: paymentID,
		Loan:      loanID,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type recoveryJSON struct {
	DepositID   string `json:"deposit_id"`
	LoanID      string `json:"loan_id"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseRecoveryDeposited(data []byte) (*event.RecoveryDeposited, error) {
	var j recoveryJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RecoveryDeposited: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	loanID, err := uuid.Parse(j.LoanID)
	if err != nil {
		return nil, fmt.Errorf("parse loan_id: %w", err)
	}
	return &event.RecoveryDeposited{
		DepositID: depositID,
		Loan:      loanID,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type treasuryDepositJSON struct {
	DepositID   string `json:"deposit_id"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseTreasuryDeposit(data []byte) (*event.TreasuryDeposit, error) {
	var j treasuryDepositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TreasuryDeposit: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	return &event.TreasuryDeposit{
		DepositID: depositID,
		Asset:     j.Asset,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}
