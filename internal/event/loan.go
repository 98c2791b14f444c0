package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LoanRegistered announces a new loan created by the upstream factory.
// Idempotency key: "{loan}:registered".
type LoanRegistered struct {
	Loan          uuid.UUID
	Pool          uuid.UUID
	Principal     int64 // Fixed-point: quote scale (decimal_precision=6, scale=1_000_000)
	RatePPM       int64 // Annual simple interest, parts per million
	TermDays      int64
	TokenSupply   int64 // Loan tokens minted against the obligation
	LedgerHolding int64 // Portion of the supply held by this ledger
	Sequence      int64
	Timestamp     time.Time // Versioned input timestamp (NOT wall-clock)
}

func (l *LoanRegistered) IdempotencyKey() string {
	return fmt.Sprintf("%s:registered", l.Loan)
}

func (l *LoanRegistered) EventType() EventType {
	return EventTypeLoanRegistered
}

func (l *LoanRegistered) LoanID() *string {
	s := l.Loan.String()
	return &s
}

func (l *LoanRegistered) SourceSequence() int64 {
	return l.Sequence
}

// LoanFunded disburses principal from the owning pool and fixes the debt.
type LoanFunded struct {
	Loan      uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (l *LoanFunded) IdempotencyKey() string {
	return fmt.Sprintf("%s:funded", l.Loan)
}

func (l *LoanFunded) EventType() EventType {
	return EventTypeLoanFunded
}

func (l *LoanFunded) LoanID() *string {
	s := l.Loan.String()
	return &s
}

func (l *LoanFunded) SourceSequence() int64 {
	return l.Sequence
}

// LoanWithdrawn marks the borrower as having drawn the principal.
type LoanWithdrawn struct {
	Loan      uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (l *LoanWithdrawn) IdempotencyKey() string {
	return fmt.Sprintf("%s:withdrawn", l.Loan)
}

func (l *LoanWithdrawn) EventType() EventType {
	return EventTypeLoanWithdrawn
}

func (l *LoanWithdrawn) LoanID() *string {
	s := l.Loan.String()
	return &s
}

func (l *LoanWithdrawn) SourceSequence() int64 {
	return l.Sequence
}

// RepaymentReceived moves borrower money back to the owning pool. A payment
// that brings cumulative repayment to the total debt settles the loan.
// Idempotency key: payment_id.
type RepaymentReceived struct {
	PaymentID uuid.UUID
	Loan      uuid.UUID
	Amount    int64
	Sequence  int64
	Timestamp time.Time
}

func (r *RepaymentReceived) IdempotencyKey() string {
	return r.PaymentID.String()
}

func (r *RepaymentReceived) EventType() EventType {
	return EventTypeRepaymentReceived
}

func (r *RepaymentReceived) LoanID() *string {
	s := r.Loan.String()
	return &s
}

func (r *RepaymentReceived) SourceSequence() int64 {
	return r.Sequence
}

// LoanDefaulted marks a loan as defaulted, making it eligible for
// liquidation.
type LoanDefaulted struct {
	Loan      uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (l *LoanDefaulted) IdempotencyKey() string {
	return fmt.Sprintf("%s:defaulted", l.Loan)
}

func (l *LoanDefaulted) EventType() EventType {
	return EventTypeLoanDefaulted
}

func (l *LoanDefaulted) LoanID() *string {
	s := l.Loan.String()
	return &s
}

func (l *LoanDefaulted) SourceSequence() int64 {
	return l.Sequence
}

// RecoveryDeposited records post-default funds recovered into the loan
// instrument itself, payable pro rata on redemption.
// Idempotency key: deposit_id.
type RecoveryDeposited struct {
	DepositID uuid.UUID
	Loan      uuid.UUID
	Amount    int64
	Sequence  int64
	Timestamp time.Time
}

func (r *RecoveryDeposited) IdempotencyKey() string {
	return r.DepositID.String()
}

func (r *RecoveryDeposited) EventType() EventType {
	return EventTypeRecoveryDeposited
}

func (r *RecoveryDeposited) LoanID() *string {
	s := r.Loan.String()
	return &s
}

func (r *RecoveryDeposited) SourceSequence() int64 {
	return r.Sequence
}
