package loan

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Status tracks a loan through its one-directional lifecycle
type Status int32

const (
	StatusPending Status = iota
	StatusFunded
	StatusWithdrawn
	StatusSettled
	StatusDefaulted
	StatusLiquidated
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusFunded:
		return "Funded"
	case StatusWithdrawn:
		return "Withdrawn"
	case StatusSettled:
		return "Settled"
	case StatusDefaulted:
		return "Defaulted"
	case StatusLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates status transitions. Transitions are strictly
// one-directional; Settled and Liquidated are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusPending: {
			StatusFunded,
		},
		StatusFunded: {
			StatusWithdrawn,
			StatusSettled,
			StatusDefaulted,
		},
		StatusWithdrawn: {
			StatusSettled,
			StatusDefaulted,
		},
		StatusDefaulted: {
			StatusLiquidated,
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, allowedStatus := range allowed {
		if next == allowedStatus {
			return true
		}
	}

	return false
}

// Record is the in-memory state of one loan instrument
type Record struct {
	LoanID    uuid.UUID
	PoolID    uuid.UUID
	Principal int64 // Fixed-point: quote scale
	RatePPM   int64 // Annual simple interest, parts per million
	TermDays  int64
	Status    Status

	// TotalDebt is fixed at funding time (principal + term interest)
	TotalDebt int64

	// RepaidAmount accumulates borrower repayments
	RepaidAmount int64

	// TokenSupply is the loan-token supply; LedgerHolding is this ledger's
	// share of it, burned at redemption
	TokenSupply   int64
	LedgerHolding int64

	// RecoveryBalance holds post-default funds recovered into the
	// instrument, payable pro rata on redemption
	RecoveryBalance int64

	Version int64 // Optimistic concurrency control
}

// CanonicalBytes returns deterministic serialization for hashing
func (r *Record) CanonicalBytes() []byte {
	buf := make([]byte, 0, 112)

	buf = append(buf, r.LoanID[:]...)
	buf = append(buf, r.PoolID[:]...)
	buf = appendInt64LE(buf, r.Principal)
	buf = appendInt64LE(buf, r.RatePPM)
	buf = appendInt64LE(buf, r.TermDays)
	buf = append(buf, byte(r.Status))
	buf = appendInt64LE(buf, r.TotalDebt)
	buf = appendInt64LE(buf, r.RepaidAmount)
	buf = appendInt64LE(buf, r.TokenSupply)
	buf = appendInt64LE(buf, r.LedgerHolding)
	buf = appendInt64LE(buf, r.RecoveryBalance)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// Registry tracks every loan the ledger has seen
type Registry struct {
	loans map[uuid.UUID]*Record
}

func NewRegistry() *Registry {
	return &Registry{
		loans: make(map[uuid.UUID]*Record),
	}
}

// Register adds a new loan in Pending status
func (rg *Registry) Register(rec *Record) error {
	if _, exists := rg.loans[rec.LoanID]; exists {
		return fmt.Errorf("loan %s already registered", rec.LoanID)
	}
	if rec.TokenSupply <= 0 {
		return fmt.Errorf("loan %s has non-positive token supply: %d", rec.LoanID, rec.TokenSupply)
	}
	if rec.LedgerHolding < 0 || rec.LedgerHolding > rec.TokenSupply {
		return fmt.Errorf("loan %s holding %d outside supply %d", rec.LoanID, rec.LedgerHolding, rec.TokenSupply)
	}

	rg.loans[rec.LoanID] = rec
	return nil
}

// Get returns the loan record or nil
func (rg *Registry) Get(loanID uuid.UUID) *Record {
	return rg.loans[loanID]
}

// SetStatus transitions a loan, enforcing the one-directional machine
func (rg *Registry) SetStatus(loanID uuid.UUID, next Status) error {
	rec, ok := rg.loans[loanID]
	if !ok {
		return fmt.Errorf("unknown loan: %s", loanID)
	}

	if !rec.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid status transition: %s -> %s", rec.Status, next)
	}

	rec.Status = next
	rec.Version++
	return nil
}

// SetRecord directly installs a record (used for snapshot restore)
func (rg *Registry) SetRecord(rec *Record) {
	rg.loans[rec.LoanID] = rec
}

// All returns loan records ordered by id for deterministic iteration
func (rg *Registry) All() []*Record {
	result := make([]*Record, 0, len(rg.loans))
	for _, rec := range rg.loans {
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LoanID.String() < result[j].LoanID.String()
	})
	return result
}
