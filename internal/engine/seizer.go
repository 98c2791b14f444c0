package engine

import (
	"fmt"

	"DeficitLedger/internal/loan"
	"DeficitLedger/internal/pool"

	"github.com/google/uuid"
)

// Seizer is the liquidation engine boundary: one operation that takes a
// defaulted loan away from its pool. Idempotency is guarded upstream by the
// loan status check.
type Seizer interface {
	Seize(loanID uuid.UUID) error
}

// Engine is the default Seizer. Seizing transitions the loan to Liquidated
// and writes its remaining principal out of the pool's NAV; paying the pool
// back is the caller's job.
type Engine struct {
	loans *loan.Registry
	pools *pool.Manager
}

func New(loans *loan.Registry, pools *pool.Manager) *Engine {
	return &Engine{
		loans: loans,
		pools: pools,
	}
}

func (e *Engine) Seize(loanID uuid.UUID) error {
	rec := e.loans.Get(loanID)
	if rec == nil {
		return fmt.Errorf("unknown loan: %s", loanID)
	}
	if rec.Status != loan.StatusDefaulted {
		return fmt.Errorf("loan %s is %s, only Defaulted loans can be seized", loanID, rec.Status)
	}

	if err := e.loans.SetStatus(loanID, loan.StatusLiquidated); err != nil {
		return fmt.Errorf("seize %s: %w", loanID, err)
	}

	if err := e.pools.WriteOff(rec.PoolID, loanID); err != nil {
		return fmt.Errorf("seize %s: %w", loanID, err)
	}

	return nil
}
