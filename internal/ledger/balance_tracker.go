package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites an account balance, used only by snapshot restore
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// === Domain Balance Queries ===

// GetTreasuryBalance returns the ledger's own liquid balance in an asset
func (bt *BalanceTracker) GetTreasuryBalance(assetID AssetID) int64 {
	return bt.GetBalance(NewTreasuryAccountKey(assetID))
}

// GetPoolCash returns a pool's liquid cash balance
func (bt *BalanceTracker) GetPoolCash(poolID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewPoolAccountKey(poolID, assetID))
}

// GetHolderBalance returns a claim holder's accumulated payouts
func (bt *BalanceTracker) GetHolderBalance(holderID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewHolderAccountKey(holderID, assetID))
}

// === Invariant Checks ===

// ValidateSufficientTreasury checks the treasury can cover a payment in full
func (bt *BalanceTracker) ValidateSufficientTreasury(assetID AssetID, required int64) error {
	balance := bt.GetTreasuryBalance(assetID)
	if balance < required {
		return fmt.Errorf("insufficient treasury balance: have=%d, need=%d", balance, required)
	}
	return nil
}

// ValidateSufficientPoolCash checks a pool can fund a loan in full
func (bt *BalanceTracker) ValidateSufficientPoolCash(poolID uuid.UUID, assetID AssetID, required int64) error {
	balance := bt.GetPoolCash(poolID, assetID)
	if balance < required {
		return fmt.Errorf("insufficient pool cash: have=%d, need=%d", balance, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
