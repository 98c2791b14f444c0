package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateTreasuryNonNegative checks the ledger never pays money it does not have
func (v *InvariantValidator) ValidateTreasuryNonNegative(assetID AssetID) error {
	return v.tracker.ValidateNonNegative(NewTreasuryAccountKey(assetID))
}

// ValidatePoolCashNonNegative checks a pool cash account after funding or redemption
func (v *InvariantValidator) ValidatePoolCashNonNegative(poolID uuid.UUID, assetID AssetID) error {
	return v.tracker.ValidateNonNegative(NewPoolAccountKey(poolID, assetID))
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
