package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from events
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Add reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence realigns the generator after a snapshot restore
func (jg *JournalGenerator) SetSequence(sequence int64) {
	jg.sequence = sequence
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) appendJournal(b *Batch, debit, credit AccountKey, assetID AssetID, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GeneratePoolDeposit moves depositor funds into a pool.
// external:deposits → pool:cash
func (jg *JournalGenerator) GeneratePoolDeposit(
	poolID uuid.UUID,
	eventRef string,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewPoolAccountKey(poolID, assetID),
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		assetID, amount, JournalTypePoolDeposit)

	jg.sequence++
	return batch, nil
}

// GeneratePoolRedemption pays a share redemption out of pool cash.
// Pre-check: the pool must hold the payout in cash.
// pool:cash → external:deposits
func (jg *JournalGenerator) GeneratePoolRedemption(
	poolID uuid.UUID,
	eventRef string,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientPoolCash(poolID, assetID, amount); err != nil {
		return nil, fmt.Errorf("pool redemption pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		NewPoolAccountKey(poolID, assetID),
		assetID, amount, JournalTypePoolRedeem)

	jg.sequence++
	return batch, nil
}

// GenerateLoanFunding disburses principal from a pool to the borrower boundary.
// Pre-check: the pool must hold the full principal in cash.
// pool:cash → external:borrowers
func (jg *JournalGenerator) GenerateLoanFunding(
	poolID uuid.UUID,
	loanID uuid.UUID,
	principal int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientPoolCash(poolID, assetID, principal); err != nil {
		return nil, fmt.Errorf("loan funding pre-check failed: %w", err)
	}

	batch := jg.newBatch(loanID.String(), timestamp, 1)

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalBorrowers, assetID),
		NewPoolAccountKey(poolID, assetID),
		assetID, principal, JournalTypeLoanFunding)

	jg.sequence++
	return batch, nil
}

// GenerateRepayment returns borrower money to the owning pool.
// external:borrowers → pool:cash
func (jg *JournalGenerator) GenerateRepayment(
	poolID uuid.UUID,
	eventRef string,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewPoolAccountKey(poolID, assetID),
		NewExternalAccountKey(SubTypeExternalBorrowers, assetID),
		assetID, amount, JournalTypeRepayment)

	jg.sequence++
	return batch, nil
}

// GenerateTreasuryDeposit records external income into the ledger treasury.
// external:deposits → system:treasury
func (jg *JournalGenerator) GenerateTreasuryDeposit(
	eventRef string,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewTreasuryAccountKey(assetID),
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		assetID, amount, JournalTypeTreasuryDeposit)

	jg.sequence++
	return batch, nil
}

// GenerateLiquidationPayout pays a pool the covered portion of a liquidated
// loan out of the treasury.
// Pre-check: the caller computed the payout as min(owed, treasury), but the
// treasury balance is validated again here.
// system:treasury → pool:cash
func (jg *JournalGenerator) GenerateLiquidationPayout(
	poolID uuid.UUID,
	loanID uuid.UUID,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientTreasury(assetID, amount); err != nil {
		return nil, fmt.Errorf("liquidation payout pre-check failed: %w", err)
	}

	batch := jg.newBatch(loanID.String(), timestamp, 1)

	jg.appendJournal(batch,
		NewPoolAccountKey(poolID, assetID),
		NewTreasuryAccountKey(assetID),
		assetID, amount, JournalTypeLiquidationPayout)

	jg.sequence++
	return batch, nil
}

// GenerateRedemption credits recovered instrument funds to the treasury.
// external:recoveries → system:treasury
func (jg *JournalGenerator) GenerateRedemption(
	loanID uuid.UUID,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(loanID.String(), timestamp, 1)

	jg.appendJournal(batch,
		NewTreasuryAccountKey(assetID),
		NewExternalAccountKey(SubTypeExternalRecoveries, assetID),
		assetID, amount, JournalTypeRedemption)

	jg.sequence++
	return batch, nil
}

// GenerateReclaim pays a claim holder from the treasury.
// Pre-check: the treasury must cover the full amount, no partial fills.
// system:treasury → holder:cash
func (jg *JournalGenerator) GenerateReclaim(
	holderID uuid.UUID,
	eventRef string,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientTreasury(assetID, amount); err != nil {
		return nil, fmt.Errorf("reclaim pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewHolderAccountKey(holderID, assetID),
		NewTreasuryAccountKey(assetID),
		assetID, amount, JournalTypeReclaim)

	jg.sequence++
	return batch, nil
}

// GenerateSwap records both legs of a treasury asset swap under one batch.
// Pre-check: the treasury must hold the full source amount.
// system:treasury → external:exchange (source asset)
// external:exchange → system:treasury (return asset)
func (jg *JournalGenerator) GenerateSwap(
	swapID uuid.UUID,
	sourceAssetID AssetID,
	sourceAmount int64,
	returnAssetID AssetID,
	returnAmount int64,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientTreasury(sourceAssetID, sourceAmount); err != nil {
		return nil, fmt.Errorf("swap pre-check failed: %w", err)
	}

	batch := jg.newBatch(swapID.String(), timestamp, 2)

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalExchange, sourceAssetID),
		NewTreasuryAccountKey(sourceAssetID),
		sourceAssetID, sourceAmount, JournalTypeSwapOut)

	jg.appendJournal(batch,
		NewTreasuryAccountKey(returnAssetID),
		NewExternalAccountKey(SubTypeExternalExchange, returnAssetID),
		returnAssetID, returnAmount, JournalTypeSwapIn)

	jg.sequence++
	return batch, nil
}
