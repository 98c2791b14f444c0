package ledger_test

import (
	"DeficitLedger/internal/ledger"
	"testing"

	"github.com/google/uuid"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_PoolPath(t *testing.T) {
	poolID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewPoolAccountKey(poolID, assetID)

	path := key.AccountPath()
	expected := "pool:550e8400-e29b-41d4-a716-446655440000:cash:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_TreasuryPath(t *testing.T) {
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewTreasuryAccountKey(assetID)

	path := key.AccountPath()
	if path != "system:treasury:USDC" {
		t.Errorf("got %q, want %q", path, "system:treasury:USDC")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalRecoveries, assetID)

	path := key.AccountPath()
	if path != "external:recoveries:USDC" {
		t.Errorf("got %q, want %q", path, "external:recoveries:USDC")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	assetID, _ := ledger.GetAssetID("DAI")
	keys := []ledger.AccountKey{
		ledger.NewPoolAccountKey(uuid.New(), assetID),
		ledger.NewHolderAccountKey(uuid.New(), assetID),
		ledger.NewTreasuryAccountKey(assetID),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalBorrowers, assetID),
	}

	for _, key := range keys {
		path := key.AccountPath()
		parsed, err := ledger.ParseAccountPath(path)
		if err != nil {
			t.Fatalf("ParseAccountPath(%q) failed: %v", path, err)
		}
		if parsed != key {
			t.Errorf("round trip mismatch for %q", path)
		}
	}
}

func TestParseAccountPath_Malformed(t *testing.T) {
	for _, path := range []string{"", "pool", "user:x:cash:USDC", "pool:not-a-uuid:cash:USDC", "system:treasury:DOGE"} {
		if _, err := ledger.ParseAccountPath(path); err == nil {
			t.Errorf("ParseAccountPath(%q) should fail", path)
		}
	}
}

func TestGetAssetID_Known(t *testing.T) {
	id, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC should be a known asset")
	}
	if id == 0 {
		t.Error("USDC asset ID should be non-zero")
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("DOGE")
	if ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	poolID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	if balance := bt.GetPoolCash(poolID, assetID); balance != 0 {
		t.Errorf("initial balance should be 0, got %d", balance)
	}
	if balance := bt.GetTreasuryBalance(assetID); balance != 0 {
		t.Errorf("initial treasury balance should be 0, got %d", balance)
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	poolID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	// Simulate pool deposit: debit pool:cash, credit external:deposits
	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewPoolAccountKey(poolID, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	}

	bt.ApplyJournal(j)

	cash := bt.GetPoolCash(poolID, assetID)
	if cash != 1_000_000 {
		t.Errorf("pool cash: got %d, want 1_000_000", cash)
	}
}

func TestBalanceTracker_ApplyBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID, _ := ledger.GetAssetID("USDC")
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewTreasuryAccountKey(assetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
				AssetID:       assetID,
				Amount:        500_000,
			},
		},
	}

	err := bt.ApplyBatch(batch)
	if err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if bt.GetTreasuryBalance(assetID) != 500_000 {
		t.Errorf("expected 500_000 after batch apply")
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	poolID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	// Pool deposit
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewPoolAccountKey(poolID, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	})

	// Loan funding out of the pool
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewExternalAccountKey(ledger.SubTypeExternalBorrowers, assetID),
		CreditAccount: ledger.NewPoolAccountKey(poolID, assetID),
		AssetID:       assetID,
		Amount:        300_000,
	})

	// Global balance should still be zero
	totals := bt.ComputeGlobalBalance()
	for aid, total := range totals {
		if total != 0 {
			t.Errorf("asset %d has non-zero global balance: %d", aid, total)
		}
	}
}

func TestBalanceTracker_ValidateSufficientTreasury(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID, _ := ledger.GetAssetID("USDC")

	// No balance — should fail
	err := bt.ValidateSufficientTreasury(assetID, 100)
	if err == nil {
		t.Error("expected error for insufficient treasury")
	}

	// Add balance
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewTreasuryAccountKey(assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        1_000,
	})

	// Now should pass
	err = bt.ValidateSufficientTreasury(assetID, 1_000)
	if err != nil {
		t.Errorf("should have sufficient treasury: %v", err)
	}

	// Asking for more should fail
	err = bt.ValidateSufficientTreasury(assetID, 1_001)
	if err == nil {
		t.Error("expected error for 1_001 > 1_000")
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID, _ := ledger.GetAssetID("USDC")

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewTreasuryAccountKey(assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        999,
	})

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = 0
	}

	if bt.GetTreasuryBalance(assetID) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewPoolAccountKey(uuid.New(), assetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
				AssetID:       assetID,
				Amount:        0,
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_NegativeAmount_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewPoolAccountKey(uuid.New(), assetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
				AssetID:       assetID,
				Amount:        -100,
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("negative amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")
	sameAccount := ledger.NewPoolAccountKey(uuid.New(), assetID)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  sameAccount,
				CreditAccount: sameAccount,
				AssetID:       assetID,
				Amount:        100,
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       uuid.New(), // Different batch ID
				DebitAccount:  ledger.NewPoolAccountKey(uuid.New(), assetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
				AssetID:       assetID,
				Amount:        100,
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

func TestBatchValidate_CrossAssetAccounts_Fails(t *testing.T) {
	batchID := uuid.New()
	usdc, _ := ledger.GetAssetID("USDC")
	dai, _ := ledger.GetAssetID("DAI")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewTreasuryAccountKey(dai),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc),
				AssetID:       usdc,
				Amount:        100,
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("cross-asset transfer within one entry should fail validation")
	}
}

func TestBatchValidate_ValidBatch_Passes(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewPoolAccountKey(uuid.New(), assetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
				AssetID:       assetID,
				Amount:        1_000_000,
			},
		},
	}

	err := batch.Validate()
	if err != nil {
		t.Errorf("valid batch should pass: %v", err)
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestJournalGenerator_LoanFunding_PreCheck(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	poolID := uuid.New()
	loanID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	// Empty pool — funding must fail the pre-check
	_, err := jg.GenerateLoanFunding(poolID, loanID, 100_000_000, assetID, 1)
	if err == nil {
		t.Fatal("funding from an empty pool should fail")
	}

	// Seed the pool, then funding passes and the batch balances
	seed, err := jg.GeneratePoolDeposit(poolID, "dep-1", 100_000_000, assetID, 1)
	if err != nil {
		t.Fatalf("GeneratePoolDeposit failed: %v", err)
	}
	if err := bt.ApplyBatch(seed); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	batch, err := jg.GenerateLoanFunding(poolID, loanID, 100_000_000, assetID, 2)
	if err != nil {
		t.Fatalf("GenerateLoanFunding failed: %v", err)
	}
	if err := batch.Validate(); err != nil {
		t.Fatalf("funding batch invalid: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if bt.GetPoolCash(poolID, assetID) != 0 {
		t.Errorf("pool cash after full funding: got %d, want 0", bt.GetPoolCash(poolID, assetID))
	}
}

func TestJournalGenerator_Swap_TwoLegs(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	usdc, _ := ledger.GetAssetID("USDC")
	weth, _ := ledger.GetAssetID("WETH")

	seed, _ := jg.GenerateTreasuryDeposit("seed", 50_000_000, weth, 1)
	if err := bt.ApplyBatch(seed); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	batch, err := jg.GenerateSwap(uuid.New(), weth, 50_000_000, usdc, 120_000_000, 2)
	if err != nil {
		t.Fatalf("GenerateSwap failed: %v", err)
	}
	if len(batch.Journals) != 2 {
		t.Fatalf("swap batch should have 2 legs, got %d", len(batch.Journals))
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if bt.GetTreasuryBalance(weth) != 0 {
		t.Errorf("WETH treasury after swap: got %d, want 0", bt.GetTreasuryBalance(weth))
	}
	if bt.GetTreasuryBalance(usdc) != 120_000_000 {
		t.Errorf("USDC treasury after swap: got %d, want 120_000_000", bt.GetTreasuryBalance(usdc))
	}

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("ledger should stay zero-sum across a swap: %v", err)
	}
}

func TestJournalGenerator_Reclaim_PreCheck(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	holderID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	_, err := jg.GenerateReclaim(holderID, "claim-1", 1_000, assetID, 1)
	if err == nil {
		t.Error("reclaim against an empty treasury should fail")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	// Empty ledger — should pass
	err := v.ValidateGlobalBalance()
	if err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	// Add balanced journal
	poolID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewPoolAccountKey(poolID, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	})

	// Still zero-sum
	err = v.ValidateGlobalBalance()
	if err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
}

func TestInvariantValidator_TreasuryNonNegative(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	assetID, _ := ledger.GetAssetID("USDC")

	if err := v.ValidateTreasuryNonNegative(assetID); err != nil {
		t.Errorf("empty treasury is not negative: %v", err)
	}

	// Force the treasury negative with a raw journal
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewHolderAccountKey(uuid.New(), assetID),
		CreditAccount: ledger.NewTreasuryAccountKey(assetID),
		AssetID:       assetID,
		Amount:        500,
	})

	if err := v.ValidateTreasuryNonNegative(assetID); err == nil {
		t.Error("overdrawn treasury should fail validation")
	}
}
