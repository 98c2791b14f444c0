package loan_test

import (
	"DeficitLedger/internal/loan"
	"testing"

	"github.com/google/uuid"
)

func newRecord() *loan.Record {
	return &loan.Record{
		LoanID:        uuid.New(),
		PoolID:        uuid.New(),
		Principal:     100_000_000,
		RatePPM:       80_000,
		TermDays:      365,
		Status:        loan.StatusPending,
		TokenSupply:   100_000_000,
		LedgerHolding: 100_000_000,
	}
}

// ============================================================================
// Test: Status machine
// ============================================================================

func TestStatus_ForwardTransitions(t *testing.T) {
	cases := []struct {
		from, to loan.Status
		ok       bool
	}{
		{loan.StatusPending, loan.StatusFunded, true},
		{loan.StatusFunded, loan.StatusWithdrawn, true},
		{loan.StatusFunded, loan.StatusSettled, true},
		{loan.StatusFunded, loan.StatusDefaulted, true},
		{loan.StatusWithdrawn, loan.StatusSettled, true},
		{loan.StatusWithdrawn, loan.StatusDefaulted, true},
		{loan.StatusDefaulted, loan.StatusLiquidated, true},

		// Backward or skipping moves are rejected
		{loan.StatusFunded, loan.StatusPending, false},
		{loan.StatusPending, loan.StatusDefaulted, false},
		{loan.StatusPending, loan.StatusLiquidated, false},
		{loan.StatusSettled, loan.StatusDefaulted, false},
		{loan.StatusLiquidated, loan.StatusDefaulted, false},
		{loan.StatusLiquidated, loan.StatusLiquidated, false},
	}

	for _, tc := range cases {
		got := tc.from.CanTransitionTo(tc.to)
		if got != tc.ok {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestRegistry_RegisterAndTransition(t *testing.T) {
	rg := loan.NewRegistry()
	rec := newRecord()

	if err := rg.Register(rec); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Duplicate registration fails
	if err := rg.Register(rec); err == nil {
		t.Error("duplicate registration should fail")
	}

	if err := rg.SetStatus(rec.LoanID, loan.StatusFunded); err != nil {
		t.Fatalf("Pending -> Funded failed: %v", err)
	}

	if err := rg.SetStatus(rec.LoanID, loan.StatusLiquidated); err == nil {
		t.Error("Funded -> Liquidated should be rejected")
	}

	if err := rg.SetStatus(uuid.New(), loan.StatusFunded); err == nil {
		t.Error("transition on unknown loan should fail")
	}
}

func TestRegistry_Register_InvalidHolding(t *testing.T) {
	rg := loan.NewRegistry()

	rec := newRecord()
	rec.LedgerHolding = rec.TokenSupply + 1
	if err := rg.Register(rec); err == nil {
		t.Error("holding above supply should be rejected")
	}

	rec = newRecord()
	rec.TokenSupply = 0
	if err := rg.Register(rec); err == nil {
		t.Error("zero token supply should be rejected")
	}
}

// ============================================================================
// Test: ClaimLedger
// ============================================================================

func TestClaimLedger_MintAndBurn(t *testing.T) {
	cl := loan.NewClaimLedger()
	loanID := uuid.New()
	poolID := uuid.New()

	claim, err := cl.Mint(loanID, poolID, poolID, "USDC", 60_000_000_000)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if claim.Outstanding != 60_000_000_000 || claim.Supply != 60_000_000_000 {
		t.Errorf("claim totals: outstanding=%d supply=%d", claim.Outstanding, claim.Supply)
	}
	if cl.PoolDeficit(poolID) != 60_000_000_000 {
		t.Errorf("pool deficit: got %d, want 60_000_000_000", cl.PoolDeficit(poolID))
	}

	// Second mint for the same loan fails
	if _, err := cl.Mint(loanID, poolID, poolID, "USDC", 1); err == nil {
		t.Error("second claim for one loan should fail")
	}

	// Partial burn shrinks claim and deficit in lockstep
	if _, err := cl.Burn(loanID, poolID, 10_000_000_000); err != nil {
		t.Fatalf("Burn failed: %v", err)
	}
	if cl.PoolDeficit(poolID) != 50_000_000_000 {
		t.Errorf("pool deficit after burn: got %d", cl.PoolDeficit(poolID))
	}
	if err := cl.CheckConsistency(); err != nil {
		t.Errorf("consistency after partial burn: %v", err)
	}

	// Final burn destroys the claim
	if _, err := cl.Burn(loanID, poolID, 50_000_000_000); err != nil {
		t.Fatalf("final Burn failed: %v", err)
	}
	if cl.Get(loanID) != nil {
		t.Error("claim should be destroyed at zero supply")
	}
	if cl.PoolDeficit(poolID) != 0 {
		t.Errorf("pool deficit should be zero, got %d", cl.PoolDeficit(poolID))
	}
}

func TestClaimLedger_Burn_InsufficientBalance(t *testing.T) {
	cl := loan.NewClaimLedger()
	loanID := uuid.New()
	poolID := uuid.New()

	if _, err := cl.Mint(loanID, poolID, poolID, "USDC", 1_000); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	if _, err := cl.Burn(loanID, poolID, 1_001); err == nil {
		t.Error("burning more than the holder balance should fail")
	}
	if _, err := cl.Burn(loanID, uuid.New(), 1); err == nil {
		t.Error("burning from a holder without tokens should fail")
	}

	// Failed burns change nothing
	if cl.PoolDeficit(poolID) != 1_000 {
		t.Errorf("pool deficit after failed burns: got %d, want 1_000", cl.PoolDeficit(poolID))
	}
}

func TestClaimLedger_Transfer(t *testing.T) {
	cl := loan.NewClaimLedger()
	loanID := uuid.New()
	poolID := uuid.New()
	buyer := uuid.New()

	if _, err := cl.Mint(loanID, poolID, poolID, "USDC", 500); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	if err := cl.Transfer(loanID, poolID, buyer, 200); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	claim := cl.Get(loanID)
	if claim.BalanceOf(poolID) != 300 || claim.BalanceOf(buyer) != 200 {
		t.Errorf("balances after transfer: pool=%d buyer=%d", claim.BalanceOf(poolID), claim.BalanceOf(buyer))
	}

	// Transfers do not move the outstanding total
	if cl.PoolDeficit(poolID) != 500 {
		t.Errorf("pool deficit after transfer: got %d, want 500", cl.PoolDeficit(poolID))
	}
	if err := cl.CheckConsistency(); err != nil {
		t.Errorf("consistency after transfer: %v", err)
	}
}

func TestClaimLedger_DeficitMatchesClaimSum(t *testing.T) {
	cl := loan.NewClaimLedger()
	poolID := uuid.New()

	loans := []int64{60_000_000_000, 5_000_000, 123_456}
	var total int64
	for _, amount := range loans {
		if _, err := cl.Mint(uuid.New(), poolID, poolID, "USDC", amount); err != nil {
			t.Fatalf("Mint failed: %v", err)
		}
		total += amount
	}

	if cl.PoolDeficit(poolID) != total {
		t.Errorf("pool deficit: got %d, want %d", cl.PoolDeficit(poolID), total)
	}
	if err := cl.CheckConsistency(); err != nil {
		t.Errorf("consistency: %v", err)
	}
}
