package pool_test

import (
	"DeficitLedger/internal/pool"
	"testing"

	"github.com/google/uuid"
)

func TestManager_FirstDepositMintsOneToOne(t *testing.T) {
	m := pool.NewManager()
	poolID := uuid.New()
	depositor := uuid.New()

	if _, err := m.Register(poolID, "USDC"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	shares, err := m.Deposit(poolID, depositor, 1_000_000_000, 0)
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if shares != 1_000_000_000 {
		t.Errorf("first deposit shares: got %d, want 1_000_000_000", shares)
	}
}

func TestManager_DepositAtPremium(t *testing.T) {
	m := pool.NewManager()
	poolID := uuid.New()
	first := uuid.New()
	second := uuid.New()

	m.Register(poolID, "USDC")
	m.Deposit(poolID, first, 1_000_000, 0)

	// NAV has grown to 2_000_000 through interest: a 1_000_000 deposit now
	// buys half as many shares.
	shares, err := m.Deposit(poolID, second, 1_000_000, 2_000_000)
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if shares != 500_000 {
		t.Errorf("premium deposit shares: got %d, want 500_000", shares)
	}
}

func TestManager_RedeemRoundsAgainstDepositor(t *testing.T) {
	m := pool.NewManager()
	poolID := uuid.New()
	depositor := uuid.New()

	m.Register(poolID, "USDC")
	m.Deposit(poolID, depositor, 3, 0)

	// NAV 4 over 3 shares: redeeming 1 share pays 1 (4/3 truncated), the
	// dust stays in the pool so the share price cannot fall.
	amount, err := m.Redeem(poolID, depositor, 1, 4)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if amount != 1 {
		t.Errorf("redeem payout: got %d, want 1", amount)
	}

	p := m.Get(poolID)
	if p.TotalShares != 2 {
		t.Errorf("total shares: got %d, want 2", p.TotalShares)
	}
}

func TestManager_Redeem_InsufficientShares(t *testing.T) {
	m := pool.NewManager()
	poolID := uuid.New()
	depositor := uuid.New()

	m.Register(poolID, "USDC")
	m.Deposit(poolID, depositor, 100, 0)

	if _, err := m.Redeem(poolID, depositor, 101, 100); err == nil {
		t.Error("redeeming more shares than held should fail")
	}
	if _, err := m.Redeem(poolID, uuid.New(), 1, 100); err == nil {
		t.Error("redeeming with no shares should fail")
	}
}

func TestManager_LoanLifecycleBookkeeping(t *testing.T) {
	m := pool.NewManager()
	poolID := uuid.New()
	loanID := uuid.New()

	m.Register(poolID, "USDC")

	if err := m.FundLoan(poolID, loanID, 100_000); err != nil {
		t.Fatalf("FundLoan failed: %v", err)
	}
	if err := m.FundLoan(poolID, loanID, 100_000); err == nil {
		t.Error("double funding one loan should fail")
	}

	p := m.Get(poolID)
	if p.OutstandingPrincipal != 100_000 {
		t.Errorf("outstanding after funding: got %d", p.OutstandingPrincipal)
	}

	// Repayment covering principal plus interest only writes down principal
	if err := m.OnRepayment(poolID, loanID, 60_000); err != nil {
		t.Fatalf("OnRepayment failed: %v", err)
	}
	if err := m.OnRepayment(poolID, loanID, 60_000); err != nil {
		t.Fatalf("OnRepayment failed: %v", err)
	}
	if p.OutstandingPrincipal != 0 {
		t.Errorf("outstanding after full repayment: got %d, want 0", p.OutstandingPrincipal)
	}

	if err := m.SettleLoan(poolID, loanID); err != nil {
		t.Fatalf("SettleLoan failed: %v", err)
	}
	if err := m.SettleLoan(poolID, loanID); err == nil {
		t.Error("settling a removed loan should fail")
	}
}

func TestManager_WriteOffDropsRemainingPrincipal(t *testing.T) {
	m := pool.NewManager()
	poolID := uuid.New()
	loanID := uuid.New()

	m.Register(poolID, "USDC")
	m.FundLoan(poolID, loanID, 100_000)

	if err := m.WriteOff(poolID, loanID); err != nil {
		t.Fatalf("WriteOff failed: %v", err)
	}

	p := m.Get(poolID)
	if p.OutstandingPrincipal != 0 {
		t.Errorf("outstanding after write-off: got %d, want 0", p.OutstandingPrincipal)
	}
	if p.NAV(40_000, 0) != 40_000 {
		t.Errorf("NAV after write-off: got %d, want 40_000", p.NAV(40_000, 0))
	}
}

func TestPool_NAVFloorsAtZero(t *testing.T) {
	p := &pool.Pool{PoolID: uuid.New(), Asset: "USDC"}
	if nav := p.NAV(100, 500); nav != 0 {
		t.Errorf("NAV should floor at zero, got %d", nav)
	}
}
