package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"DeficitLedger/internal/projection"
	"DeficitLedger/internal/testutil"
)

func TestRebuildProjections_KeepsHistoryRebuildsBalances(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	poolID := uuid.New().String()
	loanID := uuid.New().String()
	poolAccount := "pool:" + poolID + ":cash:USDC"

	// Two journal legs: a deposit into the pool, then a payout from it
	journals := []struct {
		seq           int64
		debit, credit string
		amount        int64
	}{
		{0, poolAccount, "external:deposits:USDC", 100_000},
		{1, "system:treasury:USDC", poolAccount, 40_000},
	}
	for _, j := range journals {
		_, err := db.ExecContext(ctx, `
			INSERT INTO event_log.journal
				(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, 1, $7, 0, $8)
		`, uuid.New().String(), uuid.New().String(), "ref-"+loanID, j.seq, j.debit, j.credit, j.amount, time.Now().UnixMicro())
		if err != nil {
			t.Fatalf("seed journal: %v", err)
		}
	}

	// Settlement history plus a stale claim row that the rebuild must clear
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.settlements
			(sequence, kind, loan_id, pool_id, asset, owed, paid, shortfall, burned, redeemed, holder_id, amount, timestamp)
		VALUES (2, 'liquidation', $1, $2, 'USDC', 100000, 40000, 60000, 0, 0, NULL, 0, $3)
	`, loanID, poolID, time.Now().UnixMicro()); err != nil {
		t.Fatalf("seed settlement: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.claims (loan_id, pool_id, asset, outstanding, supply, last_sequence)
		VALUES ($1, $2, 'USDC', 1, 1, 2)
	`, loanID, poolID); err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	if err := projection.RebuildProjections(ctx, db); err != nil {
		t.Fatalf("RebuildProjections failed: %v", err)
	}

	// Settlement history is append-only and must survive the rebuild
	var settlements int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM projections.settlements WHERE loan_id = $1
	`, loanID).Scan(&settlements); err != nil {
		t.Fatalf("count settlements: %v", err)
	}
	if settlements != 1 {
		t.Errorf("settlement history rows after rebuild: got %d, want 1", settlements)
	}

	// Stale claim rows are cleared pending reseed
	var claims int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projections.claims`).Scan(&claims); err != nil {
		t.Fatalf("count claims: %v", err)
	}
	if claims != 0 {
		t.Errorf("claims after rebuild: got %d, want 0", claims)
	}

	// Balances follow the journal convention: debits add, credits subtract
	var poolBalance int64
	if err := db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances WHERE account_path = $1
	`, poolAccount).Scan(&poolBalance); err != nil {
		t.Fatalf("pool balance: %v", err)
	}
	if poolBalance != 60_000 {
		t.Errorf("pool balance: got %d, want 60_000", poolBalance)
	}
}

func TestReseedSettlementState_RestoresClaimsAndDeficits(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	poolID := uuid.New().String()
	liveLoan := uuid.New().String()
	reclaimedLoan := uuid.New().String()

	if err := projection.RebuildProjections(ctx, db); err != nil {
		t.Fatalf("RebuildProjections failed: %v", err)
	}

	seeds := []projection.ClaimSeed{
		{LoanID: liveLoan, PoolID: poolID, Asset: "USDC", Outstanding: 60_000, Supply: 60_000},
		{LoanID: reclaimedLoan, PoolID: poolID, Asset: "USDC", Outstanding: 0, Supply: 0},
	}
	deficits := map[string]int64{poolID: 60_000}

	if err := projection.ReseedSettlementState(ctx, db, 7, seeds, deficits); err != nil {
		t.Fatalf("ReseedSettlementState failed: %v", err)
	}

	var outstanding, supply, lastSeq int64
	err := db.QueryRowContext(ctx, `
		SELECT outstanding, supply, last_sequence FROM projections.claims WHERE loan_id = $1
	`, liveLoan).Scan(&outstanding, &supply, &lastSeq)
	if err != nil {
		t.Fatalf("live claim missing after reseed: %v", err)
	}
	if outstanding != 60_000 || supply != 60_000 || lastSeq != 7 {
		t.Errorf("claim row: outstanding=%d supply=%d seq=%d", outstanding, supply, lastSeq)
	}

	// Fully reclaimed claims get no row, matching the worker's delete
	var reclaimedRows int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM projections.claims WHERE loan_id = $1
	`, reclaimedLoan).Scan(&reclaimedRows); err != nil {
		t.Fatalf("count reclaimed rows: %v", err)
	}
	if reclaimedRows != 0 {
		t.Errorf("reclaimed claim rows: got %d, want 0", reclaimedRows)
	}

	var deficit int64
	if err := db.QueryRowContext(ctx, `
		SELECT deficit FROM projections.pool_deficits WHERE pool_id = $1
	`, poolID).Scan(&deficit); err != nil {
		t.Fatalf("pool deficit missing after reseed: %v", err)
	}
	if deficit != 60_000 {
		t.Errorf("pool deficit: got %d, want 60_000", deficit)
	}

	var watermark int64
	if err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&watermark); err != nil {
		t.Fatalf("watermark missing after reseed: %v", err)
	}
	if watermark != 7 {
		t.Errorf("watermark: got %d, want 7", watermark)
	}
}
