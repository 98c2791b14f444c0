package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"DeficitLedger/internal/observability"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	LoanID         *string
	JournalEntries []JournalEntry
	Settlement     *SettlementEntry
	Timestamp      int64
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop on the core side; if
// projections fall behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue: projections are eventually consistent
				// and can be rebuilt from the event log
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("all").Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Update balance projections from journal entries
	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, output.Sequence, j); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	// Settlement outcomes (liquidation, redemption, reclaim) carry derived
	// amounts the journals alone cannot reconstruct
	if output.Settlement != nil {
		if err := pw.applySettlement(ctx, tx, output.Sequence, output.Settlement); err != nil {
			return fmt.Errorf("settlement projection: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalanceProjection mirrors the in-memory convention: a debit
// increases the account, a credit decreases it.
func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, sequence int64, j JournalEntry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, sequence); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, sequence); err != nil {
		return err
	}

	return nil
}

// RebuildProjections rebuilds the balance projection from the journal and
// clears the claims and pool-deficit tables; the caller reseeds those from
// core state afterwards (ReseedSettlementState), since journals alone cannot
// reconstruct them. Settlement history is append-only and kept as-is.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.claims`,
		`TRUNCATE projections.pool_deficits`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Rebuild from journal entries: debits add, credits subtract
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}

// ClaimSeed carries one claim's current state for reseeding after a rebuild.
type ClaimSeed struct {
	LoanID      string
	PoolID      string
	Asset       string
	Outstanding int64
	Supply      int64
}

// ReseedSettlementState repopulates the claims and pool-deficit projections
// from the core's in-memory state and restores the watermark. Fully reclaimed
// claims (zero supply) get no row, matching applySettlement.
func ReseedSettlementState(ctx context.Context, db *sql.DB, sequence int64, claims []ClaimSeed, deficits map[string]int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range claims {
		if c.Supply <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.claims (loan_id, pool_id, asset, outstanding, supply, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (loan_id) DO UPDATE
				SET outstanding = $4, supply = $5, last_sequence = $6
		`, c.LoanID, c.PoolID, c.Asset, c.Outstanding, c.Supply, sequence); err != nil {
			return fmt.Errorf("reseed claim %s: %w", c.LoanID, err)
		}
	}

	for poolID, deficit := range deficits {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.pool_deficits (pool_id, deficit, last_sequence)
			VALUES ($1, $2, $3)
			ON CONFLICT (pool_id) DO UPDATE SET deficit = $2, last_sequence = $3
		`, poolID, deficit, sequence); err != nil {
			return fmt.Errorf("reseed pool deficit %s: %w", poolID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, sequence); err != nil {
		return fmt.Errorf("reseed watermark: %w", err)
	}

	return tx.Commit()
}
