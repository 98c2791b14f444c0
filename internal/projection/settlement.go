package projection

import (
	"context"
	"database/sql"
	"fmt"
)

// SettlementEntry mirrors event.SettlementRecord for projection consumption.
type SettlementEntry struct {
	Kind             string
	LoanID           string
	PoolID           string
	Asset            string
	Owed             int64
	Paid             int64
	Shortfall        int64
	Burned           int64
	Redeemed         int64
	Holder           string
	Amount           int64
	ClaimOutstanding int64
	ClaimSupply      int64
	PoolDeficit      int64
	Timestamp        int64
}

// applySettlement writes the settlement history row and keeps the claim and
// pool-deficit projections in sync with the core's post-operation state.
func (pw *ProjectionWorker) applySettlement(ctx context.Context, tx *sql.Tx, sequence int64, s *SettlementEntry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.settlements
			(sequence, kind, loan_id, pool_id, asset, owed, paid, shortfall,
			 burned, redeemed, holder_id, amount, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (sequence) DO NOTHING
	`, sequence, s.Kind, s.LoanID, s.PoolID, s.Asset, s.Owed, s.Paid, s.Shortfall,
		s.Burned, s.Redeemed, nullIfEmpty(s.Holder), s.Amount, s.Timestamp); err != nil {
		return fmt.Errorf("settlement history: %w", err)
	}

	// The claim row tracks the post-operation outstanding; a fully reclaimed
	// claim disappears
	if s.Kind == "liquidation" || s.Kind == "reclaim" {
		if s.ClaimSupply > 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO projections.claims (loan_id, pool_id, asset, outstanding, supply, last_sequence)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (loan_id) DO UPDATE
					SET outstanding = $4, supply = $5, last_sequence = $6
			`, s.LoanID, s.PoolID, s.Asset, s.ClaimOutstanding, s.ClaimSupply, sequence); err != nil {
				return fmt.Errorf("claim upsert: %w", err)
			}
		} else if _, err := tx.ExecContext(ctx, `
			DELETE FROM projections.claims WHERE loan_id = $1
		`, s.LoanID); err != nil {
			return fmt.Errorf("claim delete: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.pool_deficits (pool_id, deficit, last_sequence)
			VALUES ($1, $2, $3)
			ON CONFLICT (pool_id) DO UPDATE SET deficit = $2, last_sequence = $3
		`, s.PoolID, s.PoolDeficit, sequence); err != nil {
			return fmt.Errorf("pool deficit upsert: %w", err)
		}
	}

	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
