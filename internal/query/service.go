package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"DeficitLedger/internal/ledger"
)

// QueryService provides read-only access to projection tables.
// All responses include as_of_sequence, the last event sequence the
// projection worker has applied, for freshness semantics.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetTreasuryBalances returns the ledger's treasury balance per asset.
func (qs *QueryService) GetTreasuryBalances(ctx context.Context) ([]TreasuryBalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, balance
		FROM projections.balances
		WHERE account_path LIKE 'system:treasury:%'
		ORDER BY account_path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []TreasuryBalanceResponse
	for rows.Next() {
		var path string
		var balance int64
		if err := rows.Scan(&path, &balance); err != nil {
			return nil, err
		}
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, err
		}
		asset, _ := ledger.GetAssetName(key.AssetID)
		balances = append(balances, TreasuryBalanceResponse{
			Asset:        asset,
			Balance:      balance,
			AsOfSequence: asOfSeq,
		})
	}

	return balances, rows.Err()
}

// GetPool returns a pool's cash and unresolved deficit.
func (qs *QueryService) GetPool(ctx context.Context, poolID uuid.UUID) (*PoolStateResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	// A pool holds cash in exactly one asset
	var path string
	var cash int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT account_path, balance
		FROM projections.balances
		WHERE account_path LIKE $1
		LIMIT 1
	`, fmt.Sprintf("pool:%s:cash:%%", poolID)).Scan(&path, &cash)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	resp := &PoolStateResponse{
		PoolID:       poolID,
		Cash:         cash,
		AsOfSequence: asOfSeq,
	}
	if path != "" {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, err
		}
		resp.Asset, _ = ledger.GetAssetName(key.AssetID)
	}

	deficit, err := qs.GetPoolDeficit(ctx, poolID)
	if err != nil {
		return nil, err
	}
	resp.Deficit = deficit

	return resp, nil
}

// GetPoolDeficit returns a pool's unresolved shortfall total.
func (qs *QueryService) GetPoolDeficit(ctx context.Context, poolID uuid.UUID) (int64, error) {
	var deficit int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT deficit FROM projections.pool_deficits WHERE pool_id = $1
	`, poolID.String()).Scan(&deficit)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return deficit, err
}

// GetClaim returns the outstanding deficiency claim for a loan, or nil when
// no claim exists or it has been fully reclaimed.
func (qs *QueryService) GetClaim(ctx context.Context, loanID uuid.UUID) (*ClaimResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var poolIDStr string
	resp := &ClaimResponse{LoanID: loanID, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT pool_id, asset, outstanding, supply
		FROM projections.claims
		WHERE loan_id = $1
	`, loanID.String()).Scan(&poolIDStr, &resp.Asset, &resp.Outstanding, &resp.Supply)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	resp.PoolID, err = uuid.Parse(poolIDStr)
	if err != nil {
		return nil, fmt.Errorf("claim pool id: %w", err)
	}

	return resp, nil
}

// ListClaims returns outstanding claims, optionally filtered by pool.
func (qs *QueryService) ListClaims(ctx context.Context, poolID *uuid.UUID) ([]ClaimResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT loan_id, pool_id, asset, outstanding, supply
		FROM projections.claims
	`
	args := []interface{}{}
	if poolID != nil {
		query += " WHERE pool_id = $1"
		args = append(args, poolID.String())
	}
	query += " ORDER BY loan_id"

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []ClaimResponse
	for rows.Next() {
		var c ClaimResponse
		var loanIDStr, poolIDStr string
		if err := rows.Scan(&loanIDStr, &poolIDStr, &c.Asset, &c.Outstanding, &c.Supply); err != nil {
			return nil, err
		}
		if c.LoanID, err = uuid.Parse(loanIDStr); err != nil {
			return nil, fmt.Errorf("claim loan id: %w", err)
		}
		if c.PoolID, err = uuid.Parse(poolIDStr); err != nil {
			return nil, fmt.Errorf("claim pool id: %w", err)
		}
		c.AsOfSequence = asOfSeq
		claims = append(claims, c)
	}

	return claims, rows.Err()
}

// ListSettlements returns settlement history with cursor-based pagination,
// optionally filtered by kind or loan.
func (qs *QueryService) ListSettlements(
	ctx context.Context,
	kind *string,
	loanID *uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]SettlementResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT sequence, kind, loan_id, pool_id, asset, owed, paid, shortfall,
		       burned, redeemed, holder_id, amount, timestamp
		FROM projections.settlements
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if kind != nil {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, *kind)
		argIdx++
	}
	if loanID != nil {
		query += fmt.Sprintf(" AND loan_id = $%d", argIdx)
		args = append(args, loanID.String())
		argIdx++
	}
	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settlements []SettlementResponse
	for rows.Next() {
		var s SettlementResponse
		var holder sql.NullString
		if err := rows.Scan(
			&s.Sequence, &s.Kind, &s.LoanID, &s.PoolID, &s.Asset,
			&s.Owed, &s.Paid, &s.Shortfall, &s.Burned, &s.Redeemed,
			&holder, &s.Amount, &s.Timestamp,
		); err != nil {
			return nil, err
		}
		if holder.Valid {
			s.HolderID = &holder.String
		}
		s.AsOfSequence = asOfSeq
		settlements = append(settlements, s)
	}

	return settlements, rows.Err()
}

// GetJournalHistory returns journal entries touching an account path prefix
// with cursor-based pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPrefix string,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	pattern := accountPrefix + "%"

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{pattern}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and the
// zero-sum global balance invariant across projections.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e1.prev_hash, e2.state_hash
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Balances must sum to zero across all accounts per asset
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) as total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
