package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// A snapshot captures balances, loan records, deficiency claims, pool state,
// sequence counters, idempotency keys, and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64            `json:"sequence"`
	StateHash       []byte           `json:"state_hash"`
	PrevHash        []byte           `json:"prev_hash"`
	Balances        map[string]int64 `json:"balances"` // AccountPath -> balance
	Loans           []LoanSnapshot   `json:"loans"`
	Claims          []ClaimSnapshot  `json:"claims"`
	Deficits        map[string]int64 `json:"deficits"` // poolID -> unresolved shortfall
	Pools           []PoolSnapshot   `json:"pools"`
	SequenceState   map[string]int64 `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string         `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time        `json:"created_at"`
}

// LoanSnapshot is a serializable loan record.
type LoanSnapshot struct {
	LoanID          string `json:"loan_id"`
	PoolID          string `json:"pool_id"`
	Principal       int64  `json:"principal"`
	RatePPM         int64  `json:"rate_ppm"`
	TermDays        int64  `json:"term_days"`
	Status          int32  `json:"status"`
	TotalDebt       int64  `json:"total_debt"`
	RepaidAmount    int64  `json:"repaid_amount"`
	TokenSupply     int64  `json:"token_supply"`
	LedgerHolding   int64  `json:"ledger_holding"`
	RecoveryBalance int64  `json:"recovery_balance"`
	Version         int64  `json:"version"`
}

// ClaimSnapshot is a serializable deficiency claim.
type ClaimSnapshot struct {
	LoanID      string           `json:"loan_id"`
	PoolID      string           `json:"pool_id"`
	Asset       string           `json:"asset"`
	Outstanding int64            `json:"outstanding"`
	Supply      int64            `json:"supply"`
	Balances    map[string]int64 `json:"balances"` // holderID -> claim tokens
	Version     int64            `json:"version"`
}

// PoolSnapshot is a serializable pool.
type PoolSnapshot struct {
	PoolID               string           `json:"pool_id"`
	Asset                string           `json:"asset"`
	TotalShares          int64            `json:"total_shares"`
	Shares               map[string]int64 `json:"shares"` // depositorID -> shares
	OutstandingPrincipal int64            `json:"outstanding_principal"`
	ActiveLoans          map[string]int64 `json:"active_loans"` // loanID -> remaining principal
	Version              int64            `json:"version"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres.
// Snapshots are taken periodically and verified by replaying events from the
// snapshot sequence forward before they are trusted for restart.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot.
// On warm restart, load the latest snapshot then replay events from
// snapshot.sequence+1. Returns nil on cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay. Used for warm
// restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, loan_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.LoanID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}
