package query

import "github.com/google/uuid"

// TreasuryBalanceResponse is one asset's treasury balance.
type TreasuryBalanceResponse struct {
	Asset        string `json:"asset"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// PoolStateResponse represents a pool's financial state for API queries.
type PoolStateResponse struct {
	PoolID       uuid.UUID `json:"pool_id"`
	Asset        string    `json:"asset"`
	Cash         int64     `json:"cash"`
	Deficit      int64     `json:"deficit"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// ClaimResponse represents an outstanding deficiency claim.
type ClaimResponse struct {
	LoanID       uuid.UUID `json:"loan_id"`
	PoolID       uuid.UUID `json:"pool_id"`
	Asset        string    `json:"asset"`
	Outstanding  int64     `json:"outstanding"`
	Supply       int64     `json:"supply"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// SettlementResponse represents one settlement outcome (liquidation,
// redemption or reclaim) from the history projection.
type SettlementResponse struct {
	Sequence     int64   `json:"sequence"`
	Kind         string  `json:"kind"`
	LoanID       string  `json:"loan_id"`
	PoolID       string  `json:"pool_id"`
	Asset        string  `json:"asset"`
	Owed         int64   `json:"owed"`
	Paid         int64   `json:"paid"`
	Shortfall    int64   `json:"shortfall"`
	Burned       int64   `json:"burned"`
	Redeemed     int64   `json:"redeemed"`
	HolderID     *string `json:"holder_id,omitempty"`
	Amount       int64   `json:"amount"`
	Timestamp    int64   `json:"timestamp"`
	AsOfSequence int64   `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
