package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopePool AccountScope = iota
	AccountScopeHolder
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Pool and holder sub-types
	SubTypeCash AccountSubType = iota

	// System sub-types
	SubTypeSystemTreasury

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalBorrowers
	SubTypeExternalRecoveries
	SubTypeExternalExchange
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDC": 1,
		"USDT": 2,
		"DAI":  3,
		"WETH": 4,
	}
	idToAsset = map[AssetID]string{
		1: "USDC",
		2: "USDT",
		3: "DAI",
		4: "WETH",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for pools and holders, zero for system/external accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewPoolAccountKey creates the cash account key for a lending pool
func NewPoolAccountKey(poolID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopePool,
		EntityID: poolID,
		SubType:  SubTypeCash,
		AssetID:  assetID,
	}
}

// NewHolderAccountKey creates the payout account key for a claim holder
func NewHolderAccountKey(holderID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeHolder,
		EntityID: holderID,
		SubType:  SubTypeCash,
		AssetID:  assetID,
	}
}

// NewTreasuryAccountKey creates the key for the ledger's own treasury
func NewTreasuryAccountKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: SubTypeSystemTreasury,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopePool:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("pool:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeHolder:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("holder:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCash:
		return "cash"
	case SubTypeSystemTreasury:
		return "treasury"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalBorrowers:
		return "borrowers"
	case SubTypeExternalRecoveries:
		return "recoveries"
	case SubTypeExternalExchange:
		return "exchange"
	default:
		return "unknown"
	}
}

func subTypeFromName(name string) (AccountSubType, bool) {
	switch name {
	case "cash":
		return SubTypeCash, true
	case "treasury":
		return SubTypeSystemTreasury, true
	case "deposits":
		return SubTypeExternalDeposits, true
	case "borrowers":
		return SubTypeExternalBorrowers, true
	case "recoveries":
		return SubTypeExternalRecoveries, true
	case "exchange":
		return SubTypeExternalExchange, true
	}
	return 0, false
}

// ParseAccountPath inverts AccountPath, used when restoring balances from a
// snapshot.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) < 3 {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	switch parts[0] {
	case "pool", "holder":
		if len(parts) != 4 {
			return AccountKey{}, fmt.Errorf("malformed account path %q", path)
		}
		entityID, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		subType, ok := subTypeFromName(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type %q", path, parts[2])
		}
		assetID, ok := GetAssetID(parts[3])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown asset %q", path, parts[3])
		}
		scope := AccountScopePool
		if parts[0] == "holder" {
			scope = AccountScopeHolder
		}
		return AccountKey{Scope: scope, EntityID: entityID, SubType: subType, AssetID: assetID}, nil

	case "system", "external":
		if len(parts) != 3 {
			return AccountKey{}, fmt.Errorf("malformed account path %q", path)
		}
		subType, ok := subTypeFromName(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type %q", path, parts[1])
		}
		assetID, ok := GetAssetID(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown asset %q", path, parts[2])
		}
		scope := AccountScopeSystem
		if parts[0] == "external" {
			scope = AccountScopeExternal
		}
		return AccountKey{Scope: scope, SubType: subType, AssetID: assetID}, nil
	}

	return AccountKey{}, fmt.Errorf("account path %q: unknown scope %q", path, parts[0])
}
