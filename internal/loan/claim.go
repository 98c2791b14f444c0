package loan

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// DeficiencyClaim is the fungible IOU minted when a liquidation could not be
// covered in full. Claim tokens are 1:1 with the underlying once the
// treasury holds funds; burning them through reclaim pays the holder out.
type DeficiencyClaim struct {
	LoanID uuid.UUID
	PoolID uuid.UUID
	Asset  string

	// Outstanding unresolved shortfall; equals Supply while tokens are 1:1
	Outstanding int64

	// Circulating claim-token supply with per-holder balances
	Supply   int64
	Balances map[uuid.UUID]int64

	Version int64
}

// BalanceOf returns a holder's claim-token balance
func (c *DeficiencyClaim) BalanceOf(holder uuid.UUID) int64 {
	return c.Balances[holder]
}

// CanonicalBytes returns deterministic serialization for hashing
func (c *DeficiencyClaim) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64+24*len(c.Balances))

	buf = append(buf, c.LoanID[:]...)
	buf = append(buf, c.PoolID[:]...)
	buf = appendInt64LE(buf, c.Outstanding)
	buf = appendInt64LE(buf, c.Supply)

	holders := make([]uuid.UUID, 0, len(c.Balances))
	for h := range c.Balances {
		holders = append(holders, h)
	}
	sort.Slice(holders, func(i, j int) bool {
		return holders[i].String() < holders[j].String()
	})
	for _, h := range holders {
		buf = append(buf, h[:]...)
		buf = appendInt64LE(buf, c.Balances[h])
	}

	return buf
}

// ClaimLedger tracks deficiency claims and the per-pool deficit totals they
// roll up into. The invariant Σ outstanding claims per pool == pool deficit
// holds after every mint and burn.
type ClaimLedger struct {
	claims   map[uuid.UUID]*DeficiencyClaim // loan_id -> claim
	deficits map[uuid.UUID]int64            // pool_id -> unresolved shortfall
}

func NewClaimLedger() *ClaimLedger {
	return &ClaimLedger{
		claims:   make(map[uuid.UUID]*DeficiencyClaim),
		deficits: make(map[uuid.UUID]int64),
	}
}

// Mint creates the claim for a liquidated loan and issues the full token
// amount to one holder (the owning pool). At most one claim per loan.
func (cl *ClaimLedger) Mint(loanID, poolID, holder uuid.UUID, asset string, amount int64) (*DeficiencyClaim, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("claim amount must be positive: %d", amount)
	}
	if _, exists := cl.claims[loanID]; exists {
		return nil, fmt.Errorf("claim for loan %s already exists", loanID)
	}

	claim := &DeficiencyClaim{
		LoanID:      loanID,
		PoolID:      poolID,
		Asset:       asset,
		Outstanding: amount,
		Supply:      amount,
		Balances:    map[uuid.UUID]int64{holder: amount},
	}

	cl.claims[loanID] = claim
	cl.deficits[poolID] += amount

	return claim, nil
}

// Burn destroys a holder's claim tokens, shrinking the outstanding total and
// the pool deficit in lockstep. The claim itself is destroyed when its
// supply reaches zero.
func (cl *ClaimLedger) Burn(loanID, holder uuid.UUID, amount int64) (*DeficiencyClaim, error) {
	claim, ok := cl.claims[loanID]
	if !ok {
		return nil, fmt.Errorf("no claim for loan %s", loanID)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("burn amount must be positive: %d", amount)
	}
	if claim.Balances[holder] < amount {
		return nil, fmt.Errorf("holder %s has %d claim tokens, burn wants %d",
			holder, claim.Balances[holder], amount)
	}

	claim.Balances[holder] -= amount
	if claim.Balances[holder] == 0 {
		delete(claim.Balances, holder)
	}
	claim.Supply -= amount
	claim.Outstanding -= amount
	claim.Version++

	cl.deficits[claim.PoolID] -= amount

	if claim.Supply == 0 {
		delete(cl.claims, loanID)
	}

	return claim, nil
}

// Transfer moves claim tokens between holders (claims are fungible)
func (cl *ClaimLedger) Transfer(loanID, from, to uuid.UUID, amount int64) error {
	claim, ok := cl.claims[loanID]
	if !ok {
		return fmt.Errorf("no claim for loan %s", loanID)
	}
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive: %d", amount)
	}
	if claim.Balances[from] < amount {
		return fmt.Errorf("holder %s has %d claim tokens, transfer wants %d",
			from, claim.Balances[from], amount)
	}

	claim.Balances[from] -= amount
	if claim.Balances[from] == 0 {
		delete(claim.Balances, from)
	}
	claim.Balances[to] += amount
	claim.Version++

	return nil
}

// Get returns the claim for a loan or nil once fully reclaimed
func (cl *ClaimLedger) Get(loanID uuid.UUID) *DeficiencyClaim {
	return cl.claims[loanID]
}

// PoolDeficit returns the unresolved shortfall of a pool
func (cl *ClaimLedger) PoolDeficit(poolID uuid.UUID) int64 {
	return cl.deficits[poolID]
}

// CheckConsistency verifies Σ outstanding claims per pool == pool deficit
// and per-claim supply bookkeeping.
func (cl *ClaimLedger) CheckConsistency() error {
	sums := make(map[uuid.UUID]int64)

	for loanID, claim := range cl.claims {
		var holderSum int64
		for _, bal := range claim.Balances {
			if bal <= 0 {
				return fmt.Errorf("claim %s has non-positive holder balance %d", loanID, bal)
			}
			holderSum += bal
		}
		if holderSum != claim.Supply {
			return fmt.Errorf("claim %s holder balances sum to %d, supply is %d", loanID, holderSum, claim.Supply)
		}
		if claim.Outstanding != claim.Supply {
			return fmt.Errorf("claim %s outstanding %d diverged from supply %d", loanID, claim.Outstanding, claim.Supply)
		}
		sums[claim.PoolID] += claim.Outstanding
	}

	for poolID, deficit := range cl.deficits {
		if deficit < 0 {
			return fmt.Errorf("pool %s has negative deficit: %d", poolID, deficit)
		}
		if sums[poolID] != deficit {
			return fmt.Errorf("pool %s deficit %d does not match claim sum %d", poolID, deficit, sums[poolID])
		}
	}

	return nil
}

// SetClaim directly installs a claim (used for snapshot restore)
func (cl *ClaimLedger) SetClaim(claim *DeficiencyClaim) {
	cl.claims[claim.LoanID] = claim
}

// SetDeficit directly sets a pool deficit (used for snapshot restore)
func (cl *ClaimLedger) SetDeficit(poolID uuid.UUID, deficit int64) {
	cl.deficits[poolID] = deficit
}

// AllClaims returns claims ordered by loan id for deterministic iteration
func (cl *ClaimLedger) AllClaims() []*DeficiencyClaim {
	result := make([]*DeficiencyClaim, 0, len(cl.claims))
	for _, claim := range cl.claims {
		result = append(result, claim)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LoanID.String() < result[j].LoanID.String()
	})
	return result
}

// AllDeficits returns a copy of the per-pool deficit totals
func (cl *ClaimLedger) AllDeficits() map[uuid.UUID]int64 {
	result := make(map[uuid.UUID]int64, len(cl.deficits))
	for poolID, deficit := range cl.deficits {
		if deficit != 0 {
			result[poolID] = deficit
		}
	}
	return result
}
