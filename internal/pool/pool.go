package pool

import (
	"fmt"
	"sort"

	fpmath "DeficitLedger/internal/math"

	"github.com/google/uuid"
)

// Pool is the in-memory state of one lending pool. Cash lives in the
// double-entry ledger; the pool tracks shares and outstanding principal.
type Pool struct {
	PoolID uuid.UUID
	Asset  string

	// Share accounting
	TotalShares int64
	Shares      map[uuid.UUID]int64

	// Principal currently out with borrowers, per active loan
	OutstandingPrincipal int64
	ActiveLoans          map[uuid.UUID]int64 // loan_id -> remaining principal

	Version int64
}

// NAV is cash plus principal out with borrowers minus the pool's share of
// unresolved deficits.
func (p *Pool) NAV(cash, deficit int64) int64 {
	nav := cash + p.OutstandingPrincipal - deficit
	if nav < 0 {
		return 0
	}
	return nav
}

// SharesOf returns a depositor's share balance
func (p *Pool) SharesOf(depositor uuid.UUID) int64 {
	return p.Shares[depositor]
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Pool) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64+24*(len(p.Shares)+len(p.ActiveLoans)))

	buf = append(buf, p.PoolID[:]...)
	buf = append(buf, byte(len(p.Asset)))
	buf = append(buf, []byte(p.Asset)...)
	buf = appendInt64LE(buf, p.TotalShares)
	buf = appendInt64LE(buf, p.OutstandingPrincipal)

	holders := make([]uuid.UUID, 0, len(p.Shares))
	for h := range p.Shares {
		holders = append(holders, h)
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i].String() < holders[j].String() })
	for _, h := range holders {
		buf = append(buf, h[:]...)
		buf = appendInt64LE(buf, p.Shares[h])
	}

	loans := make([]uuid.UUID, 0, len(p.ActiveLoans))
	for l := range p.ActiveLoans {
		loans = append(loans, l)
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].String() < loans[j].String() })
	for _, l := range loans {
		buf = append(buf, l[:]...)
		buf = appendInt64LE(buf, p.ActiveLoans[l])
	}

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// Manager tracks all registered pools
type Manager struct {
	pools map[uuid.UUID]*Pool
}

func NewManager() *Manager {
	return &Manager{
		pools: make(map[uuid.UUID]*Pool),
	}
}

// Register adds a new empty pool
func (m *Manager) Register(poolID uuid.UUID, asset string) (*Pool, error) {
	if _, exists := m.pools[poolID]; exists {
		return nil, fmt.Errorf("pool %s already registered", poolID)
	}

	p := &Pool{
		PoolID:      poolID,
		Asset:       asset,
		Shares:      make(map[uuid.UUID]int64),
		ActiveLoans: make(map[uuid.UUID]int64),
	}
	m.pools[poolID] = p
	return p, nil
}

// Get returns the pool or nil
func (m *Manager) Get(poolID uuid.UUID) *Pool {
	return m.pools[poolID]
}

// Deposit mints shares for a depositor at the current share price. nav is
// the pool's net asset value BEFORE the deposit cash arrives.
func (m *Manager) Deposit(poolID, depositor uuid.UUID, amount, nav int64) (int64, error) {
	p, ok := m.pools[poolID]
	if !ok {
		return 0, fmt.Errorf("unknown pool: %s", poolID)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("deposit amount must be positive: %d", amount)
	}

	shares := fpmath.ComputeShares(amount, p.TotalShares, nav)
	if shares <= 0 {
		return 0, fmt.Errorf("deposit of %d mints no shares at nav %d", amount, nav)
	}

	p.Shares[depositor] += shares
	p.TotalShares += shares
	p.Version++

	return shares, nil
}

// Redeem burns shares at the current share price and returns the payout
// amount. nav is the pool's net asset value before the redemption.
func (m *Manager) Redeem(poolID, depositor uuid.UUID, shares, nav int64) (int64, error) {
	p, ok := m.pools[poolID]
	if !ok {
		return 0, fmt.Errorf("unknown pool: %s", poolID)
	}
	if shares <= 0 {
		return 0, fmt.Errorf("share count must be positive: %d", shares)
	}
	if p.Shares[depositor] < shares {
		return 0, fmt.Errorf("depositor %s has %d shares, redeem wants %d",
			depositor, p.Shares[depositor], shares)
	}

	amount := fpmath.ComputeRedemption(shares, p.TotalShares, nav)

	p.Shares[depositor] -= shares
	if p.Shares[depositor] == 0 {
		delete(p.Shares, depositor)
	}
	p.TotalShares -= shares
	p.Version++

	return amount, nil
}

// FundLoan records principal leaving the pool for a borrower
func (m *Manager) FundLoan(poolID, loanID uuid.UUID, principal int64) error {
	p, ok := m.pools[poolID]
	if !ok {
		return fmt.Errorf("unknown pool: %s", poolID)
	}
	if _, exists := p.ActiveLoans[loanID]; exists {
		return fmt.Errorf("loan %s already funded by pool %s", loanID, poolID)
	}

	p.ActiveLoans[loanID] = principal
	p.OutstandingPrincipal += principal
	p.Version++
	return nil
}

// OnRepayment writes down the loan's remaining principal as borrower money
// comes back. Interest beyond the principal only moves cash.
func (m *Manager) OnRepayment(poolID, loanID uuid.UUID, amount int64) error {
	p, ok := m.pools[poolID]
	if !ok {
		return fmt.Errorf("unknown pool: %s", poolID)
	}
	remaining, ok := p.ActiveLoans[loanID]
	if !ok {
		return fmt.Errorf("loan %s is not active in pool %s", loanID, poolID)
	}

	reduce := amount
	if reduce > remaining {
		reduce = remaining
	}
	p.ActiveLoans[loanID] = remaining - reduce
	p.OutstandingPrincipal -= reduce
	p.Version++
	return nil
}

// SettleLoan removes a fully repaid loan from the active set
func (m *Manager) SettleLoan(poolID, loanID uuid.UUID) error {
	return m.removeLoan(poolID, loanID)
}

// WriteOff removes a liquidated loan, writing its remaining principal out of
// the NAV. The liquidation payout and any deficiency claim compensate the
// pool separately.
func (m *Manager) WriteOff(poolID, loanID uuid.UUID) error {
	return m.removeLoan(poolID, loanID)
}

func (m *Manager) removeLoan(poolID, loanID uuid.UUID) error {
	p, ok := m.pools[poolID]
	if !ok {
		return fmt.Errorf("unknown pool: %s", poolID)
	}
	remaining, ok := p.ActiveLoans[loanID]
	if !ok {
		return fmt.Errorf("loan %s is not active in pool %s", loanID, poolID)
	}

	p.OutstandingPrincipal -= remaining
	delete(p.ActiveLoans, loanID)
	p.Version++
	return nil
}

// SetPool directly installs a pool (used for snapshot restore)
func (m *Manager) SetPool(p *Pool) {
	m.pools[p.PoolID] = p
}

// All returns pools ordered by id for deterministic iteration
func (m *Manager) All() []*Pool {
	result := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PoolID.String() < result[j].PoolID.String()
	})
	return result
}
