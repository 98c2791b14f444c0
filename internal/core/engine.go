package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	seize "DeficitLedger/internal/engine"
	"DeficitLedger/internal/event"
	"DeficitLedger/internal/exchange"
	"DeficitLedger/internal/ledger"
	"DeficitLedger/internal/loan"
	fpmath "DeficitLedger/internal/math"
	"DeficitLedger/internal/observability"
	"DeficitLedger/internal/pool"

	"github.com/google/uuid"
)

// SettlementCore is the single-threaded event processor
type SettlementCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	loans             *loan.Registry
	claims            *loan.ClaimLedger
	pools             *pool.Manager
	seizer            seize.Seizer
	swapAdapter       exchange.Adapter
	ledgerAccount     string
	swapTimeout       time.Duration
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte

	// Settlement is set for liquidation, redemption and reclaim outcomes,
	// which projections cannot recompute from journals alone
	Settlement *event.SettlementRecord
}

func NewSettlementCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	lruCapacity int,
	swapAdapter exchange.Adapter,
	ledgerAccount string,
	swapTimeout time.Duration,
	metrics *observability.Metrics,
) *SettlementCore {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)
	loans := loan.NewRegistry()
	claims := loan.NewClaimLedger()
	pools := pool.NewManager()

	if lruCapacity <= 0 {
		lruCapacity = 1_000_000
	}
	idempotencyChecker := NewIdempotencyChecker(lruCapacity, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &SettlementCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		loans:             loans,
		claims:            claims,
		pools:             pools,
		seizer:            seize.New(loans, pools),
		swapAdapter:       swapAdapter,
		ledgerAccount:     ledgerAccount,
		swapTimeout:       swapTimeout,
		idempotency:       idempotencyChecker,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *SettlementCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation. Control commands tolerate gaps; lifecycle
	// events from the lending platform are strictly ordered.
	sourceSequence := evt.SourceSequence()

	if isControlEvent(evt) {
		if err := c.sequenceValidator.ValidateControlSequence(sourceSequence, isDuplicate); err != nil {
			return err
		}
	} else {
		if err := c.sequenceValidator.ValidateSequence(lendingPartition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Event dispatch
	batch, settlement, err := c.dispatchEvent(evt)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "rejected").Inc()
		}
		return err
	}

	// Step 4: Validate and apply. State-only events (registrations, status
	// changes, recovery deposits) produce no journals but still need an
	// envelope in the event log.
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}

		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			return fmt.Errorf("apply batch failed: %w", err)
		}
	}

	// Step 5: Compute state digest and extend the hash chain
	stateDigest := c.computeStateDigest(batch, evt)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot marshal event payload: %v", err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		LoanID:         evt.LoanID(),
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
		Settlement: settlement,
	}

	c.sequence++

	// Step 6: Post-checks
	if err := c.postCheckInvariants(evt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: Emit outputs. Persistence uses a BLOCKING send so no event is
	// lost; the projection channel is best-effort and drops on full, since
	// projections can rebuild from the event log.
	c.persistChan <- output

	select {
	case c.projectionChan <- output:
	default:
		// Dropped; projection catches up via rebuild
	}

	// Step 8: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	// Record metrics
	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// ReplayEvent re-applies an event loaded from the engine's own log during
// startup. Unlike ProcessEvent it skips the idempotency tiers (the event is
// in the log, that is why it is being replayed) and emits nothing: the event
// and its journals are already persisted. The hash chain is recomputed so
// the caller can verify the chain tip against the stored one.
func (c *SettlementCore) ReplayEvent(evt event.Event) error {
	sourceSequence := evt.SourceSequence()

	if isControlEvent(evt) {
		if err := c.sequenceValidator.ValidateControlSequence(sourceSequence, false); err != nil {
			return err
		}
	} else {
		if err := c.sequenceValidator.ValidateSequence(lendingPartition, sourceSequence, evt.IdempotencyKey(), false); err != nil {
			return fmt.Errorf("replay sequence validation failed: %w", err)
		}
	}

	batch, _, err := c.dispatchEvent(evt)
	if err != nil {
		return err
	}

	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			return fmt.Errorf("replay produced unbalanced batch: %w", err)
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			return fmt.Errorf("replay apply batch failed: %w", err)
		}
	}

	stateDigest := c.computeStateDigest(batch, evt)
	c.hasher.ComputeHash(c.sequence, stateDigest)
	c.sequence++

	c.idempotency.MarkProcessed(evt.EventType().String(), evt.IdempotencyKey())

	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// isControlEvent reports whether the event is an operator command rather
// than a lifecycle event from the lending platform
func isControlEvent(evt event.Event) bool {
	switch evt.(type) {
	case *event.LiquidateLoan, *event.RedeemLoan, *event.ReclaimDeficit, *event.SwapTreasury:
		return true
	}
	return false
}

// lendingPartition orders every lifecycle event from the lending platform.
// Control commands go through ValidateControlSequence instead.
const lendingPartition = "lending"

// getEventTimestamp extracts the versioned timestamp from the event. The
// core never calls time.Now() for state: all timestamps are inputs.
func (c *SettlementCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.PoolRegistered:
		return e.Timestamp
	case *event.PoolDeposit:
		return e.Timestamp
	case *event.PoolRedeem:
		return e.Timestamp
	case *event.LoanRegistered:
		return e.Timestamp
	case *event.LoanFunded:
		return e.Timestamp
	case *event.LoanWithdrawn:
		return e.Timestamp
	case *event.RepaymentReceived:
		return e.Timestamp
	case *event.LoanDefaulted:
		return e.Timestamp
	case *event.RecoveryDeposited:
		return e.Timestamp
	case *event.TreasuryDeposit:
		return e.Timestamp
	case *event.LiquidateLoan:
		return e.Timestamp
	case *event.RedeemLoan:
		return e.Timestamp
	case *event.ReclaimDeficit:
		return e.Timestamp
	case *event.SwapTreasury:
		return e.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T", evt))
	}
}

// computeStateDigest creates canonical bytes for the state hash: balances of
// every account the batch touched, then the canonical form of the loan,
// claim or pool the event mutated.
func (c *SettlementCore) computeStateDigest(batch *ledger.Batch, evt event.Event) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, balance)
	}

	if ls := evt.LoanID(); ls != nil {
		if loanID, err := uuid.Parse(*ls); err == nil {
			if rec := c.loans.Get(loanID); rec != nil {
				digest = append(digest, rec.CanonicalBytes()...)
			}
			if claim := c.claims.Get(loanID); claim != nil {
				digest = append(digest, claim.CanonicalBytes()...)
			}
		}
	}

	var poolID *uuid.UUID
	switch e := evt.(type) {
	case *event.PoolRegistered:
		poolID = &e.Pool
	case *event.PoolDeposit:
		poolID = &e.Pool
	case *event.PoolRedeem:
		poolID = &e.Pool
	}
	if poolID != nil {
		if p := c.pools.Get(*poolID); p != nil {
			digest = append(digest, p.CanonicalBytes()...)
		}
	}

	return digest
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

// postCheckInvariants validates invariants after batch application
func (c *SettlementCore) postCheckInvariants(evt event.Event) error {
	switch e := evt.(type) {
	case *event.LiquidateLoan, *event.RedeemLoan, *event.ReclaimDeficit:
		// Claim bookkeeping must reconcile with per-pool deficits
		if err := c.claims.CheckConsistency(); err != nil {
			return fmt.Errorf("post-check claims: %w", err)
		}
		for assetID := range c.balanceTracker.ComputeGlobalBalance() {
			if err := c.validator.ValidateTreasuryNonNegative(assetID); err != nil {
				return fmt.Errorf("post-check treasury: %w", err)
			}
		}

	case *event.SwapTreasury:
		for assetID := range c.balanceTracker.ComputeGlobalBalance() {
			if err := c.validator.ValidateTreasuryNonNegative(assetID); err != nil {
				return fmt.Errorf("post-check treasury: %w", err)
			}
		}

	case *event.LoanFunded:
		if rec := c.loans.Get(e.Loan); rec != nil {
			if p := c.pools.Get(rec.PoolID); p != nil {
				assetID, _ := ledger.GetAssetID(p.Asset)
				if err := c.validator.ValidatePoolCashNonNegative(p.PoolID, assetID); err != nil {
					return fmt.Errorf("post-check pool cash: %w", err)
				}
			}
		}

	case *event.PoolRedeem:
		if p := c.pools.Get(e.Pool); p != nil {
			assetID, _ := ledger.GetAssetID(p.Asset)
			if err := c.validator.ValidatePoolCashNonNegative(p.PoolID, assetID); err != nil {
				return fmt.Errorf("post-check pool cash: %w", err)
			}
		}
	}

	// Periodic global zero-sum check
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check global balance (at seq %d): %w", c.sequence, err)
		}
	}

	return nil
}

func (c *SettlementCore) dispatchEvent(evt event.Event) (*ledger.Batch, *event.SettlementRecord, error) {
	switch e := evt.(type) {
	case *event.PoolRegistered:
		return c.handlePoolRegistered(e)
	case *event.PoolDeposit:
		return c.handlePoolDeposit(e)
	case *event.PoolRedeem:
		return c.handlePoolRedeem(e)
	case *event.LoanRegistered:
		return c.handleLoanRegistered(e)
	case *event.LoanFunded:
		return c.handleLoanFunded(e)
	case *event.LoanWithdrawn:
		return c.handleLoanWithdrawn(e)
	case *event.RepaymentReceived:
		return c.handleRepaymentReceived(e)
	case *event.LoanDefaulted:
		return c.handleLoanDefaulted(e)
	case *event.RecoveryDeposited:
		return c.handleRecoveryDeposited(e)
	case *event.TreasuryDeposit:
		return c.handleTreasuryDeposit(e)
	case *event.LiquidateLoan:
		return c.handleLiquidate(e)
	case *event.RedeemLoan:
		return c.handleRedeem(e)
	case *event.ReclaimDeficit:
		return c.handleReclaim(e)
	case *event.SwapTreasury:
		return c.handleSwap(e)
	default:
		return nil, nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// emptyBatch wraps state-only events that produce no journals
func (c *SettlementCore) emptyBatch(eventRef string, timestamp time.Time) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  c.sequence,
		Timestamp: timestamp.UnixMicro(),
		Journals:  []ledger.Journal{},
	}
}

// --- Lifecycle events from the lending platform ---

func (c *SettlementCore) handlePoolRegistered(evt *event.PoolRegistered) (*ledger.Batch, *event.SettlementRecord, error) {
	if _, ok := ledger.GetAssetID(evt.Asset); !ok {
		return nil, nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}

	if _, err := c.pools.Register(evt.Pool, evt.Asset); err != nil {
		return nil, nil, err
	}

	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil, nil
}

func (c *SettlementCore) handlePoolDeposit(evt *event.PoolDeposit) (*ledger.Batch, *event.SettlementRecord, error) {
	p := c.pools.Get(evt.Pool)
	if p == nil {
		return nil, nil, fmt.Errorf("unknown pool: %s", evt.Pool)
	}
	assetID, _ := ledger.GetAssetID(p.Asset)

	// Share price is struck against NAV before the deposit cash arrives
	nav := p.NAV(c.balanceTracker.GetPoolCash(p.PoolID, assetID), c.claims.PoolDeficit(p.PoolID))

	if _, err := c.pools.Deposit(evt.Pool, evt.Depositor, evt.Amount, nav); err != nil {
		return nil, nil, err
	}

	batch, err := c.journalGen.GeneratePoolDeposit(
		evt.Pool, evt.IdempotencyKey(), evt.Amount, assetID, evt.Timestamp.UnixMicro())
	if err != nil {
		return nil, nil, err
	}

	return batch, nil, nil
}

func (c *SettlementCore) handlePoolRedeem(evt *event.PoolRedeem) (*ledger.Batch, *event.SettlementRecord, error) {
	p := c.pools.Get(evt.Pool)
	if p == nil {
		return nil, nil, fmt.Errorf("unknown pool: %s", evt.Pool)
	}
	assetID, _ := ledger.GetAssetID(p.Asset)

	nav := p.NAV(c.balanceTracker.GetPoolCash(p.PoolID, assetID), c.claims.PoolDeficit(p.PoolID))

	// Validate the payout is fundable before burning any shares
	payout := fpmath.ComputeRedemption(evt.Shares, p.TotalShares, nav)
	if err := c.balanceTracker.ValidateSufficientPoolCash(p.PoolID, assetID, payout); err != nil {
		return nil, nil, err
	}

	amount, err := c.pools.Redeem(evt.Pool, evt.Depositor, evt.Shares, nav)
	if err != nil {
		return nil, nil, err
	}

	if amount == 0 {
		return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil, nil
	}

	batch, err := c.journalGen.GeneratePoolRedemption(
		evt.Pool, evt.IdempotencyKey(), amount, assetID, evt.Timestamp.UnixMicro())
	if err != nil {
		return nil, nil, err
	}

	return batch, nil, nil
}

func (c *SettlementCore) handleLoanRegistered(evt *event.LoanRegistered) (*ledger.Batch, *event.SettlementRecord, error) {
	if c.pools.Get(evt.Pool) == nil {
		return nil, nil, fmt.Errorf("unknown pool: %s", evt.Pool)
	}
	if evt.Principal <= 0 {
		return nil, nil, fmt.Errorf("loan %s has non-positive principal: %d", evt.Loan, evt.Principal)
	}

	rec := &loan.Record{
		LoanID:        evt.Loan,
		PoolID:        evt.Pool,
		Principal:     evt.Principal,
		RatePPM:       evt.RatePPM,
		TermDays:      evt.TermDays,
		Status:        loan.StatusPending,
		TokenSupply:   evt.TokenSupply,
		LedgerHolding: evt.LedgerHolding,
	}

	if err := c.loans.Register(rec); err != nil {
		return nil, nil, err
	}

	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil, nil
}

func (c *SettlementCore) handleLoanFunded(evt *event.LoanFunded) (*ledger.Batch, *event.SettlementRecord, error) {
	rec := c.loans.Get(evt.Loan)
	if rec == nil {
		return nil, nil, fmt.Errorf("unknown loan: %s", evt.Loan)
	}
	if rec.Status != loan.StatusPending {
		return nil, nil, fmt.Errorf("loan %s is %s, cannot fund", evt.Loan, rec.Status)
	}

	p := c.pools.Get(rec.PoolID)
	if p == nil {
		return nil, nil, fmt.Errorf("unknown pool: %s", rec.PoolID)
	}
	assetID, _ := ledger.GetAssetID(p.Asset)

	// Pre-check inside: the pool must hold the full principal in cash
	batch, err := c.journalGen.GenerateLoanFunding(
		rec.PoolID, evt.Loan, rec.Principal, assetID, evt.Timestamp.UnixMicro())
	if err != nil {
		return nil, nil, err
	}

	if err := c.loans.SetStatus(evt.Loan, loan.StatusFunded); err != nil {
		return nil, nil, err
	}

	// The debt is fixed at funding time and never reprices
	rec.TotalDebt = fpmath.ComputeTotalDebt(rec.Principal, rec.RatePPM, rec.TermDays)

	if err := c.pools.FundLoan(rec.PoolID, evt.Loan, rec.Principal); err != nil {
		return nil, nil, err
	}

	return batch, nil, nil
}

func (c *SettlementCore) handleLoanWithdrawn(evt *event.LoanWithdrawn) (*ledger.Batch, *event.SettlementRecord, error) {
	rec := c.loans.Get(evt.Loan)
	if rec == nil {
		return nil, nil, fmt.Errorf("unknown loan: %s", evt.Loan)
	}

	if err := c.loans.SetStatus(evt.Loan, loan.StatusWithdrawn); err != nil {
		return nil, nil, err
	}

	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil, nil
}

func (c *SettlementCore) handleRepaymentReceived(evt *event.RepaymentReceived) (*ledger.Batch, *event.SettlementRecord, error) {
	rec := c.loans.Get(evt.Loan)
	if rec == nil {
		return nil, nil, fmt.Errorf("unknown loan: %s", evt.Loan)
	}
	if rec.Status != loan.StatusFunded && rec.Status != loan.StatusWithdrawn {
		return nil, nil, fmt.Errorf("loan %s is %s, cannot accept repayment", evt.Loan, rec.Status)
	}
	if evt.Amount <= 0 {
		return nil, nil, fmt.Errorf("repayment amount must be positive: %d", evt.Amount)
	}

	p := c.pools.Get(rec.PoolID)
	if p == nil {
		return nil, nil, fmt.Errorf("unknown pool: %s", rec.PoolID)
	}
	assetID, _ := ledger.GetAssetID(p.Asset)

	batch, err := c.journalGen.GenerateRepayment(
		rec.PoolID, evt.IdempotencyKey(), evt.Amount, assetID, evt.Timestamp.UnixMicro())
	if err != nil {
		return nil, nil, err
	}

	rec.RepaidAmount += evt.Amount
	rec.Version++

	if err := c.pools.OnRepayment(rec.PoolID, evt.Loan, evt.Amount); err != nil {
		return nil, nil, err
	}

	// Repayment reaching the fixed total debt settles the loan
	if rec.RepaidAmount >= rec.TotalDebt {
		if err := c.loans.SetStatus(evt.Loan, loan.StatusSettled); err != nil {
			return nil, nil, err
		}
		if err := c.pools.SettleLoan(rec.PoolID, evt.Loan); err != nil {
			return nil, nil, err
		}
	}

	return batch, nil, nil
}

func (c *SettlementCore) handleLoanDefaulted(evt *event.LoanDefaulted) (*ledger.Batch, *event.SettlementRecord, error) {
	rec := c.loans.Get(evt.Loan)
	if rec == nil {
		return nil, nil, fmt.Errorf("unknown loan: %s", evt.Loan)
	}

	if err := c.loans.SetStatus(evt.Loan, loan.StatusDefaulted); err != nil {
		return nil, nil, err
	}

	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil, nil
}

func (c *SettlementCore) handleRecoveryDeposited(evt *event.RecoveryDeposited) (*ledger.Batch, *event.SettlementRecord, error) {
	rec := c.loans.Get(evt.Loan)
	if rec == nil {
		return nil, nil, fmt.Errorf("unknown loan: %s", evt.Loan)
	}
	if rec.Status != loan.StatusDefaulted && rec.Status != loan.StatusLiquidated {
		return nil, nil, fmt.Errorf("loan %s is %s, cannot accept recovery", evt.Loan, rec.Status)
	}
	if evt.Amount <= 0 {
		return nil, nil, fmt.Errorf("recovery amount must be positive: %d", evt.Amount)
	}

	// Recovery funds sit inside the instrument until redemption journals
	// them into the treasury
	rec.RecoveryBalance += evt.Amount
	rec.Version++

	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil, nil
}

func (c *SettlementCore) handleTreasuryDeposit(evt *event.TreasuryDeposit) (*ledger.Batch, *event.SettlementRecord, error) {
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}
	if evt.Amount <= 0 {
		return nil, nil, fmt.Errorf("deposit amount must be positive: %d", evt.Amount)
	}

	batch, err := c.journalGen.GenerateTreasuryDeposit(
		evt.IdempotencyKey(), evt.Amount, assetID, evt.Timestamp.UnixMicro())
	if err != nil {
		return nil, nil, err
	}

	return batch, nil, nil
}

// --- Control operations ---

// handleLiquidate seizes a defaulted loan, pays the owning pool what the
// treasury can cover, and mints a deficiency claim for the exact shortfall
// so that owed == paid + shortfall.
func (c *SettlementCore) handleLiquidate(evt *event.LiquidateLoan) (*ledger.Batch, *event.SettlementRecord, error) {
	rec := c.loans.Get(evt.Loan)
	if rec == nil {
		return nil, nil, ErrUnknownInstrument
	}
	if rec.Status == loan.StatusLiquidated {
		return nil, nil, ErrAlreadyLiquidated
	}
	if rec.Status != loan.StatusDefaulted {
		return nil, nil, fmt.Errorf("%w: loan %s is %s, only Defaulted loans can be liquidated",
			ErrInvalidStatus, evt.Loan, rec.Status)
	}

	p := c.pools.Get(rec.PoolID)
	if p == nil {
		return nil, nil, fmt.Errorf("unknown pool: %s", rec.PoolID)
	}
	assetID, _ := ledger.GetAssetID(p.Asset)

	// The pool is owed the ledger-held share of the fixed total debt
	owed := fpmath.ComputeProRata(rec.TotalDebt, rec.LedgerHolding, rec.TokenSupply)

	treasury := c.balanceTracker.GetTreasuryBalance(assetID)
	paid := owed
	if treasury < paid {
		paid = treasury
	}
	shortfall := owed - paid

	var batch *ledger.Batch
	if paid > 0 {
		var err error
		batch, err = c.journalGen.GenerateLiquidationPayout(
			rec.PoolID, evt.Loan, paid, assetID, evt.Timestamp.UnixMicro())
		if err != nil {
			return nil, nil, err
		}
	} else {
		batch = c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp)
	}

	if err := c.seizer.Seize(evt.Loan); err != nil {
		return nil, nil, err
	}

	var claimOutstanding, claimSupply int64
	if shortfall > 0 {
		// The claim is minted to the owning pool, which may sell it on
		claim, err := c.claims.Mint(evt.Loan, rec.PoolID, rec.PoolID, p.Asset, shortfall)
		if err != nil {
			return nil, nil, err
		}
		claimOutstanding = claim.Outstanding
		claimSupply = claim.Supply
	}

	settlement := &event.SettlementRecord{
		Kind:             event.SettlementKindLiquidation,
		Loan:             evt.Loan,
		Pool:             rec.PoolID,
		Asset:            p.Asset,
		Owed:             owed,
		Paid:             paid,
		Shortfall:        shortfall,
		ClaimOutstanding: claimOutstanding,
		ClaimSupply:      claimSupply,
		PoolDeficit:      c.claims.PoolDeficit(rec.PoolID),
		Timestamp:        evt.Timestamp.UnixMicro(),
	}

	return batch, settlement, nil
}

// handleRedeem burns the ledger's remaining holding of a liquidated
// instrument for its pro rata share of the recovery balance.
func (c *SettlementCore) handleRedeem(evt *event.RedeemLoan) (*ledger.Batch, *event.SettlementRecord, error) {
	rec := c.loans.Get(evt.Loan)
	if rec == nil {
		return nil, nil, ErrUnknownInstrument
	}
	if rec.Status != loan.StatusLiquidated {
		return nil, nil, fmt.Errorf("%w: loan %s is %s, only Liquidated loans can be redeemed",
			ErrInvalidStatus, evt.Loan, rec.Status)
	}
	if rec.LedgerHolding == 0 {
		return nil, nil, fmt.Errorf("%w: loan %s holding already redeemed", ErrInvalidStatus, evt.Loan)
	}

	p := c.pools.Get(rec.PoolID)
	if p == nil {
		return nil, nil, fmt.Errorf("unknown pool: %s", rec.PoolID)
	}
	assetID, _ := ledger.GetAssetID(p.Asset)

	burned := rec.LedgerHolding
	redeemed := fpmath.ComputeProRata(rec.RecoveryBalance, burned, rec.TokenSupply)

	var batch *ledger.Batch
	if redeemed > 0 {
		var err error
		batch, err = c.journalGen.GenerateRedemption(evt.Loan, redeemed, assetID, evt.Timestamp.UnixMicro())
		if err != nil {
			return nil, nil, err
		}
	} else {
		batch = c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp)
	}

	// Burning shrinks both the holding and the supply; the remaining
	// recovery balance stays with the surviving token holders
	rec.TokenSupply -= burned
	rec.LedgerHolding = 0
	rec.RecoveryBalance -= redeemed
	rec.Version++

	settlement := &event.SettlementRecord{
		Kind:        event.SettlementKindRedemption,
		Loan:        evt.Loan,
		Pool:        rec.PoolID,
		Asset:       p.Asset,
		Burned:      burned,
		Redeemed:    redeemed,
		PoolDeficit: c.claims.PoolDeficit(rec.PoolID),
		Timestamp:   evt.Timestamp.UnixMicro(),
	}

	return batch, settlement, nil
}

// handleReclaim burns a holder's claim tokens against the treasury. The
// payment is all-or-nothing.
func (c *SettlementCore) handleReclaim(evt *event.ReclaimDeficit) (*ledger.Batch, *event.SettlementRecord, error) {
	rec := c.loans.Get(evt.Loan)
	if rec == nil {
		return nil, nil, ErrUnknownInstrument
	}
	if rec.LedgerHolding != 0 {
		return nil, nil, fmt.Errorf("%w: loan %s still holds %d unredeemed tokens",
			ErrNotFullyRedeemed, evt.Loan, rec.LedgerHolding)
	}

	claim := c.claims.Get(evt.Loan)
	if claim == nil {
		return nil, nil, fmt.Errorf("%w: no outstanding claim for loan %s", ErrUnknownInstrument, evt.Loan)
	}
	if evt.Amount <= 0 {
		return nil, nil, fmt.Errorf("reclaim amount must be positive: %d", evt.Amount)
	}
	if claim.BalanceOf(evt.Holder) < evt.Amount {
		return nil, nil, fmt.Errorf("%w: holder %s has %d, reclaim wants %d",
			ErrInsufficientClaimBalance, evt.Holder, claim.BalanceOf(evt.Holder), evt.Amount)
	}

	assetID, _ := ledger.GetAssetID(claim.Asset)
	if err := c.balanceTracker.ValidateSufficientTreasury(assetID, evt.Amount); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientLedgerFunds, err)
	}

	batch, err := c.journalGen.GenerateReclaim(
		evt.Holder, evt.IdempotencyKey(), evt.Amount, assetID, evt.Timestamp.UnixMicro())
	if err != nil {
		return nil, nil, err
	}

	burnt, err := c.claims.Burn(evt.Loan, evt.Holder, evt.Amount)
	if err != nil {
		return nil, nil, err
	}

	settlement := &event.SettlementRecord{
		Kind:             event.SettlementKindReclaim,
		Loan:             evt.Loan,
		Pool:             claim.PoolID,
		Asset:            claim.Asset,
		Holder:           evt.Holder,
		Amount:           evt.Amount,
		ClaimOutstanding: burnt.Outstanding,
		ClaimSupply:      burnt.Supply,
		PoolDeficit:      c.claims.PoolDeficit(claim.PoolID),
		Timestamp:        evt.Timestamp.UnixMicro(),
	}

	return batch, settlement, nil
}

// handleSwap rebalances treasury assets through the exchange adapter. The
// routing data is untrusted; the adapter's result is re-checked against the
// ledger's own account and the caller's minimum before any balance moves.
// The fill is pinned onto the event before the envelope payload is built,
// so replay applies the recorded fill instead of re-executing the swap.
func (c *SettlementCore) handleSwap(evt *event.SwapTreasury) (*ledger.Batch, *event.SettlementRecord, error) {
	res := outcomeToResult(evt.Outcome)
	if res == nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.swapTimeout)
		defer cancel()

		executed, err := c.swapAdapter.Exchange(ctx, evt.RoutingData)
		if err != nil {
			return nil, nil, fmt.Errorf("swap execution failed: %w", err)
		}
		res = executed
		evt.Outcome = &event.SwapOutcome{
			Destination:  executed.Destination,
			SourceAsset:  executed.SourceAsset,
			SourceAmount: executed.SourceAmount,
			ReturnAsset:  executed.ReturnAsset,
			ReturnAmount: executed.ReturnAmount,
		}
	}

	if res.Destination != c.ledgerAccount {
		return nil, nil, fmt.Errorf("%w: proceeds credited to %q, want %q",
			ErrSwapDestinationMismatch, res.Destination, c.ledgerAccount)
	}
	if res.ReturnAmount <= 0 || res.ReturnAmount < evt.MinReturn {
		return nil, nil, fmt.Errorf("%w: returned %d, minimum %d",
			ErrSlippageExceeded, res.ReturnAmount, evt.MinReturn)
	}

	sourceAssetID, ok := ledger.GetAssetID(res.SourceAsset)
	if !ok {
		return nil, nil, fmt.Errorf("unknown asset: %s", res.SourceAsset)
	}
	returnAssetID, ok := ledger.GetAssetID(res.ReturnAsset)
	if !ok {
		return nil, nil, fmt.Errorf("unknown asset: %s", res.ReturnAsset)
	}

	if err := c.balanceTracker.ValidateSufficientTreasury(sourceAssetID, res.SourceAmount); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientLedgerFunds, err)
	}

	batch, err := c.journalGen.GenerateSwap(
		evt.SwapID,
		sourceAssetID, res.SourceAmount,
		returnAssetID, res.ReturnAmount,
		evt.Timestamp.UnixMicro())
	if err != nil {
		return nil, nil, err
	}

	return batch, nil, nil
}

func outcomeToResult(o *event.SwapOutcome) *exchange.Result {
	if o == nil {
		return nil
	}
	return &exchange.Result{
		Destination:  o.Destination,
		SourceAsset:  o.SourceAsset,
		SourceAmount: o.SourceAmount,
		ReturnAsset:  o.ReturnAsset,
		ReturnAmount: o.ReturnAmount,
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	PrevHash        [32]byte
	Balances        map[ledger.AccountKey]int64
	Loans           []*loan.Record
	Claims          []*loan.DeficiencyClaim
	Deficits        map[uuid.UUID]int64
	Pools           []*pool.Pool
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart: load latest snapshot, then replay events after it.
func (c *SettlementCore) RestoreFromSnapshot(snap *SnapshotState) {
	// Next sequence to assign
	c.sequence = snap.Sequence + 1

	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	for _, rec := range snap.Loans {
		c.loans.SetRecord(rec)
	}

	for _, claim := range snap.Claims {
		c.claims.SetClaim(claim)
	}
	for poolID, deficit := range snap.Deficits {
		c.claims.SetDeficit(poolID, deficit)
	}

	for _, p := range snap.Pools {
		c.pools.SetPool(p)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	c.journalGen.SetSequence(c.sequence)
}

// WarmLRU loads recent idempotency keys into the LRU cache so recently
// processed events skip the cold-path DB lookup.
func (c *SettlementCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *SettlementCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *SettlementCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *SettlementCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Loans:           c.loans.All(),
		Claims:          c.claims.AllClaims(),
		Deficits:        c.claims.AllDeficits(),
		Pools:           c.pools.All(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
