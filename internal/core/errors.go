package core

import "errors"

// Reason codes for rejected operations. Every rejection aborts the whole
// operation with no partial state change; callers match with errors.Is.
var (
	// ErrUnknownInstrument is returned when the loan (or its deficiency
	// claim) is not known to the ledger.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrInvalidStatus is returned when the loan's lifecycle status does
	// not allow the requested operation.
	ErrInvalidStatus = errors.New("invalid loan status")

	// ErrAlreadyLiquidated is returned when liquidation is requested for a
	// loan that has already been liquidated.
	ErrAlreadyLiquidated = errors.New("loan already liquidated")

	// ErrNotFullyRedeemed is returned when reclaim is attempted while the
	// ledger still holds unredeemed loan tokens.
	ErrNotFullyRedeemed = errors.New("loan holding not fully redeemed")

	// ErrInsufficientClaimBalance is returned when a holder tries to burn
	// more claim tokens than they hold.
	ErrInsufficientClaimBalance = errors.New("insufficient claim balance")

	// ErrInsufficientLedgerFunds is returned when the treasury cannot cover
	// a payment in full. Partial fills are never made.
	ErrInsufficientLedgerFunds = errors.New("insufficient ledger funds")

	// ErrSwapDestinationMismatch is returned when a swap's proceeds were
	// credited to an account other than the ledger itself.
	ErrSwapDestinationMismatch = errors.New("swap destination mismatch")

	// ErrSlippageExceeded is returned when a swap returned less than the
	// caller's minimum.
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrUnauthorized is returned for controller-only operations invoked
	// without the controller credential.
	ErrUnauthorized = errors.New("unauthorized")
)
