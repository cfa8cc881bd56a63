package domain

import "errors"

// Validation errors: client-correctable, returned synchronously, never
// retried automatically.
var (
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrAuctionNotActive  = errors.New("auction is not accepting bids")
	ErrSelfBidForbidden  = errors.New("sellers cannot bid on their own auction")
	ErrBidTooLow         = errors.New("bid amount below minimum")
	ErrInsufficientFunds = errors.New("insufficient balance for bid")
)

// Concurrency errors.
var (
	// ErrStaleAuction means the auction left the active state between
	// validation and the ledger append. Definitive, not retriable.
	ErrStaleAuction = errors.New("auction state changed during bid")

	// ErrConflict is a retriable storage-level write conflict.
	ErrConflict = errors.New("conflicting concurrent update")

	// ErrBusy is surfaced after bounded conflict retries are exhausted.
	ErrBusy = errors.New("auction is busy, try again")
)

var (
	ErrWalletNotFound = errors.New("wallet not found")

	ErrInvalidAuction = errors.New("invalid auction parameters")
)
