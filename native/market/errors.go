package market

import "errors"

var (
	// ErrInvalidInput flags a zero collection address, nil asset id, or other
	// malformed parameter.
	ErrInvalidInput = errors.New("market: invalid input")
	// ErrInvalidPrice is returned when a listing or start price is not positive.
	ErrInvalidPrice = errors.New("market: price must be positive")
	// ErrBidTooLow is returned when a bid does not exceed the current price.
	ErrBidTooLow = errors.New("market: bid must exceed current price")
	// ErrUnauthorized is returned when the caller is not the configured admin.
	ErrUnauthorized = errors.New("market: unauthorized caller")
	// ErrNotOwner is returned when the caller does not own the asset per the
	// external registry.
	ErrNotOwner = errors.New("market: caller does not own asset")
	// ErrNotApproved is returned when the seller has not granted transfer
	// approval to the market operator.
	ErrNotApproved = errors.New("market: custody approval missing")
	// ErrRoyaltyTooHigh is returned when the requested royalty percentage
	// exceeds the configured cap.
	ErrRoyaltyTooHigh = errors.New("market: royalty percentage above cap")
	// ErrAlreadyListed is returned when the asset already has a live fixed
	// listing or auction.
	ErrAlreadyListed = errors.New("market: asset already listed")
	// ErrListingNotFound is returned when no fixed listing exists for the asset.
	ErrListingNotFound = errors.New("market: listing not found")
	// ErrAuctionNotFound is returned when no auction exists for the asset.
	ErrAuctionNotFound = errors.New("market: auction not found")
	// ErrInsufficientPayment is returned when the attached value does not cover
	// the price or bid amount.
	ErrInsufficientPayment = errors.New("market: insufficient payment")
	// ErrInsufficientBalance is returned when a withdrawal exceeds the caller's
	// ledger balance.
	ErrInsufficientBalance = errors.New("market: insufficient ledger balance")
	// ErrAuctionEnded is returned when an operation requires a still-active
	// auction.
	ErrAuctionEnded = errors.New("market: auction has ended")
	// ErrAuctionNotEnded is returned when an operation requires the auction end
	// time to have elapsed.
	ErrAuctionNotEnded = errors.New("market: auction has not ended")
	// ErrAlreadyHighestBidder is returned when the current highest bidder bids
	// against themselves.
	ErrAlreadyHighestBidder = errors.New("market: caller already highest bidder")
	// ErrNotHighestBidder is returned when settlement is attempted by anyone
	// other than the highest bidder.
	ErrNotHighestBidder = errors.New("market: caller is not highest bidder")
	// ErrNoBids is returned when settlement is attempted on an auction that
	// never received a bid above the reserve.
	ErrNoBids = errors.New("market: auction received no bids")
	// ErrReentrantCall is returned when a guarded operation is re-entered
	// before the outer invocation has completed.
	ErrReentrantCall = errors.New("market: reentrant call")
	// ErrTransferFailed wraps failures reported by the external value transfer
	// primitive or the asset registry.
	ErrTransferFailed = errors.New("market: external transfer failed")
	// ErrSellerShareNegative is returned when fee plus royalty exceed the paid
	// value, which would drive the seller share below zero.
	ErrSellerShareNegative = errors.New("market: seller share would be negative")

	errNilState    = errors.New("market: state not configured")
	errNilRegistry = errors.New("market: asset registry not configured")
	errNilPayer    = errors.New("market: payment sender not configured")
	errNilLedger   = errors.New("market: ledger engine not configured")
	errRoyaltyLost = errors.New("market: royalty record missing for listing")
)
