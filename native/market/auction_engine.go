package market

import (
	"fmt"
	"math/big"
	"time"

	"assetmarket/core/events"
	"assetmarket/core/types"
	nativecommon "assetmarket/native/common"
)

type auctionEngineState interface {
	ParamsGet() (Params, error)
	AuctionPut(*Auction) error
	AuctionGet(id [32]byte) (*Auction, bool, error)
	AuctionDelete(id [32]byte) error
	FixedListingGet(id [32]byte) (*FixedListing, bool, error)
	RoyaltyPut(*Royalty) error
	RoyaltyGet(id [32]byte) (*Royalty, bool, error)
	RoyaltyDelete(id [32]byte) error
}

// AuctionEngine runs the timed ascending auction state machine. Each auction
// moves Unlisted -> Active -> Ended, then terminates through Settle or
// Unlist. The seller is seeded as the nominal initial bidder holding the
// reserve price, so the first real bid refunds the seller exactly the start
// price through the ledger.
type AuctionEngine struct {
	state    auctionEngineState
	ledger   *LedgerEngine
	registry AssetRegistry
	payer    PaymentSender
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	operator [20]byte
	nowFn    func() int64
}

// NewAuctionEngine constructs an auction engine bound to the supplied ledger.
func NewAuctionEngine(ledger *LedgerEngine) *AuctionEngine {
	return &AuctionEngine{
		ledger:  ledger,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *AuctionEngine) SetState(state auctionEngineState) { e.state = state }

// SetRegistry configures the external asset ownership registry.
func (e *AuctionEngine) SetRegistry(registry AssetRegistry) { e.registry = registry }

// SetPaymentSender configures the external value transfer primitive.
func (e *AuctionEngine) SetPaymentSender(payer PaymentSender) { e.payer = payer }

// SetOperator configures the principal used for registry approval checks.
func (e *AuctionEngine) SetOperator(operator [20]byte) { e.operator = operator }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *AuctionEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the admin pause view.
func (e *AuctionEngine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source, primarily used in tests.
func (e *AuctionEngine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *AuctionEngine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *AuctionEngine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *AuctionEngine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.registry == nil:
		return errNilRegistry
	case e.ledger == nil:
		return errNilLedger
	default:
		return nil
	}
}

// List opens an auction for the asset with the supplied reserve price and
// duration. Preconditions match the fixed market, including mutual exclusion
// across both listing kinds.
func (e *AuctionEngine) List(caller, collection [20]byte, assetID, startPrice *big.Int, creator [20]byte, royaltyPct uint32, duration int64) (*Auction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, ModuleAuction); err != nil {
		return nil, err
	}
	if !validAssetRef(collection, assetID) || duration <= 0 {
		return nil, ErrInvalidInput
	}
	if startPrice == nil || startPrice.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if err := checkSellerStanding(e.registry, collection, assetID, caller, e.operator); err != nil {
		return nil, err
	}
	params, err := e.state.ParamsGet()
	if err != nil {
		return nil, err
	}
	if royaltyPct > params.MaxRoyaltyPercentage {
		return nil, ErrRoyaltyTooHigh
	}
	id := ListingID(collection, assetID)
	if _, ok, err := e.state.AuctionGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyListed
	}
	if _, ok, err := e.state.FixedListingGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyListed
	}
	now := e.now()
	auction := &Auction{
		ID:            id,
		Collection:    collection,
		AssetID:       cloneBigInt(assetID),
		Seller:        caller,
		StartPrice:    cloneBigInt(startPrice),
		Duration:      duration,
		EndTime:       now + duration,
		HighestBidder: caller,
		CurrentPrice:  cloneBigInt(startPrice),
		CreatedAt:     now,
	}
	if err := e.state.AuctionPut(auction); err != nil {
		return nil, err
	}
	royalty := &Royalty{ID: id, Creator: creator, Percentage: royaltyPct}
	if err := e.state.RoyaltyPut(royalty); err != nil {
		return nil, err
	}
	e.emit(AuctionListedEvent(auction, royalty))
	return auction.Clone(), nil
}

// Unlist cancels an ended auction. Only the asset owner may cancel, and only
// once the end time has elapsed; the live highest bid, if any, is refunded to
// its bidder through the ledger so cancellation cannot strand paid value.
func (e *AuctionEngine) Unlist(caller, collection [20]byte, assetID *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, ModuleAuction); err != nil {
		return err
	}
	if !validAssetRef(collection, assetID) {
		return ErrInvalidInput
	}
	id := ListingID(collection, assetID)
	auction, ok, err := e.state.AuctionGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAuctionNotFound
	}
	owner, err := e.registry.OwnerOf(collection, assetID)
	if err != nil {
		return fmt.Errorf("market: owner lookup: %w", err)
	}
	if owner != caller {
		return ErrNotOwner
	}
	if !auction.Ended(e.now()) {
		return ErrAuctionNotEnded
	}
	if auction.HighestBidder != auction.Seller {
		if err := e.ledger.Credit(auction.HighestBidder, auction.CurrentPrice); err != nil {
			return err
		}
	}
	if err := e.removeAuction(id); err != nil {
		return err
	}
	e.emit(AuctionUnlistedEvent(auction))
	return nil
}

// Bid places a new highest bid. The previous highest bidder is refunded their
// standing amount on the ledger; for the first bid that refund target is the
// seller holding the reserve, who is credited the start price rather than the
// bid amount.
func (e *AuctionEngine) Bid(caller, collection [20]byte, assetID, bidAmount, paid *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, ModuleAuction); err != nil {
		return err
	}
	if !validAssetRef(collection, assetID) {
		return ErrInvalidInput
	}
	id := ListingID(collection, assetID)
	auction, ok, err := e.state.AuctionGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAuctionNotFound
	}
	if e.now() >= auction.EndTime {
		return ErrAuctionEnded
	}
	if bidAmount == nil || bidAmount.Sign() <= 0 {
		return ErrInvalidPrice
	}
	if paid == nil || paid.Cmp(bidAmount) < 0 {
		return ErrInsufficientPayment
	}
	if bidAmount.Cmp(auction.CurrentPrice) <= 0 {
		return ErrBidTooLow
	}
	if caller == auction.HighestBidder {
		return ErrAlreadyHighestBidder
	}
	previous := auction.HighestBidder
	refund := cloneBigInt(auction.CurrentPrice)
	auction.HighestBidder = caller
	auction.CurrentPrice = cloneBigInt(bidAmount)
	// Persist the new highest bid before crediting the refund, so a failed
	// write cannot leave the outbid principal both refunded and still highest.
	if err := e.state.AuctionPut(auction); err != nil {
		return err
	}
	if err := e.ledger.Credit(previous, refund); err != nil {
		return err
	}
	e.emit(AuctionBidEvent(auction, previous, refund))
	return nil
}

// Settle completes an ended auction for its highest bidder. The current price
// is split identically to a fixed-price sale: seller share to the ledger,
// royalty and fee pushed directly. A failed registry transfer aborts with no
// state change; once the transfer succeeds, payouts whose push is rejected are
// credited on the ledger instead so the settlement always completes.
func (e *AuctionEngine) Settle(caller, collection [20]byte, assetID *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.payer == nil {
		return errNilPayer
	}
	if err := nativecommon.Guard(e.pauses, ModuleAuction); err != nil {
		return err
	}
	if !validAssetRef(collection, assetID) {
		return ErrInvalidInput
	}
	id := ListingID(collection, assetID)
	auction, ok, err := e.state.AuctionGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAuctionNotFound
	}
	if !auction.Ended(e.now()) {
		return ErrAuctionNotEnded
	}
	if caller != auction.HighestBidder {
		return ErrNotHighestBidder
	}
	if auction.HighestBidder == auction.Seller {
		return ErrNoBids
	}
	royalty, ok, err := e.state.RoyaltyGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return errRoyaltyLost
	}
	params, err := e.state.ParamsGet()
	if err != nil {
		return err
	}
	split, err := splitPayment(auction.CurrentPrice, auction.CurrentPrice, params.FeePercentage, royalty.Percentage)
	if err != nil {
		return err
	}
	if err := e.registry.TransferFrom(collection, auction.Seller, caller, assetID); err != nil {
		return fmt.Errorf("%w: asset transfer: %v", ErrTransferFailed, err)
	}
	// Custody has moved; no external call may abort the settlement past this
	// point.
	if err := payoutOrCredit(e.payer, e.ledger, royalty.Creator, split.Royalty); err != nil {
		return err
	}
	if err := payoutOrCredit(e.payer, e.ledger, params.FeeRecipient, split.Fee); err != nil {
		return err
	}
	if err := e.ledger.Credit(auction.Seller, split.Seller); err != nil {
		return err
	}
	if err := e.removeAuction(id); err != nil {
		return err
	}
	e.emit(AuctionSettledEvent(auction, split))
	return nil
}

// Status returns the highest bidder and current price of an active auction.
// After the end time the auction is no longer biddable and the call fails.
func (e *AuctionEngine) Status(collection [20]byte, assetID *big.Int) ([20]byte, *big.Int, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, nil, errNilState
	}
	if !validAssetRef(collection, assetID) {
		return [20]byte{}, nil, ErrInvalidInput
	}
	id := ListingID(collection, assetID)
	auction, ok, err := e.state.AuctionGet(id)
	if err != nil {
		return [20]byte{}, nil, err
	}
	if !ok {
		return [20]byte{}, nil, ErrAuctionNotFound
	}
	if auction.Ended(e.now()) {
		return [20]byte{}, nil, ErrAuctionEnded
	}
	return auction.HighestBidder, cloneBigInt(auction.CurrentPrice), nil
}

func (e *AuctionEngine) removeAuction(id [32]byte) error {
	if err := e.state.AuctionDelete(id); err != nil {
		return err
	}
	return e.state.RoyaltyDelete(id)
}
