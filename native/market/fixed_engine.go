package market

import (
	"fmt"
	"math/big"
	"time"

	"assetmarket/core/events"
	"assetmarket/core/types"
	nativecommon "assetmarket/native/common"
)

type fixedEngineState interface {
	ParamsGet() (Params, error)
	FixedListingPut(*FixedListing) error
	FixedListingGet(id [32]byte) (*FixedListing, bool, error)
	FixedListingDelete(id [32]byte) error
	AuctionGet(id [32]byte) (*Auction, bool, error)
	RoyaltyPut(*Royalty) error
	RoyaltyGet(id [32]byte) (*Royalty, bool, error)
	RoyaltyDelete(id [32]byte) error
}

// FixedEngine runs the list/unlist/buy state machine for immediate-sale
// listings. Sellers keep custody of the asset; the engine only checks the
// registry approval and orders the transfer when the sale completes.
type FixedEngine struct {
	state    fixedEngineState
	ledger   *LedgerEngine
	registry AssetRegistry
	payer    PaymentSender
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	operator [20]byte
	nowFn    func() int64
}

// NewFixedEngine constructs a fixed-price engine bound to the supplied ledger.
func NewFixedEngine(ledger *LedgerEngine) *FixedEngine {
	return &FixedEngine{
		ledger:  ledger,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *FixedEngine) SetState(state fixedEngineState) { e.state = state }

// SetRegistry configures the external asset ownership registry.
func (e *FixedEngine) SetRegistry(registry AssetRegistry) { e.registry = registry }

// SetPaymentSender configures the external value transfer primitive used for
// the direct royalty and fee payouts.
func (e *FixedEngine) SetPaymentSender(payer PaymentSender) { e.payer = payer }

// SetOperator configures the principal the market uses when checking registry
// approvals.
func (e *FixedEngine) SetOperator(operator [20]byte) { e.operator = operator }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *FixedEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the admin pause view.
func (e *FixedEngine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source, primarily used in tests.
func (e *FixedEngine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *FixedEngine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *FixedEngine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *FixedEngine) ready() error {
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

// payoutOrCredit pushes amount to the recipient, falling back to a ledger
// credit when the push is rejected. Sales use it for royalty and fee payouts
// after custody has moved, so a rejecting recipient cannot strand a half
// settled sale.
func payoutOrCredit(payer PaymentSender, ledger *LedgerEngine, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if err := payer.Send(to, amount); err != nil {
		return ledger.Credit(to, amount)
	}
	return nil
}

// checkSellerStanding verifies ownership and standing custody approval for the
// caller. Both fixed and auction listings share these preconditions.
func checkSellerStanding(registry AssetRegistry, collection [20]byte, assetID *big.Int, caller, operator [20]byte) error {
	owner, err := registry.OwnerOf(collection, assetID)
	if err != nil {
		return fmt.Errorf("market: owner lookup: %w", err)
	}
	if owner != caller {
		return ErrNotOwner
	}
	approved, err := registry.IsApprovedForAll(collection, caller, operator)
	if err != nil {
		return fmt.Errorf("market: approval lookup: %w", err)
	}
	if !approved {
		return ErrNotApproved
	}
	return nil
}

// List creates a fixed-price listing with its royalty record. The asset must
// be owned by the caller, approved for transfer, and not listed on either
// market.
func (e *FixedEngine) List(caller, collection [20]byte, assetID, price *big.Int, creator [20]byte, royaltyPct uint32) (*FixedListing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, ModuleFixed); err != nil {
		return nil, err
	}
	if !validAssetRef(collection, assetID) {
		return nil, ErrInvalidInput
	}
	if price == nil || price.Sign() <= 0 {
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
	if _, ok, err := e.state.FixedListingGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyListed
	}
	if _, ok, err := e.state.AuctionGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyListed
	}
	listing := &FixedListing{
		ID:         id,
		Collection: collection,
		AssetID:    cloneBigInt(assetID),
		Seller:     caller,
		Price:      cloneBigInt(price),
		CreatedAt:  e.now(),
	}
	if err := e.state.FixedListingPut(listing); err != nil {
		return nil, err
	}
	royalty := &Royalty{ID: id, Creator: creator, Percentage: royaltyPct}
	if err := e.state.RoyaltyPut(royalty); err != nil {
		return nil, err
	}
	e.emit(FixedListedEvent(listing, royalty))
	return listing.Clone(), nil
}

// Unlist removes the listing and its royalty record. The caller must still
// own the asset per the registry.
func (e *FixedEngine) Unlist(caller, collection [20]byte, assetID *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, ModuleFixed); err != nil {
		return err
	}
	if !validAssetRef(collection, assetID) {
		return ErrInvalidInput
	}
	id := ListingID(collection, assetID)
	listing, ok, err := e.state.FixedListingGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
	}
	owner, err := e.registry.OwnerOf(collection, assetID)
	if err != nil {
		return fmt.Errorf("market: owner lookup: %w", err)
	}
	if owner != caller {
		return ErrNotOwner
	}
	if err := e.removeListing(id); err != nil {
		return err
	}
	e.emit(FixedUnlistedEvent(listing))
	return nil
}

// Buy settles the listing for the caller. The paid value must cover the
// price; fee and royalty are computed from the price while the seller share
// absorbs any overpayment. The seller is paid through the ledger, royalty and
// fee are pushed immediately. A failed registry transfer aborts with no state
// change; once the transfer succeeds, payouts whose push is rejected are
// credited on the ledger instead so the sale always completes.
func (e *FixedEngine) Buy(caller, collection [20]byte, assetID, paid *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.payer == nil {
		return errNilPayer
	}
	if err := nativecommon.Guard(e.pauses, ModuleFixed); err != nil {
		return err
	}
	if !validAssetRef(collection, assetID) {
		return ErrInvalidInput
	}
	id := ListingID(collection, assetID)
	listing, ok, err := e.state.FixedListingGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
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
	split, err := splitPayment(listing.Price, paid, params.FeePercentage, royalty.Percentage)
	if err != nil {
		return err
	}
	if err := e.registry.TransferFrom(collection, listing.Seller, caller, assetID); err != nil {
		return fmt.Errorf("%w: asset transfer: %v", ErrTransferFailed, err)
	}
	// Custody has moved; no external call may abort the sale past this point.
	if err := payoutOrCredit(e.payer, e.ledger, royalty.Creator, split.Royalty); err != nil {
		return err
	}
	if err := payoutOrCredit(e.payer, e.ledger, params.FeeRecipient, split.Fee); err != nil {
		return err
	}
	if err := e.ledger.Credit(listing.Seller, split.Seller); err != nil {
		return err
	}
	if err := e.removeListing(id); err != nil {
		return err
	}
	e.emit(FixedBoughtEvent(listing, caller, paid, split))
	return nil
}

func (e *FixedEngine) removeListing(id [32]byte) error {
	if err := e.state.FixedListingDelete(id); err != nil {
		return err
	}
	return e.state.RoyaltyDelete(id)
}
