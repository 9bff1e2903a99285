package market

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"assetmarket/core/events"
	"assetmarket/core/types"
)

const (
	// EventTypeFixedListed is emitted when an asset is listed at a fixed price.
	EventTypeFixedListed = "market.fixed.listed"
	// EventTypeFixedUnlisted is emitted when a fixed listing is cancelled.
	EventTypeFixedUnlisted = "market.fixed.unlisted"
	// EventTypeFixedBought is emitted when a fixed listing is bought.
	EventTypeFixedBought = "market.fixed.bought"
	// EventTypeAuctionListed is emitted when an auction opens.
	EventTypeAuctionListed = "market.auction.listed"
	// EventTypeAuctionUnlisted is emitted when an ended auction is cancelled.
	EventTypeAuctionUnlisted = "market.auction.unlisted"
	// EventTypeAuctionBid is emitted when a new highest bid is accepted.
	EventTypeAuctionBid = "market.auction.bid"
	// EventTypeAuctionSettled is emitted when the highest bidder settles.
	EventTypeAuctionSettled = "market.auction.settled"
	// EventTypeWithdrawn is emitted when a ledger balance is withdrawn.
	EventTypeWithdrawn = "market.ledger.withdrawn"
	// EventTypeParamsUpdated is emitted when the admin changes configuration.
	EventTypeParamsUpdated = "market.params.updated"
	// EventTypePaused is emitted when a module is paused or resumed.
	EventTypePaused = "market.paused"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func hexID(id [32]byte) string {
	return hex.EncodeToString(id[:])
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// FixedListedEvent returns the payload announcing a new fixed-price listing.
func FixedListedEvent(l *FixedListing, r *Royalty) *types.Event {
	attrs := map[string]string{
		"id":         hexID(l.ID),
		"collection": hexAddr(l.Collection),
		"assetId":    bigString(l.AssetID),
		"seller":     hexAddr(l.Seller),
		"price":      bigString(l.Price),
	}
	if r != nil {
		attrs["creator"] = hexAddr(r.Creator)
		attrs["royaltyPct"] = strconv.FormatUint(uint64(r.Percentage), 10)
	}
	return &types.Event{Type: EventTypeFixedListed, Attributes: attrs}
}

// FixedUnlistedEvent returns the payload for a cancelled fixed listing.
func FixedUnlistedEvent(l *FixedListing) *types.Event {
	return &types.Event{
		Type: EventTypeFixedUnlisted,
		Attributes: map[string]string{
			"id":         hexID(l.ID),
			"collection": hexAddr(l.Collection),
			"assetId":    bigString(l.AssetID),
			"seller":     hexAddr(l.Seller),
		},
	}
}

// FixedBoughtEvent returns the payload for a completed fixed-price sale,
// including the three-way split of the payment.
func FixedBoughtEvent(l *FixedListing, buyer [20]byte, paid *big.Int, split paymentSplit) *types.Event {
	return &types.Event{
		Type: EventTypeFixedBought,
		Attributes: map[string]string{
			"id":          hexID(l.ID),
			"collection":  hexAddr(l.Collection),
			"assetId":     bigString(l.AssetID),
			"seller":      hexAddr(l.Seller),
			"buyer":       hexAddr(buyer),
			"price":       bigString(l.Price),
			"paid":        bigString(paid),
			"sellerShare": bigString(split.Seller),
			"royalty":     bigString(split.Royalty),
			"fee":         bigString(split.Fee),
		},
	}
}

// AuctionListedEvent returns the payload announcing a new auction.
func AuctionListedEvent(a *Auction, r *Royalty) *types.Event {
	attrs := map[string]string{
		"id":         hexID(a.ID),
		"collection": hexAddr(a.Collection),
		"assetId":    bigString(a.AssetID),
		"seller":     hexAddr(a.Seller),
		"startPrice": bigString(a.StartPrice),
		"endTime":    strconv.FormatInt(a.EndTime, 10),
	}
	if r != nil {
		attrs["creator"] = hexAddr(r.Creator)
		attrs["royaltyPct"] = strconv.FormatUint(uint64(r.Percentage), 10)
	}
	return &types.Event{Type: EventTypeAuctionListed, Attributes: attrs}
}

// AuctionUnlistedEvent returns the payload for a cancelled auction.
func AuctionUnlistedEvent(a *Auction) *types.Event {
	return &types.Event{
		Type: EventTypeAuctionUnlisted,
		Attributes: map[string]string{
			"id":            hexID(a.ID),
			"collection":    hexAddr(a.Collection),
			"assetId":       bigString(a.AssetID),
			"seller":        hexAddr(a.Seller),
			"highestBidder": hexAddr(a.HighestBidder),
			"currentPrice":  bigString(a.CurrentPrice),
		},
	}
}

// AuctionBidEvent returns the payload for an accepted bid, carrying the
// outbid principal and the ledger refund they received.
func AuctionBidEvent(a *Auction, outbid [20]byte, refund *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeAuctionBid,
		Attributes: map[string]string{
			"id":         hexID(a.ID),
			"collection": hexAddr(a.Collection),
			"assetId":    bigString(a.AssetID),
			"bidder":     hexAddr(a.HighestBidder),
			"amount":     bigString(a.CurrentPrice),
			"outbid":     hexAddr(outbid),
			"refund":     bigString(refund),
		},
	}
}

// AuctionSettledEvent returns the payload for a settled auction with the
// split of the winning bid.
func AuctionSettledEvent(a *Auction, split paymentSplit) *types.Event {
	return &types.Event{
		Type: EventTypeAuctionSettled,
		Attributes: map[string]string{
			"id":          hexID(a.ID),
			"collection":  hexAddr(a.Collection),
			"assetId":     bigString(a.AssetID),
			"seller":      hexAddr(a.Seller),
			"buyer":       hexAddr(a.HighestBidder),
			"price":       bigString(a.CurrentPrice),
			"sellerShare": bigString(split.Seller),
			"royalty":     bigString(split.Royalty),
			"fee":         bigString(split.Fee),
		},
	}
}

// WithdrawnEvent returns the payload for a completed ledger withdrawal.
func WithdrawnEvent(caller, destination [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeWithdrawn,
		Attributes: map[string]string{
			"caller":      hexAddr(caller),
			"destination": hexAddr(destination),
			"amount":      bigString(amount),
		},
	}
}

// ParamsUpdatedEvent returns the payload for an admin configuration change.
func ParamsUpdatedEvent(p *Params) *types.Event {
	attrs := map[string]string{}
	if p != nil {
		attrs["feePercentage"] = strconv.FormatUint(uint64(p.FeePercentage), 10)
		attrs["maxRoyaltyPercentage"] = strconv.FormatUint(uint64(p.MaxRoyaltyPercentage), 10)
		attrs["feeRecipient"] = hexAddr(p.FeeRecipient)
	}
	return &types.Event{Type: EventTypeParamsUpdated, Attributes: attrs}
}

// PausedEvent returns the payload for a module pause state change.
func PausedEvent(module string, paused bool) *types.Event {
	return &types.Event{
		Type: EventTypePaused,
		Attributes: map[string]string{
			"module": module,
			"paused": strconv.FormatBool(paused),
		},
	}
}
