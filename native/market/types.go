package market

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Module identifiers used with the pause guard.
const (
	ModuleFixed   = "fixed"
	ModuleAuction = "auction"
	ModuleLedger  = "ledger"
)

// validAssetRef reports whether the collection and asset id form a usable
// asset reference. Negative ids are rejected because ListingID hashes the
// magnitude only, so n and -n would collide on the same state key.
func validAssetRef(collection [20]byte, assetID *big.Int) bool {
	return !isZeroAddress(collection) && assetID != nil && assetID.Sign() >= 0
}

// ListingID derives the deterministic state key for an asset:
// keccak256(collection || assetID big-endian bytes).
func ListingID(collection [20]byte, assetID *big.Int) [32]byte {
	var idBytes []byte
	if assetID != nil {
		idBytes = assetID.Bytes()
	}
	return ethcrypto.Keccak256Hash(collection[:], idBytes)
}

// FixedListing is an offer to sell one asset at a fixed price until cancelled
// or bought.
type FixedListing struct {
	ID         [32]byte
	Collection [20]byte
	AssetID    *big.Int
	Seller     [20]byte
	Price      *big.Int
	CreatedAt  int64
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (l *FixedListing) Clone() *FixedListing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.AssetID = cloneBigInt(l.AssetID)
	clone.Price = cloneBigInt(l.Price)
	return &clone
}

// Auction is a time-bounded offer accepting successively higher bids. The bid
// state (HighestBidder, CurrentPrice) lives and dies with the auction; at
// creation the seller holds the reserve as the nominal initial bidder.
type Auction struct {
	ID            [32]byte
	Collection    [20]byte
	AssetID       *big.Int
	Seller        [20]byte
	StartPrice    *big.Int
	Duration      int64
	EndTime       int64
	HighestBidder [20]byte
	CurrentPrice  *big.Int
	CreatedAt     int64
}

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.AssetID = cloneBigInt(a.AssetID)
	clone.StartPrice = cloneBigInt(a.StartPrice)
	clone.CurrentPrice = cloneBigInt(a.CurrentPrice)
	return &clone
}

// Ended reports whether the auction end time has elapsed at the supplied
// timestamp.
func (a *Auction) Ended(now int64) bool {
	if a == nil {
		return true
	}
	return now > a.EndTime
}

// Royalty routes a fixed percentage of each sale price to the asset's
// designated creator. One record exists per live listing and is removed with
// it.
type Royalty struct {
	ID         [32]byte
	Creator    [20]byte
	Percentage uint32
}

// Clone returns a copy of the royalty record.
func (r *Royalty) Clone() *Royalty {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// SanitizeFixedListing validates the supplied listing and returns a cloned
// instance with non-nil amounts. The original value is not mutated.
func SanitizeFixedListing(l *FixedListing) (*FixedListing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil fixed listing")
	}
	clone := l.Clone()
	if clone.AssetID == nil || clone.AssetID.Sign() < 0 {
		return nil, fmt.Errorf("fixed listing asset id must be non-negative")
	}
	if clone.Price == nil || clone.Price.Sign() <= 0 {
		return nil, fmt.Errorf("fixed listing price must be positive")
	}
	return clone, nil
}

// SanitizeAuction validates the supplied auction and returns a cloned instance
// with non-nil amounts. The original value is not mutated.
func SanitizeAuction(a *Auction) (*Auction, error) {
	if a == nil {
		return nil, fmt.Errorf("nil auction")
	}
	clone := a.Clone()
	if clone.AssetID == nil || clone.AssetID.Sign() < 0 {
		return nil, fmt.Errorf("auction asset id must be non-negative")
	}
	if clone.StartPrice == nil || clone.StartPrice.Sign() <= 0 {
		return nil, fmt.Errorf("auction start price must be positive")
	}
	if clone.CurrentPrice == nil || clone.CurrentPrice.Cmp(clone.StartPrice) < 0 {
		return nil, fmt.Errorf("auction current price below start price")
	}
	if clone.Duration <= 0 {
		return nil, fmt.Errorf("auction duration must be positive")
	}
	return clone, nil
}

// SanitizeRoyalty validates the supplied royalty record.
func SanitizeRoyalty(r *Royalty) (*Royalty, error) {
	if r == nil {
		return nil, fmt.Errorf("nil royalty")
	}
	clone := r.Clone()
	if clone.Percentage > maxPercentage {
		return nil, fmt.Errorf("royalty percentage out of range: %d", clone.Percentage)
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func isZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}
