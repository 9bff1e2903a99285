// Package marketstore persists marketplace state in a sqlite database. It
// implements the state interfaces consumed by the native/market engines and
// journals emitted events append-only for off-chain indexing.
package marketstore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"assetmarket/core/events"
	"assetmarket/core/types"
	"assetmarket/native/market"
)

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("marketstore: database path must be configured")

// Store wraps the marketplace persistence layer.
type Store struct {
	db *gorm.DB
}

type fixedListingRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	Collection string `gorm:"size:40;index"`
	AssetID    string `gorm:"size:80"`
	Seller     string `gorm:"size:40;index"`
	Price      string `gorm:"size:80"`
	CreatedAt  int64
}

func (fixedListingRow) TableName() string { return "fixed_listings" }

type auctionRow struct {
	ID            string `gorm:"primaryKey;size:64"`
	Collection    string `gorm:"size:40;index"`
	AssetID       string `gorm:"size:80"`
	Seller        string `gorm:"size:40;index"`
	StartPrice    string `gorm:"size:80"`
	Duration      int64
	EndTime       int64 `gorm:"index"`
	HighestBidder string `gorm:"size:40"`
	CurrentPrice  string `gorm:"size:80"`
	CreatedAt     int64
}

func (auctionRow) TableName() string { return "auctions" }

type royaltyRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	Creator    string `gorm:"size:40"`
	Percentage uint32
}

func (royaltyRow) TableName() string { return "royalties" }

type balanceRow struct {
	Address string `gorm:"primaryKey;size:40"`
	Amount  string `gorm:"size:80"`
}

func (balanceRow) TableName() string { return "balances" }

type paramsRow struct {
	ID                   uint `gorm:"primaryKey"`
	Admin                string
	FeeRecipient         string
	FeePercentage        uint32
	MaxRoyaltyPercentage uint32
	Paused               string
}

func (paramsRow) TableName() string { return "params" }

type eventRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Type       string `gorm:"size:64;index"`
	Attributes string
	RecordedAt time.Time
}

func (eventRow) TableName() string { return "events" }

// Open initialises the backing store at the supplied sqlite path.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("marketstore: open database: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// OpenDB wraps an already-open gorm handle, primarily used in tests.
func OpenDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("marketstore: nil database handle")
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&fixedListingRow{}, &auctionRow{}, &royaltyRow{}, &balanceRow{}, &paramsRow{}, &eventRow{}); err != nil {
		return fmt.Errorf("marketstore: migrate schema: %w", err)
	}
	return nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodeID(id [32]byte) string { return hex.EncodeToString(id[:]) }

func encodeAddr(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

func decodeAddr(value string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil || len(raw) != len(addr) {
		return addr, fmt.Errorf("marketstore: malformed address %q", value)
	}
	copy(addr[:], raw)
	return addr, nil
}

func decodeID(value string) ([32]byte, error) {
	var id [32]byte
	raw, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("marketstore: malformed id %q", value)
	}
	copy(id[:], raw)
	return id, nil
}

func encodeBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decodeBig(value string) (*big.Int, error) {
	out, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("marketstore: malformed amount %q", value)
	}
	return out, nil
}

// ParamsGet loads the singleton configuration. A missing row decodes to the
// zero value so the caller can seed defaults.
func (s *Store) ParamsGet() (market.Params, error) {
	var row paramsRow
	err := s.db.First(&row, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return market.Params{Paused: map[string]bool{}}, nil
	}
	if err != nil {
		return market.Params{}, err
	}
	params := market.Params{
		FeePercentage:        row.FeePercentage,
		MaxRoyaltyPercentage: row.MaxRoyaltyPercentage,
		Paused:               map[string]bool{},
	}
	if row.Admin != "" {
		admin, err := decodeAddr(row.Admin)
		if err != nil {
			return market.Params{}, err
		}
		params.Admin = admin
	}
	if row.FeeRecipient != "" {
		recipient, err := decodeAddr(row.FeeRecipient)
		if err != nil {
			return market.Params{}, err
		}
		params.FeeRecipient = recipient
	}
	if strings.TrimSpace(row.Paused) != "" {
		if err := json.Unmarshal([]byte(row.Paused), &params.Paused); err != nil {
			return market.Params{}, fmt.Errorf("marketstore: malformed pause map: %w", err)
		}
	}
	return params, nil
}

// ParamsPut stores the singleton configuration.
func (s *Store) ParamsPut(params market.Params) error {
	sanitized, err := market.SanitizeParams(params)
	if err != nil {
		return err
	}
	paused, err := json.Marshal(sanitized.Paused)
	if err != nil {
		return err
	}
	row := paramsRow{
		ID:                   1,
		Admin:                encodeAddr(sanitized.Admin),
		FeeRecipient:         encodeAddr(sanitized.FeeRecipient),
		FeePercentage:        sanitized.FeePercentage,
		MaxRoyaltyPercentage: sanitized.MaxRoyaltyPercentage,
		Paused:               string(paused),
	}
	return s.db.Save(&row).Error
}

// FixedListingPut stores a fixed listing.
func (s *Store) FixedListingPut(l *market.FixedListing) error {
	sanitized, err := market.SanitizeFixedListing(l)
	if err != nil {
		return err
	}
	row := fixedListingRow{
		ID:         encodeID(sanitized.ID),
		Collection: encodeAddr(sanitized.Collection),
		AssetID:    encodeBig(sanitized.AssetID),
		Seller:     encodeAddr(sanitized.Seller),
		Price:      encodeBig(sanitized.Price),
		CreatedAt:  sanitized.CreatedAt,
	}
	return s.db.Save(&row).Error
}

// FixedListingGet loads a fixed listing by id.
func (s *Store) FixedListingGet(id [32]byte) (*market.FixedListing, bool, error) {
	var row fixedListingRow
	err := s.db.First(&row, "id = ?", encodeID(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	listing, err := decodeFixedListing(row)
	if err != nil {
		return nil, false, err
	}
	return listing, true, nil
}

// FixedListingDelete removes a fixed listing.
func (s *Store) FixedListingDelete(id [32]byte) error {
	return s.db.Delete(&fixedListingRow{}, "id = ?", encodeID(id)).Error
}

func decodeFixedListing(row fixedListingRow) (*market.FixedListing, error) {
	id, err := decodeID(row.ID)
	if err != nil {
		return nil, err
	}
	collection, err := decodeAddr(row.Collection)
	if err != nil {
		return nil, err
	}
	seller, err := decodeAddr(row.Seller)
	if err != nil {
		return nil, err
	}
	assetID, err := decodeBig(row.AssetID)
	if err != nil {
		return nil, err
	}
	price, err := decodeBig(row.Price)
	if err != nil {
		return nil, err
	}
	return &market.FixedListing{
		ID:         id,
		Collection: collection,
		AssetID:    assetID,
		Seller:     seller,
		Price:      price,
		CreatedAt:  row.CreatedAt,
	}, nil
}

// AuctionPut stores an auction.
func (s *Store) AuctionPut(a *market.Auction) error {
	sanitized, err := market.SanitizeAuction(a)
	if err != nil {
		return err
	}
	row := auctionRow{
		ID:            encodeID(sanitized.ID),
		Collection:    encodeAddr(sanitized.Collection),
		AssetID:       encodeBig(sanitized.AssetID),
		Seller:        encodeAddr(sanitized.Seller),
		StartPrice:    encodeBig(sanitized.StartPrice),
		Duration:      sanitized.Duration,
		EndTime:       sanitized.EndTime,
		HighestBidder: encodeAddr(sanitized.HighestBidder),
		CurrentPrice:  encodeBig(sanitized.CurrentPrice),
		CreatedAt:     sanitized.CreatedAt,
	}
	return s.db.Save(&row).Error
}

// AuctionGet loads an auction by id.
func (s *Store) AuctionGet(id [32]byte) (*market.Auction, bool, error) {
	var row auctionRow
	err := s.db.First(&row, "id = ?", encodeID(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	auction, err := decodeAuction(row)
	if err != nil {
		return nil, false, err
	}
	return auction, true, nil
}

// AuctionDelete removes an auction.
func (s *Store) AuctionDelete(id [32]byte) error {
	return s.db.Delete(&auctionRow{}, "id = ?", encodeID(id)).Error
}

func decodeAuction(row auctionRow) (*market.Auction, error) {
	id, err := decodeID(row.ID)
	if err != nil {
		return nil, err
	}
	collection, err := decodeAddr(row.Collection)
	if err != nil {
		return nil, err
	}
	seller, err := decodeAddr(row.Seller)
	if err != nil {
		return nil, err
	}
	bidder, err := decodeAddr(row.HighestBidder)
	if err != nil {
		return nil, err
	}
	assetID, err := decodeBig(row.AssetID)
	if err != nil {
		return nil, err
	}
	startPrice, err := decodeBig(row.StartPrice)
	if err != nil {
		return nil, err
	}
	currentPrice, err := decodeBig(row.CurrentPrice)
	if err != nil {
		return nil, err
	}
	return &market.Auction{
		ID:            id,
		Collection:    collection,
		AssetID:       assetID,
		Seller:        seller,
		StartPrice:    startPrice,
		Duration:      row.Duration,
		EndTime:       row.EndTime,
		HighestBidder: bidder,
		CurrentPrice:  currentPrice,
		CreatedAt:     row.CreatedAt,
	}, nil
}

// RoyaltyPut stores the royalty record attached to a listing.
func (s *Store) RoyaltyPut(r *market.Royalty) error {
	sanitized, err := market.SanitizeRoyalty(r)
	if err != nil {
		return err
	}
	row := royaltyRow{
		ID:         encodeID(sanitized.ID),
		Creator:    encodeAddr(sanitized.Creator),
		Percentage: sanitized.Percentage,
	}
	return s.db.Save(&row).Error
}

// RoyaltyGet loads the royalty record for a listing id.
func (s *Store) RoyaltyGet(id [32]byte) (*market.Royalty, bool, error) {
	var row royaltyRow
	err := s.db.First(&row, "id = ?", encodeID(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rid, err := decodeID(row.ID)
	if err != nil {
		return nil, false, err
	}
	creator, err := decodeAddr(row.Creator)
	if err != nil {
		return nil, false, err
	}
	return &market.Royalty{ID: rid, Creator: creator, Percentage: row.Percentage}, true, nil
}

// RoyaltyDelete removes the royalty record.
func (s *Store) RoyaltyDelete(id [32]byte) error {
	return s.db.Delete(&royaltyRow{}, "id = ?", encodeID(id)).Error
}

// BalanceGet loads a ledger balance. Unknown principals read as zero.
func (s *Store) BalanceGet(addr [20]byte) (*big.Int, error) {
	var row balanceRow
	err := s.db.First(&row, "address = ?", encodeAddr(addr)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return decodeBig(row.Amount)
}

// BalancePut stores a ledger balance.
func (s *Store) BalancePut(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("marketstore: balance must be non-negative")
	}
	row := balanceRow{Address: encodeAddr(addr), Amount: encodeBig(amount)}
	return s.db.Save(&row).Error
}

// Emit implements events.Emitter by journaling the payload append-only.
// Events without a payload are dropped; journaling failures are swallowed so
// indexing problems never abort a settled operation.
func (s *Store) Emit(evt events.Event) {
	if s == nil || s.db == nil || evt == nil {
		return
	}
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	event := payload.Event()
	if event == nil {
		return
	}
	attrs, err := json.Marshal(event.Attributes)
	if err != nil {
		return
	}
	row := eventRow{Type: event.Type, Attributes: string(attrs), RecordedAt: time.Now().UTC()}
	_ = s.db.Create(&row).Error
}

// RecentEvents returns up to limit journaled events, newest first.
func (s *Store) RecentEvents(limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []eventRow
	if err := s.db.Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Event, 0, len(rows))
	for _, row := range rows {
		event := types.Event{Type: row.Type, Attributes: map[string]string{}}
		if strings.TrimSpace(row.Attributes) != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &event.Attributes); err != nil {
				return nil, fmt.Errorf("marketstore: malformed event attributes: %w", err)
			}
		}
		out = append(out, event)
	}
	return out, nil
}
