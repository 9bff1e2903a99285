package market

import (
	"errors"
	"math/big"
	"testing"

	"assetmarket/core/events"
	"assetmarket/core/types"
	nativecommon "assetmarket/native/common"
)

type mockState struct {
	params        Params
	fixed         map[[32]byte]*FixedListing
	auctions      map[[32]byte]*Auction
	royalties     map[[32]byte]*Royalty
	balances      map[[20]byte]*big.Int
	auctionPutErr error
}

func newMockState(params Params) *mockState {
	return &mockState{
		params:    params.Clone(),
		fixed:     make(map[[32]byte]*FixedListing),
		auctions:  make(map[[32]byte]*Auction),
		royalties: make(map[[32]byte]*Royalty),
		balances:  make(map[[20]byte]*big.Int),
	}
}

func (m *mockState) ParamsGet() (Params, error) { return m.params.Clone(), nil }

func (m *mockState) ParamsPut(p Params) error {
	m.params = p.Clone()
	return nil
}

func (m *mockState) FixedListingPut(l *FixedListing) error {
	sanitized, err := SanitizeFixedListing(l)
	if err != nil {
		return err
	}
	m.fixed[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) FixedListingGet(id [32]byte) (*FixedListing, bool, error) {
	listing, ok := m.fixed[id]
	if !ok {
		return nil, false, nil
	}
	return listing.Clone(), true, nil
}

func (m *mockState) FixedListingDelete(id [32]byte) error {
	delete(m.fixed, id)
	return nil
}

func (m *mockState) AuctionPut(a *Auction) error {
	if m.auctionPutErr != nil {
		return m.auctionPutErr
	}
	sanitized, err := SanitizeAuction(a)
	if err != nil {
		return err
	}
	m.auctions[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) AuctionGet(id [32]byte) (*Auction, bool, error) {
	auction, ok := m.auctions[id]
	if !ok {
		return nil, false, nil
	}
	return auction.Clone(), true, nil
}

func (m *mockState) AuctionDelete(id [32]byte) error {
	delete(m.auctions, id)
	return nil
}

func (m *mockState) RoyaltyPut(r *Royalty) error {
	sanitized, err := SanitizeRoyalty(r)
	if err != nil {
		return err
	}
	m.royalties[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) RoyaltyGet(id [32]byte) (*Royalty, bool, error) {
	royalty, ok := m.royalties[id]
	if !ok {
		return nil, false, nil
	}
	return royalty.Clone(), true, nil
}

func (m *mockState) RoyaltyDelete(id [32]byte) error {
	delete(m.royalties, id)
	return nil
}

func (m *mockState) BalanceGet(addr [20]byte) (*big.Int, error) {
	balance, ok := m.balances[addr]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (m *mockState) BalancePut(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("mock: negative balance")
	}
	m.balances[addr] = new(big.Int).Set(amount)
	return nil
}

type mockRegistry struct {
	owners      map[[32]byte][20]byte
	approvals   map[[20]byte]bool
	transferErr error
	transfers   int
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		owners:    make(map[[32]byte][20]byte),
		approvals: make(map[[20]byte]bool),
	}
}

func (m *mockRegistry) setOwner(collection [20]byte, assetID *big.Int, owner [20]byte) {
	m.owners[ListingID(collection, assetID)] = owner
}

func (m *mockRegistry) OwnerOf(collection [20]byte, assetID *big.Int) ([20]byte, error) {
	owner, ok := m.owners[ListingID(collection, assetID)]
	if !ok {
		return [20]byte{}, errors.New("mock registry: unknown asset")
	}
	return owner, nil
}

func (m *mockRegistry) IsApprovedForAll(_, owner, _ [20]byte) (bool, error) {
	return m.approvals[owner], nil
}

func (m *mockRegistry) TransferFrom(collection, from, to [20]byte, assetID *big.Int) error {
	if m.transferErr != nil {
		return m.transferErr
	}
	key := ListingID(collection, assetID)
	if m.owners[key] != from {
		return errors.New("mock registry: transfer from non-owner")
	}
	m.owners[key] = to
	m.transfers++
	return nil
}

type mockPayer struct {
	sent    map[[20]byte]*big.Int
	failFor map[[20]byte]error
	onSend  func(to [20]byte, amount *big.Int) error
}

func newMockPayer() *mockPayer {
	return &mockPayer{
		sent:    make(map[[20]byte]*big.Int),
		failFor: make(map[[20]byte]error),
	}
}

func (m *mockPayer) Send(to [20]byte, amount *big.Int) error {
	if err := m.failFor[to]; err != nil {
		return err
	}
	if m.onSend != nil {
		if err := m.onSend(to, amount); err != nil {
			return err
		}
	}
	total, ok := m.sent[to]
	if !ok {
		total = big.NewInt(0)
	}
	m.sent[to] = new(big.Int).Add(total, amount)
	return nil
}

func (m *mockPayer) sentTo(to [20]byte) *big.Int {
	total, ok := m.sent[to]
	if !ok {
		return big.NewInt(0)
	}
	return total
}

type captureEmitter struct {
	events []*types.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	c.events = append(c.events, payload.Event())
}

func (c *captureEmitter) last() *types.Event {
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

type testEnv struct {
	state    *mockState
	registry *mockRegistry
	payer    *mockPayer
	emitter  *captureEmitter
	ledger   *LedgerEngine
	fixed    *FixedEngine
	auction  *AuctionEngine
	admin    *AdminEngine
	now      int64
}

var (
	adminAddr    = testAddr(0x01)
	feeCollector = testAddr(0x02)
	operatorAddr = testAddr(0x03)
	sellerAddr   = testAddr(0x10)
	buyerAddr    = testAddr(0x11)
	bidderA      = testAddr(0x12)
	bidderB      = testAddr(0x13)
	creatorAddr  = testAddr(0x20)
	collection   = testAddr(0x40)
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	params := Params{
		Admin:                adminAddr,
		FeeRecipient:         feeCollector,
		FeePercentage:        5,
		MaxRoyaltyPercentage: 10,
		Paused:               map[string]bool{},
	}
	env := &testEnv{
		state:    newMockState(params),
		registry: newMockRegistry(),
		payer:    newMockPayer(),
		emitter:  &captureEmitter{},
		now:      1_000,
	}
	env.ledger = NewLedgerEngine()
	env.ledger.SetState(env.state)
	env.ledger.SetPaymentSender(env.payer)
	env.ledger.SetEmitter(env.emitter)

	env.admin = NewAdminEngine()
	env.admin.SetState(env.state)
	env.admin.SetEmitter(env.emitter)

	env.fixed = NewFixedEngine(env.ledger)
	env.fixed.SetState(env.state)
	env.fixed.SetRegistry(env.registry)
	env.fixed.SetPaymentSender(env.payer)
	env.fixed.SetOperator(operatorAddr)
	env.fixed.SetEmitter(env.emitter)
	env.fixed.SetPauses(env.admin)
	env.fixed.SetNowFunc(func() int64 { return env.now })

	env.auction = NewAuctionEngine(env.ledger)
	env.auction.SetState(env.state)
	env.auction.SetRegistry(env.registry)
	env.auction.SetPaymentSender(env.payer)
	env.auction.SetOperator(operatorAddr)
	env.auction.SetEmitter(env.emitter)
	env.auction.SetPauses(env.admin)
	env.auction.SetNowFunc(func() int64 { return env.now })

	env.ledger.SetPauses(env.admin)

	env.registry.setOwner(collection, assetOne(), sellerAddr)
	env.registry.approvals[sellerAddr] = true
	return env
}

func assetOne() *big.Int { return big.NewInt(1) }

func (env *testEnv) balance(t *testing.T, addr [20]byte) *big.Int {
	t.Helper()
	balance, err := env.ledger.BalanceOf(addr)
	if err != nil {
		t.Fatalf("balance of %x: %v", addr, err)
	}
	return balance
}

func TestFixedListValidations(t *testing.T) {
	env := newTestEnv(t)
	price := big.NewInt(100)

	if _, err := env.fixed.List(sellerAddr, [20]byte{}, assetOne(), price, creatorAddr, 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero collection: got %v", err)
	}
	if _, err := env.fixed.List(sellerAddr, collection, big.NewInt(-1), price, creatorAddr, 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative asset id: got %v", err)
	}
	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), big.NewInt(0), creatorAddr, 10); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("zero price: got %v", err)
	}
	if _, err := env.fixed.List(buyerAddr, collection, assetOne(), price, creatorAddr, 10); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner: got %v", err)
	}
	env.registry.approvals[sellerAddr] = false
	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), price, creatorAddr, 10); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("missing approval: got %v", err)
	}
	env.registry.approvals[sellerAddr] = true
	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), price, creatorAddr, 11); !errors.Is(err, ErrRoyaltyTooHigh) {
		t.Fatalf("royalty above cap: got %v", err)
	}
}

func TestFixedListAndUnlist(t *testing.T) {
	env := newTestEnv(t)

	listing, err := env.fixed.List(sellerAddr, collection, assetOne(), big.NewInt(100), creatorAddr, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if listing.Seller != sellerAddr || listing.Price.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	if _, ok, _ := env.state.RoyaltyGet(listing.ID); !ok {
		t.Fatal("royalty record missing after list")
	}
	if evt := env.emitter.last(); evt == nil || evt.Type != EventTypeFixedListed {
		t.Fatalf("expected listed event, got %+v", evt)
	}

	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), big.NewInt(120), creatorAddr, 5); !errors.Is(err, ErrAlreadyListed) {
		t.Fatalf("double list: got %v", err)
	}
	if err := env.fixed.Unlist(buyerAddr, collection, assetOne()); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("unlist by non-owner: got %v", err)
	}
	if err := env.fixed.Unlist(sellerAddr, collection, assetOne()); err != nil {
		t.Fatalf("unlist: %v", err)
	}
	if _, ok, _ := env.state.FixedListingGet(listing.ID); ok {
		t.Fatal("listing survived unlist")
	}
	if _, ok, _ := env.state.RoyaltyGet(listing.ID); ok {
		t.Fatal("royalty survived unlist")
	}
	if err := env.fixed.Unlist(sellerAddr, collection, assetOne()); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("unlist twice: got %v", err)
	}
}

func TestFixedBuySplitsPayment(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), big.NewInt(100), creatorAddr, 10); err != nil {
		t.Fatalf("list: %v", err)
	}

	if err := env.fixed.Buy(buyerAddr, collection, assetOne(), big.NewInt(99)); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("underpayment: got %v", err)
	}
	if err := env.fixed.Buy(buyerAddr, collection, assetOne(), big.NewInt(100)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	if got := env.balance(t, sellerAddr); got.Cmp(big.NewInt(85)) != 0 {
		t.Fatalf("seller ledger = %s, want 85", got)
	}
	if got := env.payer.sentTo(creatorAddr); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("creator received %s, want 10", got)
	}
	if got := env.payer.sentTo(feeCollector); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("fee recipient received %s, want 5", got)
	}
	if owner, _ := env.registry.OwnerOf(collection, assetOne()); owner != buyerAddr {
		t.Fatalf("asset owner = %x, want buyer", owner)
	}
	id := ListingID(collection, assetOne())
	if _, ok, _ := env.state.FixedListingGet(id); ok {
		t.Fatal("listing survived buy")
	}
	if _, ok, _ := env.state.RoyaltyGet(id); ok {
		t.Fatal("royalty survived buy")
	}
	if evt := env.emitter.last(); evt == nil || evt.Type != EventTypeFixedBought {
		t.Fatalf("expected bought event, got %+v", evt)
	} else if evt.Attributes["sellerShare"] != "85" {
		t.Fatalf("event seller share = %s", evt.Attributes["sellerShare"])
	}
}

func TestFixedBuyOverpaymentAccruesToSeller(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), big.NewInt(100), creatorAddr, 10); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := env.fixed.Buy(buyerAddr, collection, assetOne(), big.NewInt(120)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	// Fee and royalty stay pinned to the listing price; the extra 20 lands in
	// the seller share.
	if got := env.balance(t, sellerAddr); got.Cmp(big.NewInt(105)) != 0 {
		t.Fatalf("seller ledger = %s, want 105", got)
	}
	if got := env.payer.sentTo(creatorAddr); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("creator received %s, want 10", got)
	}
	if got := env.payer.sentTo(feeCollector); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("fee recipient received %s, want 5", got)
	}
}

func TestFixedBuyTransferFailureLeavesState(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), big.NewInt(100), creatorAddr, 10); err != nil {
		t.Fatalf("list: %v", err)
	}
	env.registry.transferErr = errors.New("registry offline")

	err := env.fixed.Buy(buyerAddr, collection, assetOne(), big.NewInt(100))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	if _, ok, _ := env.state.FixedListingGet(ListingID(collection, assetOne())); !ok {
		t.Fatal("listing removed despite failed transfer")
	}
	if got := env.balance(t, sellerAddr); got.Sign() != 0 {
		t.Fatalf("seller credited %s despite failed transfer", got)
	}
}

func TestFixedBuyRejectedPayoutCreditsLedger(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), big.NewInt(100), creatorAddr, 10); err != nil {
		t.Fatalf("list: %v", err)
	}
	env.payer.failFor[creatorAddr] = errors.New("recipient rejects payment")
	env.payer.failFor[feeCollector] = errors.New("recipient rejects payment")

	if err := env.fixed.Buy(buyerAddr, collection, assetOne(), big.NewInt(100)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	// The sale completes once custody has moved; rejected pushes land on the
	// ledger for later withdrawal instead of stranding the sale.
	if owner, _ := env.registry.OwnerOf(collection, assetOne()); owner != buyerAddr {
		t.Fatalf("asset owner = %x, want buyer", owner)
	}
	if got := env.balance(t, sellerAddr); got.Cmp(big.NewInt(85)) != 0 {
		t.Fatalf("seller ledger = %s, want 85", got)
	}
	if got := env.balance(t, creatorAddr); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("creator ledger = %s, want 10", got)
	}
	if got := env.balance(t, feeCollector); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("fee recipient ledger = %s, want 5", got)
	}
	if got := env.payer.sentTo(creatorAddr); got.Sign() != 0 {
		t.Fatalf("creator pushed %s despite rejection", got)
	}
	id := ListingID(collection, assetOne())
	if _, ok, _ := env.state.FixedListingGet(id); ok {
		t.Fatal("listing survived buy")
	}
	if _, ok, _ := env.state.RoyaltyGet(id); ok {
		t.Fatal("royalty survived buy")
	}
}

func TestFixedNegativeAssetIDNeverMatchesListing(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), big.NewInt(100), creatorAddr, 10); err != nil {
		t.Fatalf("list: %v", err)
	}
	// The state key hashes the magnitude only, so -1 must be rejected before
	// it can alias the listing for asset 1.
	if err := env.fixed.Buy(buyerAddr, collection, big.NewInt(-1), big.NewInt(100)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("buy with negative id: got %v", err)
	}
	if err := env.fixed.Unlist(sellerAddr, collection, big.NewInt(-1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unlist with negative id: got %v", err)
	}
	if _, ok, _ := env.state.FixedListingGet(ListingID(collection, assetOne())); !ok {
		t.Fatal("listing for asset 1 disturbed")
	}
}

func TestFixedRelistReplacesRoyalty(t *testing.T) {
	env := newTestEnv(t)
	otherCreator := testAddr(0x21)

	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), big.NewInt(100), creatorAddr, 10); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := env.fixed.Unlist(sellerAddr, collection, assetOne()); err != nil {
		t.Fatalf("unlist: %v", err)
	}
	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), big.NewInt(200), otherCreator, 3); err != nil {
		t.Fatalf("relist: %v", err)
	}
	if err := env.fixed.Buy(buyerAddr, collection, assetOne(), big.NewInt(200)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if got := env.payer.sentTo(creatorAddr); got.Sign() != 0 {
		t.Fatalf("stale creator received %s", got)
	}
	if got := env.payer.sentTo(otherCreator); got.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("new creator received %s, want 6", got)
	}
}

func TestFixedMutualExclusionWithAuction(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.auction.List(sellerAddr, collection, assetOne(), big.NewInt(50), creatorAddr, 10, 3600); err != nil {
		t.Fatalf("auction list: %v", err)
	}
	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), big.NewInt(100), creatorAddr, 10); !errors.Is(err, ErrAlreadyListed) {
		t.Fatalf("fixed list over auction: got %v", err)
	}
}

func TestFixedPausedModule(t *testing.T) {
	env := newTestEnv(t)
	if err := env.admin.SetPaused(adminAddr, ModuleFixed, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), big.NewInt(100), creatorAddr, 10); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("paused list: got %v", err)
	}
	if err := env.admin.SetPaused(adminAddr, ModuleFixed, false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := env.fixed.List(sellerAddr, collection, assetOne(), big.NewInt(100), creatorAddr, 10); err != nil {
		t.Fatalf("list after resume: %v", err)
	}
}
