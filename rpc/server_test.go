package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	nativecommon "assetmarket/native/common"
	"assetmarket/native/market"
	"assetmarket/storage/marketstore"
)

const testSecret = "rpc-test-secret"

var (
	adminAddr  = testAddr(0x01)
	feeAddr    = testAddr(0x02)
	sellerAddr = testAddr(0x10)
	buyerAddr  = testAddr(0x11)
	creator    = testAddr(0x20)
	collection = testAddr(0x40)
)

func testAddr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

type stubRegistry struct {
	owners    map[string][20]byte
	approvals map[[20]byte]bool
}

func (r *stubRegistry) key(collection [20]byte, assetID *big.Int) string {
	id := market.ListingID(collection, assetID)
	return string(id[:])
}

func (r *stubRegistry) OwnerOf(collection [20]byte, assetID *big.Int) ([20]byte, error) {
	owner, ok := r.owners[r.key(collection, assetID)]
	if !ok {
		return [20]byte{}, fmt.Errorf("unknown asset")
	}
	return owner, nil
}

func (r *stubRegistry) IsApprovedForAll(_, owner, _ [20]byte) (bool, error) {
	return r.approvals[owner], nil
}

func (r *stubRegistry) TransferFrom(collection, from, to [20]byte, assetID *big.Int) error {
	r.owners[r.key(collection, assetID)] = to
	return nil
}

type stubPayer struct{}

func (stubPayer) Send([20]byte, *big.Int) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	store, err := marketstore.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.ParamsPut(market.Params{
		Admin:                adminAddr,
		FeeRecipient:         feeAddr,
		FeePercentage:        5,
		MaxRoyaltyPercentage: 10,
		Paused:               map[string]bool{},
	}))

	registry := &stubRegistry{
		owners:    map[string][20]byte{},
		approvals: map[[20]byte]bool{sellerAddr: true},
	}
	registry.owners[registry.key(collection, big.NewInt(1))] = sellerAddr

	payer := stubPayer{}

	admin := market.NewAdminEngine()
	admin.SetState(store)
	admin.SetEmitter(store)

	ledger := market.NewLedgerEngine()
	ledger.SetState(store)
	ledger.SetPaymentSender(payer)
	ledger.SetEmitter(store)
	ledger.SetPauses(admin)

	fixed := market.NewFixedEngine(ledger)
	fixed.SetState(store)
	fixed.SetRegistry(registry)
	fixed.SetPaymentSender(payer)
	fixed.SetEmitter(store)
	fixed.SetPauses(admin)

	auction := market.NewAuctionEngine(ledger)
	auction.SetState(store)
	auction.SetRegistry(registry)
	auction.SetPaymentSender(payer)
	auction.SetEmitter(store)
	auction.SetPauses(admin)

	server := NewServer(fixed, auction, ledger, admin, testSecret, nil)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts, server
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, caller *[20]byte, body interface{}) *http.Response {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, payload)
	require.NoError(t, err)
	if caller != nil {
		token, err := IssueToken(testSecret, *caller, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost, "/v1/fixed/list", nil, map[string]string{})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	resp = doRequest(t, ts, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	ts, _ := newTestServer(t)

	token, err := IssueToken("other-secret", sellerAddr, time.Minute)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/ledger/balance", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFixedSaleOverRPC(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost, "/v1/fixed/list", &sellerAddr, fixedListRequest{
		assetRef:   assetRef{Collection: "0x" + addrHex(collection), AssetID: "1"},
		Price:      "100",
		Creator:    "0x" + addrHex(creator),
		RoyaltyPct: 10,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var listed listingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed.ID, 64)

	resp = doRequest(t, ts, http.MethodPost, "/v1/fixed/buy", &buyerAddr, buyRequest{
		assetRef: assetRef{Collection: "0x" + addrHex(collection), AssetID: "1"},
		Paid:     "100",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The seller's share lands on the pull-payment ledger.
	resp = doRequest(t, ts, http.MethodGet, "/v1/ledger/balance", &sellerAddr, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var balance balanceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&balance))
	require.Equal(t, "85", balance.Balance)

	resp = doRequest(t, ts, http.MethodPost, "/v1/ledger/withdraw", &sellerAddr, withdrawRequest{Amount: "85"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorStatusMapping(t *testing.T) {
	ts, _ := newTestServer(t)

	// Unknown listing reads as 404.
	resp := doRequest(t, ts, http.MethodPost, "/v1/fixed/buy", &buyerAddr, buyRequest{
		assetRef: assetRef{Collection: "0x" + addrHex(collection), AssetID: "9"},
		Paid:     "100",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Non-owner listing attempt reads as 403.
	resp = doRequest(t, ts, http.MethodPost, "/v1/fixed/list", &buyerAddr, fixedListRequest{
		assetRef: assetRef{Collection: "0x" + addrHex(collection), AssetID: "1"},
		Price:    "100",
		Creator:  "0x" + addrHex(creator),
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Malformed body reads as 400.
	resp = doRequest(t, ts, http.MethodPost, "/v1/fixed/list", &sellerAddr, map[string]string{"bogus": "field"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuctionStatusOverRPC(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost, "/v1/auction/list", &sellerAddr, auctionListRequest{
		assetRef:   assetRef{Collection: "0x" + addrHex(collection), AssetID: "1"},
		StartPrice: "50",
		Creator:    "0x" + addrHex(creator),
		RoyaltyPct: 10,
		Duration:   3600,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodGet,
		"/v1/auction/status?collection=0x"+addrHex(collection)+"&assetId=1", &buyerAddr, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "50", status.CurrentPrice)
	require.Equal(t, "0x"+addrHex(sellerAddr), status.HighestBidder)
}

func TestAdminParamsOverRPC(t *testing.T) {
	ts, _ := newTestServer(t)
	seven := uint32(7)

	resp := doRequest(t, ts, http.MethodPost, "/v1/admin/params", &sellerAddr, adminParamsRequest{FeePercentage: &seven})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodPost, "/v1/admin/params", &adminAddr, adminParamsRequest{FeePercentage: &seven})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A pause module without its flag, or a flag without its module, is a
	// malformed request rather than a silent no-op.
	paused := true
	resp = doRequest(t, ts, http.MethodPost, "/v1/admin/params", &adminAddr, adminParamsRequest{PauseModule: market.ModuleFixed})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = doRequest(t, ts, http.MethodPost, "/v1/admin/params", &adminAddr, adminParamsRequest{Paused: &paused})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodPost, "/v1/admin/params", &adminAddr, adminParamsRequest{PauseModule: market.ModuleFixed, Paused: &paused})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodPost, "/v1/fixed/list", &sellerAddr, fixedListRequest{
		assetRef: assetRef{Collection: "0x" + addrHex(collection), AssetID: "1"},
		Price:    "100",
		Creator:  "0x" + addrHex(creator),
	})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestThrottleRejectsBursts(t *testing.T) {
	ts, srv := newTestServer(t)
	srv.SetQuota(nativecommon.Quota{MaxRequestsPerMin: 2, EpochSeconds: 60})

	// Two mutating calls pass, the third in the same window is rejected.
	body := assetRef{Collection: "0x" + addrHex(collection), AssetID: "1"}
	for i := 0; i < 2; i++ {
		resp := doRequest(t, ts, http.MethodPost, "/v1/fixed/unlist", &sellerAddr, body)
		require.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode)
	}
	resp := doRequest(t, ts, http.MethodPost, "/v1/fixed/unlist", &sellerAddr, body)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Reads stay unthrottled.
	resp = doRequest(t, ts, http.MethodGet, "/v1/ledger/balance", &sellerAddr, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func addrHex(addr [20]byte) string {
	return fmt.Sprintf("%040x", addr[:])
}
