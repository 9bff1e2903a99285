package rpc

import (
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"

	"assetmarket/observability"
)

type assetRef struct {
	Collection string `json:"collection"`
	AssetID    string `json:"assetId"`
}

func (ref assetRef) decode() ([20]byte, *big.Int, error) {
	collection, err := parseAddress(ref.Collection)
	if err != nil {
		return [20]byte{}, nil, err
	}
	assetID, err := parseAmount("assetId", ref.AssetID)
	if err != nil {
		return [20]byte{}, nil, err
	}
	return collection, assetID, nil
}

type fixedListRequest struct {
	assetRef
	Price      string `json:"price"`
	Creator    string `json:"creator"`
	RoyaltyPct uint32 `json:"royaltyPct"`
}

type listingResponse struct {
	ID string `json:"id"`
}

type auctionListRequest struct {
	assetRef
	StartPrice string `json:"startPrice"`
	Creator    string `json:"creator"`
	RoyaltyPct uint32 `json:"royaltyPct"`
	Duration   int64  `json:"duration"`
}

type bidRequest struct {
	assetRef
	BidAmount string `json:"bidAmount"`
	Paid      string `json:"paid"`
}

type buyRequest struct {
	assetRef
	Paid string `json:"paid"`
}

type withdrawRequest struct {
	Amount      string `json:"amount"`
	Destination string `json:"destination"`
}

type statusResponse struct {
	HighestBidder string `json:"highestBidder"`
	CurrentPrice  string `json:"currentPrice"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type adminParamsRequest struct {
	FeePercentage        *uint32 `json:"feePercentage,omitempty"`
	MaxRoyaltyPercentage *uint32 `json:"maxRoyaltyPercentage,omitempty"`
	FeeRecipient         string  `json:"feeRecipient,omitempty"`
	PauseModule          string  `json:"pauseModule,omitempty"`
	Paused               *bool   `json:"paused,omitempty"`
}

func (s *Server) handleFixedList(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, err)
		return
	}
	var req fixedListRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	collection, assetID, err := req.decode()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	creator, err := parseAddress(req.Creator)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	listing, err := s.fixed.List(caller, collection, assetID, price, creator, req.RoyaltyPct)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, listingResponse{ID: hex.EncodeToString(listing.ID[:])})
}

func (s *Server) handleFixedUnlist(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, err)
		return
	}
	var req assetRef
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	collection, assetID, err := req.decode()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	err = s.fixed.Unlist(caller, collection, assetID)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleFixedBuy(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, err)
		return
	}
	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	collection, assetID, err := req.decode()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	paid, err := parseAmount("paid", req.Paid)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	err = s.fixed.Buy(caller, collection, assetID, paid)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAuctionList(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, err)
		return
	}
	var req auctionListRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	collection, assetID, err := req.decode()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	startPrice, err := parseAmount("startPrice", req.StartPrice)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	creator, err := parseAddress(req.Creator)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	auction, err := s.auction.List(caller, collection, assetID, startPrice, creator, req.RoyaltyPct, req.Duration)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, listingResponse{ID: hex.EncodeToString(auction.ID[:])})
}

func (s *Server) handleAuctionUnlist(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, err)
		return
	}
	var req assetRef
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	collection, assetID, err := req.decode()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	err = s.auction.Unlist(caller, collection, assetID)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAuctionBid(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, err)
		return
	}
	var req bidRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	collection, assetID, err := req.decode()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	bidAmount, err := parseAmount("bidAmount", req.BidAmount)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	paid, err := parseAmount("paid", req.Paid)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	err = s.auction.Bid(caller, collection, assetID, bidAmount, paid)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAuctionSettle(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, err)
		return
	}
	var req assetRef
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	collection, assetID, err := req.decode()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	err = s.auction.Settle(caller, collection, assetID)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAuctionStatus(w http.ResponseWriter, r *http.Request) {
	ref := assetRef{
		Collection: r.URL.Query().Get("collection"),
		AssetID:    r.URL.Query().Get("assetId"),
	}
	collection, assetID, err := ref.decode()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	bidder, price, err := s.auction.Status(collection, assetID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{
		HighestBidder: "0x" + hex.EncodeToString(bidder[:]),
		CurrentPrice:  price.String(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, err)
		return
	}
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	destination := caller
	if req.Destination != "" {
		destination, err = parseAddress(req.Destination)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}

	s.mu.Lock()
	err = s.ledger.Withdraw(caller, amount, destination)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, err)
		return
	}
	balance, err := s.ledger.BalanceOf(caller)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balanceResponse{
		Address: "0x" + hex.EncodeToString(caller[:]),
		Balance: balance.String(),
	})
}

// handleAdminParams applies the supplied configuration changes in order. The
// engine rejects callers that are not the configured admin.
func (s *Server) handleAdminParams(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, err)
		return
	}
	var req adminParamsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if (req.PauseModule != "") != (req.Paused != nil) {
		s.writeError(w, r, http.StatusBadRequest, errors.New("pauseModule and paused must be supplied together"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.FeePercentage != nil {
		if err := s.admin.SetFeePercentage(caller, *req.FeePercentage); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
	}
	if req.MaxRoyaltyPercentage != nil {
		if err := s.admin.SetMaxRoyaltyPercentage(caller, *req.MaxRoyaltyPercentage); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
	}
	if req.FeeRecipient != "" {
		recipient, err := parseAddress(req.FeeRecipient)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		if err := s.admin.SetFeeRecipient(caller, recipient); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
	}
	if req.PauseModule != "" {
		if err := s.admin.SetPaused(caller, req.PauseModule, *req.Paused); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		observability.MarketMetrics().SetPaused(req.PauseModule, *req.Paused)
	}
	s.writeJSON(w, http.StatusOK, nil)
}
