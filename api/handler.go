// Package api exposes the auction engine over HTTP. Callers authenticate with HS256
// bearer tokens whose subject is their asset-ledger account; reads and the oracle
// callback are public.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cloudx-io/sealedvwap/assets"
	"github.com/cloudx-io/sealedvwap/auction"
	"github.com/cloudx-io/sealedvwap/core"
	"github.com/cloudx-io/sealedvwap/fhe"
	"github.com/cloudx-io/sealedvwap/oracleapi"
)

const maxBodyBytes = 1 << 20

// Handler serves the auction API.
type Handler struct {
	engine        *auction.Engine
	ledger        assets.Ledger
	jwt           JWT
	encryptionKey string // PEM public key bidders encrypt prices to
	decimals      map[string]int32
	logger        *zap.Logger
}

// NewHandler creates a handler. encryptionKeyPEM is served to bidders; decimals gives the
// display precision of assets in settlement reports (unknown assets use 0).
func NewHandler(engine *auction.Engine, ledger assets.Ledger, j JWT, encryptionKeyPEM string, decimals map[string]int32, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:        engine,
		ledger:        ledger,
		jwt:           j,
		encryptionKey: encryptionKeyPEM,
		decimals:      decimals,
		logger:        logger,
	}
}

// Router returns the handler's routes with the standard middleware stack.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the API routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/livez", h.handleLiveness)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/encryption-key", h.handleEncryptionKey)
		r.Get("/auctions", h.handleListAuctions)
		r.Get("/auctions/{id}", h.handleGetAuction)
		r.Get("/auctions/{id}/bids", h.handleListBids)
		r.Get("/auctions/{id}/reveal", h.handleReveal)
		r.Post("/auctions/{id}/vwap", h.handleComputeVWAP)
		r.Post("/oracle/callback", h.handleOracleCallback)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(h.jwt))
			r.Post("/auctions", h.handleCreateAuction)
			r.Post("/auctions/{id}/bids", h.handleSubmitBid)
			r.Post("/auctions/{id}/clearing-price", h.handleRequestClearingPrice)
			r.Post("/auctions/{id}/settle", h.handleSettle)
			r.Post("/auctions/{id}/reclaim", h.handleReclaim)
			r.Get("/balances/{asset}", h.handleBalance)
		})
	})
}

func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *Handler) handleEncryptionKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.encryptionKey})
}

func (h *Handler) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Auctions())
}

func (h *Handler) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	a, err := h.engine.Auction(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleListBids(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	bids, err := h.engine.Bids(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

func (h *Handler) handleReveal(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	record, err := h.engine.Reveal(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// CreateAuctionRequest is the body of POST /v1/auctions. The seller is the caller.
type CreateAuctionRequest struct {
	OfferedAsset string    `json:"offered_asset"`
	PaymentAsset string    `json:"payment_asset"`
	Supply       uint64    `json:"supply"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

func (h *Handler) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	var req CreateAuctionRequest
	if !decode(w, r, &req) {
		return
	}
	caller, _ := AccountFromContext(r.Context())

	id, err := h.engine.Create(r.Context(), auction.CreateParams{
		Seller:       caller,
		OfferedAsset: req.OfferedAsset,
		PaymentAsset: req.PaymentAsset,
		Supply:       req.Supply,
		Start:        req.Start,
		End:          req.End,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

// SubmitBidRequest is the body of POST /v1/auctions/{id}/bids. The bidder is the caller.
type SubmitBidRequest struct {
	Input    *fhe.EncryptedInput `json:"input"`
	Proof    fhe.InputProof      `json:"proof"`
	Quantity uint64              `json:"quantity"`
	PriceCap uint64              `json:"price_cap"`
	MaxSpend uint64              `json:"max_spend"`
}

func (h *Handler) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	var req SubmitBidRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Input == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "input is required")
		return
	}
	caller, _ := AccountFromContext(r.Context())

	index, err := h.engine.SubmitBid(r.Context(), id, auction.BidParams{
		Bidder:   caller,
		Input:    req.Input,
		Proof:    req.Proof,
		Quantity: req.Quantity,
		PriceCap: req.PriceCap,
		MaxSpend: req.MaxSpend,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"index": index})
}

func (h *Handler) handleComputeVWAP(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	handle, err := h.engine.ComputeEncryptedVWAP(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"encrypted_vwap_handle": handle})
}

func (h *Handler) handleRequestClearingPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	caller, _ := AccountFromContext(r.Context())

	requestID, err := h.engine.RequestClearingPrice(r.Context(), caller, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
}

// SettlementResponse is a settlement report with display renderings.
type SettlementResponse struct {
	*auction.SettlementReport
	SellerProceedsDisplay string `json:"seller_proceeds_display"`
	RemainderDisplay      string `json:"remainder_display"`
	Fills                 []Fill `json:"fills"`
}

// Fill is the share of a bid's requested quantity it was allocated.
type Fill struct {
	Index     int             `json:"index"`
	Bidder    string          `json:"bidder"`
	FillRatio decimal.Decimal `json:"fill_ratio"`
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	caller, _ := AccountFromContext(r.Context())

	report, err := h.engine.Settle(r.Context(), caller, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	bids, err := h.engine.Bids(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := SettlementResponse{
		SettlementReport:      report,
		SellerProceedsDisplay: core.FormatUnits(report.SellerProceeds, h.decimals[report.PaymentAsset]),
		RemainderDisplay:      core.FormatUnits(report.Remainder, h.decimals[report.OfferedAsset]),
		Fills:                 make([]Fill, 0, len(report.Allocations)),
	}
	for _, a := range report.Allocations {
		resp.Fills = append(resp.Fills, Fill{
			Index:     a.Index,
			Bidder:    a.Bidder,
			FillRatio: core.FillRatio(a.Allocated, bids[a.Index].Quantity),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleReclaim(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	caller, _ := AccountFromContext(r.Context())

	if err := h.engine.ReclaimUnsold(r.Context(), caller, id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reclaimed"})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	caller, _ := AccountFromContext(r.Context())
	asset := chi.URLParam(r, "asset")

	balance, err := h.ledger.BalanceOf(r.Context(), caller, asset)
	if err != nil {
		h.logger.Error("Balance lookup failed", zap.String("account", caller), zap.String("asset", asset), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": caller,
		"asset":   asset,
		"balance": balance,
		"display": core.FormatUnits(balance, h.decimals[asset]),
	})
}

// handleOracleCallback accepts a decryption result from the oracle. It needs no bearer
// token: the engine only acts on results whose proof carries the oracle's signature.
func (h *Handler) handleOracleCallback(w http.ResponseWriter, r *http.Request) {
	var resp oracleapi.DecryptResponse
	if !decode(w, r, &resp) {
		return
	}
	if resp.Type != "" && resp.Type != oracleapi.TypeDecryptResponse {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unexpected message type %q", resp.Type))
		return
	}

	if err := h.engine.OnDecrypted(r.Context(), resp.RequestID, resp.Plaintext, resp.Proof); err != nil {
		h.logger.Warn("Oracle callback rejected", zap.String("request_id", resp.RequestID), zap.Error(err))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func auctionID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid auction id")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("failed to parse request: %v", err))
		return false
	}
	return true
}
