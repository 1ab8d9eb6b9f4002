package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cardhaus/auction/internal/api/middleware"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/cardhaus/auction/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AuctionHandler serves auction listing, detail, and lifecycle endpoints.
type AuctionHandler struct {
	querySvc   *service.AuctionQueryService
	commandSvc *service.AuctionCommandService
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(querySvc *service.AuctionQueryService, commandSvc *service.AuctionCommandService) *AuctionHandler {
	return &AuctionHandler{querySvc: querySvc, commandSvc: commandSvc}
}

// List godoc
// GET /api/auctions?state=open&page=1&limit=20
func (h *AuctionHandler) List(c *gin.Context) {
	page, limit := parsePagination(c)
	offset := (page - 1) * limit
	state := c.Query("state")

	auctions, total, err := h.querySvc.ListAuctions(c.Request.Context(), limit, offset, state)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not list auctions")
		return
	}
	respondList(c, auctions, total, page, limit)
}

// GetByID godoc
// GET /api/auctions/:id
func (h *AuctionHandler) GetByID(c *gin.Context) {
	id, ok := parseAuctionID(c)
	if !ok {
		return
	}

	a, err := h.querySvc.GetAuction(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			respondError(c, http.StatusNotFound, "ERR_AUCTION_NOT_FOUND", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch auction")
		return
	}
	respondSuccess(c, http.StatusOK, a)
}

// GetLive godoc
// GET /api/auctions/:id/live — the cache-resident snapshot used by the gate.
func (h *AuctionHandler) GetLive(c *gin.Context) {
	id, ok := parseAuctionID(c)
	if !ok {
		return
	}

	snap, err := h.querySvc.GetSnapshot(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			respondError(c, http.StatusNotFound, "ERR_AUCTION_NOT_FOUND", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch live view")
		return
	}
	respondSuccess(c, http.StatusOK, snap)
}

// GetLiveBatch godoc
// GET /api/auctions/live?ids=1,2,3 — poll fallback for clients without WS.
func (h *AuctionHandler) GetLiveBatch(c *gin.Context) {
	raw := c.Query("ids")
	if raw == "" {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "ids query parameter required")
		return
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_AUCTION_ID", "ids must be positive integers")
			return
		}
		ids = append(ids, id)
	}

	snaps, err := h.querySvc.GetSnapshots(c.Request.Context(), ids)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch live views")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"items": snaps})
}

// Create godoc
// POST /api/auctions [JWT]
// Body: {"title":"...","start_price":"10.5","bid_unit":"0.5",
//
//	"start_datetime":"2026-09-01T10:00:00Z","end_datetime":"2026-09-08T10:00:00Z",
//	"extension_flag":true,"buy_now_flag":true,"buy_now_price":"100"}
func (h *AuctionHandler) Create(c *gin.Context) {
	memberID := middleware.GetMemberID(c)

	var body struct {
		Title         string    `json:"title"          binding:"required"`
		StartPrice    string    `json:"start_price"    binding:"required"`
		BidUnit       string    `json:"bid_unit"       binding:"required"`
		StartDatetime time.Time `json:"start_datetime" binding:"required"`
		EndDatetime   time.Time `json:"end_datetime"   binding:"required"`
		ExtensionFlag bool      `json:"extension_flag"`
		BuyNowFlag    bool      `json:"buy_now_flag"`
		BuyNowPrice   string    `json:"buy_now_price"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	startPrice, err := decimal.NewFromString(body.StartPrice)
	if err != nil || startPrice.IsNegative() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PRICE", "start_price must be a non-negative decimal string")
		return
	}

	req := service.CreateAuctionRequest{
		Title:         body.Title,
		OwnerMemberID: memberID,
		StartPrice:    startPrice,
		BidUnit:       body.BidUnit,
		StartDatetime: body.StartDatetime,
		EndDatetime:   body.EndDatetime,
		ExtensionFlag: body.ExtensionFlag,
		BuyNowFlag:    body.BuyNowFlag,
	}
	if body.BuyNowFlag {
		bn, perr := decimal.NewFromString(body.BuyNowPrice)
		if perr != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_PRICE", "buy_now_price must be a decimal string")
			return
		}
		req.BuyNowPrice = &bn
	}

	a, err := h.commandSvc.Create(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidBidUnit):
			respondError(c, http.StatusBadRequest, "ERR_INVALID_BID_UNIT", err.Error())
		case errors.Is(err, domain.ErrInvalidBuyNowPrice):
			respondError(c, http.StatusBadRequest, "ERR_INVALID_BUY_NOW_PRICE", err.Error())
		case errors.Is(err, domain.ErrInvalidWindow):
			respondError(c, http.StatusBadRequest, "ERR_INVALID_WINDOW", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not create auction")
		}
		return
	}
	respondSuccess(c, http.StatusCreated, a)
}

// CancelCheck godoc
// GET /api/auctions/:id/cancelable [JWT] — pre-flight for the cancel button.
func (h *AuctionHandler) CancelCheck(c *gin.Context) {
	memberID := middleware.GetMemberID(c)
	id, ok := parseAuctionID(c)
	if !ok {
		return
	}

	err := h.commandSvc.CanSellerCancel(c.Request.Context(), id, memberID)
	resp := gin.H{"cancelable": err == nil}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAuctionNotFound):
			respondError(c, http.StatusNotFound, "ERR_AUCTION_NOT_FOUND", err.Error())
			return
		case errors.Is(err, domain.ErrNotOwner),
			errors.Is(err, domain.ErrAuctionEnded),
			errors.Is(err, domain.ErrAuctionHasBids):
			resp["reason"] = err.Error()
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not check cancelability")
			return
		}
	}
	respondSuccess(c, http.StatusOK, resp)
}

// Cancel godoc
// POST /api/auctions/:id/cancel [JWT] — seller cancellation, pre-bid only.
func (h *AuctionHandler) Cancel(c *gin.Context) {
	memberID := middleware.GetMemberID(c)
	id, ok := parseAuctionID(c)
	if !ok {
		return
	}

	err := h.commandSvc.SellerCancel(c.Request.Context(), id, memberID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAuctionNotFound):
			respondError(c, http.StatusNotFound, "ERR_AUCTION_NOT_FOUND", err.Error())
		case errors.Is(err, domain.ErrNotOwner):
			respondError(c, http.StatusForbidden, "ERR_NOT_OWNER", err.Error())
		case errors.Is(err, domain.ErrAuctionEnded):
			respondError(c, http.StatusConflict, "ERR_AUCTION_ENDED", err.Error())
		case errors.Is(err, domain.ErrAuctionHasBids):
			respondError(c, http.StatusConflict, "ERR_AUCTION_HAS_BIDS", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not cancel auction")
		}
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"auction_id": id, "status": "cancelled"})
}

// BidHistory godoc
// GET /api/auctions/:id/bids?page=1&limit=20
func (h *AuctionHandler) BidHistory(c *gin.Context) {
	id, ok := parseAuctionID(c)
	if !ok {
		return
	}
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	bids, total, err := h.querySvc.BidHistory(c.Request.Context(), id, limit, offset)
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			respondError(c, http.StatusNotFound, "ERR_AUCTION_NOT_FOUND", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch bid history")
		return
	}
	respondList(c, bids, total, page, limit)
}

// parseAuctionID pulls the :id path parameter; writes the error response on
// failure.
func parseAuctionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AUCTION_ID", "invalid auction id")
		return 0, false
	}
	return id, true
}
