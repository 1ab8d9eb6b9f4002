package handler

import (
	"errors"
	"net/http"

	"github.com/cardhaus/auction/internal/api/middleware"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/cardhaus/auction/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// BidHandler serves the two bid submission paths plus the member's own
// bid history.
type BidHandler struct {
	queueSvc  *service.BidQueueService
	directSvc *service.BidDirectService
	querySvc  *service.AuctionQueryService
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(queueSvc *service.BidQueueService, directSvc *service.BidDirectService, querySvc *service.AuctionQueryService) *BidHandler {
	return &BidHandler{queueSvc: queueSvc, directSvc: directSvc, querySvc: querySvc}
}

type placeBidBody struct {
	BidPrice string `json:"bid_price" binding:"required"`
	// EventID lets clients retry a submission without double-charging;
	// generated server-side when absent.
	EventID string `json:"event_id"`
}

func (b placeBidBody) amount(c *gin.Context) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(b.BidPrice)
	if err != nil || !amount.IsPositive() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PRICE", "bid_price must be a positive decimal string")
		return decimal.Decimal{}, false
	}
	return amount, true
}

// Submit godoc
// POST /api/auctions/:id/bids [JWT]
// Queued path: the gate decides synchronously, the DB write happens async.
func (h *BidHandler) Submit(c *gin.Context) {
	memberID := middleware.GetMemberID(c)
	auctionID, ok := parseAuctionID(c)
	if !ok {
		return
	}

	var body placeBidBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	amount, ok := body.amount(c)
	if !ok {
		return
	}

	res, err := h.queueSvc.SubmitBid(c.Request.Context(), auctionID, memberID, amount, body.EventID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrBidTooLow):
			respondError(c, http.StatusBadRequest, "ERR_INVALID_PRICE", err.Error())
		case errors.Is(err, domain.ErrAuctionNotFound):
			respondError(c, http.StatusNotFound, "ERR_AUCTION_NOT_FOUND", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not submit bid")
		}
		return
	}

	status := admissionStatus(res.Code)
	respondSuccess(c, status, res)
}

// admissionStatus maps the gate's verdict onto an HTTP status. Accepted and
// duplicate submissions both read as success to the caller.
func admissionStatus(code domain.AdmissionCode) int {
	switch code {
	case domain.AdmissionOK:
		return http.StatusAccepted
	case domain.AdmissionDuplicate:
		return http.StatusOK
	case domain.AdmissionMissing:
		return http.StatusNotFound
	case domain.AdmissionNotRunning, domain.AdmissionSelfBid:
		return http.StatusConflict
	default: // LOW_PRICE
		return http.StatusUnprocessableEntity
	}
}

// PlaceDirect godoc
// POST /api/auctions/:id/bids/direct [JWT]
// Lock-serialized path: the bid is durable in the DB before the response.
func (h *BidHandler) PlaceDirect(c *gin.Context) {
	memberID := middleware.GetMemberID(c)
	auctionID, ok := parseAuctionID(c)
	if !ok {
		return
	}

	var body placeBidBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	amount, ok := body.amount(c)
	if !ok {
		return
	}

	res, err := h.directSvc.PlaceBid(c.Request.Context(), domain.PlaceBidRequest{
		AuctionID: auctionID,
		MemberID:  memberID,
		BidPrice:  amount,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAuctionNotFound):
			respondError(c, http.StatusNotFound, "ERR_AUCTION_NOT_FOUND", err.Error())
		case errors.Is(err, domain.ErrAuctionNotRunning):
			respondError(c, http.StatusConflict, "ERR_AUCTION_NOT_RUNNING", err.Error())
		case errors.Is(err, domain.ErrAuctionEnded):
			respondError(c, http.StatusConflict, "ERR_AUCTION_ENDED", err.Error())
		case errors.Is(err, domain.ErrSelfBid):
			respondError(c, http.StatusConflict, "ERR_SELF_BID", err.Error())
		case errors.Is(err, domain.ErrBidTooLow):
			respondError(c, http.StatusUnprocessableEntity, "ERR_BID_TOO_LOW", err.Error())
		case errors.Is(err, domain.ErrLockTimeout):
			respondError(c, http.StatusServiceUnavailable, "ERR_LOCK_TIMEOUT", "auction busy, try again")
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not place bid")
		}
		return
	}
	respondSuccess(c, http.StatusCreated, res)
}

// MyBids godoc
// GET /api/me/bids?page=1&limit=20 [JWT]
func (h *BidHandler) MyBids(c *gin.Context) {
	memberID := middleware.GetMemberID(c)
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	bids, err := h.querySvc.MyBids(c.Request.Context(), memberID, limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch bids")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"items": bids, "page": page, "limit": limit})
}
