package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/cardhaus/auction/internal/repository"
	"github.com/cardhaus/auction/internal/service"
	"github.com/gin-gonic/gin"
)

// AuctionAdminHandler serves /admin/auctions endpoints.
type AuctionAdminHandler struct {
	commandSvc *service.AuctionCommandService
	querySvc   *service.AuctionQueryService
	bidRepo    *repository.BidRepository
	cfg        *config.Config
}

// NewAuctionAdminHandler creates an AuctionAdminHandler.
func NewAuctionAdminHandler(
	commandSvc *service.AuctionCommandService,
	querySvc *service.AuctionQueryService,
	bidRepo *repository.BidRepository,
	cfg *config.Config,
) *AuctionAdminHandler {
	return &AuctionAdminHandler{commandSvc: commandSvc, querySvc: querySvc, bidRepo: bidRepo, cfg: cfg}
}

// List godoc
// GET /admin/auctions?state=open&page=1&limit=50
func (h *AuctionAdminHandler) List(c *gin.Context) {
	state := c.Query("state")
	page, limit := adminPagination(c)
	offset := (page - 1) * limit

	auctions, total, err := h.querySvc.ListAuctions(c.Request.Context(), limit, offset, state)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondList(c, auctions, total, page, limit)
}

// Detail godoc
// GET /admin/auctions/:id
func (h *AuctionAdminHandler) Detail(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	auction, err := h.querySvc.GetAuction(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}

	bids, _, _ := h.bidRepo.ListByAuction(ctx, id, 100, 0)
	snapshot, _ := h.querySvc.GetSnapshot(ctx, id)

	respondSuccess(c, http.StatusOK, gin.H{
		"auction":  auction,
		"bids":     bids,
		"snapshot": snapshot,
	})
}

// Cancel godoc
// POST /admin/auctions/:id/cancel
// Closes an open auction regardless of bid count; the highest bidder gets
// nothing and an unsold event is published.
func (h *AuctionAdminHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.commandSvc.AdminCancel(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrAuctionNotFound):
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
		case errors.Is(err, domain.ErrAuctionEnded):
			respondError(c, http.StatusConflict, "ERR_AUCTION_ENDED", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		}
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "cancelled", "auction_id": id})
}

// Extend godoc
// POST /admin/auctions/:id/extend
// Body: {"end_datetime":"2026-09-10T10:00:00Z"}
func (h *AuctionAdminHandler) Extend(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var body struct {
		EndDatetime time.Time `json:"end_datetime" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	if err := h.commandSvc.AdminExtend(c.Request.Context(), id, body.EndDatetime); err != nil {
		switch {
		case errors.Is(err, domain.ErrAuctionNotFound):
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
		case errors.Is(err, domain.ErrAuctionEnded):
			respondError(c, http.StatusConflict, "ERR_AUCTION_ENDED", err.Error())
		case errors.Is(err, domain.ErrInvalidWindow):
			respondError(c, http.StatusBadRequest, "ERR_INVALID_WINDOW", "end_datetime must be after the current end")
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		}
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "extended", "auction_id": id, "end_datetime": body.EndDatetime.UTC()})
}

// Reopen godoc
// POST /admin/auctions/:id/reopen
// Body: {"end_datetime":"2026-09-10T10:00:00Z"}
// Recovery tool: puts a wrongly closed auction back on the clock.
func (h *AuctionAdminHandler) Reopen(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var body struct {
		EndDatetime time.Time `json:"end_datetime" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	if err := h.commandSvc.AdminReopen(c.Request.Context(), id, body.EndDatetime); err != nil {
		switch {
		case errors.Is(err, domain.ErrAuctionNotFound):
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
		case errors.Is(err, domain.ErrInvalidWindow):
			respondError(c, http.StatusBadRequest, "ERR_INVALID_WINDOW", "end_datetime must be in the future")
		case errors.Is(err, domain.ErrAuctionConflict):
			respondError(c, http.StatusConflict, "ERR_NOT_CLOSED", "auction is not in a closed state")
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		}
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "reopened", "auction_id": id, "end_datetime": body.EndDatetime.UTC()})
}

// parseID pulls the :id path param.
func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid auction id")
		return 0, false
	}
	return id, true
}
