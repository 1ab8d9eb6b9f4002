package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cardhaus/auction/internal/cache"
	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/cardhaus/auction/internal/service"
	"github.com/gin-gonic/gin"
)

// OpsHandler serves /admin/ops endpoints: queue inspection, dead-letter
// recovery, deadline index health, and cache price resync.
type OpsHandler struct {
	queues      *cache.Queues
	deadlines   *cache.Deadlines
	applySvc    *service.BidApplyService
	finalizeSvc *service.FinalizeService
	cfg         *config.Config
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(
	queues *cache.Queues,
	deadlines *cache.Deadlines,
	applySvc *service.BidApplyService,
	finalizeSvc *service.FinalizeService,
	cfg *config.Config,
) *OpsHandler {
	return &OpsHandler{queues: queues, deadlines: deadlines, applySvc: applySvc, finalizeSvc: finalizeSvc, cfg: cfg}
}

// QueueOverview godoc
// GET /admin/ops/queues — depths for every auction with pending work.
func (h *OpsHandler) QueueOverview(c *gin.Context) {
	ctx := c.Request.Context()

	ids, err := h.queues.ScanAuctionIDs(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}

	type queueRow struct {
		AuctionID int64 `json:"auction_id"`
		Main      int64 `json:"main"`
		Retry     int64 `json:"retry"`
		Dead      int64 `json:"dead"`
	}
	rows := make([]queueRow, 0, len(ids))
	for _, id := range ids {
		main, retry, dead, derr := h.queues.Depths(ctx, id)
		if derr != nil {
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", derr.Error())
			return
		}
		rows = append(rows, queueRow{AuctionID: id, Main: main, Retry: retry, Dead: dead})
	}
	respondSuccess(c, http.StatusOK, gin.H{"queues": rows})
}

// QueueDepths godoc
// GET /admin/ops/queues/:id
func (h *OpsHandler) QueueDepths(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	main, retry, dead, err := h.queues.Depths(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"auction_id": id,
		"main":       main,
		"retry":      retry,
		"dead":       dead,
	})
}

// PeekDead godoc
// GET /admin/ops/queues/:id/dead?limit=50 — raw dead-letter payloads, oldest first.
func (h *OpsHandler) PeekDead(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	payloads, err := h.queues.PeekDead(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"auction_id": id, "events": payloads, "count": len(payloads)})
}

// RequeueDead godoc
// POST /admin/ops/queues/:id/requeue — move dead-letter events back to the
// retry queue after the underlying fault is fixed.
func (h *OpsHandler) RequeueDead(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	moved, err := h.queues.RequeueDead(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"auction_id": id, "requeued": moved})
}

// DeadlineStatus godoc
// GET /admin/ops/deadlines
func (h *OpsHandler) DeadlineStatus(c *gin.Context) {
	size, err := h.deadlines.Size(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"tracked": size})
}

// ReconcileDeadlines godoc
// POST /admin/ops/deadlines/reconcile — force a DB-to-index sweep now.
func (h *OpsHandler) ReconcileDeadlines(c *gin.Context) {
	if err := h.finalizeSvc.ReconcileDeadlines(c.Request.Context(), time.Now().UTC()); err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "reconciled"})
}

// Finalize godoc
// POST /admin/ops/auctions/:id/finalize — close a due auction immediately
// instead of waiting for the worker tick.
func (h *OpsHandler) Finalize(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	closed, err := h.finalizeSvc.FinalizeIfDue(c.Request.Context(), id, time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"auction_id": id, "closed": closed})
}

// ResyncPrice godoc
// POST /admin/ops/auctions/:id/resync — force the cached price back to the
// durable value after a divergence.
func (h *OpsHandler) ResyncPrice(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	h.applySvc.ResyncPrice(c.Request.Context(), id)
	respondSuccess(c, http.StatusOK, gin.H{"auction_id": id, "status": "resynced"})
}
