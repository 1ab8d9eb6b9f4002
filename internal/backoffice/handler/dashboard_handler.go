package handler

import (
	"net/http"
	"time"

	"github.com/cardhaus/auction/internal/cache"
	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/service"
	"github.com/cardhaus/auction/internal/ws"
	"github.com/gin-gonic/gin"
)

// DashboardHandler serves the /admin/dashboard endpoint.
type DashboardHandler struct {
	querySvc  *service.AuctionQueryService
	queues    *cache.Queues
	deadlines *cache.Deadlines
	store     *cache.Store
	hub       *ws.Hub
	cfg       *config.Config
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(
	querySvc *service.AuctionQueryService,
	queues *cache.Queues,
	deadlines *cache.Deadlines,
	store *cache.Store,
	hub *ws.Hub,
	cfg *config.Config,
) *DashboardHandler {
	return &DashboardHandler{
		querySvc:  querySvc,
		queues:    queues,
		deadlines: deadlines,
		store:     store,
		hub:       hub,
		cfg:       cfg,
	}
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	// ── Open auctions ────────────────────────────────────────────────────────
	var openCount int
	if _, total, err := h.querySvc.ListAuctions(ctx, 1, 0, "open"); err == nil {
		openCount = total
	}

	// ── Queue backlog ────────────────────────────────────────────────────────
	var mainTotal, retryTotal, deadTotal int64
	var backlogAuctions int
	if ids, err := h.queues.ScanAuctionIDs(ctx); err == nil {
		backlogAuctions = len(ids)
		for _, id := range ids {
			main, retry, dead, derr := h.queues.Depths(ctx, id)
			if derr != nil {
				continue
			}
			mainTotal += main
			retryTotal += retry
			deadTotal += dead
		}
	}

	// ── Deadline index ───────────────────────────────────────────────────────
	tracked, _ := h.deadlines.Size(ctx)

	// ── Cache health ─────────────────────────────────────────────────────────
	redisUp := h.store.Ping(ctx) == nil

	// ── WS connections ───────────────────────────────────────────────────────
	var wsConnections int
	if h.hub != nil {
		wsConnections = h.hub.ConnectedCount()
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"timestamp":     time.Now().UTC(),
		"open_auctions": openCount,
		"queues": gin.H{
			"auctions_with_backlog": backlogAuctions,
			"main":                  mainTotal,
			"retry":                 retryTotal,
			"dead":                  deadTotal,
		},
		"deadline_index": gin.H{
			"tracked":  tracked,
			"expected": openCount,
		},
		"redis_up":       redisUp,
		"ws_connections": wsConnections,
	})
}
