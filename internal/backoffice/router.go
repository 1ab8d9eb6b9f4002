package backoffice

import (
	"net/http"
	"strings"

	"github.com/cardhaus/auction/internal/api/middleware"
	"github.com/cardhaus/auction/internal/backoffice/handler"
	"github.com/cardhaus/auction/internal/cache"
	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/repository"
	"github.com/cardhaus/auction/internal/service"
	"github.com/cardhaus/auction/internal/ws"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	CommandSvc  *service.AuctionCommandService
	QuerySvc    *service.AuctionQueryService
	ApplySvc    *service.BidApplyService
	FinalizeSvc *service.FinalizeService
	BidRepo     *repository.BidRepository
	Queues      *cache.Queues
	Deadlines   *cache.Deadlines
	Store       *cache.Store
	Hub         *ws.Hub
	Cfg         *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine on port 8081.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	dashH := handler.NewDashboardHandler(deps.QuerySvc, deps.Queues, deps.Deadlines, deps.Store, deps.Hub, deps.Cfg)
	auctionH := handler.NewAuctionAdminHandler(deps.CommandSvc, deps.QuerySvc, deps.BidRepo, deps.Cfg)
	opsH := handler.NewOpsHandler(deps.Queues, deps.Deadlines, deps.ApplySvc, deps.FinalizeSvc, deps.Cfg)

	jwtMW := middleware.JWTMiddleware([]byte(deps.Cfg.Auth.JWTSecret))
	adminMW := middleware.AdminMiddleware()

	admin := r.Group("/admin")
	admin.Use(jwtMW, adminMW)
	{
		admin.GET("/dashboard", dashH.Dashboard)

		// Auctions
		a := admin.Group("/auctions")
		{
			a.GET("", auctionH.List)
			a.GET("/:id", auctionH.Detail)
			a.POST("/:id/cancel", auctionH.Cancel)
			a.POST("/:id/extend", auctionH.Extend)
			a.POST("/:id/reopen", auctionH.Reopen)
		}

		// Ops
		ops := admin.Group("/ops")
		{
			ops.GET("/queues", opsH.QueueOverview)
			ops.GET("/queues/:id", opsH.QueueDepths)
			ops.GET("/queues/:id/dead", opsH.PeekDead)
			ops.POST("/queues/:id/requeue", opsH.RequeueDead)
			ops.GET("/deadlines", opsH.DeadlineStatus)
			ops.POST("/deadlines/reconcile", opsH.ReconcileDeadlines)
			ops.POST("/auctions/:id/finalize", opsH.Finalize)
			ops.POST("/auctions/:id/resync", opsH.ResyncPrice)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !allowed[clientIP] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "access denied: your IP is not whitelisted",
			})
			return
		}
		c.Next()
	}
}
