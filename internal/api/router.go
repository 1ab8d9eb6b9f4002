package api

import (
	"net/http"

	"github.com/cardhaus/auction/internal/api/handler"
	"github.com/cardhaus/auction/internal/api/middleware"
	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/service"
	"github.com/cardhaus/auction/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	BidQueueSvc  *service.BidQueueService
	BidDirectSvc *service.BidDirectService
	CommandSvc   *service.AuctionCommandService
	QuerySvc     *service.AuctionQueryService
	Hub          *ws.Hub
	Cfg          *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	auctionH := handler.NewAuctionHandler(deps.QuerySvc, deps.CommandSvc)
	bidH := handler.NewBidHandler(deps.BidQueueSvc, deps.BidDirectSvc, deps.QuerySvc)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware([]byte(deps.Cfg.Auth.JWTSecret))

	// ── Rate limiters ─────────────────────────────────────────────────────────
	bidRL := middleware.RateLimitMiddleware(30)   // 30 req/s per IP for bid endpoints
	writeRL := middleware.RateLimitMiddleware(10) // 10 req/s per IP for auction writes

	api := r.Group("/api")
	{
		// ── Auctions (public reads) ──────────────────────────────────────────
		auctions := api.Group("/auctions")
		{
			auctions.GET("", auctionH.List)
			auctions.GET("/live", auctionH.GetLiveBatch)
			auctions.GET("/:id", auctionH.GetByID)
			auctions.GET("/:id/live", auctionH.GetLive)
			auctions.GET("/:id/bids", auctionH.BidHistory)
		}

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW)
		{
			// Auction lifecycle (seller)
			sell := authed.Group("/auctions")
			sell.Use(writeRL)
			{
				sell.POST("", auctionH.Create)
				sell.GET("/:id/cancelable", auctionH.CancelCheck)
				sell.POST("/:id/cancel", auctionH.Cancel)
			}

			// Bids
			bids := authed.Group("")
			bids.Use(bidRL)
			{
				bids.POST("/auctions/:id/bids", bidH.Submit)
				bids.POST("/auctions/:id/bids/direct", bidH.PlaceDirect)
			}

			authed.GET("/me/bids", bidH.MyBids)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In DEBUG mode all origins are allowed; in production only configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			// Production: allow only cardhaus.com (and www.)
			allowed := map[string]bool{
				"https://cardhaus.com":     true,
				"https://www.cardhaus.com": true,
			}
			if allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
