package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Admin response envelope
// ──────────────────────────────────────────────────────────────────────────────

// Every admin envelope carries the server time: queue depths, deadline counts
// and price snapshots are point-in-time reads, and the timestamp says which
// point.

func envelopeTs() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data, "ts": envelopeTs()})
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"code":    code,
		"error":   msg,
		"ts":      envelopeTs(),
	})
}

func respondList(c *gin.Context, items interface{}, total, page, limit int) {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
			"pages": pages,
		},
		"ts": envelopeTs(),
	})
}

// adminPagination reads page/limit query params. Admin views page wider than
// the public API: default 50, cap 500.
func adminPagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return
}
