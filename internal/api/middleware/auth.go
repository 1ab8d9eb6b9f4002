package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cardhaus/auction/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxMemberID = "memberID"
	CtxRole     = "role"
)

// Roles recognized in token claims. Identity itself is owned by the member
// service; this process only verifies its tokens.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleOps    = "ops"
)

// ──────────────────────────────────────────────────────────────────────────────
// JWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// JWTMiddleware validates the Bearer token in the Authorization header.
// On success it stores memberID (int64) and role (string) in the gin context.
func JWTMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": domain.ErrUnauthorized.Error(),
			})
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		})
		if err != nil || !tok.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": domain.ErrUnauthorized.Error(),
			})
			return
		}

		claims, ok := tok.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": domain.ErrUnauthorized.Error(),
			})
			return
		}

		sub, _ := claims.GetSubject()
		memberID, err := strconv.ParseInt(sub, 10, 64)
		if err != nil || memberID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": domain.ErrUnauthorized.Error(),
			})
			return
		}

		role := RoleMember
		if r, ok := claims["role"].(string); ok && r != "" {
			role = r
		}

		c.Set(CtxMemberID, memberID)
		c.Set(CtxRole, role)
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// RoleMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// RoleMiddleware ensures the authenticated member has one of the allowed
// roles. Must be placed after JWTMiddleware in the chain.
func RoleMiddleware(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		role, _ := c.Get(CtxRole)
		roleStr, _ := role.(string)
		if !allowed[roleStr] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": domain.ErrForbidden.Error(),
			})
			return
		}
		c.Next()
	}
}

// AdminMiddleware allows only operator-tier roles to access the route.
// Must be placed after JWTMiddleware in the chain.
func AdminMiddleware() gin.HandlerFunc {
	return RoleMiddleware(RoleAdmin, RoleOps)
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper — extract memberID from context (for use in handlers)
// ──────────────────────────────────────────────────────────────────────────────

// GetMemberID retrieves the authenticated member's id from the gin context.
// Returns 0 if the middleware was not applied or the value is missing.
func GetMemberID(c *gin.Context) int64 {
	v, exists := c.Get(CtxMemberID)
	if !exists {
		return 0
	}
	id, _ := v.(int64)
	return id
}

// GetRole retrieves the authenticated member's role string from the gin context.
func GetRole(c *gin.Context) string {
	v, _ := c.Get(CtxRole)
	r, _ := v.(string)
	return r
}
