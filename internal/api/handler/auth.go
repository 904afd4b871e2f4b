package handler

import (
	"clinicmsg/backend/internal/api/middleware"
	"clinicmsg/backend/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Logout revokes the caller's token until it would have expired.
func (h *Handler) Logout(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ttl := h.Resolver.RemainingTTL(identity.Claims)
	if err := h.Hub.Storage.RevokeToken(c.Request.Context(), identity.Claims.ID, ttl); err != nil {
		logger.Error().Err(err).Str("user_id", identity.UserID()).Msg("failed to revoke token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log out"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// GetPresence reports whether a user has an open connection.
func (h *Handler) GetPresence(c *gin.Context) {
	userID := c.Param("userId")
	online, err := h.Hub.Presence.IsOnline(c.Request.Context(), userID)
	if err != nil {
		logger.Error().Err(err).Str("user_id", userID).Msg("presence lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "online": online})
}
