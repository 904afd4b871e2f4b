package handler

import (
	"clinicmsg/backend/internal/api/middleware"
	"clinicmsg/backend/internal/chathub"
	"clinicmsg/backend/internal/models"
	"clinicmsg/backend/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServeConversation opens a 1:1 chat session with :peerId.
func (h *Handler) ServeConversation(c *gin.Context) {
	chatType, ok := models.ParseChatType(c.Param("chatType"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown chat type"})
		return
	}

	h.serve(c, chathub.SessionOptions{
		Kind:     chathub.KindConversation,
		ChatType: chatType,
		PeerID:   c.Param("peerId"),
	})
}

func (h *Handler) ServeInbox(c *gin.Context) {
	h.serve(c, chathub.SessionOptions{Kind: chathub.KindInbox})
}

func (h *Handler) ServeNotifications(c *gin.Context) {
	h.serve(c, chathub.SessionOptions{Kind: chathub.KindNotifications})
}

// serve оновлює HTTP-з'єднання до WebSocket. Автентифікація відбувається після
// апгрейду, щоб помилки доходили до клієнта як коди закриття.
func (h *Handler) serve(c *gin.Context, opts chathub.SessionOptions) {
	token, tokenErr := middleware.BearerToken(c.Request)
	opts.Language = h.Hub.Localizer.MatchLanguage(c.GetHeader("Accept-Language"))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		logger.Warn().Err(err).Str("path", c.FullPath()).Msg("websocket upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(conn, h.Hub.NewSession(opts))
	if tokenErr != nil {
		client.Reject(tokenErr)
		return
	}
	client.Serve(token, h.HandshakeTimeout)
}
