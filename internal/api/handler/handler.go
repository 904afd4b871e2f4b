package handler

import (
	"clinicmsg/backend/internal/api/middleware"
	"clinicmsg/backend/internal/auth"
	"clinicmsg/backend/internal/chathub"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler містить посилання на хаб чатів і резолвер токенів.
type Handler struct {
	Hub              *chathub.ManagerService
	Resolver         *auth.Resolver
	HandshakeTimeout time.Duration

	upgrader websocket.Upgrader
}

func NewHandler(hub *chathub.ManagerService, resolver *auth.Resolver, handshakeTimeout time.Duration, allowedOrigins []string) *Handler {
	return &Handler{
		Hub:              hub,
		Resolver:         resolver,
		HandshakeTimeout: handshakeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// non-browser clients send no Origin
		return origin == "" || set[origin]
	}
}

// RegisterRoutes mounts the websocket endpoints and the REST helpers.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Health)

	ws := r.Group("/ws")
	ws.GET("/conversation/:chatType/:peerId", h.ServeConversation)
	ws.GET("/inbox", h.ServeInbox)
	ws.GET("/notifications", h.ServeNotifications)

	api := r.Group("/api", middleware.RequireUser(h.Resolver))
	api.GET("/presence/:userId", h.GetPresence)
	api.POST("/logout", h.Logout)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.Hub.SessionCount()})
}
