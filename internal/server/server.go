// Package server is the companion signaling service: the other end of
// the coordinator's socket, used for local development and integration
// testing.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/Hien110/ecare-signaling/internal/config"
	"github.com/Hien110/ecare-signaling/internal/hub"
	"github.com/Hien110/ecare-signaling/internal/turn"
)

type Handlers struct {
	cfg      *config.ServerConfig
	db       *gorm.DB
	hub      *hub.Hub
	registry *Registry
	turn     *turn.Server
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New builds the handler set. turnServer may be nil when the media
// bootstrap is disabled.
func New(cfg *config.ServerConfig, db *gorm.DB, h *hub.Hub, registry *Registry, turnServer *turn.Server, logger *slog.Logger) *Handlers {
	return &Handlers{
		cfg:      cfg,
		db:       db,
		hub:      h,
		registry: registry,
		turn:     turnServer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "server"),
	}
}

// Router wires the HTTP surface.
func (h *Handlers) Router(accessLog gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if accessLog != nil {
		router.Use(accessLog)
	}
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.POST("/register", h.Register)
		api.POST("/login", h.Login)
		api.GET("/vapid-public-key", h.GetVAPIDPublicKey)
		api.GET("/turn-config", h.GetTURNConfig)
	}

	protected := api.Group("")
	protected.Use(h.AuthMiddleware())
	{
		protected.GET("/me", h.GetMe)
		protected.POST("/push/subscribe", h.SubscribePush)
		protected.POST("/push/unsubscribe", h.UnsubscribePush)
		protected.GET("/ws", h.HandleWebSocket)
	}

	return router
}

func (h *Handlers) GetMe(c *gin.Context) {
	userID := c.GetString("user_id")

	var user User
	if err := h.db.Where("id = ?", userID).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetTURNConfig hands devices the ICE servers for the media plane. The
// TURN server is UDP-only; media encryption is DTLS-SRTP inside WebRTC.
func (h *Handlers) GetTURNConfig(c *gin.Context) {
	if h.turn == nil {
		c.JSON(http.StatusOK, gin.H{"iceServers": []any{}})
		return
	}

	host := c.Request.Host
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}

	creds := h.turn.Credentials()
	turnURL := fmt.Sprintf("turn:%s:%d", host, h.cfg.TURNPort)
	stunURL := fmt.Sprintf("stun:%s:%d", host, h.cfg.TURNPort)

	c.JSON(http.StatusOK, gin.H{
		"iceServers": []map[string]any{
			{"urls": stunURL},
			{"urls": turnURL, "username": creds.Username, "credential": creds.Password},
		},
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
