package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kazerdira/nighthost/internal/bus"
	"github.com/kazerdira/nighthost/internal/config"
	"github.com/kazerdira/nighthost/internal/game"
	"github.com/kazerdira/nighthost/internal/models"
)

type Handler struct {
	registry *game.Registry
	hub      *bus.Hub
	cfg      *config.Config
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(registry *game.Registry, hub *bus.Hub, cfg *config.Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		hub:      hub,
		cfg:      cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.Server.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// Health reports liveness and the live room count.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"rooms":  h.registry.Count(),
	})
}

// GuestLogin mints a guest identity. No registration: a display name in, a
// uid and token out.
func (h *Handler) GuestLogin(c *gin.Context) {
	var req models.GuestLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	uid := uuid.New().String()
	token, err := GenerateGuestToken(uid, req.DisplayName, h.cfg.JWT.Secret, h.cfg.JWT.ExpiryHours)
	if err != nil {
		h.logger.Error("failed to generate guest token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, models.GuestLoginResponse{
		Token:       token,
		UID:         uid,
		DisplayName: req.DisplayName,
	})
}

// CreateRoom opens a room with the caller as host.
func (h *Handler) CreateRoom(c *gin.Context) {
	uid := c.GetString("uid")
	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	code, err := h.registry.CreateRoom(c.Request.Context(), uid, req.Template, req.Password)
	if err != nil {
		h.logger.Error("failed to create room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, models.CreateRoomResponse{RoomCode: code})
}

// ListRooms enumerates live rooms for the lobby browser.
func (h *Handler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.registry.List()})
}

// GetRoom checks whether a room code is live.
func (h *Handler) GetRoom(c *gin.Context) {
	code := c.Param("code")
	if _, err := h.registry.Get(code); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_code": code})
}

// HandleWebSocket joins a participant connection to a room. Private rooms
// require the password query parameter; the room's full state arrives once
// the client sends HELLO.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	uid := c.GetString("uid")
	code := c.Param("code")

	coord, err := h.registry.Get(code)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err := h.registry.CheckPassword(code, c.Query("password")); err != nil {
		if errors.Is(err, game.ErrWrongPassword) {
			c.JSON(http.StatusForbidden, gin.H{"error": "wrong room password"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("room_code", code), zap.Error(err))
		return
	}

	h.hub.Serve(conn, code, uid, uid == coord.HostUID())
	h.logger.Info("participant connected",
		zap.String("room_code", code),
		zap.String("uid", uid))
}
