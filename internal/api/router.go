package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gameroom-service/internal/metrics"
	"gameroom-service/internal/middleware"
	"gameroom-service/internal/model"
	"gameroom-service/internal/service"
	"gameroom-service/internal/service/game"
	"gameroom-service/internal/service/room"
	"gameroom-service/internal/ws"
	appErr "gameroom-service/pkg/errors"
	"gameroom-service/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	services *service.Container
}

func RegisterRoutes(r *gin.Engine, services *service.Container) {
	handler := &Handler{services: services}
	wsHandler := ws.NewHandler(services.Rooms, services.Hub)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})
	r.GET("/metrics", metrics.Handler())

	v1 := r.Group("/api/v1")
	v1.Use(middleware.AuthRequired())
	{
		roomGroup := v1.Group("/rooms")
		{
			roomGroup.POST("", handler.CreateRoom)
			roomGroup.POST("/join", handler.JoinRoom)
			roomGroup.GET("", handler.ListPublicRooms)
			roomGroup.GET("/mine", handler.ListMyRooms)
			roomGroup.GET("/:id", handler.GetRoom)
			roomGroup.POST("/:id/ready", handler.SetReady)
			roomGroup.POST("/:id/start", handler.StartRoom)
			roomGroup.POST("/:id/move", handler.ApplyMove)
			roomGroup.POST("/:id/leave", handler.LeaveRoom)
			roomGroup.POST("/:id/close", handler.CloseRoom)
			roomGroup.POST("/:id/rematch", handler.RematchVote)
			roomGroup.POST("/:id/claim", handler.Claim)
			roomGroup.POST("/:id/draw", handler.DrawNumber)
			roomGroup.POST("/:id/slots/:slot/:action", handler.SlotAction)
		}

		v1.GET("/wallet", handler.GetWallet)
		v1.GET("/wallet/history", handler.WalletHistory)
	}

	r.POST("/admin/auth/login", handler.AdminLogin)

	adminGroup := r.Group("/admin")
	adminGroup.Use(middleware.AdminAuthRequired())
	{
		adminGroup.GET("/supply", handler.AdminSupply)
		adminGroup.POST("/supply/grant", handler.AdminGrant)
		adminGroup.POST("/supply/burn", handler.AdminBurn)
		adminGroup.POST("/operators/:id/status", handler.AdminOperatorStatus)
	}

	r.GET("/ws/rooms/:id", wsHandler.HandleRoomWS)
}

type createRoomBody struct {
	GameType      string         `json:"gameType" binding:"required"`
	Currency      model.Currency `json:"currency" binding:"required"`
	AmountPerSeat int64          `json:"amountPerSeat" binding:"min=0"`
	Public        bool           `json:"public"`
	Config        roomConfigBody `json:"config"`
}

type roomConfigBody struct {
	Rows              int    `json:"rows"`
	Cols              int    `json:"cols"`
	WinLength         int    `json:"winLength"`
	Gravity           bool   `json:"gravity"`
	MaxPlayers        int    `json:"maxPlayers"`
	CardsPerSeat      int    `json:"cardsPerSeat"`
	Pattern           string `json:"pattern"`
	Slots             int    `json:"slots"`
	DrawWindowSeconds int    `json:"drawWindowSeconds" binding:"min=0"`
}

func (b roomConfigBody) toConfig() game.Config {
	return game.Config{
		Rows:         b.Rows,
		Cols:         b.Cols,
		WinLength:    b.WinLength,
		Gravity:      b.Gravity,
		MaxPlayers:   b.MaxPlayers,
		CardsPerSeat: b.CardsPerSeat,
		Pattern:      strings.ToLower(strings.TrimSpace(b.Pattern)),
		Slots:        b.Slots,
		DrawWindow:   time.Duration(b.DrawWindowSeconds) * time.Second,
	}
}

type joinRoomBody struct {
	Room string `json:"room" binding:"required"`
}

type readyBody struct {
	Ready *bool `json:"ready" binding:"required"`
}

type moveBody struct {
	Action string          `json:"action" binding:"required"`
	Data   json.RawMessage `json:"data"`
}

type claimBody struct {
	Card int `json:"card" binding:"required,min=1"`
}

type supplyBody struct {
	UserID int64  `json:"userId,string" binding:"required,min=1"`
	Amount int64  `json:"amount" binding:"required,min=1"`
	Reason string `json:"reason"`
}

func (h *Handler) CreateRoom(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body createRoomBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.services.Rooms.CreateRoom(c.Request.Context(), room.CreateRequest{
		HostID:   userID,
		GameType: game.Kind(strings.ToLower(strings.TrimSpace(body.GameType))),
		Wager:    room.Wager{Currency: body.Currency, Amount: body.AmountPerSeat},
		Public:   body.Public,
		Config:   body.Config.toConfig(),
	})
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, snap)
}

func (h *Handler) JoinRoom(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body joinRoomBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.services.Rooms.JoinRoom(c.Request.Context(), body.Room, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, snap)
}

func (h *Handler) ListPublicRooms(c *gin.Context) {
	response.Success(c, gin.H{"rooms": h.services.Rooms.ListPublic()})
}

func (h *Handler) ListMyRooms(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	response.Success(c, gin.H{"rooms": h.services.Rooms.ListByUser(userID)})
}

func (h *Handler) GetRoom(c *gin.Context) {
	h.roomAction(c, func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error) {
		return h.services.Rooms.Snapshot(c.Request.Context(), roomID, userID)
	})
}

func (h *Handler) SetReady(c *gin.Context) {
	var body readyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	h.roomAction(c, func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error) {
		return h.services.Rooms.SetReady(c.Request.Context(), roomID, userID, *body.Ready)
	})
}

func (h *Handler) StartRoom(c *gin.Context) {
	h.roomAction(c, func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error) {
		return h.services.Rooms.StartRoom(c.Request.Context(), roomID, userID)
	})
}

func (h *Handler) ApplyMove(c *gin.Context) {
	var body moveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	h.roomAction(c, func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error) {
		return h.services.Rooms.ApplyMove(c.Request.Context(), roomID, userID, body.Action, body.Data)
	})
}

func (h *Handler) LeaveRoom(c *gin.Context) {
	h.roomAction(c, func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error) {
		return h.services.Rooms.LeaveRoom(c.Request.Context(), roomID, userID)
	})
}

func (h *Handler) CloseRoom(c *gin.Context) {
	h.roomAction(c, func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error) {
		return h.services.Rooms.CloseRoom(c.Request.Context(), roomID, userID)
	})
}

func (h *Handler) RematchVote(c *gin.Context) {
	h.roomAction(c, func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error) {
		return h.services.Rooms.RematchVote(c.Request.Context(), roomID, userID)
	})
}

func (h *Handler) Claim(c *gin.Context) {
	var body claimBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	h.roomAction(c, func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error) {
		return h.services.Rooms.Claim(c.Request.Context(), roomID, userID, body.Card)
	})
}

func (h *Handler) DrawNumber(c *gin.Context) {
	h.roomAction(c, func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error) {
		return h.services.Rooms.DrawNumber(c.Request.Context(), roomID, userID)
	})
}

func (h *Handler) SlotAction(c *gin.Context) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || slot < 0 {
		response.Error(c, http.StatusBadRequest, "invalid slot")
		return
	}
	rooms := h.services.Rooms
	var do func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error)
	switch c.Param("action") {
	case game.ActionReserve:
		do = func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error) {
			return rooms.Reserve(c.Request.Context(), roomID, userID, slot)
		}
	case game.ActionRelease:
		do = func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error) {
			return rooms.Release(c.Request.Context(), roomID, userID, slot)
		}
	case game.ActionConfirm:
		do = func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error) {
			return rooms.Confirm(c.Request.Context(), roomID, userID, slot)
		}
	default:
		response.Error(c, http.StatusNotFound, "unknown slot action")
		return
	}
	h.roomAction(c, do)
}

func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	wallet, err := h.services.Ledger.GetWallet(c.Request.Context(), userID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, gin.H{
		"userId": strconv.FormatInt(wallet.UserID, 10),
		"fires":  wallet.Fires,
		"coins":  wallet.Coins,
	})
}

func (h *Handler) WalletHistory(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	limit, err := parsePositiveIntQuery(c, "limit", 50)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.services.Ledger.History(c.Request.Context(), userID, limit)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, gin.H{"entries": entries})
}

type loginBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) AdminLogin(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.services.Operators.Login(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *Handler) AdminSupply(c *gin.Context) {
	audit, err := h.services.Ledger.Reconcile(c.Request.Context())
	if err != nil && audit == nil {
		response.AppError(c, err)
		return
	}
	consistent := err == nil
	response.Success(c, gin.H{
		"supply":        audit.Supply,
		"walletFires":   audit.WalletFires,
		"escrowedFires": audit.EscrowedFires,
		"consistent":    consistent,
	})
}

func (h *Handler) AdminGrant(c *gin.Context) {
	h.supplyChange(c, "grant", h.services.Ledger.GrantFromReserve)
}

func (h *Handler) AdminBurn(c *gin.Context) {
	h.supplyChange(c, "burn", h.services.Ledger.Burn)
}

// supplyChange runs a grant or burn on behalf of the calling operator and
// records the operator in the ledger reason.
func (h *Handler) supplyChange(c *gin.Context, verb string, apply func(ctx context.Context, userID, amount int64, reason string) error) {
	var body supplyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	operatorID, ok := h.activeOperator(c)
	if !ok {
		return
	}
	reason := fmt.Sprintf("%s (operator %d)", reasonOr(body.Reason, "admin "+verb), operatorID)
	if err := apply(c.Request.Context(), body.UserID, body.Amount, reason); err != nil {
		response.AppError(c, err)
		return
	}
	h.AdminSupply(c)
}

type operatorStatusBody struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *Handler) AdminOperatorStatus(c *gin.Context) {
	var body operatorStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	target, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || target <= 0 {
		response.AppError(c, appErr.ErrOperatorNotFound)
		return
	}
	if _, ok := h.activeOperator(c); !ok {
		return
	}
	if err := h.services.Operators.SetStatus(c.Request.Context(), target, *body.Active); err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, gin.H{"id": strconv.FormatInt(target, 10), "active": *body.Active})
}

// activeOperator resolves the caller's operator id and rejects operators
// disabled since their token was issued.
func (h *Handler) activeOperator(c *gin.Context) (int64, bool) {
	v, _ := c.Get(middleware.ContextAdminIDKey)
	operatorID, ok := v.(int64)
	if !ok {
		response.AppError(c, appErr.ErrUnauthorized)
		return 0, false
	}
	if err := h.services.Operators.Authorize(c.Request.Context(), operatorID); err != nil {
		response.AppError(c, err)
		return 0, false
	}
	return operatorID, true
}

// roomAction resolves the caller and the :id param and writes the
// resulting snapshot.
func (h *Handler) roomAction(c *gin.Context, do func(c *gin.Context, roomID string, userID int64) (*room.Snapshot, error)) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	roomID := strings.TrimSpace(c.Param("id"))
	if roomID == "" {
		response.AppError(c, appErr.ErrRoomNotFound)
		return
	}
	snap, err := do(c, roomID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, snap)
}

func parsePositiveIntQuery(c *gin.Context, key string, defaultVal int) (int, error) {
	val := c.Query(key)
	if val == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return parsed, nil
}

func requireUser(c *gin.Context) (int64, bool) {
	userID, ok := getUserID(c)
	if !ok {
		response.AppError(c, appErr.ErrUnauthorized)
	}
	return userID, ok
}

func getUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(middleware.ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

func reasonOr(reason, fallback string) string {
	if r := strings.TrimSpace(reason); r != "" {
		return r
	}
	return fallback
}
