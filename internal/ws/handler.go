package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"gameroom-service/internal/middleware"
	"gameroom-service/internal/service/notify"
	"gameroom-service/internal/service/room"
	pkgAuth "gameroom-service/pkg/auth"
	appErr "gameroom-service/pkg/errors"
	"gameroom-service/pkg/logger"
	"gameroom-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler streams a room's events to one seat and feeds its moves back.
// Opening the socket reconnects the seat; losing it disconnects the seat.
type Handler struct {
	rooms *room.Service
	hub   *notify.Hub
}

func NewHandler(rooms *room.Service, hub *notify.Hub) *Handler {
	return &Handler{rooms: rooms, hub: hub}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

type outgoing struct {
	Type string      `json:"type"`
	Seq  int64       `json:"seq"`
	Data interface{} `json:"data"`
}

func (h *Handler) HandleRoomWS(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("id"))

	token, err := getTokenFromRequest(c)
	if err != nil {
		response.AppError(c, appErr.ErrUnauthorized)
		return
	}
	claims, err := pkgAuth.ParseUserToken(token)
	if err != nil {
		response.AppError(c, appErr.ErrUnauthorized)
		return
	}
	userID := claims.SubjectID

	snap, err := h.rooms.Snapshot(c.Request.Context(), roomID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	seated := false
	for _, s := range snap.Seats {
		if s.UserID == userID {
			seated = true
			break
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	logger.Log.Info("New WebSocket connection",
		zap.String("roomID", roomID),
		zap.Int64("userID", userID),
		zap.Bool("seated", seated),
	)

	events, cancel := h.hub.Subscribe(userID)
	cl := newClient(conn, userID, roomID, seated, h.rooms, events, cancel)
	cl.safeWrite(outgoing{Type: notify.EventRoomState, Data: snap})
	if seated {
		if err := h.rooms.Reconnect(context.Background(), roomID, userID); err != nil {
			logger.Log.Warn("reconnect failed", zap.String("roomID", roomID), zap.Int64("userID", userID), zap.Error(err))
		}
	}
	cl.run()
}

func getTokenFromRequest(c *gin.Context) (string, error) {
	if token := strings.TrimSpace(c.Query("token")); token != "" {
		return token, nil
	}
	return middleware.ExtractBearerToken(c.GetHeader("Authorization"))
}

// client writes from both pumps; writeMu serializes them.
type client struct {
	writeMu   sync.Mutex
	conn      *websocket.Conn
	userID    int64
	roomID    string
	seated    bool
	rooms     *room.Service
	outbound  <-chan notify.Event
	cancel    func()
	done      chan struct{}
	pingEvery time.Duration
}

func newClient(conn *websocket.Conn, userID int64, roomID string, seated bool, rooms *room.Service, events <-chan notify.Event, cancel func()) *client {
	conn.SetReadLimit(1 << 16)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	return &client{
		conn:      conn,
		userID:    userID,
		roomID:    roomID,
		seated:    seated,
		rooms:     rooms,
		outbound:  events,
		cancel:    cancel,
		done:      make(chan struct{}),
		pingEvery: 25 * time.Second,
	}
}

func (c *client) run() {
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer func() {
		close(c.done)
		c.cancel()
		c.conn.Close()
		if c.seated {
			if err := c.rooms.Disconnect(context.Background(), c.roomID, c.userID); err != nil && !errors.Is(err, appErr.ErrRoomNotFound) && !errors.Is(err, appErr.ErrNotInRoom) {
				logger.Log.Warn("disconnect failed", zap.String("roomID", c.roomID), zap.Int64("userID", c.userID), zap.Error(err))
			}
		}
	}()

	for {
		mt, message, err := c.conn.ReadMessage()
		if err != nil {
			logger.Log.Info("WS read error", zap.Error(err), zap.Int64("userID", c.userID), zap.String("roomID", c.roomID))
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var incoming struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &incoming); err != nil {
			c.safeWrite(outgoing{Type: "error", Data: response.ErrorBody{Code: appErr.ErrInvalidMove.Code, Msg: "invalid payload"}})
			continue
		}
		if incoming.Type == "" {
			continue
		}

		if _, err := c.rooms.ApplyMove(context.Background(), c.roomID, c.userID, incoming.Type, incoming.Data); err != nil {
			c.safeWrite(outgoing{Type: "error", Data: response.ErrorOf(err)})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.outbound:
			if !ok {
				return
			}
			if ev.RoomID != c.roomID {
				continue
			}
			if err := c.write(outgoing{Type: ev.Type, Seq: ev.Seq, Data: ev.Data}); err != nil {
				logger.Log.Info("WS write error", zap.Error(err), zap.Int64("userID", c.userID), zap.String("roomID", c.roomID))
				return
			}
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) write(msg outgoing) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *client) safeWrite(msg outgoing) {
	if err := c.write(msg); err != nil {
		logger.Log.Info("WS write error", zap.Error(err), zap.Int64("userID", c.userID), zap.String("roomID", c.roomID))
	}
}
