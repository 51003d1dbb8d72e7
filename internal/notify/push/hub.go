// Package push 实时推送：websocket 房间、Redis 转发和熔断保护
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	room string
	conn *websocket.Conn
	send chan []byte
}

// Hub 按房间管理 websocket 连接，一个用户可以同时有多个连接
type Hub struct {
	secret string
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

func NewHub(secret string, logger *zap.Logger) *Hub {
	return &Hub{
		secret: secret,
		logger: logger,
		rooms:  make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.room] == nil {
		h.rooms[c.room] = make(map[*client]struct{})
	}
	h.rooms[c.room][c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[c.room]
	if !ok {
		return
	}
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	close(c.send)
	if len(members) == 0 {
		delete(h.rooms, c.room)
	}
}

// Connections 房间内的连接数
func (h *Hub) Connections(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Push 把消息写入房间内每个连接的发送队列。房间为空不算错误；
// 发送队列已满的慢连接会丢弃这条消息。
func (h *Hub) Push(_ context.Context, room string, msg mqcontracts.NotificationPushPayload) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}
	return h.broadcast(room, data)
}

func (h *Hub) broadcast(room string, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Dropping push message for slow connection", zap.String("room", room))
		}
	}
	return nil
}

// ServeWS 处理 GET /ws?token=，token 为 API 使用的同一个 JWT
func (h *Hub) ServeWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = util.ExtractToken(c.Request)
	}
	userID, err := util.ParseJWT(token, h.secret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		room: fmt.Sprintf("user:%d", userID),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.register(cl)
	h.logger.Info("WebSocket client connected", zap.Int64("user_id", userID))

	go h.writePump(cl)
	go h.readPump(cl)
}

// readPump 只处理 pong 和关闭，客户端不通过 websocket 发送业务消息
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.String("room", c.room), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("WebSocket write error", zap.String("room", c.room), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
