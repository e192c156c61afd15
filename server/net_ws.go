package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendQueueSize  = 64
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16
)

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws        *websocket.Conn
	codec     Codec
	send      chan []byte
	closeOnce sync.Once
}

func NewClientConn(ws *websocket.Conn, codec Codec) *ClientConn {
	return &ClientConn{
		ws:    ws,
		codec: codec,
		send:  make(chan []byte, sendQueueSize),
	}
}

func (c *ClientConn) Codec() Codec { return c.codec }

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）。
// 只在房间协程中调用，与 Close 不会并发。
func (c *ClientConn) Enqueue(b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		// 为了实时性，丢弃（防止阻塞 Tick）
		return false
	}
}

// Close 关闭发送队列，写协程随之结束并关闭底层连接
func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(c.codec.FrameType(), msg); err != nil {
				Log.Debugw("ws write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端消息，解码后投递给房间；格式错误的消息静默丢弃
func (c *ClientConn) readPump(room *Room, id PlayerID) {
	defer func() { _ = c.ws.Close() }()
	// 读泵退出时，通知房间在房间协程中移除该玩家
	defer room.RequestLeave(id)
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				Log.Debugw("ws read failed", "room", room.ID, "player", id, "err", err)
			}
			return
		}
		in, err := DecodeInput(c.codec, id, payload)
		if err != nil {
			room.Metrics().IncMalformed()
			Log.Debugw("dropped malformed message", "room", room.ID, "player", id, "err", err)
			continue
		}
		room.OnInput(in)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// 信任模型不在范围内：允许所有来源
		return true
	},
}

// HandleWS WebSocket 接入：?room=lobby&codec=json|msgpack
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := s.roomParam(r)
	codec := CodecByName(r.URL.Query().Get("codec"))

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnw("upgrade error", "remote", r.RemoteAddr, "err", err)
		return
	}

	room := s.rooms.GetOrCreateRoom(roomID)
	id := PlayerID(uuid.New().String())
	client := NewClientConn(ws, codec)

	go client.writePump()
	if !room.Join(id, client) {
		client.Close()
		return
	}
	go client.readPump(room, id)
}
