// internal/service/fulfillment/interfaces/status_stream_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"fulcrum/internal/pkg/logger"
	"fulcrum/internal/service/fulfillment/domain"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamSendBuffer = 16
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 运营面板和服务不同源，放行所有来源，访问控制由外层网关负责
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusStreamHandler 把订单状态变更实时推给运营面板。
// 它实现 port.StatusEventSink，由组装根挂进事件扇出；
// 慢客户端的消息直接丢弃，推送永远不能拖慢状态流转。
type StatusStreamHandler struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
	closed  bool
}

func NewStatusStreamHandler() *StatusStreamHandler {
	return &StatusStreamHandler{
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// RegisterRoutes 在 ServeMux 上注册实时流路由
func (h *StatusStreamHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ops/status_stream", h.handleStream)
}

// StatusChanged 实现 port.StatusEventSink：广播给所有已连接客户端。
func (h *StatusStreamHandler) StatusChanged(ctx context.Context, event domain.OrderStatusChanged) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, send := range h.clients {
		select {
		case send <- payload:
		default:
			// 缓冲已满说明客户端读不过来，丢弃这条消息
			logger.Ctx(ctx).Warn().Str("remote", conn.RemoteAddr().String()).
				Msg("slow status stream client, message dropped")
		}
	}
	return nil
}

func (h *StatusStreamHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	send := make(chan []byte, streamSendBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = send
	h.mu.Unlock()
	logger.Ctx(r.Context()).Info().Str("remote", conn.RemoteAddr().String()).
		Msg("status stream client connected")

	go h.writePump(conn, send)
	go h.readPump(conn)
}

// readPump 只负责消费控制帧、探测断连；面板不向服务端发业务消息。
func (h *StatusStreamHandler) readPump(conn *websocket.Conn) {
	defer h.dropClient(conn)

	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StatusStreamHandler) writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		h.dropClient(conn)
	}()

	for {
		select {
		case payload, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StatusStreamHandler) dropClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if send, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(send)
	}
	conn.Close()
}

// Close 断开所有客户端，服务停机时调用。
func (h *StatusStreamHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for conn, send := range h.clients {
		delete(h.clients, conn)
		close(send)
		conn.Close()
	}
}
