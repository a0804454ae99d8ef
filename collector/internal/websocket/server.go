package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/han-fei/fleetwatch/collector/internal/config"
	"github.com/han-fei/fleetwatch/collector/internal/metrics"
	"github.com/han-fei/fleetwatch/collector/internal/models"
)

// Client WebSocket客户端
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	server   *Server
	mu       sync.Mutex
	closed   bool
	lastPing time.Time
}

// Server WebSocket推送服务器，向所有已连接的前端广播上报和告警事件
type Server struct {
	config     config.WebSocketConfig
	metrics    *metrics.Registry
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

// NewServer 创建新的WebSocket服务器
func NewServer(cfg config.WebSocketConfig, reg *metrics.Registry) *Server {
	return &Server{
		config:     cfg,
		metrics:    reg,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, cfg.BufferSize),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源，生产环境应该限制
			},
		},
	}
}

// HandleWebSocket 处理WebSocket连接
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// 升级HTTP连接为WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("升级WebSocket连接失败: %v", err)
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, s.config.BufferSize),
		server:   s,
		lastPing: time.Now(),
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// BroadcastReport 推送一条指标上报事件
func (s *Server) BroadcastReport(report *models.Report) {
	s.enqueue("report", report)
}

// BroadcastAlert 推送一条告警状态变更事件
func (s *Server) BroadcastAlert(state *models.AlertState) {
	s.enqueue("alert", state)
}

func (s *Server) enqueue(eventType string, payload interface{}) {
	message := map[string]interface{}{
		"type": eventType,
		"data": payload,
	}
	jsonData, err := json.Marshal(message)
	if err != nil {
		log.Printf("序列化%s事件失败: %v", eventType, err)
		return
	}

	select {
	case s.broadcast <- jsonData:
	case <-s.done:
		// 服务器已退出，事件丢弃
	}
}

// ClientCount 当前连接的客户端数
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Run WebSocket服务器主循环，ctx取消后断开所有客户端并退出
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			close(s.done)
			return ctx.Err()

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			count := len(s.clients)
			s.metrics.WSClients.Set(float64(count))
			s.mu.Unlock()
			log.Printf("客户端已连接，当前连接数: %d", count)

		case client := <-s.unregister:
			s.mu.Lock()
			count := len(s.clients)
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
				count = len(s.clients)
				s.metrics.WSClients.Set(float64(count))
			}
			s.mu.Unlock()
			log.Printf("客户端已断开，当前连接数: %d", count)

		case message := <-s.broadcast:
			// 发不动的客户端收集起来，锁外断开
			var slow []*Client
			s.mu.RLock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}
			s.mu.RUnlock()
			for _, client := range slow {
				s.removeClient(client)
			}

		case <-ticker.C:
			// 定期检查客户端心跳
			var stale []*Client
			s.mu.RLock()
			for client := range s.clients {
				if time.Since(client.lastPingTime()) > s.config.PingTimeout {
					stale = append(stale, client)
				} else {
					client.ping()
				}
			}
			s.mu.RUnlock()
			for _, client := range stale {
				s.removeClient(client)
			}
		}
	}
}

// removeClient 在主循环内移除客户端，不能经由unregister通道自己给自己发消息
func (s *Server) removeClient(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
		s.metrics.WSClients.Set(float64(len(s.clients)))
	}
	s.mu.Unlock()
	client.terminate()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	for client := range s.clients {
		delete(s.clients, client)
		close(client.send)
		client.terminate()
	}
	s.metrics.WSClients.Set(0)
	s.mu.Unlock()
}

// readPump 读取客户端消息
func (c *Client) readPump() {
	defer func() {
		c.sendUnregister()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.server.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.server.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.server.config.PongTimeout))
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("读取WebSocket消息错误: %v", err)
			}
			break
		}
		// 目前不处理客户端消息
	}
}

// writePump 发送消息到客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if !ok {
				// 通道已关闭
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 将队列中的所有消息添加到当前WebSocket消息中
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.ping()
		}
	}
}

func (c *Client) lastPingTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// ping 发送ping消息
func (c *Client) ping() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.closed = true
		c.conn.Close()
		go c.sendUnregister()
	}
}

// terminate 标记关闭并断开底层连接，只能由主循环调用
func (c *Client) terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}

func (c *Client) sendUnregister() {
	select {
	case c.server.unregister <- c:
	case <-c.server.done:
	}
}
