package session

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ai-stylist-server/modules/workflow"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// 개발용 - 모든 origin 허용
		return true
	},
}

// Client - 연결된 웹소켓 클라이언트 (같은 세션을 여러 탭/창에서 볼 수 있음)
type Client struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// stateMessage - 상태 스냅샷 push 메시지
type stateMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Stage     workflow.Stage `json:"stage"`
	State     workflow.State `json:"state"`
}

// HandleWebSocket - 웹소켓 연결 핸들러. 연결 직후 현재 상태 스냅샷을 보내고,
// 이후 Dispatch마다 새 스냅샷을 push한다. 클라이언트→서버 변이는 HTTP로만.
func (m *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		log.Printf("Missing session parameter")
		conn.Close()
		return
	}
	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = uuid.New().String()
	}

	client := &Client{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 256),
	}

	log.Printf("🔍 New WebSocket connection - Session: %s, User: %s", sessionID, userID)

	s := m.GetOrCreate(sessionID)
	s.addClient(m, client)

	go client.writePump()
	go client.readPump(s)
}

func (s *Session) addClient(m *Manager, client *Client) {
	s.mu.Lock()
	s.clients[client.userID] = client
	clientCount := len(s.clients)
	snapshot := s.state
	s.mu.Unlock()

	m.metrics.mutex.Lock()
	m.metrics.TotalConnections++
	m.metrics.mutex.Unlock()

	log.Printf("👤 Client %s joined session %s (Clients: %d)", client.userID, s.ID, clientCount)

	// 접속 직후 현재 상태 전달
	if payload, err := json.Marshal(stateMessage{
		Type:      "state",
		SessionID: s.ID,
		Stage:     snapshot.Stage(),
		State:     snapshot,
	}); err == nil {
		client.send <- payload
	}
}

func (s *Session) removeClient(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.clients[userID]; ok {
		close(client.send)
		delete(s.clients, userID)
		log.Printf("👋 Client %s left session %s (Remaining: %d)", userID, s.ID, len(s.clients))
	}
}

// broadcastState - 새 상태 스냅샷을 모든 클라이언트에 push
// 밀린 클라이언트는 끊는다 (버퍼 가득)
func (s *Session) broadcastState(state workflow.State) {
	payload, err := json.Marshal(stateMessage{
		Type:      "state",
		SessionID: s.ID,
		Stage:     state.Stage(),
		State:     state,
	})
	if err != nil {
		log.Printf("Error marshaling state message: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, client := range s.clients {
		select {
		case client.send <- payload:
		default:
			close(client.send)
			delete(s.clients, userID)
		}
	}
}

// readPump - 클라이언트 메시지는 소비만 (keepalive). 연결 종료 감지용.
func (c *Client) readPump(s *Session) {
	defer func() {
		s.removeClient(c.userID)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}

// writePump - send 채널의 메시지를 순서대로 기록
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("WebSocket write error: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
