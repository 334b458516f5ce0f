package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-stylist-server/modules/suggest"
	"ai-stylist-server/modules/workflow"
)

// CellStatus - 제안 캐시 셀 상태
type CellStatus string

const (
	CellAbsent  CellStatus = "absent"
	CellLoading CellStatus = "loading"
	CellReady   CellStatus = "ready"
	CellError   CellStatus = "error"
)

// GeneralCell - 인물별 일반 제안(헤어스타일/포즈) 캐시 셀
type GeneralCell struct {
	Status CellStatus                  `json:"status"`
	Data   *suggest.GeneralSuggestions `json:"data,omitempty"`
	Error  string                      `json:"error,omitempty"`
}

// OutfitCell - 인물 × 시즌 × 스타일 의상 제안 캐시 셀
type OutfitCell struct {
	Status CellStatus           `json:"status"`
	Data   []suggest.OutfitIdea `json:"data,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// Session - 브라우저 탭 하나에 대응하는 서버 측 세션
// 워크플로우 상태는 Dispatch(리듀서)를 통해서만 변경된다.
type Session struct {
	ID string

	mu    sync.RWMutex
	state workflow.State

	// 제안 캐시 셀 (인물 단위 / 인물×시즌×스타일 단위)
	generalCells map[int]GeneralCell
	outfitCells  map[string]OutfitCell

	// 펜스 카운터: 비동기 응답이 도착했을 때 시작 시점의 펜스와
	// 현재 펜스가 다르면 그 사이에 입력이 바뀐 것이므로 결과를 버린다.
	fences map[int]uint64
	genSeq uint64

	clients map[string]*Client

	createdAt    time.Time
	lastActivity time.Time
}

// ServerMetrics - 서버 메트릭
type ServerMetrics struct {
	TotalSessions    int       `json:"totalSessions"`
	ActiveSessions   int       `json:"activeSessions"`
	TotalConnections int       `json:"totalConnections"`
	StartTime        time.Time `json:"startTime"`
	mutex            sync.RWMutex
}

// Manager - 세션 매니저
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
	caps     workflow.Capabilities
	metrics  *ServerMetrics
}

func NewManager(caps workflow.Capabilities) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		caps:     caps,
		metrics:  &ServerMetrics{StartTime: time.Now()},
	}
}

func newSession(id string, caps workflow.Capabilities) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		state:        workflow.InitialState(caps),
		generalCells: make(map[int]GeneralCell),
		outfitCells:  make(map[string]OutfitCell),
		fences:       make(map[int]uint64),
		clients:      make(map[string]*Client),
		createdAt:    now,
		lastActivity: now,
	}
}

// Create - 새 세션 생성 (id는 서버가 발급)
func (m *Manager) Create() *Session {
	id := uuid.New().String()
	m.mutex.Lock()
	session := newSession(id, m.caps)
	m.sessions[id] = session
	m.mutex.Unlock()

	m.metrics.mutex.Lock()
	m.metrics.TotalSessions++
	m.metrics.ActiveSessions++
	total, active := m.metrics.TotalSessions, m.metrics.ActiveSessions
	m.metrics.mutex.Unlock()

	log.Printf("✅ Created new session: %s (Total: %d, Active: %d)", id, total, active)
	return session
}

// Get - 세션 조회
func (m *Manager) Get(id string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// GetOrCreate - 세션 조회, 없으면 해당 id로 생성 (웹소켓 재접속용)
func (m *Manager) GetOrCreate(id string) *Session {
	m.mutex.Lock()
	session, ok := m.sessions[id]
	if !ok {
		session = newSession(id, m.caps)
		m.sessions[id] = session

		m.metrics.mutex.Lock()
		m.metrics.TotalSessions++
		m.metrics.ActiveSessions++
		m.metrics.mutex.Unlock()

		log.Printf("✅ Created new session: %s", id)
	}
	session.touch()
	m.mutex.Unlock()
	return session
}

// Remove - 세션 제거
func (m *Manager) Remove(id string) bool {
	m.mutex.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mutex.Unlock()
	if !ok {
		return false
	}

	session.mu.Lock()
	for userID, client := range session.clients {
		close(client.send)
		delete(session.clients, userID)
	}
	session.mu.Unlock()

	m.metrics.mutex.Lock()
	m.metrics.ActiveSessions--
	m.metrics.mutex.Unlock()

	log.Printf("🗑️  Removed session: %s", id)
	return true
}

// Dispatch - 액션을 리듀서에 적용하고 새 상태를 모든 클라이언트에 브로드캐스트
func (s *Session) Dispatch(action workflow.Action) workflow.State {
	s.mu.Lock()
	s.state = workflow.Reduce(s.state, action)
	s.lastActivity = time.Now()
	next := s.state
	s.mu.Unlock()

	s.broadcastState(next)
	return next
}

// State - 현재 상태 스냅샷
func (s *Session) State() workflow.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// --- 펜스 카운터 ---

// BumpFence - 인물의 펜스를 올리고 새 값 반환. 비동기 작업 시작과
// 해당 인물 입력 변경 양쪽에서 호출된다.
func (s *Session) BumpFence(personID int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fences[personID]++
	return s.fences[personID]
}

// Fence - 인물의 현재 펜스 값
func (s *Session) Fence(personID int) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fences[personID]
}

// BumpGeneration - 생성 요청 펜스
func (s *Session) BumpGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.genSeq++
	return s.genSeq
}

func (s *Session) GenerationSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.genSeq
}

// --- 제안 캐시 셀 ---

// OutfitKey - 의상 셀 키 (인물 × 시즌 × 스타일)
func OutfitKey(personID int, season, style string) string {
	return fmt.Sprintf("%d:%s:%s", personID, season, style)
}

func (s *Session) SetGeneralCell(personID int, cell GeneralCell) {
	s.mu.Lock()
	s.generalCells[personID] = cell
	s.mu.Unlock()
}

func (s *Session) GeneralCell(personID int) GeneralCell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cell, ok := s.generalCells[personID]; ok {
		return cell
	}
	return GeneralCell{Status: CellAbsent}
}

func (s *Session) SetOutfitCell(key string, cell OutfitCell) {
	s.mu.Lock()
	s.outfitCells[key] = cell
	s.mu.Unlock()
}

func (s *Session) OutfitCell(key string) OutfitCell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cell, ok := s.outfitCells[key]; ok {
		return cell
	}
	return OutfitCell{Status: CellAbsent}
}

// InvalidateSuggestions - 인물 입력이 바뀌면 그 인물의 셀을 전부 비우고 펜스를 올린다.
// 진행 중이던 비동기 응답은 펜스 불일치로 도착 시 버려진다.
func (s *Session) InvalidateSuggestions(personID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.generalCells, personID)
	prefix := fmt.Sprintf("%d:", personID)
	for key := range s.outfitCells {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(s.outfitCells, key)
		}
	}
	s.fences[personID]++
}

// --- 정리 루틴 (5분: 비활성, 30분: 만료) ---

// cleanupInactiveSessions - 클라이언트 없이 30분 이상 조용한 세션 정리
func (m *Manager) cleanupInactiveSessions() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	cleaned := 0
	for id, session := range m.sessions {
		session.mu.RLock()
		idle := len(session.clients) == 0 && now.Sub(session.lastActivity) > 30*time.Minute
		session.mu.RUnlock()

		if idle {
			delete(m.sessions, id)
			cleaned++

			m.metrics.mutex.Lock()
			m.metrics.ActiveSessions--
			m.metrics.mutex.Unlock()

			log.Printf("🧹 Cleaned up idle session: %s", id)
		}
	}

	if cleaned > 0 {
		log.Printf("🗑️  Cleaned up %d idle sessions", cleaned)
	}
}

// cleanupExpiredSessions - 24시간 넘은 세션은 연결과 무관하게 정리
func (m *Manager) cleanupExpiredSessions() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	cleaned := 0
	for id, session := range m.sessions {
		session.mu.RLock()
		expired := now.Sub(session.createdAt) > 24*time.Hour
		session.mu.RUnlock()

		if !expired {
			continue
		}

		session.mu.Lock()
		for userID, client := range session.clients {
			close(client.send)
			delete(session.clients, userID)
			log.Printf("🔌 Disconnecting client %s from expired session %s", userID, id)
		}
		session.mu.Unlock()

		delete(m.sessions, id)
		cleaned++

		m.metrics.mutex.Lock()
		m.metrics.ActiveSessions--
		m.metrics.mutex.Unlock()

		log.Printf("⏰ Cleaned up expired session: %s (Age: %v)", id, now.Sub(session.createdAt))
	}

	if cleaned > 0 {
		log.Printf("🧼 Cleaned up %d expired sessions", cleaned)
	}
}

// StartCleanupRoutine - 정기적 정리 작업 시작
func (m *Manager) StartCleanupRoutine() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			m.cleanupInactiveSessions()
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			m.cleanupExpiredSessions()
		}
	}()

	log.Printf("🔄 Started session cleanup routines (Idle: 5min, Expired: 30min)")
}

// MetricsSnapshot - 서버 메트릭 + 세션별 상세
func (m *Manager) MetricsSnapshot() map[string]interface{} {
	m.metrics.mutex.RLock()
	total := m.metrics.TotalSessions
	active := m.metrics.ActiveSessions
	connections := m.metrics.TotalConnections
	start := m.metrics.StartTime
	m.metrics.mutex.RUnlock()

	m.mutex.RLock()
	sessionDetails := make([]map[string]interface{}, 0, len(m.sessions))
	totalClients := 0
	for id, session := range m.sessions {
		session.mu.RLock()
		clientCount := len(session.clients)
		totalClients += clientCount
		sessionDetails = append(sessionDetails, map[string]interface{}{
			"sessionId":    id,
			"clientCount":  clientCount,
			"stage":        session.state.Stage(),
			"createdAt":    session.createdAt,
			"lastActivity": session.lastActivity,
			"age":          time.Since(session.createdAt).String(),
			"inactive":     time.Since(session.lastActivity).String(),
		})
		session.mu.RUnlock()
	}
	m.mutex.RUnlock()

	return map[string]interface{}{
		"server": map[string]interface{}{
			"uptime":           time.Since(start).String(),
			"startTime":        start,
			"totalSessions":    total,
			"activeSessions":   active,
			"totalConnections": connections,
			"currentClients":   totalClients,
		},
		"sessions": sessionDetails,
	}
}

// Info - 세션 정보 (조회 엔드포인트용)
func (s *Session) Info() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clientIDs := make([]string, 0, len(s.clients))
	for userID := range s.clients {
		clientIDs = append(clientIDs, userID)
	}

	return map[string]interface{}{
		"sessionId":    s.ID,
		"stage":        s.state.Stage(),
		"clientCount":  len(s.clients),
		"clients":      clientIDs,
		"createdAt":    s.createdAt,
		"lastActivity": s.lastActivity,
		"age":          time.Since(s.createdAt).String(),
		"inactive":     time.Since(s.lastActivity).String(),
	}
}
