package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"

	"ai-stylist-server/modules/common/telemetry"
)

const (
	// TrendTTL - 캐시 신선도 창
	TrendTTL = time.Hour
	// ForceRefreshThrottle - 강제 새로고침 최소 간격 (이내 반복은 조용히 무시)
	ForceRefreshThrottle = time.Second

	trendKeyPrefix = "trend:ideas:"
)

// TrendStore - 탭(세션) 단위 내구 저장소 경계
type TrendStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// RedisTrendStore - Redis 기반 저장소
type RedisTrendStore struct {
	rdb *redis.Client
}

func NewRedisTrendStore(rdb *redis.Client) *RedisTrendStore {
	return &RedisTrendStore{rdb: rdb}
}

func (s *RedisTrendStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisTrendStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisTrendStore) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// MemoryTrendStore - Redis 미설정/테스트용 인메모리 저장소
type MemoryTrendStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func NewMemoryTrendStore() *MemoryTrendStore {
	return &MemoryTrendStore{entries: make(map[string]string)}
}

func (s *MemoryTrendStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	return value, ok, nil
}

func (s *MemoryTrendStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

func (s *MemoryTrendStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// trendEnvelopeCached - 저장소에 기록되는 형태: {timestamp: epoch-ms, data: [...]}
type trendEnvelopeCached struct {
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// trendCache - 타임박스 캐시 + 강제 새로고침 스로틀
// lastForced는 루트 상태 밖에 존재하는 last-write-wins 셀
type trendCache struct {
	store TrendStore
	now   func() time.Time

	mu         sync.Mutex
	lastForced map[string]time.Time
}

func newTrendCache(store TrendStore, now func() time.Time) *trendCache {
	return &trendCache{
		store:      store,
		now:        now,
		lastForced: make(map[string]time.Time),
	}
}

// readFresh - 신선한 캐시 항목 조회. 깨진 항목은 캐시 미스로 취급하고 슬롯 제거.
func (c *trendCache) readFresh(ctx context.Context, key string) ([]TrendIdea, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		telemetry.LogError(err, "suggest.trends.cache_read")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var envelope trendEnvelopeCached
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		log.Printf("⚠️  [Trends] Discarding malformed cache entry for %s", key)
		_ = c.store.Del(ctx, key)
		return nil, false
	}

	age := c.now().Sub(time.UnixMilli(envelope.Timestamp))
	if age < 0 || age >= TrendTTL {
		return nil, false
	}

	var ideas []TrendIdea
	if err := json.Unmarshal(envelope.Data, &ideas); err != nil || len(ideas) == 0 {
		log.Printf("⚠️  [Trends] Discarding malformed cache data for %s", key)
		_ = c.store.Del(ctx, key)
		return nil, false
	}
	return ideas, true
}

// readAny - 신선도와 무관하게 현재 캐시 값 조회 (스로틀된 강제 새로고침의 반환용)
func (c *trendCache) readAny(ctx context.Context, key string) []TrendIdea {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return nil
	}
	var envelope trendEnvelopeCached
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil
	}
	var ideas []TrendIdea
	if err := json.Unmarshal(envelope.Data, &ideas); err != nil {
		return nil
	}
	return ideas
}

func (c *trendCache) write(ctx context.Context, key string, ideas []TrendIdea) {
	data, err := json.Marshal(ideas)
	if err != nil {
		return
	}
	envelope, err := json.Marshal(trendEnvelopeCached{
		Timestamp: c.now().UnixMilli(),
		Data:      data,
	})
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, string(envelope), TrendTTL*2); err != nil {
		telemetry.LogError(err, "suggest.trends.cache_write")
	}
}

// allowForced - 강제 새로고침 스로틀: 직전 강제 호출 후 1초 이내면 false
func (c *trendCache) allowForced(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if last, ok := c.lastForced[key]; ok && now.Sub(last) < ForceRefreshThrottle {
		return false
	}
	c.lastForced[key] = now
	return true
}

// TrendIdeas - 트렌드 아이디어 조회 (세션 단위 타임박스 캐시)
// force=false: 1시간 이내 캐시가 있으면 네트워크 없이 캐시 반환
// force=true: 즉시 재조회하되, 1초 이내 반복 강제 호출은 no-op (현재 값 반환)
func (g *Gateway) TrendIdeas(ctx context.Context, sessionID string, force bool) ([]TrendIdea, error) {
	key := trendKeyPrefix + sessionID

	if !force {
		if cached, ok := g.trends.readFresh(ctx, key); ok {
			log.Printf("📦 [Trends] Cache hit for session %s", sessionID)
			return cached, nil
		}
	} else if !g.trends.allowForced(key) {
		log.Printf("🚦 [Trends] Forced refresh throttled for session %s", sessionID)
		return g.trends.readAny(ctx, key), nil
	}

	log.Printf("📤 [Trends] Fetching trend ideas (session %s, force=%v)", sessionID, force)

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(buildTrendPrompt()),
		}, genai.RoleUser),
	}
	payload, err := g.structuredCall(ctx, contents, trendSchema)
	if err != nil {
		return nil, err
	}

	ideas, err := parseTrends(payload)
	if err != nil {
		return nil, err
	}

	g.trends.write(ctx, key, ideas)
	return ideas, nil
}
