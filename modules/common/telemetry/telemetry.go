package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// 텔레메트리는 fire-and-forget: 반환값을 소비하지 않고, 재시도하지 않고,
// 호출자를 블로킹하지 않는다. Redis가 없으면 로그만 남긴다.

var rdb *redis.Client

// Init - 텔레메트리 싱크 설정 (nil 허용)
func Init(client *redis.Client) {
	rdb = client
}

type event struct {
	Name       string                 `json:"name"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
}

// LogEvent - 주요 전이마다 호출되는 이벤트 기록
func LogEvent(name string, attributes map[string]interface{}) {
	log.Printf("📊 [Event] %s %v", name, attributes)
	push(event{Name: name, Attributes: attributes, Timestamp: time.Now().UnixMilli()})
}

// LogError - 실패 기록 (호출 지점 컨텍스트 포함)
func LogError(err error, callContext string) {
	if err == nil {
		return
	}
	log.Printf("❌ [Error] %s: %v", callContext, err)
	push(event{
		Name:      "error",
		Timestamp: time.Now().UnixMilli(),
		Attributes: map[string]interface{}{
			"context": callContext,
			"message": err.Error(),
		},
	})
}

// push - Redis LPUSH best-effort (비동기, 실패 무시)
func push(ev event) {
	if rdb == nil {
		return
	}
	go func() {
		defer func() {
			// 싱크 오류가 앱을 죽이면 안 됨
			_ = recover()
		}()
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		rdb.LPush(ctx, "telemetry:events", data)
	}()
}
