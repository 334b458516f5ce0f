package stylist

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const jobQueueKey = "styling:jobs"

// stylingJob - 큐에 들어가는 잡 payload. 세션 상태는 메모리에 있으므로
// 잡은 세션 id와 생성 펜스만 나른다.
type stylingJob struct {
	SessionID string `json:"sessionId"`
	Seq       uint64 `json:"seq"`
	QueuedAt  int64  `json:"queuedAt"`
}

// Queue - Redis 기반 생성 잡 큐
type Queue struct {
	rdb *redis.Client
}

// NewQueue - 잡 큐 생성. rdb가 nil이면 nil 반환 (인라인 모드)
func NewQueue(rdb *redis.Client) *Queue {
	if rdb == nil {
		return nil
	}
	return &Queue{rdb: rdb}
}

// Enqueue - 생성 잡 등록
func (q *Queue) Enqueue(sessionID string, seq uint64) error {
	payload, err := json.Marshal(stylingJob{
		SessionID: sessionID,
		Seq:       seq,
		QueuedAt:  time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := q.rdb.LPush(ctx, jobQueueKey, payload).Err(); err != nil {
		return err
	}
	log.Printf("📬 [Worker] Enqueued styling job (session %s, seq %d)", sessionID, seq)
	return nil
}

// StartWorker - Redis Queue Worker 시작 (블로킹 - 고루틴에서 호출)
func (sv *Service) StartWorker(rdb *redis.Client) {
	log.Println("👀 [Worker] Watching queue: " + jobQueueKey)

	ctx := context.Background()

	for {
		result, err := rdb.BRPop(ctx, 0, jobQueueKey).Result()
		if err != nil {
			log.Printf("❌ [Worker] Redis BRPOP error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		// result[0]은 큐 이름, result[1]이 잡 payload
		var job stylingJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("⚠️  [Worker] Dropping malformed job payload: %v", err)
			continue
		}

		log.Printf("📥 [Worker] Received styling job (session %s, seq %d)", job.SessionID, job.Seq)
		go sv.processQueuedJob(job)
	}
}

func (sv *Service) processQueuedJob(job stylingJob) {
	s, ok := sv.manager.Get(job.SessionID)
	if !ok {
		// 세션이 이미 정리됨 (서버 재시작 포함) - 잡 폐기
		log.Printf("⚠️  [Worker] Session %s no longer exists, dropping job", job.SessionID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), gatewayTimeout)
	defer cancel()

	sv.ProcessGeneration(ctx, s, job.Seq)
}
