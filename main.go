package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"ai-stylist-server/modules/common/config"
	"ai-stylist-server/modules/common/redisconn"
	"ai-stylist-server/modules/common/storage"
	"ai-stylist-server/modules/common/telemetry"
	"ai-stylist-server/modules/normalize"
	"ai-stylist-server/modules/session"
	"ai-stylist-server/modules/stylist"
	"ai-stylist-server/modules/suggest"
	"ai-stylist-server/modules/workflow"
)

// CORS 미들웨어
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "ai-stylist-server",
	})
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Redis 연결 (선택 - 없으면 메모리 트렌드 캐시 + 인라인 생성)
	rdb, err := redisconn.Connect(cfg)
	if err != nil {
		log.Printf("⚠️  Redis connection failed, running without it: %v", err)
		rdb = nil
	}
	telemetry.Init(rdb)

	// 제안 게이트웨이
	var trendStore suggest.TrendStore
	if rdb != nil {
		trendStore = suggest.NewRedisTrendStore(rdb)
	}
	gateway, err := suggest.NewGateway(context.Background(),
		cfg.GeminiAPIKey, cfg.GeminiTextModel, cfg.GeminiImageModel, trendStore)
	if err != nil {
		log.Fatalf("❌ Failed to initialize suggestion gateway: %v", err)
	}

	// 세션 매니저 + 정리 루틴
	manager := session.NewManager(workflow.Capabilities{
		ShareSupported:   true,
		MaxImagesPerSlot: cfg.MaxImagesPerSlot,
	})
	manager.StartCleanupRoutine()

	// 서비스 조립
	normalizer := normalize.New(cfg.MaxImageDimension, cfg.WebPQuality)
	store := storage.NewClient()
	queue := stylist.NewQueue(rdb)
	service := stylist.NewService(gateway, manager, normalizer, store, queue)

	// Redis Queue Worker 시작 (백그라운드)
	if rdb != nil {
		go service.StartWorker(rdb)
	} else {
		log.Println("ℹ️  No Redis configured - generation jobs run inline")
	}

	// 라우터 설정
	r := mux.NewRouter()
	r.Use(enableCORS)

	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/ws", manager.HandleWebSocket)
	r.HandleFunc("/session/{sessionId}", func(w http.ResponseWriter, req *http.Request) {
		sessionID := mux.Vars(req)["sessionId"]
		s, ok := manager.Get(sessionID)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "Session not found"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Info())
	}).Methods("GET")
	r.HandleFunc("/metrics", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(manager.MetricsSnapshot())
	}).Methods("GET")

	handler := stylist.NewHandler(service, manager)
	handler.RegisterRoutes(r)

	log.Printf("🚀 AI Stylist Server starting on port %s", cfg.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost:%s/ws", cfg.Port)
	log.Printf("❤️  Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("📊 Metrics: http://localhost:%s/metrics", cfg.Port)

	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
