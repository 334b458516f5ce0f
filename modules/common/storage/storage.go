package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/supabase-community/supabase-go"

	"ai-stylist-server/modules/common/config"
	"ai-stylist-server/modules/common/utils"
)

const resultsBucket = "styling-results"

// Client - 생성 결과 보관용 Supabase 클라이언트 (Storage + DB)
type Client struct {
	supabase *supabase.Client
}

// NewClient - Storage 클라이언트 생성. Supabase 미설정이면 nil 반환 (보관 비활성)
func NewClient() *Client {
	cfg := config.GetConfig()
	if cfg.SupabaseURL == "" {
		log.Println("ℹ️  Supabase not configured - result archiving disabled")
		return nil
	}

	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		log.Printf("❌ Failed to create Supabase client: %v", err)
		return nil
	}

	log.Println("✅ Supabase storage client initialized")
	return &Client{supabase: supabaseClient}
}

// StylingRecord - styling_results 테이블 레코드
type StylingRecord struct {
	SessionID         string `json:"session_id"`
	FilePath          string `json:"file_path"`
	FileSize          int64  `json:"file_size"`
	Prompt            string `json:"prompt"`
	NegativePrompt    string `json:"negative_prompt,omitempty"`
	CameraComposition string `json:"camera_composition,omitempty"`
	PeopleCount       int    `json:"people_count"`
}

// UploadResultImage - 결과 이미지를 Supabase Storage에 업로드
func (c *Client) UploadResultImage(ctx context.Context, imageData []byte, mimeType, sessionID string) (string, int64, error) {
	cfg := config.GetConfig()

	timestamp := time.Now().UnixNano() / int64(time.Millisecond)
	randomID := rand.Intn(999999)
	fileName := fmt.Sprintf("styled_%d_%d.%s", timestamp, randomID, utils.ExtensionForMime(mimeType))
	filePath := fmt.Sprintf("session-%s/%s", sessionID, fileName)

	log.Printf("📤 Uploading result image to storage: %s", filePath)

	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", cfg.SupabaseURL, resultsBucket, filePath)

	req, err := http.NewRequestWithContext(ctx, "POST", uploadURL, bytes.NewReader(imageData))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.SupabaseServiceKey)
	req.Header.Set("Content-Type", mimeType)

	httpClient := &http.Client{}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	size := int64(len(imageData))
	log.Printf("✅ Result image uploaded: %s (%d bytes)", filePath, size)
	return filePath, size, nil
}

// InsertStylingRecord - 결과 메타데이터를 styling_results 테이블에 기록
func (c *Client) InsertStylingRecord(ctx context.Context, record StylingRecord) error {
	log.Printf("📝 Recording styling result for session %s", record.SessionID)

	_, _, err := c.supabase.From("styling_results").
		Insert(record, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert styling record: %w", err)
	}

	log.Printf("✅ Styling result recorded: %s", record.FilePath)
	return nil
}
