package suggest

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"google.golang.org/genai"

	"ai-stylist-server/modules/common/apperr"
)

const (
	maxAttempts = 3
	baseDelay   = 1000 * time.Millisecond
	maxJitter   = 1000 * time.Millisecond
)

// generateFunc - Gemini 호출 시그니처 (테스트에서 스텁 주입)
type generateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Gateway - 외부 생성형 AI 서비스의 무상태 요청/응답 래퍼
// 제안 종류당 오퍼레이션 하나씩, 전부 같은 재시도/분류 정책 공유
type Gateway struct {
	textModel  string
	imageModel string

	generate generateFunc
	sleep    func(time.Duration)
	jitter   func() time.Duration
	now      func() time.Time

	trends *trendCache
}

// NewGateway - genai 클라이언트로 게이트웨이 생성
func NewGateway(ctx context.Context, apiKey, textModel, imageModel string, store TrendStore) (*Gateway, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Genai client: %w", err)
	}
	g := newGatewayWithGenerate(textModel, imageModel, client.Models.GenerateContent, store)
	log.Println("✅ Suggestion gateway initialized")
	return g, nil
}

// newGatewayWithGenerate - 호출 함수 주입 생성자 (테스트용)
func newGatewayWithGenerate(textModel, imageModel string, generate generateFunc, store TrendStore) *Gateway {
	if store == nil {
		store = NewMemoryTrendStore()
	}
	g := &Gateway{
		textModel:  textModel,
		imageModel: imageModel,
		generate:   generate,
		sleep:      time.Sleep,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(maxJitter)))
		},
		now: time.Now,
	}
	g.trends = newTrendCache(store, func() time.Time { return g.now() })
	return g
}

// callWithRetry - 레이트리밋 신호에만 지수 백오프 재시도 (총 3회)
// 그 외 에러는 재시도 없이 즉시 반환
func (g *Gateway) callWithRetry(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := g.generate(ctx, model, contents, config)
		if err == nil {
			if attempt > 1 {
				log.Printf("✅ [Gateway] Success on attempt %d/%d", attempt, maxAttempts)
			}
			return result, nil
		}

		if !apperr.IsRateLimit(err) {
			// 429가 아닌 에러는 바로 반환 (재시도 안 함)
			return nil, apperr.Wrap(apperr.KindTransport, "The request failed. Please try again.", err)
		}

		lastErr = err
		log.Printf("⚠️  [Gateway] Rate limit hit on attempt %d/%d", attempt, maxAttempts)

		if attempt < maxAttempts {
			delay := baseDelay*(1<<(attempt-1)) + g.jitter()
			log.Printf("   ⏳ Waiting %v before retry...", delay)
			g.sleep(delay)
		}
	}

	return nil, apperr.Wrap(apperr.KindRateLimited,
		"Too many requests right now. Please wait a moment and try again.", lastErr)
}

// GeneralSuggestions - 헤어스타일 + 포즈 제안
func (g *Gateway) GeneralSuggestions(ctx context.Context, images []InlineImage, persona Persona) (*GeneralSuggestions, error) {
	contents, err := buildContents(images, buildGeneralPrompt(persona))
	if err != nil {
		return nil, err
	}
	payload, err := g.structuredCall(ctx, contents, generalSchema)
	if err != nil {
		return nil, err
	}
	return parseGeneral(payload)
}

// OutfitSuggestions - 시즌 × 스타일 의상 제안 (셀 단위 독립 호출)
func (g *Gateway) OutfitSuggestions(ctx context.Context, images []InlineImage, persona Persona, season, style string) ([]OutfitIdea, error) {
	contents, err := buildContents(images, buildOutfitPrompt(persona, season, style))
	if err != nil {
		return nil, err
	}
	payload, err := g.structuredCall(ctx, contents, outfitSchema)
	if err != nil {
		return nil, err
	}
	return parseOutfits(payload)
}

// AnalyzeStyleReferences - 레퍼런스 이미지 스타일 분석
func (g *Gateway) AnalyzeStyleReferences(ctx context.Context, refs []InlineImage) (*StyleAnalysis, error) {
	if len(refs) == 0 {
		return nil, apperr.New(apperr.KindValidation, "Upload at least one style reference photo first.")
	}
	contents, err := buildContents(refs, buildAnalyzePrompt())
	if err != nil {
		return nil, err
	}
	payload, err := g.structuredCall(ctx, contents, analyzeSchema)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(payload)
}

// ExpandPrompt - 사용자 프롬프트를 풍부한 지시문으로 확장 (텍스트 출력)
func (g *Gateway) ExpandPrompt(ctx context.Context, prompt string, persona Persona) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", apperr.New(apperr.KindValidation, "Enter a prompt to expand first.")
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(buildExpandPrompt(persona, prompt)),
		}, genai.RoleUser),
	}

	result, err := g.callWithRetry(ctx, g.textModel, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.8),
	})
	if err != nil {
		return "", err
	}

	text := extractText(result)
	if strings.TrimSpace(text) == "" {
		return "", apperr.Wrap(apperr.KindMalformed,
			"Failed to expand the prompt. Please try again.", fmt.Errorf("no text in response"))
	}
	return strings.TrimSpace(text), nil
}

// structuredCall - 구조화 출력 스키마 선언 + JSON 텍스트 payload 추출
func (g *Gateway) structuredCall(ctx context.Context, contents []*genai.Content, schema *genai.Schema) (string, error) {
	result, err := g.callWithRetry(ctx, g.textModel, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
		Temperature:      genai.Ptr[float32](0.7),
	})
	if err != nil {
		return "", err
	}

	text := extractText(result)
	if text == "" {
		return "", apperr.Wrap(apperr.KindMalformed,
			"Failed to get suggestions. Please try again.", fmt.Errorf("no text payload in response"))
	}
	return text, nil
}

// buildContents - 인라인 이미지들 + 지시문을 요청 컨텐츠로 조립
func buildContents(images []InlineImage, instruction string) ([]*genai.Content, error) {
	if len(images) == 0 {
		return nil, apperr.New(apperr.KindValidation, "Upload at least one photo first.")
	}

	parts := make([]*genai.Part, 0, len(images)+1)
	for i, img := range images {
		data, err := base64.StdEncoding.DecodeString(img.Base64)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation,
				"One of the photos could not be read.", fmt.Errorf("image %d: %w", i, err))
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: img.MimeType, Data: data},
		})
	}
	parts = append(parts, genai.NewPartFromText(instruction))

	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil
}

// extractText - 첫 후보의 텍스트 조각들을 이어붙임
func extractText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return ""
	}
	candidate := result.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
