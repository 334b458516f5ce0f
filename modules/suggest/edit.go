package suggest

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"

	"ai-stylist-server/modules/common/apperr"
)

// EditResult - 편집 호출의 추출 결과 (이미지 그리고/또는 텍스트)
type EditResult struct {
	ImageBase64 string
	ImageMime   string
	Text        string
}

// EditImage - 최종 이미지 편집/생성 호출
// 대상 이미지(person-id 순서)가 스타일 레퍼런스보다 먼저 들어가고,
// 응답은 5단계 품질 검증 체인을 통과해야 한다:
//  1. 톱레벨 차단 사유 → 안전 차단
//  2. 후보 부재 → 안전 차단
//  3. 비정상 완료 사유 → {안전, recitation, 토큰 한도, 기타}
//  4. 컨텐츠 조각 0개 → 응답 형태 불량
//  5. 이미지도 텍스트도 추출 못 함 → 응답 형태 불량
func (g *Gateway) EditImage(ctx context.Context, req EditRequest) (*EditResult, error) {
	if len(req.SubjectImages) == 0 {
		return nil, apperr.New(apperr.KindValidation, "Upload at least one photo first.")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperr.New(apperr.KindValidation, "Please enter a prompt before generating.")
	}

	// 대상 이미지 먼저, 레퍼런스는 뒤에
	parts := make([]*genai.Part, 0, len(req.SubjectImages)+len(req.StyleRefs)+1)
	for i, img := range append(append([]InlineImage{}, req.SubjectImages...), req.StyleRefs...) {
		data, err := base64.StdEncoding.DecodeString(img.Base64)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation,
				"One of the photos could not be read.", fmt.Errorf("image %d: %w", i, err))
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: img.MimeType, Data: data},
		})
	}
	parts = append(parts, genai.NewPartFromText(buildEditInstruction(req)))

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	log.Printf("🎨 [Gateway] Edit request: %d subject image(s), %d reference(s), prompt length %d",
		len(req.SubjectImages), len(req.StyleRefs), len(req.Prompt))

	result, err := g.callWithRetry(ctx, g.imageModel, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	})
	if err != nil {
		return nil, err
	}

	return classifyEditResponse(result)
}

// classifyEditResponse - 5단계 검증 체인. 각 단계는 분류된 에러로 중단하거나 다음 단계로 통과.
func classifyEditResponse(result *genai.GenerateContentResponse) (*EditResult, error) {
	// 1단계: 톱레벨 차단 사유
	if fb := result.PromptFeedback; fb != nil &&
		fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		return nil, apperr.Wrap(apperr.KindSafetyBlocked,
			"The request was blocked by the content policy. Try rephrasing or softening your prompt.",
			fmt.Errorf("prompt blocked: %s", fb.BlockReason))
	}

	// 2단계: 후보 부재
	if len(result.Candidates) == 0 || result.Candidates[0] == nil {
		return nil, apperr.Wrap(apperr.KindSafetyBlocked,
			"The request was blocked by the content policy. Try rephrasing or softening your prompt.",
			fmt.Errorf("no candidates in response"))
	}
	candidate := result.Candidates[0]

	// 3단계: 비정상 완료 사유
	switch candidate.FinishReason {
	case "", genai.FinishReasonStop:
		// 정상 - 다음 단계로
	case genai.FinishReasonSafety:
		return nil, apperr.Wrap(apperr.KindSafetyBlocked,
			"The result was blocked by the content policy. Try rephrasing or softening your prompt.",
			fmt.Errorf("finish reason: %s", candidate.FinishReason))
	case genai.FinishReasonRecitation:
		return nil, apperr.Wrap(apperr.KindRecitationBlocked,
			"The result was blocked because it resembled existing content. Try a different prompt.",
			fmt.Errorf("finish reason: %s", candidate.FinishReason))
	case genai.FinishReasonMaxTokens:
		return nil, apperr.Wrap(apperr.KindTokenLimit,
			"The result was cut short. Try a shorter prompt.",
			fmt.Errorf("finish reason: %s", candidate.FinishReason))
	default:
		return nil, apperr.Wrap(apperr.KindTransport,
			"The generation stopped unexpectedly. Please try again.",
			fmt.Errorf("finish reason: %s", candidate.FinishReason))
	}

	// 4단계: 컨텐츠 조각 존재
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, apperr.Wrap(apperr.KindMalformed,
			"Failed to get a result. Please try again.",
			fmt.Errorf("candidate has no content parts"))
	}

	// 5단계: 이미지/텍스트 추출
	out := &EditResult{}
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 && out.ImageBase64 == "" {
			out.ImageBase64 = base64.StdEncoding.EncodeToString(part.InlineData.Data)
			out.ImageMime = part.InlineData.MIMEType
			if out.ImageMime == "" {
				out.ImageMime = "image/png"
			}
		}
		if part.Text != "" {
			out.Text += part.Text
		}
	}

	if out.ImageBase64 == "" && out.Text == "" {
		return nil, apperr.Wrap(apperr.KindMalformed,
			"Failed to get a result. Please try again.",
			fmt.Errorf("neither image nor text extracted from candidate"))
	}

	if out.ImageBase64 != "" {
		log.Printf("✅ [Gateway] Received image from edit call (%s)", out.ImageMime)
	} else {
		log.Printf("ℹ️  [Gateway] Edit call returned text only")
	}
	return out, nil
}
