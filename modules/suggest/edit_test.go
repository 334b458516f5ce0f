package suggest

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"google.golang.org/genai"

	"ai-stylist-server/modules/common/apperr"
)

func imageResponse(mime string, data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: mime, Data: data}},
			}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func TestClassifyEditResponseStages(t *testing.T) {
	cases := []struct {
		name     string
		response *genai.GenerateContentResponse
		wantKind apperr.Kind
	}{
		{
			name: "stage1 prompt blocked",
			response: &genai.GenerateContentResponse{
				PromptFeedback: &genai.GenerateContentResponsePromptFeedback{
					BlockReason: genai.BlockedReasonSafety,
				},
			},
			wantKind: apperr.KindSafetyBlocked,
		},
		{
			name:     "stage2 no candidates",
			response: &genai.GenerateContentResponse{},
			wantKind: apperr.KindSafetyBlocked,
		},
		{
			name: "stage3 finish safety",
			response: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
			},
			wantKind: apperr.KindSafetyBlocked,
		},
		{
			name: "stage3 finish recitation",
			response: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonRecitation}},
			},
			wantKind: apperr.KindRecitationBlocked,
		},
		{
			name: "stage3 finish max tokens",
			response: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonMaxTokens}},
			},
			wantKind: apperr.KindTokenLimit,
		},
		{
			name: "stage3 finish other",
			response: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonBlocklist}},
			},
			wantKind: apperr.KindTransport,
		},
		{
			name: "stage4 empty content",
			response: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonStop}},
			},
			wantKind: apperr.KindMalformed,
		},
		{
			name: "stage5 neither image nor text",
			response: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content:      &genai.Content{Parts: []*genai.Part{{}}},
					FinishReason: genai.FinishReasonStop,
				}},
			},
			wantKind: apperr.KindMalformed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := classifyEditResponse(tc.response)
			if err == nil {
				t.Fatal("expected classification error")
			}
			if got := apperr.KindOf(err); got != tc.wantKind {
				t.Errorf("expected kind %v, got %v", tc.wantKind, got)
			}
		})
	}
}

func TestClassifyEditResponseExtractsImageAndText(t *testing.T) {
	response := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Here is "},
				{InlineData: &genai.Blob{MIMEType: "image/webp", Data: []byte{9, 8, 7}}},
				{Text: "your look."},
			}},
			FinishReason: genai.FinishReasonStop,
		}},
	}

	out, err := classifyEditResponse(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ImageMime != "image/webp" {
		t.Errorf("expected image/webp, got %s", out.ImageMime)
	}
	if out.Text != "Here is your look." {
		t.Errorf("text parts must concatenate, got %q", out.Text)
	}
	if decoded, _ := base64.StdEncoding.DecodeString(out.ImageBase64); string(decoded) != string([]byte{9, 8, 7}) {
		t.Error("image bytes must round-trip through base64")
	}
}

func TestClassifyEditResponseDefaultsImageMime(t *testing.T) {
	out, err := classifyEditResponse(imageResponse("", []byte{1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ImageMime != "image/png" {
		t.Errorf("missing mime must default to image/png, got %s", out.ImageMime)
	}
}

func TestEditImageSubjectsPrecedeReferences(t *testing.T) {
	var captured []*genai.Content
	gen := func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		captured = contents
		if model != "image-model" {
			t.Errorf("edit calls must use the image model, got %s", model)
		}
		return imageResponse("image/png", []byte{1, 2, 3}), nil
	}
	g, _ := newTestGateway(gen)

	req := EditRequest{
		SubjectImages: []InlineImage{testInlineImage("person1"), testInlineImage("person2")},
		StyleRefs:     []InlineImage{testInlineImage("ref1")},
		Prompt:        "put them in a navy trench coat",
	}
	if _, err := g.EditImage(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(captured) != 1 {
		t.Fatalf("expected single content, got %d", len(captured))
	}
	parts := captured[0].Parts
	// 대상 2 + 레퍼런스 1 + 지시문 1
	if len(parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(parts))
	}
	for i, tag := range []string{"person1", "person2", "ref1"} {
		want := []byte("pixels-" + tag)
		if parts[i].InlineData == nil || string(parts[i].InlineData.Data) != string(want) {
			t.Errorf("part %d: expected image %q", i, tag)
		}
	}
	if parts[3].Text == "" {
		t.Error("instruction text must come last")
	}
	if !strings.Contains(parts[3].Text, "navy trench coat") {
		t.Error("instruction must carry the styling request")
	}
	if !strings.Contains(parts[3].Text, "style references") {
		t.Error("instruction must flag trailing images as references when present")
	}
}

func TestEditImageValidation(t *testing.T) {
	g, _ := newTestGateway(func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		t.Fatal("gateway must not be called on validation failure")
		return nil, nil
	})

	_, err := g.EditImage(context.Background(), EditRequest{Prompt: "anything"})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("missing subject images: expected validation kind, got %v", apperr.KindOf(err))
	}

	_, err = g.EditImage(context.Background(), EditRequest{
		SubjectImages: []InlineImage{testInlineImage("a")},
		Prompt:        "   ",
	})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("blank prompt: expected validation kind, got %v", apperr.KindOf(err))
	}
}

func TestBuildEditInstructionNegativeAndComposition(t *testing.T) {
	text := buildEditInstruction(EditRequest{
		SubjectImages:     []InlineImage{testInlineImage("a")},
		Prompt:            "red dress",
		NegativePrompt:    "hats, sunglasses",
		CameraComposition: "full body shot",
		Personas:          []Persona{{BodyShape: "petite"}, {AgeRange: "40s"}},
	})

	if !strings.Contains(text, "Do NOT include any of the following: hats, sunglasses") {
		t.Error("negative prompt must become an exclusion clause")
	}
	if !strings.Contains(text, "Composition: full body shot") {
		t.Error("camera composition must be carried into the instruction")
	}
	if !strings.Contains(text, "Person 1:") || !strings.Contains(text, "Person 2:") {
		t.Error("multi-person personas must be numbered")
	}
	if strings.Contains(text, "style references") {
		t.Error("no reference clause without style refs")
	}
}
