package suggest

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"ai-stylist-server/modules/common/apperr"
)

// 제안 호출 결과 형태. 파싱된 payload는 클라이언트 측에서 스키마 재검증된다 -
// 필수 키 누락, 잘못된 원소 타입, 최소 1개 필요한데 빈 배열이면 MalformedResponse.

// GeneralSuggestions - 헤어스타일 + 포즈 제안
type GeneralSuggestions struct {
	Hairstyles []string `json:"hairstyles"`
	Poses      []string `json:"poses"`
}

// OutfitIdea - 시즌 × 스타일 의상 제안 한 건
type OutfitIdea struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Items       []string `json:"items"`
}

// StyleAnalysis - 레퍼런스 이미지 스타일 분석
type StyleAnalysis struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// TrendIdea - 업로드 사진과 무관한 트렌드 제안
type TrendIdea struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

var generalSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"hairstyles": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"poses":      {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"hairstyles", "poses"},
}

var outfitSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"outfits": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"title":       {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
					"items":       {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
				},
				Required: []string{"title", "description", "items"},
			},
		},
	},
	Required: []string{"outfits"},
}

var analyzeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary":  {Type: genai.TypeString},
		"keywords": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"summary", "keywords"},
}

var trendSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"trends": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"title":       {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
				},
				Required: []string{"title", "description"},
			},
		},
	},
	Required: []string{"trends"},
}

// parseGeneral - JSON 파싱 + 형태 검증
func parseGeneral(payload string) (*GeneralSuggestions, error) {
	var out GeneralSuggestions
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, malformed("general suggestions", err)
	}
	if len(out.Hairstyles) == 0 || len(out.Poses) == 0 {
		return nil, malformed("general suggestions", fmt.Errorf("empty hairstyles or poses array"))
	}
	if hasBlankEntry(out.Hairstyles) || hasBlankEntry(out.Poses) {
		return nil, malformed("general suggestions", fmt.Errorf("blank suggestion entry"))
	}
	return &out, nil
}

type outfitEnvelope struct {
	Outfits []OutfitIdea `json:"outfits"`
}

func parseOutfits(payload string) ([]OutfitIdea, error) {
	var env outfitEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, malformed("outfit suggestions", err)
	}
	if len(env.Outfits) == 0 {
		return nil, malformed("outfit suggestions", fmt.Errorf("empty outfits array"))
	}
	for _, outfit := range env.Outfits {
		if strings.TrimSpace(outfit.Title) == "" || len(outfit.Items) == 0 {
			return nil, malformed("outfit suggestions", fmt.Errorf("outfit missing title or items"))
		}
	}
	return env.Outfits, nil
}

func parseAnalysis(payload string) (*StyleAnalysis, error) {
	var out StyleAnalysis
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, malformed("style analysis", err)
	}
	if strings.TrimSpace(out.Summary) == "" || len(out.Keywords) == 0 {
		return nil, malformed("style analysis", fmt.Errorf("empty summary or keywords"))
	}
	return &out, nil
}

type trendEnvelope struct {
	Trends []TrendIdea `json:"trends"`
}

func parseTrends(payload string) ([]TrendIdea, error) {
	var env trendEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, malformed("trend ideas", err)
	}
	if len(env.Trends) == 0 {
		return nil, malformed("trend ideas", fmt.Errorf("empty trends array"))
	}
	for _, trend := range env.Trends {
		if strings.TrimSpace(trend.Title) == "" {
			return nil, malformed("trend ideas", fmt.Errorf("trend missing title"))
		}
	}
	return env.Trends, nil
}

func hasBlankEntry(entries []string) bool {
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			return true
		}
	}
	return false
}

func malformed(what string, err error) error {
	return apperr.Wrap(apperr.KindMalformed,
		fmt.Sprintf("Failed to get %s. Please try again.", what), err)
}
