package suggest

import (
	"fmt"
	"strings"
)

// Persona - 선택적 구조화 속성. 비어있는 필드는 프롬프트에 어떤 문구도 남기지 않는다.
type Persona struct {
	BodyShape     string
	Height        string
	AgeRange      string
	PersonalStyle string
}

// Preamble - 비어있지 않은 속성만 자연어 서두로 접음
func (p Persona) Preamble() string {
	var facts []string
	if v := strings.TrimSpace(p.BodyShape); v != "" {
		facts = append(facts, fmt.Sprintf("body shape: %s", v))
	}
	if v := strings.TrimSpace(p.Height); v != "" {
		facts = append(facts, fmt.Sprintf("height: %scm", v))
	}
	if v := strings.TrimSpace(p.AgeRange); v != "" {
		facts = append(facts, fmt.Sprintf("age range: %s", v))
	}
	if v := strings.TrimSpace(p.PersonalStyle); v != "" {
		facts = append(facts, fmt.Sprintf("preferred personal style: %s", v))
	}
	if len(facts) == 0 {
		return ""
	}
	return "About this person - " + strings.Join(facts, ", ") + "."
}

// buildGeneralPrompt - 헤어스타일 + 포즈 제안 지시문
func buildGeneralPrompt(persona Persona) string {
	var b strings.Builder
	b.WriteString("You are a professional fashion stylist. Look at the attached portrait photo(s).\n")
	if preamble := persona.Preamble(); preamble != "" {
		b.WriteString(preamble)
		b.WriteString("\n")
	}
	b.WriteString("Suggest hairstyles that would suit this person and photo poses that would flatter them.\n")
	b.WriteString("Answer in JSON matching the declared schema. Each suggestion is one short phrase.")
	return b.String()
}

// buildOutfitPrompt - 시즌 × 스타일 의상 제안 지시문
func buildOutfitPrompt(persona Persona, season, style string) string {
	var b strings.Builder
	b.WriteString("You are a professional fashion stylist. Look at the attached portrait photo(s).\n")
	if preamble := persona.Preamble(); preamble != "" {
		b.WriteString(preamble)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Suggest complete outfits for the %s season in a %s style.\n", season, style)
	b.WriteString("For each outfit give a short title, a one-sentence description, and the garment items.\n")
	b.WriteString("Answer in JSON matching the declared schema.")
	return b.String()
}

// buildAnalyzePrompt - 스타일 레퍼런스 분석 지시문
func buildAnalyzePrompt() string {
	return "You are a professional fashion stylist. Analyze the style of the attached reference photo(s): " +
		"silhouette, color palette, fabric, mood. Summarize the style in a couple of sentences and list " +
		"short style keywords. Answer in JSON matching the declared schema."
}

// buildTrendPrompt - 업로드 사진과 무관한 트렌드 아이디어 지시문
func buildTrendPrompt() string {
	return "You are a professional fashion stylist. List current fashion trend ideas - looks, silhouettes " +
		"and color stories that are popular right now. For each give a short title and a one-sentence " +
		"description. Answer in JSON matching the declared schema."
}

// buildExpandPrompt - 사용자 프롬프트 확장 지시문
func buildExpandPrompt(persona Persona, prompt string) string {
	var b strings.Builder
	b.WriteString("You are a prompt writer for a fashion photo editing model.\n")
	if preamble := persona.Preamble(); preamble != "" {
		b.WriteString(preamble)
		b.WriteString("\n")
	}
	b.WriteString("Rewrite the user's styling request below into one rich, concrete instruction describing ")
	b.WriteString("garments, fabric, fit and styling details. Keep the user's intent. Reply with the ")
	b.WriteString("rewritten instruction only, no preamble, no quotes.\n\nUser request: ")
	b.WriteString(prompt)
	return b.String()
}

// EditRequest - 이미지 편집/생성 요청
type EditRequest struct {
	// SubjectImages - 대상 인물 이미지 (person-id 순서, 레퍼런스보다 먼저 전송)
	SubjectImages []InlineImage
	StyleRefs     []InlineImage
	Personas      []Persona
	Prompt        string
	NegativePrompt    string
	CameraComposition string
}

// InlineImage - 게이트웨이 경계의 인라인 이미지 payload
type InlineImage struct {
	Base64   string
	MimeType string
}

// buildEditInstruction - 편집 지시문 조합
// 페르소나 사실 + 구도 지시 + 네거티브 제외 조항 + (레퍼런스 있을 때) 복제 금지 지시
func buildEditInstruction(req EditRequest) string {
	var b strings.Builder
	b.WriteString("Edit the attached subject photo(s) according to the styling request below. ")
	b.WriteString("Keep the person's identity and facial features unchanged.\n")

	for i, persona := range req.Personas {
		if preamble := persona.Preamble(); preamble != "" {
			if len(req.Personas) > 1 {
				fmt.Fprintf(&b, "Person %d: %s\n", i+1, preamble)
			} else {
				b.WriteString(preamble)
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\nStyling request: ")
	b.WriteString(strings.TrimSpace(req.Prompt))
	b.WriteString("\n")

	if v := strings.TrimSpace(req.CameraComposition); v != "" {
		fmt.Fprintf(&b, "Composition: %s.\n", v)
	}
	if v := strings.TrimSpace(req.NegativePrompt); v != "" {
		fmt.Fprintf(&b, "Do NOT include any of the following: %s.\n", v)
	}
	if len(req.StyleRefs) > 0 {
		b.WriteString("The trailing image(s) are style references: borrow their mood, palette and styling, ")
		b.WriteString("but do not copy the reference outfits or the people in them directly.\n")
	}
	return b.String()
}
