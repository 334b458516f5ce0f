package workflow

import "ai-stylist-server/modules/normalize"

// AppStep - 워크플로우 화면 단계
type AppStep string

const (
	StepUpload AppStep = "upload"
	StepInfo   AppStep = "info"
	StepResult AppStep = "result"
)

// GeneratingStatus - 생성 요청 상태
type GeneratingStatus string

const (
	StatusIdle       GeneratingStatus = "idle"
	StatusGenerating GeneratingStatus = "generating"
	StatusSuccess    GeneratingStatus = "success"
	StatusError      GeneratingStatus = "error"
)

// PersonField - 인물 정보 필드 (닫힌 집합)
// 동적 키 대입 대신 명시적 필드 enum으로 어떤 필드가 존재하는지 정적으로 검증 가능
type PersonField string

const (
	FieldBodyShape     PersonField = "bodyShape"
	FieldHeight        PersonField = "height"
	FieldAgeRange      PersonField = "ageRange"
	FieldPersonalStyle PersonField = "personalStyle"
)

// Person - 인물 슬롯. numberOfPeople과 무관하게 1, 2번 모두 생성되며
// 활성 구간(people[0..numberOfPeople))만 의미를 가진다.
type Person struct {
	ID            int                         `json:"id"`
	Images        []normalize.NormalizedImage `json:"images"`
	BodyShape     string                      `json:"bodyShape"`
	Height        string                      `json:"height"`
	AgeRange      string                      `json:"ageRange"`
	PersonalStyle string                      `json:"personalStyle"`
}

// GenerationResult - 생성 호출 결과 (이미지 그리고/또는 텍스트)
type GenerationResult struct {
	ImageBase64 string `json:"imageBase64,omitempty"`
	ImageMime   string `json:"imageMime,omitempty"`
	Text        string `json:"text,omitempty"`
}

// HasImage - 이미지 조각이 있는지
func (r GenerationResult) HasImage() bool {
	return r.ImageBase64 != ""
}

// Stage - 외부에 의미 있는 유효 워크플로우 스테이지 (상태 조합에서 파생)
type Stage string

const (
	StageUpload        Stage = "upload"
	StageInfo          Stage = "info"
	StageSuggestions   Stage = "suggestions"
	StageGenerating    Stage = "generating"
	StageResult        Stage = "result"
	StageHistoryLoaded Stage = "history-loaded"
)

// Capabilities - 시작 시 한 번 프로브되는 능력치
// 모듈 전역 가변 플래그 대신 루트 상태 안의 명시적 필드로 보관한다.
type Capabilities struct {
	ShareSupported   bool
	MaxImagesPerSlot int
}

// State - 단일 루트 집합체. 전이 함수(Reduce)를 통해서만 변경된다.
type State struct {
	AppStep          AppStep          `json:"appStep"`
	GeneratingStatus GeneratingStatus `json:"generatingStatus"`

	NumberOfPeople   int       `json:"numberOfPeople"`
	SelectedPersonID int       `json:"selectedPersonId"`
	People           [2]Person `json:"people"`

	StyleRefs []normalize.NormalizedImage `json:"styleRefs"`

	Prompt            string `json:"prompt"`
	NegativePrompt    string `json:"negativePrompt"`
	CameraComposition string `json:"cameraComposition"`
	CombineMode       bool   `json:"combineMode"`

	IsInfoSaved        bool `json:"isInfoSaved"`
	SuggestionsLoading bool `json:"suggestionsLoading"`

	Result            *GenerationResult `json:"result"`
	ErrorMessage      string            `json:"errorMessage,omitempty"`
	LoadedFromHistory bool              `json:"loadedFromHistory"`

	History []HistoryEntry `json:"history"`

	// 능력치 (Reset에도 유지)
	ShareSupported   bool `json:"shareSupported"`
	MaxImagesPerSlot int  `json:"maxImagesPerSlot"`
}

// InitialState - 애플리케이션 시작 시 단 한 번 생성되는 초기 상태
func InitialState(caps Capabilities) State {
	maxPerSlot := caps.MaxImagesPerSlot
	if maxPerSlot <= 0 {
		maxPerSlot = 5
	}
	return State{
		AppStep:          StepUpload,
		GeneratingStatus: StatusIdle,
		NumberOfPeople:   1,
		SelectedPersonID: 1,
		People:           [2]Person{{ID: 1}, {ID: 2}},
		ShareSupported:   caps.ShareSupported,
		MaxImagesPerSlot: maxPerSlot,
	}
}

// SelectedPerson - 현재 선택된 인물
func (s State) SelectedPerson() Person {
	return s.People[s.SelectedPersonID-1]
}

// ActivePeople - 활성 인물 목록 (person-id 순서)
func (s State) ActivePeople() []Person {
	out := make([]Person, 0, s.NumberOfPeople)
	for i := 0; i < s.NumberOfPeople && i < len(s.People); i++ {
		out = append(out, s.People[i])
	}
	return out
}

// GenerationSet - 생성 요청에 포함되는 인물 집합
// combine 모드면 모든 활성 인물, 아니면 선택된 인물만
func (s State) GenerationSet() []Person {
	if s.CombineMode && s.NumberOfPeople > 1 {
		return s.ActivePeople()
	}
	return []Person{s.SelectedPerson()}
}

// Stage - 상태 조합에서 유효 스테이지 파생
func (s State) Stage() Stage {
	switch s.AppStep {
	case StepUpload:
		return StageUpload
	case StepInfo:
		if s.IsInfoSaved {
			return StageSuggestions
		}
		return StageInfo
	case StepResult:
		if s.GeneratingStatus == StatusGenerating {
			return StageGenerating
		}
		if s.LoadedFromHistory {
			return StageHistoryLoaded
		}
		return StageResult
	}
	return StageUpload
}

// clone - 깊은 복사. Reduce는 절대 이전 상태를 제자리 수정하지 않는다.
// (이후의 변경이 history에 저장된 스냅샷을 소급 변경하면 안 됨)
func (s State) clone() State {
	next := s

	for i := range next.People {
		images := make([]normalize.NormalizedImage, len(s.People[i].Images))
		copy(images, s.People[i].Images)
		next.People[i].Images = images
	}

	refs := make([]normalize.NormalizedImage, len(s.StyleRefs))
	copy(refs, s.StyleRefs)
	next.StyleRefs = refs

	history := make([]HistoryEntry, len(s.History))
	copy(history, s.History)
	next.History = history

	if s.Result != nil {
		result := *s.Result
		next.Result = &result
	}

	return next
}
