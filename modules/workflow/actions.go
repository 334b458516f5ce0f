package workflow

import "ai-stylist-server/modules/normalize"

// Action - 전이의 닫힌 태그드 유니온.
// 새 전이는 여기 타입을 추가하고 Reduce의 switch에서 처리해야 한다.
// (처리 안 된 타입은 Reduce의 default 분기에서 panic)
type Action interface {
	isAction()
}

// SetNumberOfPeople - 인물 수 변경. 두 인물 슬롯 모두 무조건 리셋 (파괴적)
type SetNumberOfPeople struct {
	Count int
}

// SelectPerson - 활성 인물 선택
type SelectPerson struct {
	PersonID int
}

// AddPersonImages - 정규화 완료된 이미지를 인물 슬롯에 추가
type AddPersonImages struct {
	PersonID int
	Images   []normalize.NormalizedImage
}

// RemovePersonImage - 인물 슬롯에서 인덱스로 이미지 제거
type RemovePersonImage struct {
	PersonID int
	Index    int
}

// SetPersonField - 인물 정보 필드 수정 (닫힌 필드 enum)
type SetPersonField struct {
	PersonID int
	Field    PersonField
	Value    string
}

// ReplaceStyleRefs - 스타일 레퍼런스 슬롯 전체 교체
type ReplaceStyleRefs struct {
	Images []normalize.NormalizedImage
}

// RemoveStyleRef - 스타일 레퍼런스 제거
type RemoveStyleRef struct {
	Index int
}

// SetPrompt - 프롬프트 입력
type SetPrompt struct {
	Value string
}

// SetNegativePrompt - 네거티브 프롬프트 입력
type SetNegativePrompt struct {
	Value string
}

// SetCameraComposition - 카메라/구도 지시 입력
type SetCameraComposition struct {
	Value string
}

// SetCombineMode - 다인 합성 모드 토글
type SetCombineMode struct {
	Enabled bool
}

// ProceedToInfo - 업로드 단계에서 정보 입력 단계로
type ProceedToInfo struct{}

// ReturnToInfo - 결과 화면에서 정보 입력 단계로 명시적 복귀
type ReturnToInfo struct{}

// SaveInfoStart - 정보 저장 + 제안 조회 시작
type SaveInfoStart struct{}

// SaveInfoSuccess - 제안 조회 성공. 조회를 시작한 인물이 현재 선택 인물과
// 다르면 (조회 중 인물 전환) 리듀서가 버린다.
type SaveInfoSuccess struct {
	PersonID int
}

// SaveInfoError - 제안 조회 실패. 인물 불일치 시 버려지는 건 성공과 동일.
type SaveInfoError struct {
	PersonID int
	Message  string
}

// GenerateStart - 생성 시작. 로컬 사전조건 위반이면 게이트웨이 호출 없이 즉시 에러
type GenerateStart struct{}

// GenerateSuccess - 생성 성공. 이미지가 있을 때만 히스토리에 기록
type GenerateSuccess struct {
	Result        GenerationResult
	OriginalImage *normalize.NormalizedImage
}

// GenerateError - 생성 실패 (사용자용 메시지)
type GenerateError struct {
	Message string
}

// ContinueEditing - 직전 결과 이미지를 새 원본으로 워크플로우 재시작
// 히스토리는 유지, 나머지 세션 상태는 초기화
type ContinueEditing struct {
	Image normalize.NormalizedImage
}

// LoadFromHistory - 과거 항목을 라이브 상태로 투영 (순수 투영, 히스토리 불변)
type LoadFromHistory struct {
	Index int
}

// Reset - 완전 초기화 (능력치 필드만 유지)
type Reset struct{}

func (SetNumberOfPeople) isAction()    {}
func (SelectPerson) isAction()         {}
func (AddPersonImages) isAction()      {}
func (RemovePersonImage) isAction()    {}
func (SetPersonField) isAction()       {}
func (ReplaceStyleRefs) isAction()     {}
func (RemoveStyleRef) isAction()       {}
func (SetPrompt) isAction()            {}
func (SetNegativePrompt) isAction()    {}
func (SetCameraComposition) isAction() {}
func (SetCombineMode) isAction()       {}
func (ProceedToInfo) isAction()        {}
func (ReturnToInfo) isAction()         {}
func (SaveInfoStart) isAction()        {}
func (SaveInfoSuccess) isAction()      {}
func (SaveInfoError) isAction()        {}
func (GenerateStart) isAction()        {}
func (GenerateSuccess) isAction()      {}
func (GenerateError) isAction()        {}
func (ContinueEditing) isAction()      {}
func (LoadFromHistory) isAction()      {}
func (Reset) isAction()                {}
