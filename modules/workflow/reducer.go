package workflow

import (
	"fmt"
	"strings"

	"ai-stylist-server/modules/normalize"
	"ai-stylist-server/modules/uploads"
)

// Reduce - (현재 상태, 액션)의 순수 함수. 항상 새 상태를 반환하며
// 입력 상태를 절대 제자리 수정하지 않는다.
func Reduce(state State, action Action) State {
	next := state.clone()

	switch a := action.(type) {

	case SetNumberOfPeople:
		count := a.Count
		if count < 1 {
			count = 1
		}
		if count > 2 {
			count = 2
		}
		next.NumberOfPeople = count
		next.SelectedPersonID = 1
		// 두 슬롯 모두 파괴적 리셋 - 이미지와 정보 전부 버림
		next.People = [2]Person{{ID: 1}, {ID: 2}}
		next.IsInfoSaved = false
		if count < 2 {
			next.CombineMode = false
		}

	case SelectPerson:
		if a.PersonID >= 1 && a.PersonID <= next.NumberOfPeople {
			if next.SelectedPersonID != a.PersonID {
				next.SelectedPersonID = a.PersonID
				// 제안은 선택된 인물 기준이므로 인물 전환 시 재확인 필요
				next.IsInfoSaved = false
				// 이전 인물의 조회 진행 표시도 이 시점부터 무의미
				next.SuggestionsLoading = false
			}
		}

	case AddPersonImages:
		if p := personIndex(a.PersonID); p >= 0 {
			next.People[p].Images = uploads.Add(next.People[p].Images, a.Images, next.MaxImagesPerSlot)
			if a.PersonID == next.SelectedPersonID {
				next.IsInfoSaved = false
			}
		}

	case RemovePersonImage:
		if p := personIndex(a.PersonID); p >= 0 {
			next.People[p].Images = uploads.Remove(next.People[p].Images, a.Index)
			if a.PersonID == next.SelectedPersonID {
				next.IsInfoSaved = false
			}
		}

	case SetPersonField:
		if p := personIndex(a.PersonID); p >= 0 {
			setPersonField(&next.People[p], a.Field, a.Value)
			if a.PersonID == next.SelectedPersonID {
				next.IsInfoSaved = false
			}
		}

	case ReplaceStyleRefs:
		next.StyleRefs = uploads.Replace(a.Images, next.MaxImagesPerSlot)

	case RemoveStyleRef:
		next.StyleRefs = uploads.Remove(next.StyleRefs, a.Index)

	case SetPrompt:
		next.Prompt = a.Value

	case SetNegativePrompt:
		next.NegativePrompt = a.Value

	case SetCameraComposition:
		next.CameraComposition = a.Value

	case SetCombineMode:
		next.CombineMode = a.Enabled && next.NumberOfPeople > 1

	case ProceedToInfo:
		next.AppStep = StepInfo

	case ReturnToInfo:
		next.AppStep = StepInfo
		next.GeneratingStatus = StatusIdle
		next.Result = nil
		next.ErrorMessage = ""
		next.LoadedFromHistory = false

	case SaveInfoStart:
		next.SuggestionsLoading = true
		next.ErrorMessage = ""

	case SaveInfoSuccess:
		// 조회 중 인물이 바뀌었으면 stale 응답 - 무시
		if a.PersonID != next.SelectedPersonID {
			break
		}
		next.SuggestionsLoading = false
		next.IsInfoSaved = true

	case SaveInfoError:
		if a.PersonID != next.SelectedPersonID {
			break
		}
		next.SuggestionsLoading = false
		next.IsInfoSaved = false
		next.ErrorMessage = a.Message

	case GenerateStart:
		next.LoadedFromHistory = false
		if msg, ok := generatePreconditions(next); !ok {
			// 로컬 검증 실패 - 게이트웨이 호출 없이 즉시 에러 전이
			next.AppStep = StepResult
			next.GeneratingStatus = StatusError
			next.Result = nil
			next.ErrorMessage = msg
		} else {
			next.AppStep = StepResult
			next.GeneratingStatus = StatusGenerating
			next.Result = nil
			next.ErrorMessage = ""
		}

	case GenerateSuccess:
		next.GeneratingStatus = StatusSuccess
		result := a.Result
		next.Result = &result
		next.ErrorMessage = ""
		next.LoadedFromHistory = false
		// 텍스트 전용 결과는 히스토리에 기록하지 않음
		if result.HasImage() {
			next.History = appendHistory(next.History, HistoryEntry{
				Result:            result,
				OriginalImage:     a.OriginalImage,
				Prompt:            next.Prompt,
				NegativePrompt:    next.NegativePrompt,
				CameraComposition: next.CameraComposition,
			})
		}

	case GenerateError:
		next.GeneratingStatus = StatusError
		next.Result = nil
		next.ErrorMessage = a.Message
		next.LoadedFromHistory = false

	case ContinueEditing:
		history := next.History
		fresh := InitialState(Capabilities{
			ShareSupported:   next.ShareSupported,
			MaxImagesPerSlot: next.MaxImagesPerSlot,
		})
		fresh.History = history
		fresh.AppStep = StepInfo
		fresh.People[0].Images = []normalize.NormalizedImage{a.Image}
		return fresh

	case LoadFromHistory:
		entry, ok := ProjectHistory(next.History, a.Index)
		if !ok {
			return next
		}
		result := entry.Result
		next.AppStep = StepResult
		next.GeneratingStatus = StatusSuccess
		next.Result = &result
		next.Prompt = entry.Prompt
		next.NegativePrompt = entry.NegativePrompt
		next.CameraComposition = entry.CameraComposition
		next.ErrorMessage = ""
		next.LoadedFromHistory = true

	case Reset:
		return InitialState(Capabilities{
			ShareSupported:   next.ShareSupported,
			MaxImagesPerSlot: next.MaxImagesPerSlot,
		})

	default:
		panic(fmt.Sprintf("workflow: unhandled action type %T", action))
	}

	return next
}

// generatePreconditions - GenerateStart 로컬 사전조건 검사
// 생성 집합의 모든 인물에 이미지 최소 1장 + 공백 제거 후 비어있지 않은 프롬프트
func generatePreconditions(s State) (string, bool) {
	for _, person := range s.GenerationSet() {
		if len(person.Images) == 0 {
			return fmt.Sprintf("Person %d has no uploaded photo yet.", person.ID), false
		}
	}
	if strings.TrimSpace(s.Prompt) == "" {
		return "Please enter a prompt before generating.", false
	}
	return "", true
}

// personIndex - person id(1|2)를 배열 인덱스로. 범위 밖이면 -1
func personIndex(personID int) int {
	if personID < 1 || personID > 2 {
		return -1
	}
	return personID - 1
}

func setPersonField(p *Person, field PersonField, value string) {
	switch field {
	case FieldBodyShape:
		p.BodyShape = value
	case FieldHeight:
		p.Height = value
	case FieldAgeRange:
		p.AgeRange = value
	case FieldPersonalStyle:
		p.PersonalStyle = value
	}
}
