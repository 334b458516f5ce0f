package workflow

import "ai-stylist-server/modules/normalize"

// MaxHistoryEntries - 세션 내 히스토리 보존 한도 (가장 오래된 항목부터 버림)
const MaxHistoryEntries = 50

// HistoryEntry - 완료된 생성의 스냅샷. 생성 이후 불변.
type HistoryEntry struct {
	Result            GenerationResult           `json:"result"`
	OriginalImage     *normalize.NormalizedImage `json:"originalImage,omitempty"`
	Prompt            string                     `json:"prompt"`
	NegativePrompt    string                     `json:"negativePrompt"`
	CameraComposition string                     `json:"cameraComposition"`
}

// appendHistory - 최신 항목이 앞에 오도록 추가, 한도 초과분은 뒤(가장 오래된)에서 버림
func appendHistory(history []HistoryEntry, entry HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(history)+1)
	out = append(out, entry)
	out = append(out, history...)
	if len(out) > MaxHistoryEntries {
		out = out[:MaxHistoryEntries]
	}
	return out
}

// ProjectHistory - 과거 항목을 라이브 상태로 투영하기 위한 조회 (히스토리 자체는 불변)
func ProjectHistory(history []HistoryEntry, index int) (HistoryEntry, bool) {
	if index < 0 || index >= len(history) {
		return HistoryEntry{}, false
	}
	return history[index], true
}
