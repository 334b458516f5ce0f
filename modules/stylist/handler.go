package stylist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"ai-stylist-server/modules/common/apperr"
	"ai-stylist-server/modules/common/utils"
	"ai-stylist-server/modules/session"
	"ai-stylist-server/modules/workflow"
)

const maxUploadBytes = 32 << 20

// Handler - 스타일링 워크플로우 HTTP 핸들러
type Handler struct {
	service *Service
	manager *session.Manager
}

func NewHandler(service *Service, manager *session.Manager) *Handler {
	return &Handler{service: service, manager: manager}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/sessions", h.createSession).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}", h.getSession).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}", h.deleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{sessionId}/reset", h.reset).Methods("POST")

	api.HandleFunc("/sessions/{sessionId}/people", h.setNumberOfPeople).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/people/{personId}/select", h.selectPerson).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/people/{personId}/images", h.uploadPersonImages).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/people/{personId}/images/{index}", h.removePersonImage).Methods("DELETE")
	api.HandleFunc("/sessions/{sessionId}/people/{personId}/info", h.setPersonField).Methods("POST")

	api.HandleFunc("/sessions/{sessionId}/style-refs", h.replaceStyleRefs).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/style-refs/{index}", h.removeStyleRef).Methods("DELETE")
	api.HandleFunc("/sessions/{sessionId}/style-refs/analyze", h.analyzeStyleRefs).Methods("POST")

	api.HandleFunc("/sessions/{sessionId}/proceed", h.proceedToInfo).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/return", h.returnToInfo).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/save-info", h.saveInfo).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/suggestions", h.getSuggestions).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/outfits", h.getOutfits).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/trends", h.getTrends).Methods("GET")

	api.HandleFunc("/sessions/{sessionId}/prompt", h.setPromptFields).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/expand-prompt", h.expandPrompt).Methods("POST")

	api.HandleFunc("/sessions/{sessionId}/generate", h.generate).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/continue", h.continueEditing).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/history/{index}/load", h.loadFromHistory).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/result", h.getResult).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/result/download", h.downloadResult).Methods("GET")
}

// --- JSON 헬퍼 ---

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeState(w http.ResponseWriter, state workflow.State) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stage": state.Stage(),
		"state": state,
	})
}

// writeError - apperr 분류를 HTTP 상태 코드로 변환
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindRateLimited:
		status = http.StatusTooManyRequests
	case apperr.KindSafetyBlocked, apperr.KindRecitationBlocked, apperr.KindTokenLimit:
		status = http.StatusUnprocessableEntity
	case apperr.KindMalformed, apperr.KindTransport:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": apperr.UserMessage(err)})
}

func (h *Handler) sessionFrom(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sessionID := mux.Vars(r)["sessionId"]
	s, ok := h.manager.Get(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return nil, false
	}
	return s, true
}

func pathInt(r *http.Request, name string) (int, error) {
	value, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		return 0, apperr.New(apperr.KindValidation, fmt.Sprintf("Invalid %s.", name))
	}
	return value, nil
}

// readFiles - multipart 폼의 파일들을 바이트 배열로 읽음
func readFiles(r *http.Request, field string) ([][]byte, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "Could not read the upload.", err)
	}
	if r.MultipartForm == nil {
		return nil, nil
	}

	var files [][]byte
	for _, header := range r.MultipartForm.File[field] {
		file, err := header.Open()
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "Could not read the upload.", err)
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "Could not read the upload.", err)
		}
		files = append(files, data)
	}
	return files, nil
}

// --- 세션 수명주기 ---

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	s := h.manager.Create()
	state := s.State()
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionId": s.ID,
		"stage":     state.Stage(),
		"state":     state,
	})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	writeState(w, s.State())
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if !h.manager.Remove(sessionID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	s.InvalidateSuggestions(1)
	s.InvalidateSuggestions(2)
	writeState(w, s.Dispatch(workflow.Reset{}))
}

// --- 인물 슬롯 ---

func (h *Handler) setNumberOfPeople(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "Invalid request body.", err))
		return
	}

	// 인원 수 변경은 양쪽 슬롯을 파괴적으로 리셋하므로 캐시도 전부 비움
	s.InvalidateSuggestions(1)
	s.InvalidateSuggestions(2)
	writeState(w, s.Dispatch(workflow.SetNumberOfPeople{Count: body.Count}))
}

func (h *Handler) selectPerson(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	personID, err := pathInt(r, "personId")
	if err != nil {
		writeError(w, err)
		return
	}
	writeState(w, s.Dispatch(workflow.SelectPerson{PersonID: personID}))
}

func (h *Handler) uploadPersonImages(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	personID, err := pathInt(r, "personId")
	if err != nil {
		writeError(w, err)
		return
	}

	files, err := readFiles(r, "images")
	if err != nil {
		writeError(w, err)
		return
	}

	state, dropped, err := h.service.UploadPersonImages(r.Context(), s, personID, files)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stage":   state.Stage(),
		"state":   state,
		"dropped": dropped,
	})
}

func (h *Handler) removePersonImage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	personID, err := pathInt(r, "personId")
	if err != nil {
		writeError(w, err)
		return
	}
	index, err := pathInt(r, "index")
	if err != nil {
		writeError(w, err)
		return
	}
	writeState(w, h.service.RemovePersonImage(s, personID, index))
}

// personFieldFromString - 닫힌 필드 enum 검증
func personFieldFromString(value string) (workflow.PersonField, error) {
	switch workflow.PersonField(value) {
	case workflow.FieldBodyShape, workflow.FieldHeight, workflow.FieldAgeRange, workflow.FieldPersonalStyle:
		return workflow.PersonField(value), nil
	}
	return "", apperr.New(apperr.KindValidation, fmt.Sprintf("Unknown field %q.", value))
}

func (h *Handler) setPersonField(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	personID, err := pathInt(r, "personId")
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "Invalid request body.", err))
		return
	}

	field, err := personFieldFromString(body.Field)
	if err != nil {
		writeError(w, err)
		return
	}

	writeState(w, h.service.SetPersonField(s, personID, field, body.Value))
}

// --- 스타일 레퍼런스 ---

func (h *Handler) replaceStyleRefs(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}

	files, err := readFiles(r, "images")
	if err != nil {
		writeError(w, err)
		return
	}

	state, dropped, err := h.service.ReplaceStyleRefs(r.Context(), s, files)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stage":   state.Stage(),
		"state":   state,
		"dropped": dropped,
	})
}

func (h *Handler) removeStyleRef(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	index, err := pathInt(r, "index")
	if err != nil {
		writeError(w, err)
		return
	}
	writeState(w, s.Dispatch(workflow.RemoveStyleRef{Index: index}))
}

func (h *Handler) analyzeStyleRefs(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	analysis, err := h.service.AnalyzeStyleRefs(r.Context(), s)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// --- 워크플로우 전이 ---

func (h *Handler) proceedToInfo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	writeState(w, s.Dispatch(workflow.ProceedToInfo{}))
}

func (h *Handler) returnToInfo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	writeState(w, s.Dispatch(workflow.ReturnToInfo{}))
}

func (h *Handler) saveInfo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	writeState(w, h.service.SaveInfo(s))
}

func (h *Handler) getSuggestions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	personID := s.State().SelectedPersonID
	if raw := r.URL.Query().Get("personId"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apperr.New(apperr.KindValidation, "Invalid personId."))
			return
		}
		personID = parsed
	}
	writeJSON(w, http.StatusOK, s.GeneralCell(personID))
}

func (h *Handler) getOutfits(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}

	personID := s.State().SelectedPersonID
	if raw := r.URL.Query().Get("personId"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apperr.New(apperr.KindValidation, "Invalid personId."))
			return
		}
		personID = parsed
	}

	season := r.URL.Query().Get("season")
	style := r.URL.Query().Get("style")

	cell, err := h.service.Outfits(r.Context(), s, personID, season, style)
	if err != nil && apperr.KindOf(err) == apperr.KindValidation {
		writeError(w, err)
		return
	}
	// 게이트웨이 에러는 셀에 담겨 나감 - 클라이언트는 셀 상태로 표시
	writeJSON(w, http.StatusOK, cell)
}

func (h *Handler) getTrends(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	ideas, err := h.service.Trends(r.Context(), s, force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trends": ideas})
}

// --- 프롬프트 ---

func (h *Handler) setPromptFields(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}

	// 모든 필드는 선택적 - 제공된 것만 반영
	var body struct {
		Prompt            *string `json:"prompt"`
		NegativePrompt    *string `json:"negativePrompt"`
		CameraComposition *string `json:"cameraComposition"`
		CombineMode       *bool   `json:"combineMode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "Invalid request body.", err))
		return
	}

	state := s.State()
	if body.Prompt != nil {
		state = s.Dispatch(workflow.SetPrompt{Value: *body.Prompt})
	}
	if body.NegativePrompt != nil {
		state = s.Dispatch(workflow.SetNegativePrompt{Value: *body.NegativePrompt})
	}
	if body.CameraComposition != nil {
		state = s.Dispatch(workflow.SetCameraComposition{Value: *body.CameraComposition})
	}
	if body.CombineMode != nil {
		state = s.Dispatch(workflow.SetCombineMode{Enabled: *body.CombineMode})
	}
	writeState(w, state)
}

func (h *Handler) expandPrompt(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	state, expanded, err := h.service.ExpandPrompt(r.Context(), s)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stage":    state.Stage(),
		"state":    state,
		"expanded": expanded,
	})
}

// --- 생성 / 히스토리 ---

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	writeState(w, h.service.Generate(s))
}

func (h *Handler) continueEditing(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}

	// body는 선택적 - image가 있으면 그 data URI를 새 원본으로 사용
	var body struct {
		Image string `json:"image"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	state, err := h.service.ContinueEditing(s, body.Image)
	if err != nil {
		writeError(w, err)
		return
	}
	writeState(w, state)
}

// getResult - 현재 결과를 data URI 형태로 반환 (클라이언트 인라인 표시용)
func (h *Handler) getResult(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}

	state := s.State()
	if state.Result == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "No result yet"})
		return
	}

	payload := map[string]interface{}{"text": state.Result.Text}
	if state.Result.HasImage() {
		payload["dataUri"] = utils.BuildDataURI(state.Result.ImageMime, state.Result.ImageBase64)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) loadFromHistory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	index, err := pathInt(r, "index")
	if err != nil {
		writeError(w, err)
		return
	}
	writeState(w, s.Dispatch(workflow.LoadFromHistory{Index: index}))
}

func (h *Handler) downloadResult(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}

	data, mimeType, err := h.service.ResultDownload(s)
	if err != nil {
		writeError(w, err)
		return
	}

	fileName := "ai-stylist-result." + utils.ExtensionForMime(mimeType)
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		log.Printf("⚠️  [Stylist] Failed to write result download: %v", err)
	}
}
