package stylist

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"ai-stylist-server/modules/common/apperr"
	"ai-stylist-server/modules/common/storage"
	"ai-stylist-server/modules/common/telemetry"
	"ai-stylist-server/modules/common/utils"
	"ai-stylist-server/modules/normalize"
	"ai-stylist-server/modules/session"
	"ai-stylist-server/modules/suggest"
	"ai-stylist-server/modules/workflow"
)

// 비동기 게이트웨이 호출 타임아웃
const gatewayTimeout = 120 * time.Second

// Gateway - 제안/생성 게이트웨이 경계 (*suggest.Gateway가 구현)
type Gateway interface {
	GeneralSuggestions(ctx context.Context, images []suggest.InlineImage, persona suggest.Persona) (*suggest.GeneralSuggestions, error)
	OutfitSuggestions(ctx context.Context, images []suggest.InlineImage, persona suggest.Persona, season, style string) ([]suggest.OutfitIdea, error)
	AnalyzeStyleReferences(ctx context.Context, refs []suggest.InlineImage) (*suggest.StyleAnalysis, error)
	ExpandPrompt(ctx context.Context, prompt string, persona suggest.Persona) (string, error)
	EditImage(ctx context.Context, req suggest.EditRequest) (*suggest.EditResult, error)
	TrendIdeas(ctx context.Context, sessionID string, force bool) ([]suggest.TrendIdea, error)
}

// Service - 스타일링 워크플로우 오케스트레이션
// 상태 전이는 전부 세션의 Dispatch(리듀서)를 통해 일어나고,
// Service는 게이트웨이 호출과 그 결과를 액션으로 변환하는 일만 한다.
type Service struct {
	gateway    Gateway
	manager    *session.Manager
	normalizer *normalize.Normalizer
	store      *storage.Client // nil이면 결과 보관 비활성
	queue      *Queue          // nil이면 인라인 생성

	flight singleflight.Group
}

func NewService(gateway Gateway, manager *session.Manager, normalizer *normalize.Normalizer, store *storage.Client, queue *Queue) *Service {
	return &Service{
		gateway:    gateway,
		manager:    manager,
		normalizer: normalizer,
		store:      store,
		queue:      queue,
	}
}

// personaOf - 인물 슬롯 → 게이트웨이 페르소나
func personaOf(p workflow.Person) suggest.Persona {
	return suggest.Persona{
		BodyShape:     p.BodyShape,
		Height:        p.Height,
		AgeRange:      p.AgeRange,
		PersonalStyle: p.PersonalStyle,
	}
}

// toInline - 정규화 이미지 → 게이트웨이 인라인 payload
func toInline(images []normalize.NormalizedImage) []suggest.InlineImage {
	out := make([]suggest.InlineImage, 0, len(images))
	for _, img := range images {
		out = append(out, suggest.InlineImage{Base64: img.Base64, MimeType: img.MimeType})
	}
	return out
}

// UploadPersonImages - 배치 정규화 후 인물 슬롯에 추가
// 일부 실패는 허용 (성공분만 추가), 전체 실패면 에러
func (sv *Service) UploadPersonImages(ctx context.Context, s *session.Session, personID int, files [][]byte) (workflow.State, int, error) {
	if personID < 1 || personID > 2 {
		return s.State(), 0, apperr.New(apperr.KindValidation, "Unknown person slot.")
	}
	if len(files) == 0 {
		return s.State(), 0, apperr.New(apperr.KindValidation, "No photos in the upload.")
	}

	images := sv.normalizer.NormalizeBatch(ctx, files)
	if len(images) == 0 {
		return s.State(), len(files), apperr.New(apperr.KindValidation,
			"None of the photos could be processed. Please try different images.")
	}

	// 입력이 바뀌었으므로 이 인물의 제안 캐시 무효화
	s.InvalidateSuggestions(personID)
	state := s.Dispatch(workflow.AddPersonImages{PersonID: personID, Images: images})

	dropped := len(files) - len(images)
	if dropped > 0 {
		log.Printf("⚠️  [Stylist] %d of %d photos dropped during normalization (session %s)",
			dropped, len(files), s.ID)
	}
	return state, dropped, nil
}

// RemovePersonImage - 인물 슬롯에서 이미지 제거
func (sv *Service) RemovePersonImage(s *session.Session, personID, index int) workflow.State {
	s.InvalidateSuggestions(personID)
	return s.Dispatch(workflow.RemovePersonImage{PersonID: personID, Index: index})
}

// SetPersonField - 인물 정보 필드 수정
func (sv *Service) SetPersonField(s *session.Session, personID int, field workflow.PersonField, value string) workflow.State {
	s.InvalidateSuggestions(personID)
	return s.Dispatch(workflow.SetPersonField{PersonID: personID, Field: field, Value: value})
}

// ReplaceStyleRefs - 스타일 레퍼런스 교체 (배치 정규화 포함)
func (sv *Service) ReplaceStyleRefs(ctx context.Context, s *session.Session, files [][]byte) (workflow.State, int, error) {
	if len(files) == 0 {
		return s.Dispatch(workflow.ReplaceStyleRefs{Images: nil}), 0, nil
	}

	images := sv.normalizer.NormalizeBatch(ctx, files)
	if len(images) == 0 {
		return s.State(), len(files), apperr.New(apperr.KindValidation,
			"None of the photos could be processed. Please try different images.")
	}

	state := s.Dispatch(workflow.ReplaceStyleRefs{Images: images})
	return state, len(files) - len(images), nil
}

// SaveInfo - 정보 저장 + 선택된 인물의 일반 제안(헤어스타일/포즈) 비동기 조회
// 조회 중 해당 인물의 입력이 바뀌면 펜스 불일치로 응답을 버리고,
// 인물 전환은 리듀서가 PersonID 불일치로 거른다.
func (sv *Service) SaveInfo(s *session.Session) workflow.State {
	state := s.Dispatch(workflow.SaveInfoStart{})

	person := state.SelectedPerson()
	if len(person.Images) == 0 {
		return s.Dispatch(workflow.SaveInfoError{PersonID: person.ID, Message: "Upload at least one photo first."})
	}

	personID := person.ID
	fence := s.BumpFence(personID)
	s.SetGeneralCell(personID, session.GeneralCell{Status: session.CellLoading})

	images := toInline(person.Images)
	persona := personaOf(person)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), gatewayTimeout)
		defer cancel()

		suggestions, err := sv.gateway.GeneralSuggestions(ctx, images, persona)

		if s.Fence(personID) != fence {
			log.Printf("🚧 [Stylist] Discarding stale suggestions for person %d (session %s)", personID, s.ID)
			telemetry.LogEvent("suggestions_discarded_stale", map[string]interface{}{
				"sessionId": s.ID, "personId": personID,
			})
			return
		}

		if err != nil {
			telemetry.LogError(err, "stylist.save_info")
			s.SetGeneralCell(personID, session.GeneralCell{
				Status: session.CellError,
				Error:  apperr.UserMessage(err),
			})
			s.Dispatch(workflow.SaveInfoError{PersonID: personID, Message: apperr.UserMessage(err)})
			return
		}

		s.SetGeneralCell(personID, session.GeneralCell{Status: session.CellReady, Data: suggestions})
		s.Dispatch(workflow.SaveInfoSuccess{PersonID: personID})
	}()

	return state
}

// Outfits - 시즌 × 스타일 의상 제안 (셀 캐시 + 동시 중복 호출 합치기)
func (sv *Service) Outfits(ctx context.Context, s *session.Session, personID int, season, style string) (session.OutfitCell, error) {
	if personID < 1 || personID > 2 {
		return session.OutfitCell{}, apperr.New(apperr.KindValidation, "Unknown person slot.")
	}
	if season == "" || style == "" {
		return session.OutfitCell{}, apperr.New(apperr.KindValidation, "season and style are required.")
	}

	key := session.OutfitKey(personID, season, style)
	if cell := s.OutfitCell(key); cell.Status == session.CellReady {
		return cell, nil
	}

	// 같은 셀에 대한 동시 요청은 게이트웨이 호출 한 번으로 합침
	flightKey := s.ID + "|" + key
	value, err, _ := sv.flight.Do(flightKey, func() (interface{}, error) {
		if cell := s.OutfitCell(key); cell.Status == session.CellReady {
			return cell, nil
		}

		state := s.State()
		person := state.People[personID-1]
		if len(person.Images) == 0 {
			return session.OutfitCell{}, apperr.New(apperr.KindValidation, "Upload at least one photo first.")
		}

		s.SetOutfitCell(key, session.OutfitCell{Status: session.CellLoading})

		outfits, err := sv.gateway.OutfitSuggestions(ctx, toInline(person.Images), personaOf(person), season, style)
		if err != nil {
			telemetry.LogError(err, "stylist.outfits")
			cell := session.OutfitCell{Status: session.CellError, Error: apperr.UserMessage(err)}
			s.SetOutfitCell(key, cell)
			return cell, err
		}

		cell := session.OutfitCell{Status: session.CellReady, Data: outfits}
		s.SetOutfitCell(key, cell)
		return cell, nil
	})

	cell, _ := value.(session.OutfitCell)
	return cell, err
}

// AnalyzeStyleRefs - 현재 스타일 레퍼런스 분석
func (sv *Service) AnalyzeStyleRefs(ctx context.Context, s *session.Session) (*suggest.StyleAnalysis, error) {
	state := s.State()
	return sv.gateway.AnalyzeStyleReferences(ctx, toInline(state.StyleRefs))
}

// Trends - 세션 단위 트렌드 아이디어 (타임박스 캐시는 게이트웨이가 관리)
func (sv *Service) Trends(ctx context.Context, s *session.Session, force bool) ([]suggest.TrendIdea, error) {
	return sv.gateway.TrendIdeas(ctx, s.ID, force)
}

// ExpandPrompt - 프롬프트 확장 후 세션 프롬프트에 반영
func (sv *Service) ExpandPrompt(ctx context.Context, s *session.Session) (workflow.State, string, error) {
	state := s.State()
	expanded, err := sv.gateway.ExpandPrompt(ctx, state.Prompt, personaOf(state.SelectedPerson()))
	if err != nil {
		return state, "", err
	}
	next := s.Dispatch(workflow.SetPrompt{Value: expanded})
	return next, expanded, nil
}

// Generate - 생성 시작. 리듀서가 사전조건을 통과시키면 잡을 큐에 넣고
// (Redis 미설정이면 인라인 고루틴), 결과는 나중에 액션으로 돌아온다.
func (sv *Service) Generate(s *session.Session) workflow.State {
	state := s.Dispatch(workflow.GenerateStart{})
	if state.GeneratingStatus != workflow.StatusGenerating {
		// 로컬 사전조건 실패 - 게이트웨이 호출 없음
		return state
	}

	seq := s.BumpGeneration()
	telemetry.LogEvent("generation_started", map[string]interface{}{
		"sessionId": s.ID,
		"people":    len(state.GenerationSet()),
		"combine":   state.CombineMode,
	})

	if sv.queue != nil {
		err := sv.queue.Enqueue(s.ID, seq)
		if err == nil {
			return state
		}
		log.Printf("⚠️  [Stylist] Queue enqueue failed, falling back to inline: %v", err)
		telemetry.LogError(err, "stylist.enqueue")
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), gatewayTimeout)
		defer cancel()
		sv.ProcessGeneration(ctx, s, seq)
	}()
	return state
}

// ProcessGeneration - 생성 잡 처리 (큐 워커와 인라인 폴백이 공유)
// seq가 세션의 현재 생성 펜스와 다르면 그 사이 새 요청이 들어온 것이므로 결과를 버린다.
func (sv *Service) ProcessGeneration(ctx context.Context, s *session.Session, seq uint64) {
	state := s.State()
	if state.GeneratingStatus != workflow.StatusGenerating || s.GenerationSeq() != seq {
		log.Printf("🚧 [Stylist] Skipping stale generation job (session %s, seq %d)", s.ID, seq)
		return
	}

	// 생성 집합 인물들의 이미지를 person-id 순서로, 레퍼런스는 그 뒤에
	people := state.GenerationSet()
	var subjects []suggest.InlineImage
	var personas []suggest.Persona
	for _, person := range people {
		subjects = append(subjects, toInline(person.Images)...)
		personas = append(personas, personaOf(person))
	}

	result, err := sv.gateway.EditImage(ctx, suggest.EditRequest{
		SubjectImages:     subjects,
		StyleRefs:         toInline(state.StyleRefs),
		Personas:          personas,
		Prompt:            state.Prompt,
		NegativePrompt:    state.NegativePrompt,
		CameraComposition: state.CameraComposition,
	})

	if s.GenerationSeq() != seq {
		log.Printf("🚧 [Stylist] Discarding stale generation result (session %s, seq %d)", s.ID, seq)
		telemetry.LogEvent("generation_discarded_stale", map[string]interface{}{"sessionId": s.ID})
		return
	}

	if err != nil {
		telemetry.LogError(err, "stylist.generate")
		s.Dispatch(workflow.GenerateError{Message: apperr.UserMessage(err)})
		return
	}

	genResult := workflow.GenerationResult{
		ImageBase64: result.ImageBase64,
		ImageMime:   result.ImageMime,
		Text:        result.Text,
	}

	// 히스토리 원본: 생성 집합 첫 인물의 첫 이미지
	var original *normalize.NormalizedImage
	if len(people) > 0 && len(people[0].Images) > 0 {
		img := people[0].Images[0]
		original = &img
	}

	s.Dispatch(workflow.GenerateSuccess{Result: genResult, OriginalImage: original})
	telemetry.LogEvent("generation_completed", map[string]interface{}{
		"sessionId": s.ID,
		"hasImage":  genResult.HasImage(),
	})

	if sv.store != nil && genResult.HasImage() {
		go sv.archiveResult(s.ID, state, genResult)
	}
}

// archiveResult - 결과 이미지를 Supabase에 best-effort 보관 (실패해도 워크플로우 무관)
func (sv *Service) archiveResult(sessionID string, state workflow.State, result workflow.GenerationResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	imageData, err := base64.StdEncoding.DecodeString(result.ImageBase64)
	if err != nil {
		telemetry.LogError(err, "stylist.archive.decode")
		return
	}

	filePath, size, err := sv.store.UploadResultImage(ctx, imageData, result.ImageMime, sessionID)
	if err != nil {
		telemetry.LogError(err, "stylist.archive.upload")
		return
	}

	if err := sv.store.InsertStylingRecord(ctx, storage.StylingRecord{
		SessionID:         sessionID,
		FilePath:          filePath,
		FileSize:          size,
		Prompt:            state.Prompt,
		NegativePrompt:    state.NegativePrompt,
		CameraComposition: state.CameraComposition,
		PeopleCount:       len(state.GenerationSet()),
	}); err != nil {
		telemetry.LogError(err, "stylist.archive.record")
	}
}

// ContinueEditing - 직전 결과 이미지를 새 원본으로 워크플로우 재시작
// dataURI가 주어지면 (클라이언트가 결과를 밖에서 가공해 온 경우) 그쪽을 원본으로 쓴다.
// data URI 형식이 깨져 있으면 검증 에러.
func (sv *Service) ContinueEditing(s *session.Session, dataURI string) (workflow.State, error) {
	state := s.State()

	var image normalize.NormalizedImage
	if dataURI != "" {
		mimeType, payload, err := utils.ParseDataURI(dataURI)
		if err != nil {
			return state, apperr.Wrap(apperr.KindValidation, "The provided image could not be read.", err)
		}
		image = normalize.NormalizedImage{Base64: payload, MimeType: mimeType}
	} else {
		if state.Result == nil || !state.Result.HasImage() {
			return state, apperr.New(apperr.KindValidation, "There is no result image to continue from.")
		}
		image = normalize.NormalizedImage{
			Base64:   state.Result.ImageBase64,
			MimeType: state.Result.ImageMime,
		}
	}
	// 새 원본이므로 양쪽 인물의 제안 캐시 전부 무효화
	s.InvalidateSuggestions(1)
	s.InvalidateSuggestions(2)

	return s.Dispatch(workflow.ContinueEditing{Image: image}), nil
}

// ResultDownload - 현재 결과 이미지의 바이트와 mime 반환 (다운로드 엔드포인트용)
func (sv *Service) ResultDownload(s *session.Session) ([]byte, string, error) {
	state := s.State()
	if state.Result == nil || !state.Result.HasImage() {
		return nil, "", apperr.New(apperr.KindValidation, "There is no result image yet.")
	}
	data, err := base64.StdEncoding.DecodeString(state.Result.ImageBase64)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindMalformed, "The result image is corrupted.",
			fmt.Errorf("decode result: %w", err))
	}
	return data, state.Result.ImageMime, nil
}
