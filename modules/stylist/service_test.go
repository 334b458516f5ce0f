package stylist

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"ai-stylist-server/modules/common/apperr"
	"ai-stylist-server/modules/normalize"
	"ai-stylist-server/modules/session"
	"ai-stylist-server/modules/suggest"
	"ai-stylist-server/modules/workflow"
)

// fakeGateway - 게이트웨이 경계의 프로그래밍 가능한 스텁
type fakeGateway struct {
	generalCalls int32
	outfitCalls  int32
	editCalls    int32

	generalErr error
	editErr    error
	editResult *suggest.EditResult

	// 설정 시 GeneralSuggestions가 닫힐 때까지 블록
	generalGate chan struct{}
	// EditImage 진입 직후 닫힘 (테스트가 진행 중임을 알 수 있게)
	editStarted chan struct{}
	editGate    chan struct{}
}

func (f *fakeGateway) GeneralSuggestions(ctx context.Context, images []suggest.InlineImage, persona suggest.Persona) (*suggest.GeneralSuggestions, error) {
	atomic.AddInt32(&f.generalCalls, 1)
	if f.generalGate != nil {
		<-f.generalGate
	}
	if f.generalErr != nil {
		return nil, f.generalErr
	}
	return &suggest.GeneralSuggestions{Hairstyles: []string{"bob"}, Poses: []string{"standing"}}, nil
}

func (f *fakeGateway) OutfitSuggestions(ctx context.Context, images []suggest.InlineImage, persona suggest.Persona, season, style string) ([]suggest.OutfitIdea, error) {
	atomic.AddInt32(&f.outfitCalls, 1)
	return []suggest.OutfitIdea{{Title: season + " " + style, Description: "look", Items: []string{"coat"}}}, nil
}

func (f *fakeGateway) AnalyzeStyleReferences(ctx context.Context, refs []suggest.InlineImage) (*suggest.StyleAnalysis, error) {
	return &suggest.StyleAnalysis{Summary: "minimal", Keywords: []string{"clean"}}, nil
}

func (f *fakeGateway) ExpandPrompt(ctx context.Context, prompt string, persona suggest.Persona) (string, error) {
	return "expanded: " + prompt, nil
}

func (f *fakeGateway) EditImage(ctx context.Context, req suggest.EditRequest) (*suggest.EditResult, error) {
	atomic.AddInt32(&f.editCalls, 1)
	if f.editStarted != nil {
		close(f.editStarted)
	}
	if f.editGate != nil {
		<-f.editGate
	}
	if f.editErr != nil {
		return nil, f.editErr
	}
	if f.editResult != nil {
		return f.editResult, nil
	}
	return &suggest.EditResult{
		ImageBase64: base64.StdEncoding.EncodeToString([]byte("styled")),
		ImageMime:   "image/png",
	}, nil
}

func (f *fakeGateway) TrendIdeas(ctx context.Context, sessionID string, force bool) ([]suggest.TrendIdea, error) {
	return []suggest.TrendIdea{{Title: "quiet luxury", Description: "muted basics"}}, nil
}

func newTestService(gw Gateway) (*Service, *session.Manager) {
	manager := session.NewManager(workflow.Capabilities{ShareSupported: true, MaxImagesPerSlot: 5})
	normalizer := normalize.New(1024, 85.0)
	return NewService(gw, manager, normalizer, nil, nil), manager
}

func makePNGBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func seedPersonImage(s *session.Session) {
	s.Dispatch(workflow.AddPersonImages{PersonID: 1, Images: []normalize.NormalizedImage{
		{Base64: base64.StdEncoding.EncodeToString([]byte("photo")), MimeType: "image/webp"},
	}})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestUploadPersonImagesRejectsAllFailed(t *testing.T) {
	sv, manager := newTestService(&fakeGateway{})
	s := manager.Create()

	_, dropped, err := sv.UploadPersonImages(context.Background(), s, 1, [][]byte{[]byte("not an image")})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("all-failed batch must be a validation error, got %v", err)
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped file, got %d", dropped)
	}
	if len(s.State().People[0].Images) != 0 {
		t.Error("failed batch must not touch the slot")
	}
}

func TestUploadPersonImagesPartialSuccess(t *testing.T) {
	sv, manager := newTestService(&fakeGateway{})
	s := manager.Create()

	files := [][]byte{makePNGBytes(t), []byte("garbage")}
	state, dropped, err := sv.UploadPersonImages(context.Background(), s, 1, files)
	if err != nil {
		t.Fatalf("partial failure must still succeed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", dropped)
	}
	if len(state.People[0].Images) != 1 {
		t.Errorf("expected 1 image in the slot, got %d", len(state.People[0].Images))
	}
}

func TestSaveInfoFillsCellAndMarksSaved(t *testing.T) {
	gw := &fakeGateway{}
	sv, manager := newTestService(gw)
	s := manager.Create()
	seedPersonImage(s)
	s.Dispatch(workflow.ProceedToInfo{})

	state := sv.SaveInfo(s)
	if !state.SuggestionsLoading {
		t.Fatal("save-info must enter the loading state")
	}

	waitFor(t, "suggestions to land", func() bool { return s.State().IsInfoSaved })

	cell := s.GeneralCell(1)
	if cell.Status != session.CellReady || cell.Data == nil {
		t.Errorf("expected ready cell, got %+v", cell)
	}
	if s.State().SuggestionsLoading {
		t.Error("loading flag must clear after success")
	}
}

func TestSaveInfoWithoutImagesFailsFast(t *testing.T) {
	gw := &fakeGateway{}
	sv, manager := newTestService(gw)
	s := manager.Create()

	state := sv.SaveInfo(s)
	if state.IsInfoSaved || state.SuggestionsLoading {
		t.Errorf("save-info without photos must fail immediately, got %+v", state)
	}
	if state.ErrorMessage == "" {
		t.Error("expected an error message")
	}
	if atomic.LoadInt32(&gw.generalCalls) != 0 {
		t.Error("gateway must not be called without photos")
	}
}

func TestSaveInfoDiscardsStaleResponse(t *testing.T) {
	gw := &fakeGateway{generalGate: make(chan struct{})}
	sv, manager := newTestService(gw)
	s := manager.Create()
	seedPersonImage(s)
	s.Dispatch(workflow.ProceedToInfo{})

	sv.SaveInfo(s)
	waitFor(t, "gateway call to start", func() bool { return atomic.LoadInt32(&gw.generalCalls) == 1 })

	// 조회가 떠 있는 동안 인물 입력 변경 → 펜스 이동
	sv.SetPersonField(s, 1, workflow.FieldBodyShape, "athletic")

	close(gw.generalGate)

	// 응답은 버려져야 함: 셀은 absent(무효화됨), IsInfoSaved는 false 유지
	time.Sleep(100 * time.Millisecond)
	if cell := s.GeneralCell(1); cell.Status == session.CellReady {
		t.Error("stale suggestions must not land in the cell")
	}
	if s.State().IsInfoSaved {
		t.Error("stale response must not mark info as saved")
	}
}

func TestSaveInfoIgnoresPersonSwitch(t *testing.T) {
	gw := &fakeGateway{generalGate: make(chan struct{})}
	sv, manager := newTestService(gw)
	s := manager.Create()
	s.Dispatch(workflow.SetNumberOfPeople{Count: 2})
	seedPersonImage(s)
	s.Dispatch(workflow.ProceedToInfo{})

	sv.SaveInfo(s)
	waitFor(t, "gateway call to start", func() bool { return atomic.LoadInt32(&gw.generalCalls) == 1 })

	// 조회가 떠 있는 동안 인물 전환 - 펜스는 그대로지만 응답은 버려져야 함
	s.Dispatch(workflow.SelectPerson{PersonID: 2})

	close(gw.generalGate)

	time.Sleep(100 * time.Millisecond)
	state := s.State()
	if state.IsInfoSaved {
		t.Error("suggestions fetched for person 1 must not mark person 2 as saved")
	}
	if state.SuggestionsLoading {
		t.Error("loading flag must not linger after the person switch")
	}
}

func TestOutfitsCachedPerCell(t *testing.T) {
	gw := &fakeGateway{}
	sv, manager := newTestService(gw)
	s := manager.Create()
	seedPersonImage(s)

	first, err := sv.Outfits(context.Background(), s, 1, "winter", "casual")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Status != session.CellReady || len(first.Data) != 1 {
		t.Fatalf("expected ready cell, got %+v", first)
	}

	// 같은 셀 재요청은 게이트웨이를 다시 부르지 않음
	if _, err := sv.Outfits(context.Background(), s, 1, "winter", "casual"); err != nil {
		t.Fatal(err)
	}
	if calls := atomic.LoadInt32(&gw.outfitCalls); calls != 1 {
		t.Errorf("cached cell must not refetch, got %d calls", calls)
	}

	// 다른 시즌×스타일은 독립 셀
	if _, err := sv.Outfits(context.Background(), s, 1, "summer", "casual"); err != nil {
		t.Fatal(err)
	}
	if calls := atomic.LoadInt32(&gw.outfitCalls); calls != 2 {
		t.Errorf("distinct cell must fetch, got %d calls", calls)
	}
}

func TestGeneratePreconditionFailureSkipsGateway(t *testing.T) {
	gw := &fakeGateway{}
	sv, manager := newTestService(gw)
	s := manager.Create()
	// 이미지도 프롬프트도 없음

	state := sv.Generate(s)
	if state.GeneratingStatus != workflow.StatusError {
		t.Errorf("expected error transition, got %s", state.GeneratingStatus)
	}
	if atomic.LoadInt32(&gw.editCalls) != 0 {
		t.Error("local precondition failure must not reach the gateway")
	}
}

func TestGenerateInlineSuccess(t *testing.T) {
	gw := &fakeGateway{}
	sv, manager := newTestService(gw)
	s := manager.Create()
	seedPersonImage(s)
	s.Dispatch(workflow.SetPrompt{Value: "red dress"})

	state := sv.Generate(s)
	if state.GeneratingStatus != workflow.StatusGenerating {
		t.Fatalf("expected generating, got %s", state.GeneratingStatus)
	}

	waitFor(t, "generation to complete", func() bool {
		return s.State().GeneratingStatus == workflow.StatusSuccess
	})

	final := s.State()
	if final.Result == nil || !final.Result.HasImage() {
		t.Fatal("expected an image result")
	}
	if len(final.History) != 1 {
		t.Errorf("image result must be recorded in history, got %d entries", len(final.History))
	}
}

func TestGenerateDiscardsStaleResult(t *testing.T) {
	gw := &fakeGateway{
		editStarted: make(chan struct{}),
		editGate:    make(chan struct{}),
	}
	sv, manager := newTestService(gw)
	s := manager.Create()
	seedPersonImage(s)
	s.Dispatch(workflow.SetPrompt{Value: "red dress"})

	sv.Generate(s)
	<-gw.editStarted

	// 첫 호출이 떠 있는 동안 펜스가 이동하면 그 결과는 버려져야 함
	s.BumpGeneration()
	close(gw.editGate)

	time.Sleep(100 * time.Millisecond)
	if s.State().GeneratingStatus == workflow.StatusSuccess {
		t.Error("stale generation result must be discarded")
	}
}

func TestGenerateErrorSurfacesMessage(t *testing.T) {
	gw := &fakeGateway{editErr: apperr.New(apperr.KindSafetyBlocked, "The request was blocked by the content policy.")}
	sv, manager := newTestService(gw)
	s := manager.Create()
	seedPersonImage(s)
	s.Dispatch(workflow.SetPrompt{Value: "red dress"})

	sv.Generate(s)
	waitFor(t, "generation error", func() bool {
		return s.State().GeneratingStatus == workflow.StatusError
	})

	state := s.State()
	if state.Result != nil {
		t.Error("error transition must clear the result")
	}
	if state.ErrorMessage == "" {
		t.Error("expected a user-facing error message")
	}
}

func TestContinueEditingRequiresImageResult(t *testing.T) {
	sv, manager := newTestService(&fakeGateway{})
	s := manager.Create()

	if _, err := sv.ContinueEditing(s, ""); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("continue without a result must be a validation error, got %v", err)
	}

	// 형식이 깨진 data URI도 검증 에러
	if _, err := sv.ContinueEditing(s, "data:image/png;base64,!!!"); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("malformed data URI must be a validation error, got %v", err)
	}
}

func TestContinueEditingFromDataURI(t *testing.T) {
	sv, manager := newTestService(&fakeGateway{})
	s := manager.Create()

	payload := base64.StdEncoding.EncodeToString([]byte("edited"))
	state, err := sv.ContinueEditing(s, "data:image/webp;base64,"+payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.People[0].Images) != 1 || state.People[0].Images[0].Base64 != payload {
		t.Error("the supplied image must become the new original")
	}
	if state.People[0].Images[0].MimeType != "image/webp" {
		t.Errorf("mime type must come from the data URI, got %s", state.People[0].Images[0].MimeType)
	}
}

func TestContinueEditingSeedsNewWorkflow(t *testing.T) {
	gw := &fakeGateway{}
	sv, manager := newTestService(gw)
	s := manager.Create()
	seedPersonImage(s)
	s.Dispatch(workflow.SetPrompt{Value: "red dress"})

	sv.Generate(s)
	waitFor(t, "generation", func() bool { return s.State().GeneratingStatus == workflow.StatusSuccess })

	resultImage := s.State().Result.ImageBase64

	state, err := sv.ContinueEditing(s, "")
	if err != nil {
		t.Fatal(err)
	}
	if state.AppStep != workflow.StepInfo {
		t.Errorf("continue-editing must land on the info step, got %s", state.AppStep)
	}
	if len(state.People[0].Images) != 1 || state.People[0].Images[0].Base64 != resultImage {
		t.Error("the previous result must become the new original")
	}
	if len(state.History) != 1 {
		t.Error("history must survive continue-editing")
	}
	if state.Prompt != "" {
		t.Error("prompt must reset for the new round")
	}
}

func TestExpandPromptUpdatesSession(t *testing.T) {
	sv, manager := newTestService(&fakeGateway{})
	s := manager.Create()
	s.Dispatch(workflow.SetPrompt{Value: "blue suit"})

	state, expanded, err := sv.ExpandPrompt(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if expanded != "expanded: blue suit" {
		t.Errorf("unexpected expansion: %q", expanded)
	}
	if state.Prompt != expanded {
		t.Error("expanded prompt must be written back to the session")
	}
}

func TestResultDownload(t *testing.T) {
	gw := &fakeGateway{}
	sv, manager := newTestService(gw)
	s := manager.Create()

	if _, _, err := sv.ResultDownload(s); apperr.KindOf(err) != apperr.KindValidation {
		t.Error("download without a result must be a validation error")
	}

	seedPersonImage(s)
	s.Dispatch(workflow.SetPrompt{Value: "red dress"})
	sv.Generate(s)
	waitFor(t, "generation", func() bool { return s.State().GeneratingStatus == workflow.StatusSuccess })

	data, mimeType, err := sv.ResultDownload(s)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "styled" || mimeType != "image/png" {
		t.Errorf("unexpected download payload: %q %s", data, mimeType)
	}
}
