package stylist

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"ai-stylist-server/modules/workflow"
)

func newTestServer(t *testing.T) (*httptest.Server, *Handler) {
	t.Helper()
	sv, manager := newTestService(&fakeGateway{})
	handler := NewHandler(sv, manager)
	r := mux.NewRouter()
	handler.RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, handler
}

func createSessionViaAPI(t *testing.T, server *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(server.URL+"/api/sessions", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.SessionID == "" {
		t.Fatal("missing sessionId")
	}
	return body.SessionID
}

func postJSON(t *testing.T, url string, payload string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeState(t *testing.T, resp *http.Response) workflow.State {
	t.Helper()
	defer resp.Body.Close()
	var body struct {
		State workflow.State `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body.State
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	sessionID := createSessionViaAPI(t, server)

	resp, err := http.Get(server.URL + "/api/sessions/" + sessionID)
	if err != nil {
		t.Fatal(err)
	}
	state := decodeState(t, resp)
	if state.AppStep != workflow.StepUpload {
		t.Errorf("new session must start at upload, got %s", state.AppStep)
	}

	resp, err = http.Get(server.URL + "/api/sessions/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session must 404, got %d", resp.StatusCode)
	}
}

func TestSetPeopleAndPromptOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	sessionID := createSessionViaAPI(t, server)
	base := server.URL + "/api/sessions/" + sessionID

	resp := postJSON(t, base+"/people", `{"count":2}`)
	state := decodeState(t, resp)
	if state.NumberOfPeople != 2 {
		t.Errorf("expected 2 people, got %d", state.NumberOfPeople)
	}

	resp = postJSON(t, base+"/prompt", `{"prompt":"red dress","combineMode":true}`)
	state = decodeState(t, resp)
	if state.Prompt != "red dress" || !state.CombineMode {
		t.Errorf("prompt fields must apply, got %+v", state)
	}

	// negativePrompt만 보내면 prompt는 유지
	resp = postJSON(t, base+"/prompt", `{"negativePrompt":"hats"}`)
	state = decodeState(t, resp)
	if state.Prompt != "red dress" || state.NegativePrompt != "hats" {
		t.Errorf("partial prompt update must not clobber other fields, got %+v", state)
	}
}

func TestPersonFieldValidationOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	sessionID := createSessionViaAPI(t, server)
	base := server.URL + "/api/sessions/" + sessionID

	resp := postJSON(t, base+"/people/1/info", `{"field":"bodyShape","value":"hourglass"}`)
	state := decodeState(t, resp)
	if state.People[0].BodyShape != "hourglass" {
		t.Errorf("field must apply, got %+v", state.People[0])
	}

	resp = postJSON(t, base+"/people/1/info", `{"field":"shoeSize","value":"270"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field must 400, got %d", resp.StatusCode)
	}
}

func TestImageUploadOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	sessionID := createSessionViaAPI(t, server)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("images", "photo.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(makePNGBytes(t))
	writer.Close()

	resp, err := http.Post(server.URL+"/api/sessions/"+sessionID+"/people/1/images",
		writer.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		State   workflow.State `json:"state"`
		Dropped int            `json:"dropped"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.State.People[0].Images) != 1 || body.Dropped != 0 {
		t.Errorf("expected 1 normalized image, got %d (dropped %d)",
			len(body.State.People[0].Images), body.Dropped)
	}
	if body.State.People[0].Images[0].MimeType != "image/webp" {
		t.Errorf("normalized image must be webp, got %s", body.State.People[0].Images[0].MimeType)
	}
}

func TestGeneratePreconditionOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	sessionID := createSessionViaAPI(t, server)

	resp := postJSON(t, server.URL+"/api/sessions/"+sessionID+"/generate", `{}`)
	state := decodeState(t, resp)
	if state.GeneratingStatus != workflow.StatusError {
		t.Errorf("generate without inputs must transition to error, got %s", state.GeneratingStatus)
	}
	if state.ErrorMessage == "" {
		t.Error("expected a user-facing precondition message")
	}
}

func TestOutfitsRequireSeasonAndStyle(t *testing.T) {
	server, _ := newTestServer(t)
	sessionID := createSessionViaAPI(t, server)

	resp, err := http.Get(server.URL + "/api/sessions/" + sessionID + "/outfits")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing season/style must 400, got %d", resp.StatusCode)
	}
}

func TestTrendsOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	sessionID := createSessionViaAPI(t, server)

	resp, err := http.Get(server.URL + "/api/sessions/" + sessionID + "/trends")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Trends []struct {
			Title string `json:"title"`
		} `json:"trends"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Trends) != 1 || body.Trends[0].Title == "" {
		t.Errorf("unexpected trends payload: %+v", body.Trends)
	}
}
