package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/secrethound/secrethound/internal/config"
	"github.com/secrethound/secrethound/internal/courier"
	"github.com/secrethound/secrethound/internal/queue"
	"github.com/secrethound/secrethound/internal/repository"
	"github.com/secrethound/secrethound/models"
)

const testAPIKey = "test-key"

// fakeHub resolves every ref to a fixed commit, or rejects everything when
// exists is false.
type fakeHub struct {
	exists  bool
	commit  string
	message string
}

func (f *fakeHub) ResolveRef(ctx context.Context, repoURL, refType, ref string) (bool, string, string) {
	return f.exists, f.commit, f.message
}

func (f *fakeHub) FetchArchive(ctx context.Context, repoURL, commit, destDir string) (string, error) {
	return destDir, nil
}

func testGateway(t *testing.T, hub repository.Hub, maxWorkers int) (*Gateway, http.Handler) {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	cfg := &config.Config{
		APIKey:          testAPIKey,
		MaxWorkers:      maxWorkers,
		IOSlots:         5,
		CPUSlots:        2,
		TempDir:         t.TempDir(),
		SettingsDir:     t.TempDir(),
		PATKey:          key,
		JanitorSchedule: "@every 1h",
	}
	creds, err := repository.NewCredentialStore(cfg)
	if err != nil {
		t.Fatalf("credential store: %v", err)
	}
	// Dispatchers are deliberately not started: accepted jobs stay queued,
	// which makes depth observable.
	manager := queue.NewManager(cfg, nil, nil, nil, hub, courier.New())
	gw := New(cfg, hub, manager, creds)
	return gw, buildHandler(gw)
}

func doRequest(h http.Handler, method, path, apiKey string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func scanBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(models.ScanRequest{
		ProjectName: "payments",
		RepoUrl:     "https://host/Proj/_git/payments",
		RefType:     "branch",
		Ref:         "main",
		CallbackUrl: "http://callback.local/hook",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestAPIKeyEnforced(t *testing.T) {
	_, h := testGateway(t, &fakeHub{exists: true}, 2)

	if w := doRequest(h, http.MethodGet, "/health", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: got %d, want 401", w.Code)
	}
	if w := doRequest(h, http.MethodGet, "/health", "wrong-key", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: got %d, want 401", w.Code)
	}
	if w := doRequest(h, http.MethodGet, "/health", testAPIKey, nil); w.Code != http.StatusOK {
		t.Fatalf("valid key: got %d, want 200", w.Code)
	}
}

func TestHealthShape(t *testing.T) {
	gw, h := testGateway(t, &fakeHub{exists: true, commit: strings.Repeat("a", 40)}, 3)
	if err := gw.manager.EnqueueSingle(models.ScanJob{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := doRequest(h, http.MethodGet, "/health", testAPIKey, nil)
	var body struct {
		Status        string `json:"status"`
		QueueSize     int    `json:"queue_size"`
		MaxWorkers    int    `json:"max_workers"`
		ActiveWorkers int    `json:"active_workers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.QueueSize != 1 || body.MaxWorkers != 3 || body.ActiveWorkers != 0 {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestScanAccepted(t *testing.T) {
	commit := strings.Repeat("a", 40)
	gw, h := testGateway(t, &fakeHub{exists: true, commit: commit}, 2)

	w := doRequest(h, http.MethodPost, "/scan", testAPIKey, scanBody(t))
	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp scanResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "accepted" || resp.Commit != commit || resp.RefType != "branch" || resp.Ref != "main" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if gw.manager.QueueSize() != 1 {
		t.Fatalf("queue size = %d, want 1", gw.manager.QueueSize())
	}
}

func TestScanUnknownRefNeverEnqueued(t *testing.T) {
	gw, h := testGateway(t, &fakeHub{exists: false, message: `branch "does-not-exist" not found`}, 2)

	body, _ := json.Marshal(models.ScanRequest{
		ProjectName: "p",
		RepoUrl:     "https://host/Proj/_git/r",
		RefType:     "branch",
		Ref:         "does-not-exist",
		CallbackUrl: "http://cb",
	})
	w := doRequest(h, http.MethodPost, "/scan", testAPIKey, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", w.Code)
	}
	var resp scanResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "validation_failed" || !strings.Contains(resp.Message, "does-not-exist") {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if gw.manager.QueueSize() != 0 {
		t.Fatalf("invalid ref must not take a queue slot, depth = %d", gw.manager.QueueSize())
	}
}

func TestScanInvalidRefType(t *testing.T) {
	_, h := testGateway(t, &fakeHub{exists: true}, 2)

	body, _ := json.Marshal(models.ScanRequest{
		ProjectName: "p", RepoUrl: "https://h/r", RefType: "release", Ref: "x", CallbackUrl: "http://cb",
	})
	w := doRequest(h, http.MethodPost, "/scan", testAPIKey, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", w.Code)
	}
}

func TestScanQueueFull(t *testing.T) {
	// max_workers=2 means capacity 4: four accepted, the fifth rejected.
	_, h := testGateway(t, &fakeHub{exists: true, commit: strings.Repeat("b", 40)}, 2)

	for i := 0; i < 4; i++ {
		if w := doRequest(h, http.MethodPost, "/scan", testAPIKey, scanBody(t)); w.Code != http.StatusOK {
			t.Fatalf("submission %d: got %d, want 200", i, w.Code)
		}
	}
	w := doRequest(h, http.MethodPost, "/scan", testAPIKey, scanBody(t))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("fifth submission: got %d, want 429", w.Code)
	}
	var resp scanResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "queue_full" {
		t.Fatalf("status = %q, want queue_full", resp.Status)
	}
}

func TestMultiScanAllOrNothing(t *testing.T) {
	gw, h := testGateway(t, &fakeHub{exists: false, message: "nope"}, 2)

	body, _ := json.Marshal([]models.ScanRequest{
		{ProjectName: "a", RepoUrl: "https://h/a", RefType: "branch", Ref: "main", CallbackUrl: "http://cb"},
		{ProjectName: "b", RepoUrl: "https://h/b", RefType: "branch", Ref: "main", CallbackUrl: "http://cb"},
	})
	w := doRequest(h, http.MethodPost, "/multi_scan", testAPIKey, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", w.Code)
	}
	if gw.manager.QueueSize() != 0 {
		t.Fatalf("failed batch must not take a slot, depth = %d", gw.manager.QueueSize())
	}
}

func TestMultiScanSingleSlot(t *testing.T) {
	gw, h := testGateway(t, &fakeHub{exists: true, commit: strings.Repeat("c", 40)}, 2)

	body, _ := json.Marshal([]models.ScanRequest{
		{ProjectName: "a", RepoUrl: "https://h/a", RefType: "branch", Ref: "main", CallbackUrl: "http://cb"},
		{ProjectName: "b", RepoUrl: "https://h/b", RefType: "tag", Ref: "v1", CallbackUrl: "http://cb"},
		{ProjectName: "c", RepoUrl: "https://h/c", RefType: "branch", Ref: "dev", CallbackUrl: "http://cb"},
	})
	w := doRequest(h, http.MethodPost, "/multi_scan", testAPIKey, body)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200: %s", w.Code, w.Body.String())
	}
	if gw.manager.QueueSize() != 1 {
		t.Fatalf("a multi-scan occupies one slot, depth = %d", gw.manager.QueueSize())
	}
}

func TestLocalScanAccepted(t *testing.T) {
	gw, h := testGateway(t, &fakeHub{}, 2)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("ProjectName", "uploaded")
	_ = mw.WriteField("CallbackUrl", "http://cb")
	part, err := mw.CreateFormFile("archive", "src.zip")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write([]byte("PK\x03\x04fake"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/local_scan", &buf)
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200: %s", w.Code, w.Body.String())
	}
	if gw.manager.QueueSize() != 1 {
		t.Fatalf("queue size = %d, want 1", gw.manager.QueueSize())
	}
}

func TestConfigFileRoundTrip(t *testing.T) {
	_, h := testGateway(t, &fakeHub{}, 2)

	update, _ := json.Marshal(map[string]string{
		"content": "- id: R001\r\n  message: Password\r\n  pattern: 'x'\r\n  severity: High\r\n",
	})
	if w := doRequest(h, http.MethodPost, "/update-rules", testAPIKey, update); w.Code != http.StatusOK {
		t.Fatalf("update: got %d: %s", w.Code, w.Body.String())
	}

	w := doRequest(h, http.MethodGet, "/get-rules", testAPIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}
	var got struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Contains(got.Content, "\r\n") {
		t.Fatal("line endings must be normalised on write")
	}
	if !strings.Contains(got.Content, "message: Password") {
		t.Fatalf("content not persisted: %q", got.Content)
	}

	w = doRequest(h, http.MethodGet, "/rules-info", testAPIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("info: got %d", w.Code)
	}
	var info struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Size == 0 {
		t.Fatal("info must report a non-zero size")
	}
}

func TestPATNeverReturnedInFull(t *testing.T) {
	_, h := testGateway(t, &fakeHub{}, 2)

	set, _ := json.Marshal(map[string]string{"pat": "token-abcdef-123456"})
	if w := doRequest(h, http.MethodPost, "/set-pat", testAPIKey, set); w.Code != http.StatusOK {
		t.Fatalf("set-pat: got %d: %s", w.Code, w.Body.String())
	}

	w := doRequest(h, http.MethodGet, "/get-pat", testAPIKey, nil)
	var got struct {
		PAT string `json:"pat"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PAT != "toke****" {
		t.Fatalf("pat = %q, want first four characters plus mask", got.PAT)
	}
	if strings.Contains(got.PAT, "123456") {
		t.Fatal("full token must never be returned")
	}
}

func TestMaskToken(t *testing.T) {
	cases := []struct {
		token, want string
	}{
		{"", ""},
		{"x", "****"},
		{"abcd", "****"},
		{"abcde", "abcd****"},
		{"token-abcdef-123456", "toke****"},
	}
	for _, c := range cases {
		if got := maskToken(c.token); got != c.want {
			t.Errorf("maskToken(%q) = %q, want %q", c.token, got, c.want)
		}
	}
}
