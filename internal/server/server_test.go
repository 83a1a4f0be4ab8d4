package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"ragserve/internal/app"
	"ragserve/internal/ingest"
	"ragserve/internal/ledger"
	"ragserve/internal/rag"
	"ragserve/internal/session"
	"ragserve/internal/vectorindex"
	"ragserve/pkg/ai"
	"ragserve/pkg/storage"
	"ragserve/pkg/stream"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	led := ledger.New(ledger.NewMemoryStore())
	blobs, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	tokens, err := session.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	embedder := &ai.DummyEmbedder{}
	idx := vectorindex.NewMemoryIndex()
	a := &app.App{
		Ledger:          led,
		Blobs:           blobs,
		Index:           idx,
		Chunker:         ingest.NewChunker(200, 20),
		Embedder:        embedder,
		Pipeline:        rag.New(embedder, &ai.DummyGenerator{Reply: "Streaming works."}, idx, 3),
		Transcripts:     session.NewTranscriptStore(mr.Addr(), "", time.Hour),
		Tokens:          tokens,
		RetentionMaxAge: 24 * time.Hour,
	}
	srv := httptest.NewServer(New(Config{App: a, Tokens: tokens}).Router())
	t.Cleanup(srv.Close)
	return srv
}

func login(t *testing.T, srv *httptest.Server, userID, password string) string {
	t.Helper()
	body := fmt.Sprintf(`{"userId":%q,"displayName":"Test","password":%q}`, userID, password)
	resp, err := http.Post(srv.URL+"/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("login status = %d, body %s", resp.StatusCode, raw)
	}
	var res app.LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if res.Token == "" {
		t.Fatal("login returned empty token")
	}
	return res.Token
}

func authedRequest(t *testing.T, method, url, token string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func uploadFile(t *testing.T, srv *httptest.Server, token, name, content string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte(content))
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/upload", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status = %d, body %s", resp.StatusCode, raw)
	}
	var out struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return out.Filename
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv := newTestServer(t)
	login(t, srv, "alice", "pw")

	body := `{"userId":"alice","password":"wrong"}`
	resp, err := http.Post(srv.URL+"/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAuthenticatedRoutesRejectMissingToken(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/uploads", "/rag", "/clear_my_files"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("request %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestUploadEmbedListFlow(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "alice", "pw")

	serverName := uploadFile(t, srv, token, "notes.txt", "content about ledgers")
	if !strings.HasSuffix(serverName, "_notes.txt") {
		t.Errorf("server filename = %q", serverName)
	}

	embedBody := fmt.Sprintf(`{"filename":%q}`, serverName)
	resp, err := http.DefaultClient.Do(authedRequest(t, http.MethodPost, srv.URL+"/embed", token, strings.NewReader(embedBody)))
	if err != nil {
		t.Fatalf("embed request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("embed status = %d, want 202", resp.StatusCode)
	}

	resp, err = http.DefaultClient.Do(authedRequest(t, http.MethodGet, srv.URL+"/uploads", token, nil))
	if err != nil {
		t.Fatalf("uploads request: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Files []string `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode uploads: %v", err)
	}
	if len(out.Files) != 1 || out.Files[0] != serverName {
		t.Errorf("files = %v", out.Files)
	}
}

func TestRagStreamsFrames(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "alice", "pw")

	serverName := uploadFile(t, srv, token, "doc.txt", "streaming works end to end")
	embedBody := fmt.Sprintf(`{"filename":%q}`, serverName)
	resp, err := http.DefaultClient.Do(authedRequest(t, http.MethodPost, srv.URL+"/embed", token, strings.NewReader(embedBody)))
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	resp.Body.Close()

	resp, err = http.DefaultClient.Do(authedRequest(t, http.MethodPost, srv.URL+"/rag", token, strings.NewReader(`{"question":"does streaming work?"}`)))
	if err != nil {
		t.Fatalf("rag request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rag status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}

	res, err := stream.Consume(context.Background(), resp.Body, nil)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if res.Failed {
		t.Fatalf("turn failed: %s", res.ErrMessage)
	}
	if res.Content != "Streaming works." {
		t.Errorf("content = %q", res.Content)
	}
	if len(res.Documents) == 0 {
		t.Error("expected context frames")
	}
	if len(res.Metadata) == 0 {
		t.Error("expected a metadata frame")
	}
}

func TestIframeScopedToOwner(t *testing.T) {
	srv := newTestServer(t)
	alice := login(t, srv, "alice", "pw")
	mallory := login(t, srv, "mallory", "pw")

	serverName := uploadFile(t, srv, alice, "secret.txt", "alice only")

	resp, err := http.DefaultClient.Do(authedRequest(t, http.MethodGet, srv.URL+"/iframe?filename="+serverName, alice, nil))
	if err != nil {
		t.Fatalf("iframe: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(raw) != "alice only" {
		t.Fatalf("owner iframe status=%d body=%q", resp.StatusCode, raw)
	}

	resp, err = http.DefaultClient.Do(authedRequest(t, http.MethodGet, srv.URL+"/iframe?filename="+serverName, mallory, nil))
	if err != nil {
		t.Fatalf("iframe: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-owner iframe status = %d, want 404", resp.StatusCode)
	}
}

func TestClearEndpoints(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "alice", "pw")

	serverName := uploadFile(t, srv, token, "doc.txt", "to be cleared")
	embedBody := fmt.Sprintf(`{"filename":%q}`, serverName)
	resp, err := http.DefaultClient.Do(authedRequest(t, http.MethodPost, srv.URL+"/embed", token, strings.NewReader(embedBody)))
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	resp.Body.Close()

	resp, err = http.DefaultClient.Do(authedRequest(t, http.MethodPost, srv.URL+"/clear_my_files", token, nil))
	if err != nil {
		t.Fatalf("clear files: %v", err)
	}
	defer resp.Body.Close()
	var cleared struct {
		FilesRemoved   int `json:"filesRemoved"`
		VectorsRemoved int `json:"vectorsRemoved"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cleared); err != nil {
		t.Fatalf("decode clear response: %v", err)
	}
	if cleared.FilesRemoved != 1 || cleared.VectorsRemoved == 0 {
		t.Errorf("cleared = %+v", cleared)
	}

	resp, err = http.DefaultClient.Do(authedRequest(t, http.MethodPost, srv.URL+"/clear_chat_history", token, nil))
	if err != nil {
		t.Fatalf("clear history: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("clear history status = %d", resp.StatusCode)
	}
}

func TestEmbedUnknownFileReturns404(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "alice", "pw")

	resp, err := http.DefaultClient.Do(authedRequest(t, http.MethodPost, srv.URL+"/embed", token, strings.NewReader(`{"filename":"nope.txt"}`)))
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
