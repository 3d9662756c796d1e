package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"navsphere/api/internal/auth"
	"navsphere/api/internal/blob"
)

func serve(t *testing.T, server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
	if message, _ := payload["error"].(string); message == "" {
		t.Fatalf("expected a human-readable error, got %v", payload["error"])
	}
}

func login(t *testing.T, server *HTTPServer, name, accessToken string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"name": name, "accessToken": accessToken})
	rr := serve(t, server, http.MethodPost, "/api/session/login", "", string(body))
	if rr.Code != http.StatusOK {
		t.Fatalf("login status %d body=%s", rr.Code, rr.Body.String())
	}
	token, _ := decodeResponse(t, rr)["token"].(string)
	if token == "" {
		t.Fatal("expected token")
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	svc, _ := newTestService(t, &fakeBlobStore{})
	rr := serve(t, NewHTTPServer(svc, "*"), http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ok := decodeResponse(t, rr)["ok"]; ok != true {
		t.Fatalf("expected ok=true, got %v", ok)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id")
	}
}

func TestOptionsRequest(t *testing.T) {
	svc, _ := newTestService(t, &fakeBlobStore{})
	rr := serve(t, NewHTTPServer(svc, "https://nav.example.com"), http.MethodOptions, "/api/navigation/dev/move-to-bottom", "", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "https://nav.example.com" {
		t.Fatalf("CORS origin = %q", origin)
	}
}

func TestReadyEndpoint(t *testing.T) {
	svc, mr := newTestService(t, &fakeBlobStore{content: []byte(testDocument)})
	server := NewHTTPServer(svc, "*")

	rr := serve(t, server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if status := decodeResponse(t, rr)["status"]; status != "ready" {
		t.Fatalf("status = %v", status)
	}

	mr.Close()
	rr = serve(t, server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	checks, _ := decodeResponse(t, rr)["checks"].(map[string]any)
	sessions, _ := checks["sessions"].(map[string]any)
	if sessions["status"] != "error" {
		t.Fatalf("sessions check = %v", checks["sessions"])
	}
}

func TestHomeNavigationResolvesIconsAndCaches(t *testing.T) {
	store := &fakeBlobStore{content: []byte(testDocument)}
	svc, _ := newTestService(t, store)

	rr := serve(t, NewHTTPServer(svc, "*"), http.MethodGet, "/api/home/navigation", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "s-maxage=3600, stale-while-revalidate" {
		t.Fatalf("Cache-Control = %q", cache)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "https://raw.githubusercontent.com/acme/site/main/public/assets/gh.png") {
		t.Fatalf("item icon not resolved: %s", body)
	}
	if !strings.Contains(body, `"href":"https://github.com"`) {
		t.Fatalf("unknown item fields dropped: %s", body)
	}
	if store.writeCount() != 0 {
		t.Fatal("home read issued a write")
	}
}

func TestHomeNavigationInvalidDocument(t *testing.T) {
	svc, _ := newTestService(t, &fakeBlobStore{content: []byte(`{"navigationItems": "nope"}`)})
	rr := serve(t, NewHTTPServer(svc, "*"), http.MethodGet, "/api/home/navigation", "", "")
	assertErrorCode(t, rr, http.StatusInternalServerError, "INVALID_DOCUMENT")
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Fatalf("error response must not be cached, got %q", cache)
	}
}

func TestMoveToBottomEndpoint(t *testing.T) {
	store := &fakeBlobStore{content: []byte(testDocument)}
	svc, _ := newTestService(t, store)
	server := NewHTTPServer(svc, "*")
	token := login(t, server, "Ada", "gh-token")

	rr := serve(t, server, http.MethodPost, "/api/navigation/news/move-to-bottom", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["success"] != true || payload["moved"] != true || payload["version"] != "v1" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if _, ok := payload["message"]; ok {
		t.Fatalf("message only expected for a no-op: %v", payload)
	}
	if got := strings.Join(store.categoryIDs(t), ","); got != "dev,misc,news" {
		t.Fatalf("order = %s", got)
	}

	rr = serve(t, server, http.MethodPost, "/api/navigation/news/move-to-bottom", token, "")
	payload = decodeResponse(t, rr)
	if rr.Code != http.StatusOK || payload["moved"] != false || payload["message"] != "Item is already at the bottom" {
		t.Fatalf("unexpected no-op response %d %v", rr.Code, payload)
	}
	if store.writeCount() != 1 {
		t.Fatalf("writes = %d, want 1", store.writeCount())
	}
}

func TestMoveToBottomErrors(t *testing.T) {
	cases := []struct {
		name   string
		store  *fakeBlobStore
		id     string
		status int
		code   string
	}{
		{
			name:   "unknown category",
			store:  &fakeBlobStore{content: []byte(testDocument)},
			id:     "zzz",
			status: http.StatusNotFound,
			code:   "NOT_FOUND",
		},
		{
			name:   "missing navigationItems",
			store:  &fakeBlobStore{content: []byte(`{"other": []}`)},
			id:     "dev",
			status: http.StatusInternalServerError,
			code:   "INVALID_DOCUMENT",
		},
		{
			name:   "document missing",
			store:  &fakeBlobStore{},
			id:     "dev",
			status: http.StatusBadGateway,
			code:   "FETCH_FAILED",
		},
		{
			name: "stale version",
			store: &fakeBlobStore{
				content: []byte(testDocument),
				writeFn: func(_ context.Context, req blob.WriteRequest) (string, error) {
					return "", &blob.ConflictError{Path: req.Path, Expected: req.ExpectedVersion, Current: "v9"}
				},
			},
			id:     "dev",
			status: http.StatusConflict,
			code:   "VERSION_CONFLICT",
		},
		{
			name: "write transport failure",
			store: &fakeBlobStore{
				content: []byte(testDocument),
				writeFn: func(context.Context, blob.WriteRequest) (string, error) {
					return "", blob.Transportf(errors.New("connection reset"), "put")
				},
			},
			id:     "dev",
			status: http.StatusServiceUnavailable,
			code:   "TRANSPORT_ERROR",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(t, tc.store)
			server := NewHTTPServer(svc, "*")
			token := login(t, server, "Ada", "gh-token")

			rr := serve(t, server, http.MethodPost, "/api/navigation/"+tc.id+"/move-to-bottom", token, "")
			assertErrorCode(t, rr, tc.status, tc.code)
			if tc.code != "VERSION_CONFLICT" && tc.code != "TRANSPORT_ERROR" && tc.store.writeCount() != 0 {
				t.Fatalf("writes = %d, want 0", tc.store.writeCount())
			}
			if tc.code == "VERSION_CONFLICT" && tc.store.writeCount() != 1 {
				t.Fatalf("conflict retried: writes = %d", tc.store.writeCount())
			}
		})
	}
}

func TestNavigationRoutesRequireSession(t *testing.T) {
	store := &fakeBlobStore{content: []byte(testDocument)}
	svc, _ := newTestService(t, store)
	server := NewHTTPServer(svc, "*")

	assertErrorCode(t, serve(t, server, http.MethodPost, "/api/navigation/dev/move-to-bottom", "", ""), http.StatusUnauthorized, "UNAUTHORIZED")
	assertErrorCode(t, serve(t, server, http.MethodGet, "/api/navigation", "definitely-not-a-token", ""), http.StatusUnauthorized, "UNAUTHORIZED")

	expired, _, err := auth.IssueToken([]byte("test-secret"), "user-1", "Ada", "editor", "jti-expired", -time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	assertErrorCode(t, serve(t, server, http.MethodDelete, "/api/navigation/dev", expired, ""), http.StatusUnauthorized, "UNAUTHORIZED")

	unknownSession, _, err := auth.IssueToken([]byte("test-secret"), "user-1", "Ada", "editor", "jti-never-saved", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	assertErrorCode(t, serve(t, server, http.MethodDelete, "/api/navigation/dev", unknownSession, ""), http.StatusUnauthorized, "UNAUTHORIZED")

	if store.writeCount() != 0 {
		t.Fatal("unauthenticated request caused a write")
	}
}

func TestViewerCannotMutate(t *testing.T) {
	store := &fakeBlobStore{content: []byte(testDocument)}
	svc, _ := newTestService(t, store)
	server := NewHTTPServer(svc, "*")
	token := login(t, server, "Ada", "")

	assertErrorCode(t, serve(t, server, http.MethodPost, "/api/navigation/dev/move-to-top", token, ""), http.StatusForbidden, "FORBIDDEN")

	rr := serve(t, server, http.MethodGet, "/api/navigation", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("viewer read status %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["version"] != "v0" {
		t.Fatalf("version = %v", payload["version"])
	}
	if rr.Header().Get("ETag") != `"v0"` {
		t.Fatalf("ETag = %q", rr.Header().Get("ETag"))
	}
	nav, _ := payload["navigation"].(map[string]any)
	items, _ := nav["navigationItems"].([]any)
	first, _ := items[0].(map[string]any)
	if first["icon"] != "/assets/dev.png" {
		t.Fatalf("viewer read must return stored icons, got %v", first["icon"])
	}
}

func TestAddMoveRemoveEndpoints(t *testing.T) {
	store := &fakeBlobStore{content: []byte(testDocument)}
	svc, _ := newTestService(t, store)
	server := NewHTTPServer(svc, "*")
	token := login(t, server, "Ada", "gh-token")

	rr := serve(t, server, http.MethodPost, "/api/navigation", token, `{"category": {"id": "tools", "title": "Tools", "items": []}, "position": 1}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add status %d body=%s", rr.Code, rr.Body.String())
	}
	if got := strings.Join(store.categoryIDs(t), ","); got != "dev,tools,news,misc" {
		t.Fatalf("order after add = %s", got)
	}

	rr = serve(t, server, http.MethodPost, "/api/navigation/dev/move", token, `{"position": 3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("move status %d body=%s", rr.Code, rr.Body.String())
	}
	if got := strings.Join(store.categoryIDs(t), ","); got != "tools,news,misc,dev" {
		t.Fatalf("order after move = %s", got)
	}

	rr = serve(t, server, http.MethodDelete, "/api/navigation/news", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("remove status %d body=%s", rr.Code, rr.Body.String())
	}
	if got := strings.Join(store.categoryIDs(t), ","); got != "tools,misc,dev" {
		t.Fatalf("order after remove = %s", got)
	}

	assertErrorCode(t, serve(t, server, http.MethodPost, "/api/navigation/dev/move", token, `{"position": 7}`), http.StatusUnprocessableEntity, "INVALID_REQUEST")
	assertErrorCode(t, serve(t, server, http.MethodPost, "/api/navigation/dev/move", token, `{}`), http.StatusBadRequest, "INVALID_BODY")
	assertErrorCode(t, serve(t, server, http.MethodPost, "/api/navigation", token, `{"category": {"id": "dev"}}`), http.StatusUnprocessableEntity, "INVALID_REQUEST")
	assertErrorCode(t, serve(t, server, http.MethodPost, "/api/navigation", token, `{"category": {"id": 5}}`), http.StatusBadRequest, "INVALID_BODY")
	assertErrorCode(t, serve(t, server, http.MethodPost, "/api/navigation/dev/sideways", token, ""), http.StatusNotFound, "NOT_FOUND")
}

func TestSessionEndpoints(t *testing.T) {
	svc, _ := newTestService(t, &fakeBlobStore{})
	server := NewHTTPServer(svc, "*")

	assertErrorCode(t, serve(t, server, http.MethodPost, "/api/session/login", "", `{"name":`), http.StatusBadRequest, "INVALID_BODY")

	token := login(t, server, "  Avery  ", "gh-token")
	rr := serve(t, server, http.MethodGet, "/api/session", token, "")
	payload := decodeResponse(t, rr)
	if payload["authenticated"] != true || payload["userName"] != "Avery" || payload["role"] != "editor" {
		t.Fatalf("unexpected session payload %v", payload)
	}

	rr = serve(t, server, http.MethodPost, "/api/session/logout", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("logout status %d", rr.Code)
	}
	rr = serve(t, server, http.MethodGet, "/api/session", token, "")
	if decodeResponse(t, rr)["authenticated"] != false {
		t.Fatal("session still valid after logout")
	}
	assertErrorCode(t, serve(t, server, http.MethodGet, "/api/navigation", token, ""), http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestLoginWithRejectedTokenIsUnauthorized(t *testing.T) {
	store := &fakeBlobStore{content: []byte(testDocument)}
	svc, _ := newTestService(t, store)
	server := NewHTTPServer(svc, "*")

	rr := serve(t, server, http.MethodPost, "/api/session/login", "", `{"name":"Mallory","accessToken":"anything"}`)
	assertErrorCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
	if _, ok := decodeResponse(t, rr)["token"]; ok {
		t.Fatal("token issued for a rejected credential")
	}

	viewer := login(t, server, "Mallory", "")
	assertErrorCode(t, serve(t, server, http.MethodPost, "/api/navigation/dev/move-to-bottom", viewer, ""), http.StatusForbidden, "FORBIDDEN")
	if store.writeCount() != 0 {
		t.Fatal("write issued without a verified credential")
	}
}

func TestLoginVerifierOutageIsServerError(t *testing.T) {
	svc, _ := newTestService(t, &fakeBlobStore{})
	svc.verifier = &fakeVerifier{err: blob.Transportf(errors.New("connection reset"), "get repository")}
	rr := serve(t, NewHTTPServer(svc, "*"), http.MethodPost, "/api/session/login", "", `{"name":"Ada","accessToken":"gh-token"}`)
	assertErrorCode(t, rr, http.StatusInternalServerError, "LOGIN_FAILED")
}

func TestUnknownRoute(t *testing.T) {
	svc, _ := newTestService(t, &fakeBlobStore{})
	assertErrorCode(t, serve(t, NewHTTPServer(svc, "*"), http.MethodGet, "/api/documents", "", ""), http.StatusNotFound, "NOT_FOUND")
}
