package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"userprofile/internal/auth"
	"userprofile/internal/common"
	"userprofile/internal/config"
	"userprofile/internal/filestore"
	"userprofile/internal/gate"
	"userprofile/internal/identity"
	"userprofile/internal/logging"
	"userprofile/internal/profile"
	"userprofile/internal/reset"
	"userprofile/internal/storage"
)

const testPassword = "CorrectHorse42"

type outbox struct {
	mu     sync.Mutex
	bodies map[string][]string
}

func (o *outbox) Send(_ context.Context, to, _, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bodies[to] = append(o.bodies[to], body)
	return nil
}

func (o *outbox) last(to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.bodies[to]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func TestHandlersEndToEndFlow(t *testing.T) {
	router, _ := newTestServer(t)

	userID, authHeader := registerAndLogin(t, router, "ada")

	// Empty profile shows the default picture.
	resp := doJSONRequest(t, router, http.MethodGet, "/api/profile", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var view struct {
		ProfilePictureURL string `json:"profile_picture_url"`
		FirstName         string `json:"first_name"`
		Files             []struct {
			FileName string `json:"file_name"`
		} `json:"files"`
	}
	decodeJSON(t, resp.Body.Bytes(), &view)
	if view.ProfilePictureURL != "/assets/default.jfif" {
		t.Fatalf("expected default picture, got %q", view.ProfilePictureURL)
	}

	fields := map[string]string{"first_name": "Ada", "last_name": "Lovelace", "phone_number": "+44 123"}

	// Saving before any upload is blocked and echoes the fields.
	resp = doJSONRequest(t, router, http.MethodPost, "/api/profile", fields, authHeader)
	assertStatus(t, resp, http.StatusConflict)
	var blocked struct {
		Status  string `json:"status"`
		Profile struct {
			FirstName string `json:"first_name"`
		} `json:"profile"`
	}
	decodeJSON(t, resp.Body.Bytes(), &blocked)
	if blocked.Status != profile.MsgUploadFiles || blocked.Profile.FirstName != "Ada" {
		t.Fatalf("unexpected gate response: %s", resp.Body.String())
	}

	resp = doMultipartRequest(t, router, "/api/profile/picture", "me.png", []byte("png-bytes"), authHeader)
	assertStatus(t, resp, http.StatusCreated)
	var picture struct {
		URL string `json:"url"`
	}
	decodeJSON(t, resp.Body.Bytes(), &picture)
	wantURL := fmt.Sprintf("/uploads/%s/%s_profile.jpg", userID, userID)
	if picture.URL != wantURL {
		t.Fatalf("expected picture url %q, got %q", wantURL, picture.URL)
	}

	resp = doMultipartRequest(t, router, "/api/profile/documents", "../../cv.pdf", []byte("%PDF-1.4"), authHeader)
	assertStatus(t, resp, http.StatusCreated)
	var doc struct {
		File struct {
			FileName string `json:"file_name"`
		} `json:"file"`
		Progress gate.Progress `json:"progress"`
	}
	decodeJSON(t, resp.Body.Bytes(), &doc)
	if doc.File.FileName != "cv.pdf" || !doc.Progress.Satisfied {
		t.Fatalf("unexpected document response: %s", resp.Body.String())
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/profile", fields, authHeader)
	assertStatus(t, resp, http.StatusOK)

	resp = doJSONRequest(t, router, http.MethodGet, "/api/profile", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp.Body.Bytes(), &view)
	if view.FirstName != "Ada" || view.ProfilePictureURL != wantURL || len(view.Files) != 2 {
		t.Fatalf("unexpected profile view: %s", resp.Body.String())
	}

	// Download as attachment.
	resp = doJSONRequest(t, router, http.MethodGet, "/api/profile/files/cv.pdf", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	if got := resp.Header().Get("Content-Disposition"); !strings.Contains(got, "attachment") || !strings.Contains(got, "cv.pdf") {
		t.Fatalf("unexpected content disposition %q", got)
	}
	if resp.Body.String() != "%PDF-1.4" {
		t.Fatalf("unexpected file body %q", resp.Body.String())
	}

	// Owner-only serving of stored files.
	resp = doJSONRequest(t, router, http.MethodGet, wantURL, nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	resp = doJSONRequest(t, router, http.MethodGet, "/uploads/someone-else/cv.pdf", nil, authHeader)
	assertStatus(t, resp, http.StatusForbidden)

	resp = doJSONRequest(t, router, http.MethodDelete, "/api/profile/files/cv.pdf", nil, authHeader)
	assertStatus(t, resp, http.StatusNoContent)
	resp = doJSONRequest(t, router, http.MethodDelete, "/api/profile/files/cv.pdf", nil, authHeader)
	assertStatus(t, resp, http.StatusNoContent)
	resp = doJSONRequest(t, router, http.MethodGet, "/api/profile/files/cv.pdf", nil, authHeader)
	assertStatus(t, resp, http.StatusNotFound)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/users/logout", nil, authHeader)
	assertStatus(t, resp, http.StatusNoContent)
	resp = doJSONRequest(t, router, http.MethodGet, "/api/profile", nil, authHeader)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	router, _ := newTestServer(t)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"username": "bob",
		"email":    "bob@example.com",
		"password": "short",
	}, nil)
	assertStatus(t, resp, http.StatusBadRequest)
	var body struct {
		Errors []string `json:"errors"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	want := []string{
		"Password must be at least 12 characters long.",
		"Password must contain at least one uppercase letter.",
		"Password must contain at least one number.",
	}
	for _, msg := range want {
		if !contains(body.Errors, msg) {
			t.Fatalf("expected %q in %v", msg, body.Errors)
		}
	}
}

func TestRegisterDuplicate(t *testing.T) {
	router, _ := newTestServer(t)
	registerAndLogin(t, router, "carol")

	resp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"username": "carol",
		"email":    "carol@example.com",
		"password": testPassword,
	}, nil)
	assertStatus(t, resp, http.StatusConflict)
}

func TestLoginWrongPassword(t *testing.T) {
	router, _ := newTestServer(t)
	registerAndLogin(t, router, "dave")

	resp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": "dave",
		"password": "WrongPassword99",
	}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestUploadRejectsUnsupportedTypes(t *testing.T) {
	router, _ := newTestServer(t)
	_, authHeader := registerAndLogin(t, router, "erin")

	resp := doMultipartRequest(t, router, "/api/profile/picture", "me.bmp", []byte("x"), authHeader)
	assertStatus(t, resp, http.StatusBadRequest)
	resp = doMultipartRequest(t, router, "/api/profile/documents", "tool.exe", []byte("x"), authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	// No file part at all.
	resp = doMultipartRequest(t, router, "/api/profile/documents", "", nil, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodGet, "/api/profile", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	if strings.Contains(resp.Body.String(), "tool.exe") {
		t.Fatalf("rejected upload must not be stored: %s", resp.Body.String())
	}
}

func TestCookieSessionRequiresCSRF(t *testing.T) {
	router, _ := newTestServer(t)
	registerUser(t, router, "frank")

	resp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": "frank",
		"password": testPassword,
	}, nil)
	assertStatus(t, resp, http.StatusOK)
	var cookieHeader []string
	var csrf string
	for _, ck := range resp.Result().Cookies() {
		cookieHeader = append(cookieHeader, ck.Name+"="+ck.Value)
		if ck.Name == "csrf_token" {
			csrf = ck.Value
		}
	}
	if csrf == "" {
		t.Fatalf("expected csrf cookie from login")
	}
	headers := map[string]string{"Cookie": strings.Join(cookieHeader, "; ")}

	resp = doJSONRequest(t, router, http.MethodGet, "/api/profile", nil, headers)
	assertStatus(t, resp, http.StatusOK)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/profile", map[string]string{}, headers)
	assertStatus(t, resp, http.StatusForbidden)

	headers["X-CSRF-Token"] = csrf
	resp = doJSONRequest(t, router, http.MethodPost, "/api/profile", map[string]string{}, headers)
	assertStatus(t, resp, http.StatusConflict)
}

func TestPasswordResetFlow(t *testing.T) {
	router, mails := newTestServer(t)
	registerUser(t, router, "grace")

	resp := doJSONRequest(t, router, http.MethodPost, "/api/account/forgot-password",
		map[string]string{"email": "nobody@example.com"}, nil)
	assertStatus(t, resp, http.StatusOK)
	unknownBody := resp.Body.String()
	if mails.last("nobody@example.com") != "" {
		t.Fatalf("no email expected for unknown account")
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/account/forgot-password",
		map[string]string{"email": "grace@example.com"}, nil)
	assertStatus(t, resp, http.StatusOK)
	if resp.Body.String() != unknownBody {
		t.Fatalf("known and unknown emails must look the same")
	}

	link := extractLink(t, mails.last("grace@example.com"))
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse reset link: %v", err)
	}
	if u.Path != reset.CallbackPath {
		t.Fatalf("unexpected callback path %q", u.Path)
	}
	token := u.Query().Get("token")

	resp = doJSONRequest(t, router, http.MethodGet, u.RequestURI(), nil, nil)
	assertStatus(t, resp, http.StatusOK)
	resp = doJSONRequest(t, router, http.MethodGet, reset.CallbackPath+"?email=grace@example.com", nil, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	newPassword := "BrandNewSecret7"
	payload := map[string]string{
		"email":            "grace@example.com",
		"token":            token,
		"password":         newPassword,
		"confirm_password": "Mismatch00000A",
	}
	resp = doJSONRequest(t, router, http.MethodPost, reset.CallbackPath, payload, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	payload["confirm_password"] = newPassword
	resp = doJSONRequest(t, router, http.MethodPost, reset.CallbackPath, payload, nil)
	assertStatus(t, resp, http.StatusOK)

	// Tokens are single use.
	resp = doJSONRequest(t, router, http.MethodPost, reset.CallbackPath, payload, nil)
	assertStatus(t, resp, http.StatusBadRequest)
	if !strings.Contains(resp.Body.String(), "Invalid token.") {
		t.Fatalf("expected invalid token message, got %s", resp.Body.String())
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": "grace",
		"password": newPassword,
	}, nil)
	assertStatus(t, resp, http.StatusOK)
}

func TestDeleteAccount(t *testing.T) {
	router, _ := newTestServer(t)
	_, authHeader := registerAndLogin(t, router, "heidi")

	resp := doMultipartRequest(t, router, "/api/profile/documents", "cv.pdf", []byte("pdf"), authHeader)
	assertStatus(t, resp, http.StatusCreated)

	resp = doJSONRequest(t, router, http.MethodDelete, "/api/users/me", nil, authHeader)
	assertStatus(t, resp, http.StatusNoContent)

	resp = doJSONRequest(t, router, http.MethodGet, "/api/profile", nil, authHeader)
	assertStatus(t, resp, http.StatusUnauthorized)
	resp = doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": "heidi",
		"password": testPassword,
	}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := newTestServer(t)

	resp := doJSONRequest(t, router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	if resp.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
	resp = doJSONRequest(t, router, http.MethodGet, "/metrics", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	if !strings.Contains(resp.Body.String(), "userprofile_http_requests_total") {
		t.Fatalf("expected http metrics to be exported")
	}
}

func TestServeUploadSniffsPictureType(t *testing.T) {
	router, _ := newTestServer(t)
	userID, authHeader := registerAndLogin(t, router, "ivan")

	pngData := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	resp := doMultipartRequest(t, router, "/api/profile/picture", "me.png", pngData, authHeader)
	assertStatus(t, resp, http.StatusCreated)

	resp = doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/uploads/%s/%s_profile.jpg", userID, userID), nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	if got := resp.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("expected image/png for a PNG picture, got %q", got)
	}
	if !bytes.Equal(resp.Body.Bytes(), pngData) {
		t.Fatalf("served bytes differ from the upload")
	}

	if got := servedContentType("cv.pdf", []byte("%PDF-1.4")); got != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", got)
	}
	if got := servedContentType("old.gif", []byte{0x01, 0x02, 0x03}); got != "image/gif" {
		t.Fatalf("expected the extension fallback, got %q", got)
	}
}

func TestWriteErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handler{logger: logging.NewNop()}

	backend, err := filestore.NewDiskBackend(t.TempDir())
	if err != nil {
		t.Fatalf("disk backend: %v", err)
	}
	invalidUser := filestore.NewStore(backend, "").EnsureUserDirectory(context.Background(), "..")
	if invalidUser == nil {
		t.Fatalf("expected an error for a malformed user id")
	}

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"malformed user id", invalidUser, http.StatusNotFound},
		{"not found", fmt.Errorf("read file: %w", common.ErrNotFound), http.StatusNotFound},
		{"validation", common.NewValidationError(common.CodeInvalidField, "bad"), http.StatusBadRequest},
		{"unauthorized", common.ErrUnauthorized, http.StatusUnauthorized},
		{"duplicate", common.ErrAlreadyExists, http.StatusConflict},
		{"storage", fmt.Errorf("write: %w", common.ErrStorage), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			h.writeError(c, tc.err)
			if w.Code != tc.want {
				t.Fatalf("expected status %d, got %d (body=%s)", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func newTestServer(t *testing.T) (*gin.Engine, *outbox) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: filepath.Join(t.TempDir(), "api.db")},
	}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := logging.NewNop()
	authService := auth.NewService(db, nil, time.Hour, logger)
	provider := identity.NewProvider(db, []byte("test-secret"), time.Hour, authService, logger)

	backend, err := filestore.NewDiskBackend(t.TempDir())
	if err != nil {
		t.Fatalf("disk backend: %v", err)
	}
	store := filestore.NewStore(backend, "/assets/default.jfif")
	profiles := profile.NewService(profile.NewSQLRepository(db), store, gate.NewMemoryGate(gate.DefaultPolicy()), logger)

	mails := &outbox{bodies: map[string][]string{}}
	flow := reset.NewFlow(provider, mails, "http://localhost:8080", logger)

	router := gin.New()
	router.Use(RequestContext(logger))
	if err := NewHandler(provider, authService, profiles, flow, logger).RegisterRoutes(router); err != nil {
		t.Fatalf("register routes: %v", err)
	}
	return router, mails
}

func registerUser(t *testing.T, router *gin.Engine, username string) string {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": testPassword,
	}, nil)
	assertStatus(t, resp, http.StatusCreated)
	var body struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.ID == "" {
		t.Fatalf("expected user id in register response")
	}
	return body.ID
}

func registerAndLogin(t *testing.T, router *gin.Engine, username string) (string, map[string]string) {
	t.Helper()
	id := registerUser(t, router, username)
	resp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": testPassword,
	}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.AuthToken == "" {
		t.Fatalf("expected auth token from login")
	}
	return id, map[string]string{"Authorization": "Bearer " + body.AuthToken}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

// doMultipartRequest posts a single "file" part; an empty filename sends a
// form without one.
func doMultipartRequest(t *testing.T, router *gin.Engine, path, filename string, content []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	} else if err := w.WriteField("note", "empty"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeJSON(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v (body=%s)", err, string(data))
	}
}

func assertStatus(t *testing.T, resp *httptest.ResponseRecorder, want int) {
	t.Helper()
	if resp.Code != want {
		t.Fatalf("expected status %d, got %d (body=%s)", want, resp.Code, resp.Body.String())
	}
}

func extractLink(t *testing.T, body string) string {
	t.Helper()
	start := strings.Index(body, "href='")
	end := strings.Index(body, "'>")
	if start < 0 || end < start {
		t.Fatalf("no link in email body %q", body)
	}
	return html.UnescapeString(body[start+len("href='") : end])
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
