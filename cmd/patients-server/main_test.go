package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/ehr/patients/internal/config"
	"github.com/ehr/patients/internal/domain/patient"
	"github.com/ehr/patients/internal/platform/auth"
	"github.com/ehr/patients/internal/platform/httperr"
	"github.com/ehr/patients/internal/platform/telemetry"
)

func newTestServer(t *testing.T, requireAuth bool) *echo.Echo {
	t.Helper()
	cfg := &config.Config{
		CORSOrigins:           []string{"http://localhost:3000"},
		BodyLimit:             "1M",
		RateLimitRPS:          1000,
		RateLimitBurst:        1000,
		RequireAuthForRecords: requireAuth,
	}
	creds := auth.NewMemoryCredentialStore(auth.NewPasswordHasher(bcrypt.MinCost))
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)
	store := patient.NewFileStore(filepath.Join(t.TempDir(), "patients.json"), patient.WithObserver(metrics))

	return newServer(cfg, zerolog.Nop(), serverDeps{
		creds:    creds,
		tokens:   auth.NewTokenService([]byte("server-test-signing-key-0123456789ab"), 15*time.Minute, creds),
		patients: patient.NewService(store),
		metrics:  metrics,
		gatherer: registry,
	})
}

func do(e *echo.Echo, method, target, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func postForm(e *echo.Echo, target, username, password string) *httptest.ResponseRecorder {
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func login(t *testing.T, e *echo.Echo, username, password string) string {
	t.Helper()
	if rec := postForm(e, "/signup", username, password); rec.Code != http.StatusOK {
		t.Fatalf("signup: %d %s", rec.Code, rec.Body.String())
	}
	rec := postForm(e, "/login", username, password)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var sess struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, rec, &sess)
	return sess.AccessToken
}

func TestServer_RootAndAbout(t *testing.T) {
	e := newTestServer(t, false)

	tests := []struct {
		path, want string
	}{
		{"/", "Patient Management system API"},
		{"/about", "Fully functional API to manage your patient records"},
	}
	for _, tt := range tests {
		rec := do(e, http.MethodGet, tt.path, "", "")
		var body messageResponse
		decode(t, rec, &body)
		if rec.Code != http.StatusOK || body.Message != tt.want {
			t.Errorf("%s: %d %q", tt.path, rec.Code, body.Message)
		}
	}
}

func TestServer_Health(t *testing.T) {
	e := newTestServer(t, false)
	rec := do(e, http.MethodGet, "/health", "", "")
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" || body["version"] != version {
		t.Errorf("unexpected health body: %v", body)
	}

	// No Postgres configured.
	if rec := do(e, http.MethodGet, "/health/db", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected /health/db to be absent, got %d", rec.Code)
	}
}

func TestServer_AccountFlow(t *testing.T) {
	e := newTestServer(t, false)
	token := login(t, e, "alice", "wonderland")

	rec := do(e, http.MethodGet, "/profile", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile: %d %s", rec.Code, rec.Body.String())
	}
	var prof struct {
		Message  string `json:"message"`
		UserData struct {
			Username string `json:"username"`
		} `json:"user_data"`
	}
	decode(t, rec, &prof)
	if prof.Message != "Welcome back, alice" || prof.UserData.Username != "alice" {
		t.Errorf("unexpected profile: %s", rec.Body.String())
	}

	if rec := postForm(e, "/signup", "alice", "again"); rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate signup: expected 400, got %d", rec.Code)
	}
	if rec := postForm(e, "/login", "alice", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", rec.Code)
	}
}

func TestServer_ProfileErrors(t *testing.T) {
	e := newTestServer(t, false)

	tests := []struct {
		name, token, code string
	}{
		{"no token", "", httperr.CodeMissingToken},
		{"garbage token", "not-a-jwt", httperr.CodeTokenMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodGet, "/profile", "", tt.token)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if got := rec.Header().Get(echo.HeaderWWWAuthenticate); got != "Bearer" {
				t.Errorf("WWW-Authenticate = %q", got)
			}
			var body httperr.Error
			decode(t, rec, &body)
			if body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
		})
	}
}

func TestServer_RecordLifecycle(t *testing.T) {
	e := newTestServer(t, false)

	rec := do(e, http.MethodPost, "/create",
		`{"id":"P001","name":"Ananya","city":"Guwahati","age":28,"gender":"female","height":1.65,"weight":90}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodPost, "/create",
		`{"id":"P002","name":"Ravi","city":"Pune","age":40,"gender":"male","height":1.80,"weight":60}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/patient/P001", "", "")
	var v patient.View
	decode(t, rec, &v)
	if v.ID != "P001" || v.BMI != 33.06 || v.Verdict != patient.VerdictObese {
		t.Errorf("unexpected view: %+v", v)
	}

	rec = do(e, http.MethodGet, "/sort?sort_by=bmi&order=desc", "", "")
	var sorted []patient.View
	decode(t, rec, &sorted)
	if len(sorted) != 2 || sorted[0].ID != "P001" || sorted[1].ID != "P002" {
		t.Errorf("unexpected sort: %s", rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/sort?sort_by=age", "", "")
	var verr httperr.Error
	decode(t, rec, &verr)
	if rec.Code != http.StatusBadRequest || len(verr.Fields) == 0 || verr.Fields[0].Field != "sort_by" {
		t.Errorf("expected sort_by validation error, got %d %s", rec.Code, rec.Body.String())
	}

	if rec = do(e, http.MethodPut, "/edit/P001", `{"weight":50}`, ""); rec.Code != http.StatusOK {
		t.Fatalf("edit: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodGet, "/view", "", "")
	var all map[string]patient.View
	decode(t, rec, &all)
	if all["P001"].Verdict != patient.VerdictNormal {
		t.Errorf("expected recomputed verdict, got %+v", all["P001"])
	}

	if rec = do(e, http.MethodDelete, "/delete/P001", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodGet, "/patient/P001", "", "")
	var nf httperr.Error
	decode(t, rec, &nf)
	if rec.Code != http.StatusNotFound || nf.Code != httperr.CodeNotFound {
		t.Errorf("expected 404 envelope, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestServer_RequireAuthForRecords(t *testing.T) {
	e := newTestServer(t, true)

	if rec := do(e, http.MethodGet, "/view", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	token := login(t, e, "bob", "builder")
	if rec := do(e, http.MethodGet, "/view", "", token); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d %s", rec.Code, rec.Body.String())
	}

	// Unknown routes still 404 rather than demanding a token.
	if rec := do(e, http.MethodGet, "/nowhere", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown route, got %d", rec.Code)
	}
}

func TestServer_MiddlewareHeaders(t *testing.T) {
	e := newTestServer(t, false)
	rec := do(e, http.MethodGet, "/", "", "")

	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("expected a request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("expected rate limit header")
	}
}

func TestServer_Metrics(t *testing.T) {
	e := newTestServer(t, false)
	do(e, http.MethodGet, "/view", "", "")

	rec := do(e, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	for _, name := range []string{"patients_http_requests_total", "patients_store_operations_total", "patients_record_access_total"} {
		if !strings.Contains(rec.Body.String(), name) {
			t.Errorf("expected %s in exposition", name)
		}
	}
}

func TestRunStoreCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.json")
	data := `{
  "good": {"name": "a", "city": "b", "age": 30, "gender": "male", "height": 1.7, "weight": 70},
  "bad": {"name": "a", "city": "b", "age": 30, "gender": "male", "height": 0, "weight": 70}
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())

	err := runStoreCheck(cmd, patient.NewService(patient.NewFileStore(path)), path)
	if err == nil {
		t.Fatal("expected an error for an invalid record")
	}
	if !strings.Contains(out.String(), "2 record(s), 1 invalid") || !strings.Contains(out.String(), "bad:") {
		t.Errorf("unexpected report: %s", out.String())
	}
}
