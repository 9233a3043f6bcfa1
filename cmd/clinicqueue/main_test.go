package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicqueue/internal/config"
	"github.com/ehr/clinicqueue/internal/platform/auth"
	"github.com/ehr/clinicqueue/internal/platform/db"
)

func TestParseRoles(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"staff", []string{"staff"}, false},
		{"staff, doctor", []string{"staff", "doctor"}, false},
		{"admin,,", []string{"admin"}, false},
		{"", nil, true},
		{"nurse", nil, true},
	}
	for _, tt := range tests {
		got, err := parseRoles(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseRoles(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("parseRoles(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func testConfig(env string) *config.Config {
	return &config.Config{
		Env:            env,
		AuthIssuer:     "clinicqueue",
		AuthSigningKey: "test-signing-key",
		CORSOrigins:    []string{"http://localhost:3000"},
		RequestTimeout: time.Second,
	}
}

func TestNewServer_HealthIsPublic(t *testing.T) {
	e, _ := newServer(testConfig("production"), zerolog.Nop(), nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id on the response")
	}
}

func TestNewServer_APIRequiresToken(t *testing.T) {
	cfg := testConfig("production")
	e, api := newServer(cfg, zerolog.Nop(), nil)
	api.GET("/whoami", func(c echo.Context) error {
		return c.String(http.StatusOK, auth.UserIDFromContext(c.Request().Context()))
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Errorf("expected {\"error\": ...} body, got %s", rec.Body.String())
	}

	token, err := auth.IssueToken(jwtConfig(cfg), "42", []string{auth.RoleStaff}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "42" {
		t.Errorf("expected 200 for user 42, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestNewServer_DevModeAllowsAnonymous(t *testing.T) {
	e, api := newServer(testConfig("development"), zerolog.Nop(), nil)
	api.GET("/roles", func(c echo.Context) error {
		return c.JSON(http.StatusOK, auth.RolesFromContext(c.Request().Context()))
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), auth.RoleAdmin) {
		t.Errorf("expected anonymous admin in development, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "frontdesk", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "later", Applied: false},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "applied") || !strings.Contains(lines[2], "2024-03-04 08:00:00") {
		t.Errorf("unexpected applied row %q", lines[2])
	}
	if !strings.Contains(lines[3], "pending") {
		t.Errorf("unexpected pending row %q", lines[3])
	}
}

func TestSessionLog_LogsOnce(t *testing.T) {
	var buf bytes.Buffer
	s := &sessionLog{logger: zerolog.New(&buf)}
	s.OnUnauthorized(errors.New("401"))
	s.OnUnauthorized(errors.New("401"))

	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Errorf("expected one log line, got %d", n)
	}
}
