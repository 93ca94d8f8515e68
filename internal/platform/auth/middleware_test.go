package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestBearerAuth_MissingHeader(t *testing.T) {
	svc, _, _ := newTestTokenService(t, "alice")
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	err := BearerAuth(svc)(handler)(c)
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestBearerAuth_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"no bearer prefix", "Token abc123", ErrTokenMalformed},
		{"missing token", "Bearer", ErrTokenMalformed},
		{"empty value", "Bearer ", ErrMissingToken},
		{"basic auth", "Basic dXNlcjpwYXNz", ErrTokenMalformed},
		{"garbage token", "Bearer not-a-token", ErrTokenMalformed},
	}

	svc, _, _ := newTestTokenService(t, "alice")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/profile", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			handler := func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			}

			err := BearerAuth(svc)(handler)(c)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBearerAuth_ValidToken(t *testing.T) {
	svc, _, _ := newTestTokenService(t, "alice")
	tok, _, err := svc.Issue("alice", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("Authorization", "bearer "+tok)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var handlerCalled bool
	handler := func(c echo.Context) error {
		handlerCalled = true

		u, ok := UserFromContext(c.Request().Context())
		if !ok || u.Username != "alice" {
			t.Errorf("expected alice on context, got %+v", u)
		}
		if name, _ := c.Get(UsernameKey).(string); name != "alice" {
			t.Errorf("expected username=alice on echo context, got %q", name)
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := BearerAuth(svc)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled {
		t.Error("handler was not called")
	}
}

func TestBearerAuth_ExpiredToken(t *testing.T) {
	svc, clock, _ := newTestTokenService(t, "alice")
	tok, _, _ := svc.Issue("alice", time.Minute)
	clock.t = clock.t.Add(2 * time.Minute)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := BearerAuth(svc)(func(c echo.Context) error { return nil })(c)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestUsernameFromContext_Anonymous(t *testing.T) {
	if got := UsernameFromContext(context.Background()); got != "" {
		t.Errorf("expected empty username, got %q", got)
	}
}
