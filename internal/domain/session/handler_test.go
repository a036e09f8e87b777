package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/entnt/dental-connect/internal/platform/kv"
)

type fakeIssuer struct {
	lastSID string
}

func (f *fakeIssuer) Issue(sid string, id Identity) (string, error) {
	f.lastSID = sid
	return "token-" + sid, nil
}

type hookLog struct {
	logins  []Identity
	logouts []Identity
}

func newTestHandler(t *testing.T) (*Handler, *Manager, *fakeIssuer, *hookLog) {
	t.Helper()
	blob := kv.NewMemory()
	m := NewManager(blob, newVerifier(t), zerolog.Nop())
	issuer := &fakeIssuer{}
	log := &hookLog{}
	h := NewHandler(m, issuer, NewThemeStore(blob), Hooks{
		OnLogin:  func(_ context.Context, sid string, id Identity) { log.logins = append(log.logins, id) },
		OnLogout: func(_ context.Context, sid string, id Identity) { log.logouts = append(log.logouts, id) },
	})
	return h, m, issuer, log
}

func loginRequestFor(email, password string) *http.Request {
	body := `{"email":"` + email + `","password":"` + password + `"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_Login(t *testing.T) {
	h, m, issuer, seen := newTestHandler(t)
	e := echo.New()

	body := `{"email":"admin@entnt.in","password":"admin123"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Login(c); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp loginResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Token != "token-"+issuer.lastSID || resp.User.Role != RoleAdmin {
		t.Errorf("response = %+v", resp)
	}
	if len(seen.logins) != 1 || len(seen.logouts) != 0 {
		t.Errorf("hooks ran %d logins %d logouts", len(seen.logins), len(seen.logouts))
	}
	if m.Open(context.Background(), issuer.lastSID).Current() == nil {
		t.Error("session not authenticated after login")
	}
}

func TestHandler_LoginRejected(t *testing.T) {
	h, _, _, seen := newTestHandler(t)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"admin@entnt.in","password":"nope"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Login(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if httpErr.Message != "Invalid credentials" {
		t.Errorf("message = %v", httpErr.Message)
	}
	if len(seen.logins) != 0 {
		t.Error("login hook ran on rejected login")
	}
}

func TestHandler_RejectedLoginsOpenNoSessions(t *testing.T) {
	h, m, _, _ := newTestHandler(t)
	e := echo.New()

	for i := 0; i < 50; i++ {
		err := h.Login(e.NewContext(loginRequestFor("admin@entnt.in", "wrong"), httptest.NewRecorder()))
		if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %v", i, err)
		}
	}
	if n := m.Len(); n != 0 {
		t.Errorf("rejected logins left %d sessions", n)
	}

	if err := h.Login(e.NewContext(loginRequestFor("admin@entnt.in", "admin123"), httptest.NewRecorder())); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if n := m.Len(); n != 1 {
		t.Errorf("sessions = %d after one login, want 1", n)
	}
}

func TestHandler_ReloginReplacesIdentity(t *testing.T) {
	h, m, _, seen := newTestHandler(t)
	e := echo.New()
	ctx := context.Background()

	sid := m.NewID()
	p := m.Open(ctx, sid)
	p.Login(ctx, "john@entnt.in", "john123")

	req := loginRequestFor("admin@entnt.in", "admin123")
	req = req.WithContext(NewContext(req.Context(), Handle{ID: sid, Provider: p}))
	if err := h.Login(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if len(seen.logouts) != 1 || seen.logouts[0].Email() != "john@entnt.in" {
		t.Errorf("logout hooks = %v", seen.logouts)
	}
	if len(seen.logins) != 1 || seen.logins[0].Role() != RoleAdmin {
		t.Errorf("login hooks = %v", seen.logins)
	}
}

func TestHandler_MeAndLogout(t *testing.T) {
	h, m, _, seen := newTestHandler(t)
	e := echo.New()
	ctx := context.Background()

	sid := m.NewID()
	p := m.Open(ctx, sid)
	p.Login(ctx, "john@entnt.in", "john123")

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(NewContext(req.Context(), Handle{ID: sid, Provider: p}))
	rec := httptest.NewRecorder()
	if err := h.Me(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Me: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"patientId":"p1"`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req = req.WithContext(NewContext(req.Context(), Handle{ID: sid, Provider: p}))
	rec = httptest.NewRecorder()
	if err := h.Logout(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if rec.Code != http.StatusNoContent || p.Current() != nil {
		t.Errorf("logout left status %d identity %v", rec.Code, p.Current())
	}
	if len(seen.logouts) != 1 || seen.logouts[0].Email() != "john@entnt.in" {
		t.Errorf("logout hooks = %v", seen.logouts)
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	err := h.Me(e.NewContext(req, httptest.NewRecorder()))
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without session, got %v", err)
	}
}

func TestHandler_Theme(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPut, "/preferences/theme", strings.NewReader(`{"theme":"dark"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if err := h.SetTheme(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}

	rec := httptest.NewRecorder()
	h.GetTheme(e.NewContext(httptest.NewRequest(http.MethodGet, "/preferences/theme", nil), rec))
	if !strings.Contains(rec.Body.String(), `"dark"`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPut, "/preferences/theme", strings.NewReader(`{"theme":"sepia"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.SetTheme(e.NewContext(req, httptest.NewRecorder()))
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
