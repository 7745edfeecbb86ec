package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vendorportal/vendorportal/internal/config"
	"github.com/vendorportal/vendorportal/internal/login"
	"github.com/vendorportal/vendorportal/internal/middleware"
	"github.com/vendorportal/vendorportal/internal/models"
	"github.com/vendorportal/vendorportal/internal/service"
)

type stubOTP struct {
	code  string
	valid map[string]bool
}

func (s *stubOTP) GenerateOTP(ctx context.Context, email string) (string, error) {
	return s.code, nil
}

func (s *stubOTP) VerifyOTP(ctx context.Context, email, code string) (bool, error) {
	return code == s.code && s.valid[email], nil
}

type stubUsers struct{}

func (stubUsers) GetOrCreate(ctx context.Context, email string) (*models.User, error) {
	return &models.User{ID: "user-" + models.NormalizeEmail(email), Email: models.NormalizeEmail(email)}, nil
}

func (stubUsers) MarkVerified(ctx context.Context, user *models.User) error {
	return nil
}

type testServer struct {
	router *mux.Router
	otp    *stubOTP
	cookie *http.Cookie
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"https://portal.example.com"}},
		JWT:    config.JWTConfig{SecretKey: "0123456789abcdef0123456789abcdef", AccessExpiry: time.Hour},
		OTP:    config.OTPConfig{DisplayCode: true},
		Session: config.SessionConfig{
			TTL:        time.Hour,
			CookieName: "vp_session",
		},
		Login: config.LoginConfig{
			AdminEmail:        "admin@vendorportal.com",
			DueDiligenceEmail: "duediligence@vendorportal.com",
			AdminPath:         "/admin",
			DueDiligencePath:  "/due-diligence",
			VendorIntakePath:  "/vendor-intake",
			FlowTTL:           time.Hour,
		},
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := testConfig()

	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		t.Fatalf("NewJWTService: %v", err)
	}
	sessions := service.NewSessionStorage(rdb, cfg.Session.TTL, logger)
	auth := service.NewAuthContextService(stubUsers{}, sessions, jwtService, logger)
	otp := &stubOTP{code: "424242", valid: map[string]bool{
		"vendor@acme.com":               true,
		"Admin@VendorPortal.com":        true,
		"duediligence@vendorportal.com": true,
	}}

	controller := login.NewController(login.Dependencies{
		Generator:   otp,
		Verifier:    otp,
		Users:       stubUsers{},
		Auth:        auth,
		Sessions:    sessions,
		Navigator:   login.NewRoleNavigator(cfg.Login),
		Store:       login.NewRedisFlowStore(rdb, cfg.Login.FlowTTL),
		Logger:      logger,
		DisplayCode: cfg.OTP.DisplayCode,
	})

	router := NewRouter(
		cfg,
		NewLoginHandlers(controller, logger),
		NewSessionHandlers(sessions, auth, logger),
		middleware.NewAuthMiddleware(jwtService, logger),
		logger,
	)
	return &testServer{router: router, otp: otp}
}

// do sends a request carrying the session cookie, remembering the cookie the server sets.
func (s *testServer) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}

	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	for _, c := range rr.Result().Cookies() {
		if c.Name == "vp_session" {
			s.cookie = c
		}
	}
	return rr
}

type flowBody struct {
	Flow  login.View  `json:"flow"`
	Error ErrorDetail `json:"error"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Errorf("health = %d %q", rr.Code, rr.Body.String())
	}
}

func TestRouter_GetFlowIssuesSessionCookie(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/v1/login/flow", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	if s.cookie == nil || s.cookie.Value == "" || !s.cookie.HttpOnly {
		t.Fatalf("session cookie = %+v", s.cookie)
	}
	body := decode[flowBody](t, rr)
	if body.Flow.Step != login.StepEmail {
		t.Errorf("step = %s, want email", body.Flow.Step)
	}

	first := s.cookie.Value
	s.do(t, http.MethodGet, "/api/v1/login/flow", "", nil)
	if s.cookie.Value != first {
		t.Errorf("cookie changed from %q to %q", first, s.cookie.Value)
	}
}

func TestRouter_SendCodeValidation(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/v1/login/flow/send-code", `{"email":"not-an-email"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	body := decode[flowBody](t, rr)
	if body.Error.Code != "VALIDATION_FAILED" || body.Error.Message != "Please enter a valid email address" {
		t.Errorf("error = %+v", body.Error)
	}
	if body.Flow.Step != login.StepEmail || body.Flow.Email != "not-an-email" {
		t.Errorf("flow = %+v", body.Flow)
	}

	rr = s.do(t, http.MethodPost, "/api/v1/login/flow/send-code", `{`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rr.Code)
	}
}

func TestRouter_FullLogin(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"vendor@acme.com", "/vendor-intake"},
		{"Admin@VendorPortal.com", "/admin"},
		{"duediligence@vendorportal.com", "/due-diligence"},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			s := newTestServer(t)

			rr := s.do(t, http.MethodPost, "/api/v1/login/flow/send-code", `{"email":"`+tt.email+`"}`, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("send-code status = %d body = %s", rr.Code, rr.Body.String())
			}
			body := decode[flowBody](t, rr)
			if body.Flow.Step != login.StepOTP || body.Flow.DisplayedCode != "424242" {
				t.Fatalf("flow after send = %+v", body.Flow)
			}

			rr = s.do(t, http.MethodPut, "/api/v1/login/flow/code", `{"code":"42-42-42"}`, nil)
			body = decode[flowBody](t, rr)
			if body.Flow.Code != "424242" || !body.Flow.CanVerify {
				t.Fatalf("flow after code = %+v", body.Flow)
			}

			rr = s.do(t, http.MethodPost, "/api/v1/login/flow/verify", "", nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("verify status = %d body = %s", rr.Code, rr.Body.String())
			}
			resp := decode[LoginResponse](t, rr)
			if resp.Destination != tt.want {
				t.Errorf("destination = %q, want %q", resp.Destination, tt.want)
			}
			if resp.AccessToken == "" || resp.TokenType != "Bearer" {
				t.Errorf("tokens = %+v", resp)
			}
			if resp.User == nil || !resp.User.Verified {
				t.Errorf("user = %+v", resp.User)
			}

			rr = s.do(t, http.MethodGet, "/api/v1/session", "", nil)
			session := decode[SessionResponse](t, rr)
			if !session.SignedIn || session.UserEmail != tt.email {
				t.Errorf("session = %+v", session)
			}

			rr = s.do(t, http.MethodGet, "/api/v1/me", "", map[string]string{"Authorization": "Bearer " + resp.AccessToken})
			if rr.Code != http.StatusOK {
				t.Fatalf("me status = %d body = %s", rr.Code, rr.Body.String())
			}
			me := decode[models.User](t, rr)
			if me.Email != models.NormalizeEmail(tt.email) || !me.Verified {
				t.Errorf("me = %+v", me)
			}

			rr = s.do(t, http.MethodGet, "/api/v1/login/flow", "", nil)
			if body := decode[flowBody](t, rr); body.Flow.Step != login.StepEmail {
				t.Errorf("flow after login = %+v, want fresh email step", body.Flow)
			}
		})
	}
}

func TestRouter_VerifyErrors(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/v1/login/flow/verify", `{"code":"424242"}`, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("verify at email step status = %d, want 409", rr.Code)
	}

	s.do(t, http.MethodPost, "/api/v1/login/flow/send-code", `{"email":"vendor@acme.com"}`, nil)

	rr = s.do(t, http.MethodPost, "/api/v1/login/flow/verify", `{"code":"123"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("short code status = %d, want 400", rr.Code)
	}
	if body := decode[flowBody](t, rr); body.Error.Message != "Please enter a valid 6-digit OTP" || body.Flow.CanVerify {
		t.Errorf("short code body = %+v", body)
	}

	rr = s.do(t, http.MethodPost, "/api/v1/login/flow/verify", `{"code":"999999"}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong code status = %d, want 401", rr.Code)
	}
	body := decode[flowBody](t, rr)
	if body.Error.Code != "INVALID_OTP" || body.Error.Message != "Invalid or expired OTP" {
		t.Errorf("error = %+v", body.Error)
	}
	if body.Flow.Step != login.StepOTP || body.Flow.Loading {
		t.Errorf("flow = %+v", body.Flow)
	}

	rr = s.do(t, http.MethodGet, "/api/v1/session", "", nil)
	if session := decode[SessionResponse](t, rr); session.SignedIn {
		t.Errorf("session should not be signed in: %+v", session)
	}
}

func TestRouter_ResendAndChangeEmail(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/login/flow/send-code", `{"email":"vendor@acme.com"}`, nil)
	s.do(t, http.MethodPut, "/api/v1/login/flow/code", `{"code":"12"}`, nil)

	s.otp.code = "515151"
	rr := s.do(t, http.MethodPost, "/api/v1/login/flow/resend", "", nil)
	body := decode[flowBody](t, rr)
	if body.Flow.DisplayedCode != "515151" || body.Flow.Code != "" {
		t.Errorf("flow after resend = %+v", body.Flow)
	}

	rr = s.do(t, http.MethodPost, "/api/v1/login/flow/change-email", "", nil)
	body = decode[flowBody](t, rr)
	if body.Flow.Step != login.StepEmail || body.Flow.Email != "" || body.Flow.DisplayedCode != "" {
		t.Errorf("flow after change-email = %+v", body.Flow)
	}

	rr = s.do(t, http.MethodDelete, "/api/v1/login/flow/notice", "", nil)
	if body := decode[flowBody](t, rr); body.Flow.Notice != nil {
		t.Errorf("notice = %+v, want nil", body.Flow.Notice)
	}
}

func TestRouter_MeRequiresBearerToken(t *testing.T) {
	s := newTestServer(t)

	for _, header := range []map[string]string{
		nil,
		{"Authorization": "Token abc"},
		{"Authorization": "Bearer not-a-jwt"},
	} {
		rr := s.do(t, http.MethodGet, "/api/v1/me", "", header)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("header %v: status = %d, want 401", header, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "UNAUTHORIZED") {
			t.Errorf("header %v: body = %s", header, rr.Body.String())
		}
	}
}

func TestRouter_LogoutClearsSession(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/login/flow/send-code", `{"email":"vendor@acme.com"}`, nil)
	s.do(t, http.MethodPost, "/api/v1/login/flow/verify", `{"code":"424242"}`, nil)

	rr := s.do(t, http.MethodPost, "/api/v1/session/logout", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rr.Code)
	}

	rr = s.do(t, http.MethodGet, "/api/v1/session", "", nil)
	if session := decode[SessionResponse](t, rr); session.SignedIn {
		t.Errorf("session after logout = %+v", session)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t)

	preflight := map[string]string{
		"Origin":                        "https://portal.example.com",
		"Access-Control-Request-Method": http.MethodPost,
	}
	rr := s.do(t, http.MethodOptions, "/api/v1/login/flow/send-code", "", preflight)
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://portal.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}

	preflight["Origin"] = "https://evil.example.net"
	rr = s.do(t, http.MethodOptions, "/api/v1/login/flow/send-code", "", preflight)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unlisted site = %q, want none", got)
	}
}
