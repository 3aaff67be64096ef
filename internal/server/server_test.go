package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fathima-sithara/identity-service/internal/config"
	"github.com/fathima-sithara/identity-service/internal/handlers"
	"github.com/fathima-sithara/identity-service/internal/identity"
	"github.com/fathima-sithara/identity-service/internal/metrics"
	"github.com/fathima-sithara/identity-service/internal/middlewares"
	"github.com/fathima-sithara/identity-service/internal/models"
	"github.com/fathima-sithara/identity-service/internal/repository"
	"github.com/fathima-sithara/identity-service/internal/routes"
	"github.com/fathima-sithara/identity-service/internal/services"
	"github.com/fathima-sithara/identity-service/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubVerifier map[string]*identity.ExternalIdentity

func (v stubVerifier) Verify(_ context.Context, bearer string) (*identity.ExternalIdentity, error) {
	if id, ok := v[bearer]; ok {
		c := *id
		return &c, nil
	}
	return nil, identity.ErrInvalidToken
}

type capturedMail struct {
	tokens map[string]string
}

func (m *capturedMail) SendVerificationEmail(_ context.Context, to, _, token string) error {
	m.tokens["verify:"+to] = token
	return nil
}

func (m *capturedMail) SendPasswordResetEmail(_ context.Context, to, _, token string) error {
	m.tokens["reset:"+to] = token
	return nil
}

type testServer struct {
	app    *fiber.App
	repo   *repository.MemoryUserRepo
	mail   *capturedMail
	ids    stubVerifier
	health *togglePinger
}

type togglePinger struct{ err error }

func (p *togglePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ts := &testServer{
		repo:   repository.NewMemoryUserRepo(),
		mail:   &capturedMail{tokens: map[string]string{}},
		ids:    stubVerifier{},
		health: &togglePinger{},
	}
	svc := services.NewAuthService(services.AuthServiceConfig{
		Users:    ts.repo,
		Verifier: ts.ids,
		Hasher:   utils.NewPasswordHasher(4),
		Sessions: utils.NewSessionIssuer("server-test", time.Hour, "test"),
		Mailer:   ts.mail,
		Metrics:  m,
		Logger:   logger,
	})
	cfg := &config.Config{App: config.AppCfg{Name: "identity-service-test"}}
	ts.app = New(cfg, handlers.NewHandler(svc, ts.health, logger), routes.Middlewares{
		Session: middlewares.SessionAuth(svc),
		Metrics: metrics.Handler(reg),
	}, logger)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body, bearer string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestLegacyRegistrationFlow(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodPost, "/auth/register",
		`{"username":"carol","email":"carol@example.com","password":"secret1"}`, "")
	require.Equal(t, http.StatusCreated, status)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	user := body["user"].(map[string]interface{})
	assert.Equal(t, false, user["emailVerified"])
	assert.NotContains(t, user, "passwordHash")

	status, body = ts.do(t, http.MethodPost, "/auth/verify-email",
		`{"token":"`+ts.mail.tokens["verify:carol@example.com"]+`","email":"carol@example.com"}`, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["user"].(map[string]interface{})["emailVerified"])

	status, _ = ts.do(t, http.MethodPost, "/auth/verify-email",
		`{"token":"`+ts.mail.tokens["verify:carol@example.com"]+`","email":"carol@example.com"}`, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = ts.do(t, http.MethodGet, "/auth/me", "", token)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "carol", body["user"].(map[string]interface{})["username"])

	status, _ = ts.do(t, http.MethodPost, "/auth/login", `{"email":"carol@example.com","password":"secret1"}`, "")
	assert.Equal(t, http.StatusOK, status)
	status, body = ts.do(t, http.MethodPost, "/auth/login", `{"email":"carol@example.com","password":"wrong12"}`, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, services.ErrInvalidCredentials.Error(), body["error"])
}

func TestForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.Put(&models.User{Username: "dave", Email: "dave@example.com", PasswordHash: "x", Level: 1})

	knownStatus, known := ts.do(t, http.MethodPost, "/auth/forgot-password", `{"email":"dave@example.com"}`, "")
	unknownStatus, unknown := ts.do(t, http.MethodPost, "/auth/forgot-password", `{"email":"nobody@example.com"}`, "")

	assert.Equal(t, http.StatusOK, knownStatus)
	assert.Equal(t, knownStatus, unknownStatus)
	assert.Equal(t, known, unknown)
	assert.NotEmpty(t, ts.mail.tokens["reset:dave@example.com"])

	status, _ := ts.do(t, http.MethodPost, "/auth/reset-password",
		`{"token":"`+ts.mail.tokens["reset:dave@example.com"]+`","email":"dave@example.com","newPassword":"n3wpass"}`, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodPost, "/auth/login", `{"email":"dave@example.com","password":"n3wpass"}`, "")
	assert.Equal(t, http.StatusOK, status)
}

func TestStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.ids["good"] = &identity.ExternalIdentity{SubjectID: "sub-1", Email: "erin@example.com", EmailVerified: true, DisplayName: "Erin"}
	ts.ids["unverified"] = &identity.ExternalIdentity{SubjectID: "sub-2", Email: "frank@example.com"}

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		bearer string
		want   int
	}{
		{"malformed body", http.MethodPost, "/auth/login", `{`, "", http.StatusBadRequest},
		{"validation", http.MethodPost, "/auth/register", `{"username":"a","email":"nope"}`, "", http.StatusBadRequest},
		{"password required", http.MethodPost, "/auth/register", `{"username":"gina","email":"gina@example.com"}`, "", http.StatusBadRequest},
		{"social without bearer", http.MethodPost, "/auth/google-login", `{"firebaseUid":"sub-1"}`, "", http.StatusUnauthorized},
		{"social bad bearer", http.MethodPost, "/auth/google-login", `{"firebaseUid":"sub-1"}`, "bad", http.StatusUnauthorized},
		{"social subject mismatch", http.MethodPost, "/auth/google-login", `{"firebaseUid":"other"}`, "good", http.StatusUnauthorized},
		{"register unverified provider email", http.MethodPost, "/auth/register", `{"username":"frank","email":"frank@example.com"}`, "unverified", http.StatusForbidden},
		{"me without session", http.MethodGet, "/auth/me", "", "", http.StatusUnauthorized},
		{"me with junk session", http.MethodGet, "/auth/me", "", "junk", http.StatusUnauthorized},
		{"bad reset token", http.MethodPost, "/auth/reset-password", `{"token":"x","email":"a@b.co","newPassword":"secret1"}`, "", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/auth/nothing", "", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := ts.do(t, tc.method, tc.path, tc.body, tc.bearer)
			assert.Equal(t, tc.want, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSocialLoginCreatesLinkedAccount(t *testing.T) {
	ts := newTestServer(t)
	ts.ids["tok"] = &identity.ExternalIdentity{SubjectID: "sub-9", Email: "hana@example.com", EmailVerified: true, DisplayName: "Hana"}

	status, body := ts.do(t, http.MethodPost, "/auth/google-login",
		`{"email":"hana@example.com","displayName":"Hana","firebaseUid":"sub-9"}`, "tok")
	require.Equal(t, http.StatusOK, status)
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "hana", user["username"])
	assert.Equal(t, "sub-9", user["firebaseUid"])

	status, body = ts.do(t, http.MethodPost, "/auth/login", `{"email":"hana@example.com","password":"whatever"}`, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, services.ErrAccountLinked.Error(), body["error"])
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	ts.health.err = assert.AnError
	status, _ = ts.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	ts.do(t, http.MethodPost, "/auth/login", `{"email":"x@example.com","password":"secret1"}`, "")
	resp, err := ts.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "identity_auth_requests_total")
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
}
