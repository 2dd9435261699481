package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"realsync/api/internal/config"
	"realsync/api/internal/estimator"
	"realsync/api/internal/models"
	"realsync/api/internal/repository"
	"realsync/api/internal/security"
	"realsync/api/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memUsers struct {
	mu   sync.Mutex
	rows map[string]models.User
	seq  int
	err  error
}

func (m *memUsers) Create(_ context.Context, u models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.Email == u.Email {
			return models.User{}, repository.ErrEmailTaken
		}
	}
	m.seq++
	u.ID = fmt.Sprintf("00000000-0000-0000-0000-%012d", m.seq)
	u.CreatedAt, u.UpdatedAt = time.Now(), time.Now()
	m.rows[u.ID] = u
	return u, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.User{}, m.err
	}
	for _, u := range m.rows {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.rows[id]
	u.LastLoginAt = &at
	m.rows[id] = u
	return nil
}

func (m *memUsers) SetActive(_ context.Context, id string, active bool) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	u.IsActive = active
	m.rows[id] = u
	return u, nil
}

type memRuns struct {
	mu   sync.Mutex
	runs []models.EstimatorRun
}

func (m *memRuns) Create(_ context.Context, run models.EstimatorRun) (models.EstimatorRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = fmt.Sprintf("run-%d", len(m.runs)+1)
	run.CreatedAt = time.Now()
	m.runs = append(m.runs, run)
	return run, nil
}

func (m *memRuns) ListByUser(_ context.Context, userID string, limit int) ([]models.EstimatorRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.EstimatorRun{}
	for _, r := range m.runs {
		if r.UserID == userID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

type testAPI struct {
	router *gin.Engine
	users  *memUsers
	runs   *memRuns
}

func newTestAPI(t *testing.T, dbErr error) *testAPI {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tokens := security.NewTokenIssuer(security.TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		Issuer:        "realsync-auth",
	})
	users := &memUsers{rows: make(map[string]models.User)}
	runs := &memRuns{}
	log := zerolog.Nop()

	h := HandlerSet{
		log:       log,
		cfg:       &config.AppConfig{Environment: "test"},
		tokens:    tokens,
		auth:      service.NewAuthService(users, repository.NewRefreshSessionRepository(client), nil, tokens, bcrypt.MinCost, nil, log),
		estimator: service.NewEstimatorService(runs, estimator.NewCalculator(estimator.DefaultUIT), 2024, log),
		db:        stubPinger{err: dbErr},
		cache:     redisPinger{client: client},
	}

	router := gin.New()
	h.Register(router.Group(""))
	return &testAPI{router: router, users: users, runs: runs}
}

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

type authData struct {
	User         map[string]any `json:"user"`
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
}

func (a *testAPI) do(t *testing.T, method, path string, body any, token string) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func (a *testAPI) register(t *testing.T, email string, role models.Role) authData {
	t.Helper()
	status, env := a.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":      email,
		"password":   "longenough1",
		"first_name": "Ana",
		"last_name":  "Quispe",
		"role":       role,
	}, "")
	require.Equal(t, http.StatusCreated, status, env.Error)
	return decodeData[authData](t, env)
}

func (a *testAPI) seed(t *testing.T, email string, role models.Role, agencyID string) {
	t.Helper()
	hash, err := security.HashPassword("longenough1", bcrypt.MinCost)
	require.NoError(t, err)
	_, err = a.users.Create(context.Background(), models.User{
		Email: email, PasswordHash: hash, FirstName: "Seed", LastName: "User",
		Role: role, AgencyID: &agencyID, IsActive: true,
	})
	require.NoError(t, err)
}

func (a *testAPI) login(t *testing.T, email string) authData {
	t.Helper()
	status, env := a.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": email, "password": "longenough1"}, "")
	require.Equal(t, http.StatusOK, status, env.Error)
	return decodeData[authData](t, env)
}

func TestRegisterAndLoginScenario(t *testing.T) {
	api := newTestAPI(t, nil)

	reg := api.register(t, "a@b.com", models.RoleAgent)
	assert.NotEmpty(t, reg.AccessToken)
	assert.NotEmpty(t, reg.RefreshToken)
	assert.Equal(t, "a@b.com", reg.User["email"])
	assert.Equal(t, "AGENT", reg.User["role"])
	assert.NotContains(t, reg.User, "password_hash")
	assert.NotContains(t, reg.User, "password")

	status, env := api.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "a@b.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, env.Success)
	assert.Equal(t, "Invalid credentials", env.Error)

	login := api.login(t, "a@b.com")
	assert.NotEqual(t, reg.AccessToken, login.AccessToken)
	assert.NotEqual(t, reg.RefreshToken, login.RefreshToken)
	assert.NotNil(t, login.User["last_login_at"])
}

func TestRegisterValidation(t *testing.T) {
	api := newTestAPI(t, nil)

	status, env := api.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":    "not-an-email",
		"password": "short",
		"role":     "SUPERUSER",
		"phone":    "12",
	}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Validation failed", env.Error)
	assert.Equal(t, "must be a valid email", env.Details["email"])
	assert.Equal(t, "must be at least 8 characters", env.Details["password"])
	assert.Equal(t, "is required", env.Details["first_name"])
	assert.Contains(t, env.Details["role"], "must be one of")
	assert.Contains(t, env.Details, "phone")

	status, env = api.do(t, http.MethodPost, "/api/v1/auth/login", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid request body", env.Error)
}

func TestRegisterDuplicate(t *testing.T) {
	api := newTestAPI(t, nil)
	api.register(t, "a@b.com", models.RoleOwner)

	status, env := api.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{
		"email": "A@B.com", "password": "longenough1", "first_name": "X", "last_name": "Y", "role": "BUYER",
	}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "User with this email already exists", env.Error)
}

func TestRefresh(t *testing.T) {
	api := newTestAPI(t, nil)
	reg := api.register(t, "a@b.com", models.RoleAgent)

	status, env := api.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Refresh token is required", env.Error)

	status, env = api.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": ""}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Refresh token is required", env.Error)

	status, env = api.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": reg.AccessToken}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid or expired token", env.Error)

	status, env = api.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": reg.RefreshToken}, "")
	require.Equal(t, http.StatusOK, status)
	pair := decodeData[authData](t, env)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, reg.RefreshToken, pair.RefreshToken)

	status, env = api.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": reg.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid refresh token", env.Error)

	// the rotated access token passes the gate
	status, _ = api.do(t, http.MethodGet, "/api/v1/auth/me", nil, pair.AccessToken)
	assert.Equal(t, http.StatusOK, status)
}

func TestLogout(t *testing.T) {
	api := newTestAPI(t, nil)
	reg := api.register(t, "a@b.com", models.RoleAgent)

	status, env := api.do(t, http.MethodPost, "/api/v1/auth/logout", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "No token provided", env.Error)

	for i := 0; i < 2; i++ {
		status, env = api.do(t, http.MethodPost, "/api/v1/auth/logout", nil, reg.AccessToken)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Logged out successfully", env.Message)
	}

	status, env = api.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": reg.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid refresh token", env.Error)
}

func TestMe(t *testing.T) {
	api := newTestAPI(t, nil)
	reg := api.register(t, "a@b.com", models.RoleBuyer)

	status, env := api.do(t, http.MethodGet, "/api/v1/auth/me", nil, reg.AccessToken)
	require.Equal(t, http.StatusOK, status)
	me := decodeData[authData](t, env)
	assert.Equal(t, reg.User["id"], me.User["id"])

	api.users.mu.Lock()
	delete(api.users.rows, reg.User["id"].(string))
	api.users.mu.Unlock()

	status, env = api.do(t, http.MethodGet, "/api/v1/auth/me", nil, reg.AccessToken)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "User not found", env.Error)

	status, env = api.do(t, http.MethodGet, "/api/v1/auth/me", nil, "tampered")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid or expired token", env.Error)
}

func TestAdminActivation(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(t, "admin@agency.pe", models.RoleAdminAgency, "agency-1")
	api.seed(t, "agent@agency.pe", models.RoleAgent, "agency-1")

	admin := api.login(t, "admin@agency.pe")
	agent := api.login(t, "agent@agency.pe")
	agentID := agent.User["id"].(string)

	status, env := api.do(t, http.MethodPost, "/api/v1/admin/users/"+agentID+"/deactivate", nil, agent.AccessToken)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Insufficient permissions", env.Error)

	status, env = api.do(t, http.MethodPost, "/api/v1/admin/users/"+agentID+"/deactivate", nil, admin.AccessToken)
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Equal(t, false, decodeData[authData](t, env).User["is_active"])

	status, env = api.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "agent@agency.pe", "password": "longenough1"}, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Account is deactivated", env.Error)

	status, env = api.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": agent.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid refresh token", env.Error)

	status, _ = api.do(t, http.MethodPost, "/api/v1/admin/users/"+agentID+"/activate", nil, admin.AccessToken)
	assert.Equal(t, http.StatusOK, status)
	api.login(t, "agent@agency.pe")

	status, env = api.do(t, http.MethodPost, "/api/v1/admin/users/missing/deactivate", nil, admin.AccessToken)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "User not found", env.Error)
}

func TestEstimator(t *testing.T) {
	api := newTestAPI(t, nil)
	owner := api.register(t, "owner@b.com", models.RoleOwner)
	buyer := api.register(t, "buyer@b.com", models.RoleBuyer)
	input := gin.H{"sale_price": 500000, "municipality": "LIMA"}

	status, env := api.do(t, http.MethodPost, "/api/v1/estimator/calculate", input, buyer.AccessToken)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Insufficient permissions", env.Error)

	status, env = api.do(t, http.MethodPost, "/api/v1/estimator/calculate", gin.H{"sale_price": 0, "municipality": ""}, owner.AccessToken)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "must be greater than 0", env.Details["sale_price"])
	assert.Equal(t, "is required", env.Details["municipality"])

	status, env = api.do(t, http.MethodPost, "/api/v1/estimator/calculate", input, owner.AccessToken)
	require.Equal(t, http.StatusOK, status, env.Error)
	var calc struct {
		Run models.EstimatorRun `json:"run"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &calc))
	assert.Equal(t, "run-1", calc.Run.ID)
	assert.Equal(t, "44255.00", calc.Run.Result.TotalDeductions.StringFixed(2))
	assert.Equal(t, "455745.00", calc.Run.Result.NetProfit.StringFixed(2))

	status, env = api.do(t, http.MethodGet, "/api/v1/estimator/runs?limit=5", nil, owner.AccessToken)
	require.Equal(t, http.StatusOK, status)
	var list struct {
		Runs []models.EstimatorRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Runs, 1)

	status, env = api.do(t, http.MethodGet, "/api/v1/estimator/runs?limit=abc", nil, owner.AccessToken)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Details, "limit")

	status, env = api.do(t, http.MethodGet, "/api/v1/estimator/uit-value", nil, "")
	require.Equal(t, http.StatusOK, status)
	uit := decodeData[map[string]any](t, env)
	assert.Equal(t, float64(2024), uit["year"])
	assert.Equal(t, "5150", uit["uit_value_pen"])
}

func TestInternalErrorsAreHidden(t *testing.T) {
	api := newTestAPI(t, nil)
	api.users.err = errors.New("pq: connection refused at 10.0.0.5")

	status, env := api.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "a@b.com", "password": "longenough1"}, "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Internal server error", env.Error)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "realsync-api", body.Service)
	assert.Equal(t, "ok", body.Database)
	assert.Equal(t, "ok", body.Cache)

	degraded := newTestAPI(t, errors.New("db down"))
	rec = httptest.NewRecorder()
	degraded.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "error", body.Database)
}
