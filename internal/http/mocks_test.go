package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"main-stack/internal/domain"
	"main-stack/internal/otp"
	"main-stack/internal/repository"
	"main-stack/internal/service"
)

type mockUserRepo struct {
	usersByID       map[string]domain.User
	usersByEmail    map[string]string
	usersByUsername map[string]string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		usersByID:       make(map[string]domain.User),
		usersByEmail:    make(map[string]string),
		usersByUsername: make(map[string]string),
	}
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	if _, ok := m.usersByEmail[user.Email]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := m.usersByUsername[user.Username]; ok {
		return repository.ErrDuplicate
	}
	m.usersByID[user.ID] = user
	m.usersByEmail[user.Email] = user.ID
	m.usersByUsername[user.Username] = user.ID
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	id, ok := m.usersByEmail[email]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.GetByID(ctx, id)
}

func (m *mockUserRepo) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	id, ok := m.usersByUsername[username]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.GetByID(ctx, id)
}

func (m *mockUserRepo) SetResetOTP(_ context.Context, userID string, code domain.ResetOTP) error {
	user, ok := m.usersByID[userID]
	if !ok {
		return pgx.ErrNoRows
	}
	user.ResetOTP = &code
	m.usersByID[userID] = user
	return nil
}

func (m *mockUserRepo) ConsumeResetOTP(_ context.Context, userID, code string) (bool, error) {
	user, ok := m.usersByID[userID]
	if !ok || user.ResetOTP == nil || user.ResetOTP.Code != code {
		return false, nil
	}
	user.ResetOTP = nil
	m.usersByID[userID] = user
	return true, nil
}

func (m *mockUserRepo) ResetPassword(_ context.Context, userID, code, passwordHash string) (bool, error) {
	user, ok := m.usersByID[userID]
	if !ok || user.ResetOTP == nil || user.ResetOTP.Code != code {
		return false, nil
	}
	user.ResetOTP = nil
	user.PasswordHash = passwordHash
	m.usersByID[userID] = user
	return true, nil
}

type mockProductRepo struct {
	items map[string]domain.Product
}

func (m *mockProductRepo) Create(_ context.Context, p domain.Product) error {
	m.items[p.ID] = p
	return nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (domain.Product, error) {
	p, ok := m.items[id]
	if !ok {
		return domain.Product{}, pgx.ErrNoRows
	}
	return p, nil
}

func (m *mockProductRepo) GetByName(_ context.Context, name string) (domain.Product, error) {
	for _, p := range m.items {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return domain.Product{}, pgx.ErrNoRows
}

func (m *mockProductRepo) List(_ context.Context, filter repository.ProductFilter) ([]domain.Product, error) {
	var out []domain.Product
	for _, p := range m.items {
		if filter.ID != "" && p.ID != filter.ID {
			continue
		}
		if filter.Name != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Name)) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *mockProductRepo) Update(_ context.Context, id string, patch domain.ProductPatch) (domain.Product, error) {
	p, ok := m.items[id]
	if !ok {
		return domain.Product{}, pgx.ErrNoRows
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Quantity != nil {
		p.Quantity = *patch.Quantity
	}
	m.items[id] = p
	return p, nil
}

func (m *mockProductRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.items[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(m.items, id)
	return nil
}

type fixedOTPGenerator struct {
	code string
	ttl  time.Duration
}

func (g *fixedOTPGenerator) Generate(_ string, interval time.Duration) (otp.Code, error) {
	return otp.Code{Value: g.code, ExpiresAt: time.Now().Add(interval + g.ttl)}, nil
}

type mockJobQueue struct {
	jobs []domain.MailPayload
	err  error
}

func (m *mockJobQueue) Enqueue(_ context.Context, _ string, payload any) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if p, ok := payload.(domain.MailPayload); ok {
		m.jobs = append(m.jobs, p)
	}
	return "job-1", nil
}

type mockLimiter struct {
	allow bool
}

func (m *mockLimiter) Allow(_ string) bool {
	return m.allow
}

type testServer struct {
	router   *gin.Engine
	users    *mockUserRepo
	products *mockProductRepo
	queue    *mockJobQueue
	gen      *fixedOTPGenerator
	tokens   *service.TokenService
}

func newTestServer(t *testing.T, limiter service.OTPRateLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	users := newMockUserRepo()
	products := &mockProductRepo{items: make(map[string]domain.Product)}
	q := &mockJobQueue{}
	gen := &fixedOTPGenerator{code: "123456"}
	tokens := service.NewTokenService("secret", 15*time.Minute, time.Hour, nil)

	userSvc := service.NewUserService(logger, users)
	resetSvc := service.NewPasswordResetService(logger, users, gen, q, limiter, tokens, time.Minute)
	productSvc := service.NewProductService(logger, products)

	router := NewRouter(RouterDeps{
		Logger:   logger,
		Users:    NewUserHandler(logger, userSvc, resetSvc, tokens),
		Products: NewProductHandler(logger, productSvc),
		Tokens:   tokens,
	})
	return &testServer{router: router, users: users, products: products, queue: q, gen: gen, tokens: tokens}
}

func (s *testServer) seedUser(t *testing.T, user domain.User) {
	t.Helper()
	if err := s.users.Create(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func (s *testServer) accessToken(t *testing.T, user domain.User) string {
	t.Helper()
	pair, err := s.tokens.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("issue tokens: %v", err)
	}
	return pair.AccessToken
}

func performRequest(r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}
