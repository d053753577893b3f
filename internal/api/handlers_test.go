package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/walletops/internal/api"
	"github.com/punchamoorthee/walletops/internal/auth"
	"github.com/punchamoorthee/walletops/internal/mailer"
	"github.com/punchamoorthee/walletops/internal/otp"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/store"
)

// captureMailer records outgoing mail instead of sending it.
type captureMailer struct {
	mu   sync.Mutex
	otps map[string]string
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{otps: map[string]string{}}
}

func (m *captureMailer) SendOTP(_ context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otps[to] = code
	return nil
}

func (m *captureMailer) SendPaymentNotification(context.Context, mailer.PaymentNotification) error {
	return nil
}

func (m *captureMailer) lastOTP(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.otps[to]
}

type testEnv struct {
	pool   *pgxpool.Pool
	server *httptest.Server
	client *http.Client
	mail   *captureMailer
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	require.NoError(t, store.Migrate("file://../../migrations", dbURL))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx,
		"TRUNCATE TABLE credit_history, transfers, idempotency_keys, payees, support_messages, users CASCADE")
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	st := &store.Store{Db: pool}
	mail := newCaptureMailer()
	tokens := auth.NewTokenManager("test-access-secret", "test-refresh-secret")
	svc := service.NewTransferService(pool, nil)
	handler := api.NewHandler(st, svc, tokens, otp.NewStore(redisClient), mail, nil)

	ts := httptest.NewServer(handler.Router())
	t.Cleanup(ts.Close)

	return &testEnv{
		pool:   pool,
		server: ts,
		client: &http.Client{Timeout: 3 * time.Second},
		mail:   mail,
	}
}

func (e *testEnv) doRequest(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method == http.MethodPost && strings.HasPrefix(path, "/api/v1/transfers") {
		req.Header.Set("Idempotency-Key", fmt.Sprintf("test-%d", time.Now().UnixNano()))
	}

	resp, err := e.client.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

// registerUser walks a user through signup, OTP verification, and password
// setup, returning the user id and an access token.
func (e *testEnv) registerUser(t *testing.T, email string) (string, string) {
	t.Helper()

	resp := e.doRequest(t, http.MethodPost, "/api/v1/auth/signup", "",
		fmt.Sprintf(`{"email":%q,"user_name":"tester","age":30}`, email))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var signup struct {
		UserID string `json:"user_id"`
	}
	decodeBody(t, resp, &signup)

	code := e.mail.lastOTP(email)
	require.Len(t, code, 6, "signup should have emailed an OTP")

	resp = e.doRequest(t, http.MethodPost, "/api/v1/auth/verify-otp", "",
		fmt.Sprintf(`{"email":%q,"otp":%q}`, email, code))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = e.doRequest(t, http.MethodPost, "/api/v1/auth/set-password", "",
		fmt.Sprintf(`{"email":%q,"password":"correct-horse1"}`, email))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	decodeBody(t, resp, &tokens)
	require.NotEmpty(t, tokens.AccessToken)

	return signup.UserID, tokens.AccessToken
}

func TestSignupVerifyLoginFlow(t *testing.T) {
	env := setupTest(t)

	_, token := env.registerUser(t, "alice@example.com")

	// Login with the password set during registration.
	resp := env.doRequest(t, http.MethodPost, "/api/v1/auth/login", "",
		`{"email":"alice@example.com","password":"correct-horse1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	decodeBody(t, resp, &tokens)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	// Refresh.
	resp = env.doRequest(t, http.MethodPost, "/api/v1/auth/refresh", "",
		fmt.Sprintf(`{"refresh_token":%q}`, tokens.RefreshToken))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Profile reachable with the token.
	resp = env.doRequest(t, http.MethodGet, "/api/v1/users/me", token, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var profile struct {
		Email      string `json:"email"`
		IsVerified bool   `json:"is_verified"`
		Balance    int64  `json:"balance"`
	}
	decodeBody(t, resp, &profile)
	assert.Equal(t, "alice@example.com", profile.Email)
	assert.True(t, profile.IsVerified)
	assert.Equal(t, int64(0), profile.Balance)
}

func TestLoginWrongPassword(t *testing.T) {
	env := setupTest(t)
	env.registerUser(t, "alice@example.com")

	resp := env.doRequest(t, http.MethodPost, "/api/v1/auth/login", "",
		`{"email":"alice@example.com","password":"wrong-password"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestVerifyOTPWrongCode(t *testing.T) {
	env := setupTest(t)

	resp := env.doRequest(t, http.MethodPost, "/api/v1/auth/signup", "",
		`{"email":"bob@example.com","user_name":"bob"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	wrong := "000000"
	if env.mail.lastOTP("bob@example.com") == wrong {
		wrong = "000001"
	}
	resp = env.doRequest(t, http.MethodPost, "/api/v1/auth/verify-otp", "",
		fmt.Sprintf(`{"email":"bob@example.com","otp":%q}`, wrong))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTransferEndToEnd(t *testing.T) {
	env := setupTest(t)

	_, aliceToken := env.registerUser(t, "alice@example.com")
	bobID, bobToken := env.registerUser(t, "bob@example.com")

	// Alice tops up 500.
	resp := env.doRequest(t, http.MethodPost, "/api/v1/transfers/top-up", aliceToken,
		`{"amount":500}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Transfer before adding Bob as payee is rejected.
	resp = env.doRequest(t, http.MethodPost, "/api/v1/transfers", aliceToken,
		fmt.Sprintf(`{"recipient_id":%q,"amount":200}`, bobID))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	// Add payee, then transfer succeeds.
	resp = env.doRequest(t, http.MethodPost, "/api/v1/payees", aliceToken,
		fmt.Sprintf(`{"payee_id":%q}`, bobID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = env.doRequest(t, http.MethodPost, "/api/v1/transfers", aliceToken,
		fmt.Sprintf(`{"recipient_id":%q,"amount":200,"message":"lunch"}`, bobID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Transfer struct {
			ID                 int64  `json:"id"`
			Status             string `json:"status"`
			BalanceAfterSender int64  `json:"balance_after_sender"`
		} `json:"transfer"`
		Entries []struct {
			Direction string `json:"direction"`
		} `json:"entries"`
	}
	decodeBody(t, resp, &created)
	assert.Equal(t, "completed", created.Transfer.Status)
	assert.Equal(t, int64(300), created.Transfer.BalanceAfterSender)
	assert.Len(t, created.Entries, 2)

	// Bob sees the transfer; a stranger's id would not.
	resp = env.doRequest(t, http.MethodGet,
		fmt.Sprintf("/api/v1/transfers/%d", created.Transfer.ID), bobToken, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Both sides appear in transfer lists.
	resp = env.doRequest(t, http.MethodGet, "/api/v1/transfers", aliceToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var aliceTransfers []json.RawMessage
	decodeBody(t, resp, &aliceTransfers)
	assert.Len(t, aliceTransfers, 2) // top-up + transfer

	// Credit history: Alice has top-up credit + transfer debit, Bob one credit.
	resp = env.doRequest(t, http.MethodGet, "/api/v1/credit-history", aliceToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var aliceHistory []struct {
		Direction string `json:"direction"`
		IsTopUp   bool   `json:"is_top_up"`
	}
	decodeBody(t, resp, &aliceHistory)
	assert.Len(t, aliceHistory, 2)

	resp = env.doRequest(t, http.MethodGet, "/api/v1/credit-history", bobToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bobHistory []struct {
		Direction string `json:"direction"`
		IsTopUp   bool   `json:"is_top_up"`
	}
	decodeBody(t, resp, &bobHistory)
	require.Len(t, bobHistory, 1)
	assert.Equal(t, "credited", bobHistory[0].Direction)
	assert.False(t, bobHistory[0].IsTopUp)
}

func TestTransferRequiresIdempotencyKey(t *testing.T) {
	env := setupTest(t)
	_, token := env.registerUser(t, "alice@example.com")

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/transfers",
		strings.NewReader(`{"recipient_id":"3f0c6a9e-0000-4000-8000-000000000000","amount":10}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := env.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPayeeLifecycle(t *testing.T) {
	env := setupTest(t)

	_, aliceToken := env.registerUser(t, "alice@example.com")
	bobID, _ := env.registerUser(t, "bob@example.com")

	// Self add rejected.
	resp := env.doRequest(t, http.MethodGet, "/api/v1/users/me", aliceToken, "")
	var me struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &me)

	resp = env.doRequest(t, http.MethodPost, "/api/v1/payees", aliceToken,
		fmt.Sprintf(`{"payee_id":%q}`, me.ID))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	// Add, duplicate add, list, remove.
	resp = env.doRequest(t, http.MethodPost, "/api/v1/payees", aliceToken,
		fmt.Sprintf(`{"payee_id":%q}`, bobID))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = env.doRequest(t, http.MethodPost, "/api/v1/payees", aliceToken,
		fmt.Sprintf(`{"payee_id":%q}`, bobID))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = env.doRequest(t, http.MethodGet, "/api/v1/payees", aliceToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payees []struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &payees)
	require.Len(t, payees, 1)
	assert.Equal(t, bobID, payees[0].ID)

	resp = env.doRequest(t, http.MethodDelete, "/api/v1/payees/"+bobID, aliceToken, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.doRequest(t, http.MethodDelete, "/api/v1/payees/"+bobID, aliceToken, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSupportForm(t *testing.T) {
	env := setupTest(t)

	resp := env.doRequest(t, http.MethodPost, "/api/v1/support", "",
		`{"email":"carol@example.com","subject":"Missing funds","message":"Where is my money?"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = env.doRequest(t, http.MethodGet, "/api/v1/support", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var messages []struct {
		Email   string `json:"email"`
		Subject string `json:"subject"`
	}
	decodeBody(t, resp, &messages)
	require.Len(t, messages, 1)
	assert.Equal(t, "Missing funds", messages[0].Subject)
}
