package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/gatekey/backend/internal/auth"
	"github.com/gatekey/backend/internal/database"
	"github.com/gatekey/backend/internal/middleware"
	"github.com/gatekey/backend/internal/services"
	"github.com/gatekey/backend/internal/store"
	"github.com/gatekey/backend/pkg/logger"
	"github.com/gatekey/backend/pkg/utils"
)

var testSetupOnce sync.Once

// testMailer records the last codes instead of sending mail.
type testMailer struct {
	mu               sync.Mutex
	verificationCode string
	resetCode        string
}

func (m *testMailer) SendVerificationCode(email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verificationCode = code
	return nil
}

func (m *testMailer) SendPasswordResetCode(email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetCode = code
	return nil
}

func (m *testMailer) lastVerificationCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verificationCode
}

func (m *testMailer) lastResetCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetCode
}

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	auth   *auth.Service
	mailer *testMailer
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureEncryption("test-encryption-secret")
	})

	db, err := database.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	mailer := &testMailer{}
	authService := auth.NewService(store.New(db), mailer, auth.Config{
		RelyingPartyHost:   "localhost",
		RelyingPartyOrigin: "http://localhost:8080",
	})
	auditService := services.NewAuditService(db, 10)

	authHandler := NewAuthHandler(authService, auditService, false)
	emailHandler := NewEmailHandler(authService, auditService, false)
	totpHandler := NewTOTPHandler(authService, auditService)
	webauthnHandler := NewWebAuthnHandler(authService, auditService)
	recoveryHandler := NewRecoveryHandler(authService, auditService)
	passwordHandler := NewPasswordHandler(authService, auditService, false)
	authMiddleware := middleware.NewAuthMiddleware(authService, false)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.RequestLogger())
	app.Use(authMiddleware.LoadSession)

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/sign-up", authHandler.SignUp)
	authRoutes.Post("/sign-in", authHandler.SignIn)
	authRoutes.Post("/sign-in/passkey", authHandler.SignInPasskey)
	authRoutes.Post("/sign-out", authMiddleware.RequireAuth, authHandler.SignOut)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	emailRoutes := api.Group("/email", authMiddleware.RequireAuth)
	emailRoutes.Post("/verify", emailHandler.Verify)
	emailRoutes.Post("/resend", emailHandler.Resend)
	emailRoutes.Put("/", emailHandler.UpdateEmail)

	twoFactorRoutes := api.Group("/2fa", authMiddleware.RequireAuth)
	twoFactorRoutes.Get("/totp/setup", totpHandler.Setup)
	twoFactorRoutes.Post("/totp/setup", totpHandler.Confirm)
	twoFactorRoutes.Post("/totp/verify", totpHandler.Verify)
	twoFactorRoutes.Delete("/totp", totpHandler.Disconnect)
	twoFactorRoutes.Get("/passkeys", webauthnHandler.ListPasskeys)
	twoFactorRoutes.Post("/passkeys", webauthnHandler.RegisterPasskey)
	twoFactorRoutes.Post("/passkeys/verify", webauthnHandler.VerifyPasskey)
	twoFactorRoutes.Delete("/passkeys", webauthnHandler.DeletePasskey)
	twoFactorRoutes.Get("/security-keys", webauthnHandler.ListSecurityKeys)
	twoFactorRoutes.Post("/security-keys", webauthnHandler.RegisterSecurityKey)
	twoFactorRoutes.Post("/security-keys/verify", webauthnHandler.VerifySecurityKey)
	twoFactorRoutes.Delete("/security-keys", webauthnHandler.DeleteSecurityKey)
	twoFactorRoutes.Get("/recovery-code", recoveryHandler.Get)
	twoFactorRoutes.Post("/recovery-code/regenerate", recoveryHandler.Regenerate)
	twoFactorRoutes.Post("/reset", recoveryHandler.ResetTwoFactor)

	api.Post("/webauthn/challenge", webauthnHandler.Challenge)
	api.Put("/password", authMiddleware.RequireAuth, passwordHandler.Update)

	resetRoutes := api.Group("/reset")
	resetRoutes.Post("/forgot", passwordHandler.Forgot)
	resetRoutes.Post("/verify-email", passwordHandler.VerifyResetEmail)
	resetRoutes.Post("/2fa/totp", passwordHandler.VerifyResetTOTP)
	resetRoutes.Post("/2fa/passkey", passwordHandler.VerifyResetPasskey)
	resetRoutes.Post("/2fa/security-key", passwordHandler.VerifyResetSecurityKey)
	resetRoutes.Post("/2fa/recovery-code", passwordHandler.VerifyResetRecoveryCode)
	resetRoutes.Post("/password", passwordHandler.Reset)

	return &testEnv{app: app, db: db, auth: authService, mailer: mailer}
}

// client carries cookies between requests like a browser would.
type client struct {
	env     *testEnv
	cookies map[string]string
}

func newClient(env *testEnv) *client {
	return &client{env: env, cookies: make(map[string]string)}
}

func (c *client) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := c.env.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Value == "" {
			delete(c.cookies, cookie.Name)
			continue
		}
		c.cookies[cookie.Name] = cookie.Value
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()

	var payload map[string]any
	if len(raw) > 0 && strings.Contains(resp.Header.Get("Content-Type"), "json") {
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return resp, payload
}

func redirectOf(t *testing.T, payload map[string]any) string {
	t.Helper()
	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("no data in payload: %v", payload)
	}
	redirect, _ := data["redirect"].(string)
	return redirect
}

func errorOf(payload map[string]any) string {
	message, _ := payload["error"].(string)
	return message
}

// signUp drives the sign-up endpoint and leaves the client holding the
// session and email-verification cookies.
func (c *client) signUp(t *testing.T, email, password string) {
	t.Helper()
	resp, payload := c.do(t, http.MethodPost, "/api/auth/sign-up", map[string]string{
		"email":    email,
		"username": "tester",
		"password": password,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign up status = %d, error %q", resp.StatusCode, errorOf(payload))
	}
	if c.cookies[middleware.SessionCookieName] == "" {
		t.Fatal("session cookie not set")
	}
}

// verifyEmail confirms the pending request with the last mailed code.
func (c *client) verifyEmail(t *testing.T) {
	t.Helper()
	resp, payload := c.do(t, http.MethodPost, "/api/email/verify", map[string]string{
		"code": c.env.mailer.lastVerificationCode(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify email status = %d, error %q", resp.StatusCode, errorOf(payload))
	}
}
