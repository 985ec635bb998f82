package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatekey/backend/internal/auth"
	"github.com/gatekey/backend/internal/config"
	"github.com/gatekey/backend/internal/database"
	"github.com/gatekey/backend/internal/handlers"
	"github.com/gatekey/backend/internal/mail"
	"github.com/gatekey/backend/internal/middleware"
	"github.com/gatekey/backend/internal/services"
	"github.com/gatekey/backend/internal/store"
	"github.com/gatekey/backend/pkg/logger"
	"github.com/gatekey/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureEncryption(cfg.Encryption.Secret)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	mailer := mail.New(cfg.SMTP)
	authService := auth.NewService(store.New(db), mailer, auth.Config{
		RelyingPartyHost:   cfg.Server.Host,
		RelyingPartyOrigin: cfg.Server.Origin,
	})
	auditService := services.NewAuditService(db, cfg.Audit.QueueBufferSize)

	secure := cfg.Server.SecureCookies()
	authHandler := handlers.NewAuthHandler(authService, auditService, secure)
	emailHandler := handlers.NewEmailHandler(authService, auditService, secure)
	totpHandler := handlers.NewTOTPHandler(authService, auditService)
	webauthnHandler := handlers.NewWebAuthnHandler(authService, auditService)
	recoveryHandler := handlers.NewRecoveryHandler(authService, auditService)
	passwordHandler := handlers.NewPasswordHandler(authService, auditService, secure)

	authMiddleware := middleware.NewAuthMiddleware(authService, secure)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())
	app.Use(authMiddleware.LoadSession)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

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

	// Challenges are mintable before sign-in since passkey sign-in needs one.
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

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(cfg.Server.ShutdownTimeout):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
