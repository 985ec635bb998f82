package handlers

import (
	"github.com/gatekey/backend/internal/auth"
	"github.com/gatekey/backend/internal/middleware"
	"github.com/gatekey/backend/internal/services"
	"github.com/gatekey/backend/pkg/logger"
	"github.com/gatekey/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type AuthHandler struct {
	Auth          *auth.Service
	Audit         *services.AuditService
	SecureCookies bool
}

func NewAuthHandler(authService *auth.Service, audit *services.AuditService, secureCookies bool) *AuthHandler {
	return &AuthHandler{Auth: authService, Audit: audit, SecureCookies: secureCookies}
}

type signUpRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) SignUp(c *fiber.Ctx) error {
	var req signUpRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	out, res, err := h.Auth.SignUp(auth.SignUpInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		ClientIP: c.IP(),
	})
	if err != nil {
		logger.Error("sign_up_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}
	if out != nil {
		setCookie(c, middleware.SessionCookieName, out.Session.Token, out.Session.Session.ExpiresAt, h.SecureCookies)
		setCookie(c, emailVerificationCookieName, out.VerificationRequest.ID, out.VerificationRequest.ExpiresAt, h.SecureCookies)
		h.Audit.LogAsync(auditEntryFor(c, out.Session.Session.UserID, "user.sign_up", map[string]interface{}{
			"email": req.Email,
		}))
	}
	return respondResult(c, res)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) SignIn(c *fiber.Ctx) error {
	var req signInRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	minted, res, err := h.Auth.SignIn(auth.SignInInput{
		Email:    req.Email,
		Password: req.Password,
		ClientIP: c.IP(),
	})
	if err != nil {
		logger.Error("sign_in_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}
	if minted != nil {
		setCookie(c, middleware.SessionCookieName, minted.Token, minted.Session.ExpiresAt, h.SecureCookies)
		logger.InfoWithUser(minted.Session.UserID.String(), "user_signed_in", map[string]interface{}{"ip": c.IP()})
		h.Audit.LogAsync(auditEntryFor(c, minted.Session.UserID, "user.sign_in", map[string]interface{}{
			"email": req.Email,
		}))
	}
	return respondResult(c, res)
}

type passkeyAssertionRequest struct {
	CredentialID      string `json:"credentialId"`
	AuthenticatorData string `json:"authenticatorData"`
	ClientDataJSON    string `json:"clientDataJSON"`
	Signature         string `json:"signature"`
}

func (r passkeyAssertionRequest) assertion() (auth.Assertion, bool) {
	credentialID, ok1 := decodeBase64Field(r.CredentialID)
	authData, ok2 := decodeBase64Field(r.AuthenticatorData)
	clientData, ok3 := decodeBase64Field(r.ClientDataJSON)
	signature, ok4 := decodeBase64Field(r.Signature)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return auth.Assertion{}, false
	}
	return auth.Assertion{
		CredentialID:      credentialID,
		AuthenticatorData: authData,
		ClientDataJSON:    clientData,
		Signature:         signature,
	}, true
}

func (h *AuthHandler) SignInPasskey(c *fiber.Ctx) error {
	var req passkeyAssertionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}
	assertion, ok := req.assertion()
	if !ok {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	minted, res, err := h.Auth.SignInWithPasskey(assertion)
	if err != nil {
		logger.Error("passkey_sign_in_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}
	if minted != nil {
		setCookie(c, middleware.SessionCookieName, minted.Token, minted.Session.ExpiresAt, h.SecureCookies)
		h.Audit.LogAsync(auditEntryFor(c, minted.Session.UserID, "user.sign_in_passkey", nil))
	}
	return respondResult(c, res)
}

func (h *AuthHandler) SignOut(c *fiber.Ctx) error {
	session := middleware.GetCurrentSession(c)

	res, err := h.Auth.SignOut(session)
	if err != nil {
		return internalError(c)
	}
	if res.IsRedirect() {
		clearCookie(c, middleware.SessionCookieName, h.SecureCookies)
		h.Audit.LogAsync(auditEntry(c, "user.sign_out", nil))
	}
	return respondResult(c, res)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"id":                    user.ID,
		"email":                 user.Email,
		"username":              user.Username,
		"emailVerified":         user.EmailVerified,
		"registeredTOTP":        user.RegisteredTOTP,
		"registeredPasskey":     user.RegisteredPasskey,
		"registeredSecurityKey": user.RegisteredSecurityKey,
		"twoFactorVerified":     session.TwoFactorVerified,
	})
}
