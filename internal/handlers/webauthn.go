package handlers

import (
	"encoding/base64"

	"github.com/gatekey/backend/internal/auth"
	"github.com/gatekey/backend/internal/middleware"
	"github.com/gatekey/backend/internal/services"
	"github.com/gatekey/backend/pkg/logger"
	"github.com/gatekey/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// WebAuthnHandler serves both credential classes. Binary ceremony fields
// travel base64 encoded inside JSON bodies.
type WebAuthnHandler struct {
	Auth  *auth.Service
	Audit *services.AuditService
}

func NewWebAuthnHandler(authService *auth.Service, audit *services.AuditService) *WebAuthnHandler {
	return &WebAuthnHandler{Auth: authService, Audit: audit}
}

// Challenge mints a one-time challenge for the next ceremony on this client.
func (h *WebAuthnHandler) Challenge(c *fiber.Ctx) error {
	challenge, res, err := h.Auth.CreateWebAuthnChallenge(c.IP())
	if err != nil {
		logger.Error("webauthn_challenge_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}
	if res.Message != "" {
		return respondResult(c, res)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"challenge": base64.StdEncoding.EncodeToString(challenge),
	})
}

type attestationRequest struct {
	Name              string `json:"name"`
	AttestationObject string `json:"attestationObject"`
	ClientDataJSON    string `json:"clientDataJSON"`
}

func (r attestationRequest) attestation() (auth.Attestation, bool) {
	attObj, ok1 := decodeBase64Field(r.AttestationObject)
	clientData, ok2 := decodeBase64Field(r.ClientDataJSON)
	if !ok1 || !ok2 {
		return auth.Attestation{}, false
	}
	return auth.Attestation{
		Name:              r.Name,
		AttestationObject: attObj,
		ClientDataJSON:    clientData,
	}, true
}

func (h *WebAuthnHandler) register(c *fiber.Ctx, kind auth.CredentialKind) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	var req attestationRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}
	attestation, ok := req.attestation()
	if !ok {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	var (
		res auth.Result
		err error
	)
	if kind == auth.KindPasskey {
		res, err = h.Auth.RegisterPasskey(session, user, attestation)
	} else {
		res, err = h.Auth.RegisterSecurityKey(session, user, attestation)
	}
	if err != nil {
		logger.Error("webauthn_register_failed", err, map[string]interface{}{
			"user_id": user.ID.String(),
			"kind":    string(kind),
		})
		return internalError(c)
	}
	if res.IsRedirect() {
		h.Audit.LogAsync(auditEntry(c, "credential.register", map[string]interface{}{
			"kind": string(kind),
			"name": req.Name,
		}))
	}
	return respondResult(c, res)
}

func (h *WebAuthnHandler) RegisterPasskey(c *fiber.Ctx) error {
	return h.register(c, auth.KindPasskey)
}

func (h *WebAuthnHandler) RegisterSecurityKey(c *fiber.Ctx) error {
	return h.register(c, auth.KindSecurityKey)
}

func (h *WebAuthnHandler) verify(c *fiber.Ctx, kind auth.CredentialKind) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	var req passkeyAssertionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}
	assertion, ok := req.assertion()
	if !ok {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	var (
		res auth.Result
		err error
	)
	if kind == auth.KindPasskey {
		res, err = h.Auth.VerifyPasskey(session, user, assertion)
	} else {
		res, err = h.Auth.VerifySecurityKey(session, user, assertion)
	}
	if err != nil {
		logger.Error("webauthn_verify_failed", err, map[string]interface{}{
			"user_id": user.ID.String(),
			"kind":    string(kind),
		})
		return internalError(c)
	}
	if res.IsRedirect() {
		h.Audit.LogAsync(auditEntry(c, "2fa.webauthn_verified", map[string]interface{}{
			"kind": string(kind),
		}))
	}
	return respondResult(c, res)
}

func (h *WebAuthnHandler) VerifyPasskey(c *fiber.Ctx) error {
	return h.verify(c, auth.KindPasskey)
}

func (h *WebAuthnHandler) VerifySecurityKey(c *fiber.Ctx) error {
	return h.verify(c, auth.KindSecurityKey)
}

func (h *WebAuthnHandler) list(c *fiber.Ctx, kind auth.CredentialKind) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	credentials, err := h.Auth.ListCredentials(user, kind)
	if err != nil {
		logger.Error("webauthn_list_failed", err, map[string]interface{}{"user_id": user.ID.String()})
		return internalError(c)
	}

	items := make([]fiber.Map, 0, len(credentials))
	for _, credential := range credentials {
		items = append(items, fiber.Map{
			"id":   base64.StdEncoding.EncodeToString(credential.ID),
			"name": credential.Name,
		})
	}
	return utils.Success(c, fiber.StatusOK, items)
}

func (h *WebAuthnHandler) ListPasskeys(c *fiber.Ctx) error {
	return h.list(c, auth.KindPasskey)
}

func (h *WebAuthnHandler) ListSecurityKeys(c *fiber.Ctx) error {
	return h.list(c, auth.KindSecurityKey)
}

type deleteCredentialRequest struct {
	CredentialID string `json:"credentialId"`
}

func (h *WebAuthnHandler) delete(c *fiber.Ctx, kind auth.CredentialKind) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	var req deleteCredentialRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}
	credentialID, ok := decodeBase64Field(req.CredentialID)
	if !ok {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	var (
		res auth.Result
		err error
	)
	if kind == auth.KindPasskey {
		res, err = h.Auth.DeletePasskey(session, user, credentialID)
	} else {
		res, err = h.Auth.DeleteSecurityKey(session, user, credentialID)
	}
	if err != nil {
		logger.Error("webauthn_delete_failed", err, map[string]interface{}{
			"user_id": user.ID.String(),
			"kind":    string(kind),
		})
		return internalError(c)
	}
	if res.Message == auth.MsgCredentialRemoved {
		h.Audit.LogAsync(auditEntry(c, "credential.delete", map[string]interface{}{
			"kind": string(kind),
		}))
	}
	return respondResult(c, res)
}

func (h *WebAuthnHandler) DeletePasskey(c *fiber.Ctx) error {
	return h.delete(c, auth.KindPasskey)
}

func (h *WebAuthnHandler) DeleteSecurityKey(c *fiber.Ctx) error {
	return h.delete(c, auth.KindSecurityKey)
}
