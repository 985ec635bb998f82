// Package auth implements the credential verification and session/account
// recovery state machines: password, TOTP, WebAuthn and recovery-code
// checks, session lifecycle, email verification, and the password-reset
// flow. Storage and mail delivery are collaborators behind interfaces; the
// only in-process state is the rate limiters and the WebAuthn challenge
// registry.
package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/gatekey/backend/internal/ratelimit"
	"github.com/gatekey/backend/internal/webauthn"
)

const (
	sessionLifetime      = 30 * 24 * time.Hour
	sessionRenewalWindow = 15 * 24 * time.Hour

	resetSessionLifetime        = 10 * time.Minute
	verificationRequestLifetime = 10 * time.Minute

	challengeTTL = 10 * time.Minute

	maxCredentialsPerKind = 5

	verificationCodeDigits = 8
	totpKeySize            = 20
)

// Config carries the relying-party identity the WebAuthn ceremonies are
// bound to.
type Config struct {
	// RelyingPartyHost is the bare host name, e.g. "accounts.example.com".
	RelyingPartyHost string
	// RelyingPartyOrigin is the canonical origin URL, e.g.
	// "https://accounts.example.com".
	RelyingPartyOrigin string
}

// Service owns the collaborators and the per-concern rate limiters. All
// limiter state is process-local; losing it on restart is an intentional
// reset of abuse counters.
type Service struct {
	store  Store
	mailer Mailer

	challenges *webauthn.ChallengeRegistry
	rpHost     string
	rpOrigin   string

	now func() time.Time

	signInThrottler *ratelimit.Throttler[uuid.UUID]
	signInIPBucket  *ratelimit.RefillingTokenBucket[string]
	signUpIPBucket  *ratelimit.RefillingTokenBucket[string]

	challengeIPBucket *ratelimit.RefillingTokenBucket[string]

	forgotPasswordIPBucket   *ratelimit.RefillingTokenBucket[string]
	forgotPasswordUserBucket *ratelimit.RefillingTokenBucket[uuid.UUID]

	totpBucket       *ratelimit.ExpiringTokenBucket[uuid.UUID]
	totpUpdateBucket *ratelimit.RefillingTokenBucket[uuid.UUID]

	recoveryCodeBucket *ratelimit.ExpiringTokenBucket[uuid.UUID]

	emailVerificationBucket *ratelimit.ExpiringTokenBucket[uuid.UUID]
	sendEmailBucket         *ratelimit.ExpiringTokenBucket[uuid.UUID]
	resetEmailBucket        *ratelimit.ExpiringTokenBucket[uuid.UUID]

	passwordUpdateBucket *ratelimit.ExpiringTokenBucket[string]
}

func NewService(store Store, mailer Mailer, cfg Config) *Service {
	return &Service{
		store:      store,
		mailer:     mailer,
		challenges: webauthn.NewChallengeRegistry(challengeTTL),
		rpHost:     cfg.RelyingPartyHost,
		rpOrigin:   cfg.RelyingPartyOrigin,
		now:        time.Now,

		signInThrottler: ratelimit.NewThrottler[uuid.UUID]([]time.Duration{
			time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
			16 * time.Second, 30 * time.Second, time.Minute,
			3 * time.Minute, 5 * time.Minute,
		}),
		signInIPBucket: ratelimit.NewRefillingTokenBucket[string](20, time.Second),
		signUpIPBucket: ratelimit.NewRefillingTokenBucket[string](3, 10*time.Second),

		challengeIPBucket: ratelimit.NewRefillingTokenBucket[string](30, 10*time.Second),

		forgotPasswordIPBucket:   ratelimit.NewRefillingTokenBucket[string](3, time.Minute),
		forgotPasswordUserBucket: ratelimit.NewRefillingTokenBucket[uuid.UUID](3, time.Minute),

		totpBucket:       ratelimit.NewExpiringTokenBucket[uuid.UUID](5, 30*time.Minute),
		totpUpdateBucket: ratelimit.NewRefillingTokenBucket[uuid.UUID](3, 10*time.Minute),

		recoveryCodeBucket: ratelimit.NewExpiringTokenBucket[uuid.UUID](3, time.Hour),

		emailVerificationBucket: ratelimit.NewExpiringTokenBucket[uuid.UUID](5, 30*time.Minute),
		sendEmailBucket:         ratelimit.NewExpiringTokenBucket[uuid.UUID](3, 10*time.Minute),
		resetEmailBucket:        ratelimit.NewExpiringTokenBucket[uuid.UUID](5, 30*time.Minute),

		passwordUpdateBucket: ratelimit.NewExpiringTokenBucket[string](5, 30*time.Minute),
	}
}

// CreateWebAuthnChallenge issues a fresh single-use challenge for a
// registration or assertion ceremony. The endpoint is unauthenticated, so
// challenge minting is throttled per client IP to bound registry growth.
func (s *Service) CreateWebAuthnChallenge(clientIP string) ([]byte, Result, error) {
	if clientIP != "" && !s.challengeIPBucket.Consume(clientIP, 1) {
		return nil, Fail(MsgTooManyRequests), nil
	}
	challenge, err := s.challenges.Create()
	if err != nil {
		return nil, Result{}, err
	}
	return challenge, Result{}, nil
}

// TwoFactorRedirect picks the step-up page for the factors the user has
// registered, strongest first.
func (s *Service) TwoFactorRedirect(user *User) string {
	if user.RegisteredSecurityKey {
		return RedirectTwoFactorSecurityKey
	}
	if user.RegisteredTOTP {
		return RedirectTwoFactorTOTP
	}
	if user.RegisteredPasskey {
		return RedirectTwoFactorPasskey
	}
	return RedirectTwoFactorSetup
}

// PasswordResetTwoFactorRedirect is the recovery-flow analogue of
// TwoFactorRedirect.
func (s *Service) PasswordResetTwoFactorRedirect(user *User) string {
	if user.RegisteredSecurityKey {
		return RedirectResetSecurityKey
	}
	if user.RegisteredTOTP {
		return RedirectResetTOTP
	}
	if user.RegisteredPasskey {
		return RedirectResetPasskey
	}
	return RedirectTwoFactorSetup
}
