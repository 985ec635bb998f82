package auth

// Result is the tagged outcome of a core operation: a logical next-step
// redirect, or a user-facing message. Expected business failures are always
// messages; only unexpected conditions (storage failure, corrupt stored
// data) surface through the separate error return.
type Result struct {
	Redirect string
	Message  string
}

func RedirectTo(target string) Result { return Result{Redirect: target} }

func Fail(message string) Result { return Result{Message: message} }

func (r Result) IsRedirect() bool { return r.Redirect != "" }

// Redirect targets. These are logical next-step identifiers interpreted by
// the client, not HTTP responses.
const (
	RedirectHome                 = "/"
	RedirectSignIn               = "/sign-in"
	RedirectVerifyEmail          = "/verify-email"
	RedirectRecoveryCode         = "/recovery-code"
	RedirectTwoFactorSetup       = "/2fa/setup"
	RedirectTwoFactorTOTP        = "/2fa/totp"
	RedirectTwoFactorPasskey     = "/2fa/passkey"
	RedirectTwoFactorSecurityKey = "/2fa/security-key"
	RedirectResetPassword        = "/reset-password"
	RedirectResetVerifyEmail     = "/reset-password/verify-email"
	RedirectResetTOTP            = "/reset-password/2fa/totp"
	RedirectResetPasskey         = "/reset-password/2fa/passkey"
	RedirectResetSecurityKey     = "/reset-password/2fa/security-key"
)

// User-facing messages. Credential mismatches stay generic so an attacker
// cannot learn which factor is registered or which sub-check failed.
const (
	MsgTooManyRequests      = "Too many requests"
	MsgNotAuthenticated     = "Not authenticated"
	MsgForbidden            = "Forbidden"
	MsgInvalidData          = "Invalid data"
	MsgInvalidFields        = "Invalid or missing fields"
	MsgMissingCredentials   = "Please enter your email and password"
	MsgInvalidEmail         = "Invalid email"
	MsgAccountDoesNotExist  = "Account does not exist"
	MsgEmailAlreadyUsed     = "Email is already used"
	MsgInvalidUsername      = "Invalid username"
	MsgWeakPassword         = "Weak password"
	MsgInvalidPassword      = "Invalid password"
	MsgIncorrectPassword    = "Incorrect password"
	MsgEnterCode            = "Please enter your code"
	MsgIncorrectCode        = "Incorrect code"
	MsgInvalidCode          = "Invalid code"
	MsgInvalidKey           = "Invalid key"
	MsgInvalidRecoveryCode  = "Invalid recovery code"
	MsgInvalidCredential    = "Invalid credential"
	MsgUnsupportedAlgorithm = "Unsupported algorithm"
	MsgTooManyCredentials   = "Too many credentials"
	MsgInternalError        = "Internal error"
	MsgRestartProcess       = "Please restart the process"
	MsgPasswordUpdated      = "Updated password"
	MsgCredentialRemoved    = "Removed credential"
	MsgTOTPDisconnected     = "Disconnected authenticator app"
	MsgVerificationExpired  = "The verification code was expired. We sent another code to your inbox."
	MsgNewCodeSent          = "A new code was sent to your inbox."
)
