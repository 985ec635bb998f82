package auth

import (
	"testing"
	"time"
)

func TestSignUpValidation(t *testing.T) {
	tests := []struct {
		name     string
		username string
		email    string
		password string
		want     string
	}{
		{"missing fields", "", "", "", MsgInvalidFields},
		{"invalid email", "tester", "not-an-email", "long-enough-password", MsgInvalidEmail},
		{"short username", "ab", "a@example.com", "long-enough-password", MsgInvalidUsername},
		{"weak password", "tester", "a@example.com", "short", MsgWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			out, res, err := env.service.SignUp(SignUpInput{
				Username: tt.username,
				Email:    tt.email,
				Password: tt.password,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out != nil {
				t.Fatal("expected no session for invalid input")
			}
			if res.Message != tt.want {
				t.Fatalf("got %q, want %q", res.Message, tt.want)
			}
		})
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signUpUser(t, "a@example.com", "long-enough-password")

	out, res, err := env.service.SignUp(SignUpInput{
		Username: "second",
		Email:    "a@example.com",
		Password: "long-enough-password",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil || res.Message != MsgEmailAlreadyUsed {
		t.Fatalf("got %q, want %q", res.Message, MsgEmailAlreadyUsed)
	}
}

func TestSignUpMintsSessionAndVerificationRequest(t *testing.T) {
	env := newTestEnv(t)
	minted, request := env.signUpUser(t, "a@example.com", "long-enough-password")

	if minted.Token == "" {
		t.Fatal("expected a session token")
	}
	if minted.Session.TwoFactorVerified {
		t.Fatal("fresh session must not be two-factor verified")
	}
	if request.Email != "a@example.com" {
		t.Fatalf("verification request targets %q", request.Email)
	}
	if len(request.Code) != 8 {
		t.Fatalf("verification code length = %d, want 8", len(request.Code))
	}
	if env.mailer.lastVerificationCode() != request.Code {
		t.Fatal("emailed code does not match stored request")
	}
}

func TestSignInFlow(t *testing.T) {
	env := newTestEnv(t)
	env.signUpUser(t, "a@example.com", "long-enough-password")

	_, res, err := env.service.SignIn(SignInInput{Email: "missing@example.com", Password: "whatever-password"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message != MsgAccountDoesNotExist {
		t.Fatalf("unknown email: got %q", res.Message)
	}

	_, res, err = env.service.SignIn(SignInInput{Email: "a@example.com", Password: "wrong-password-here"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message != MsgInvalidPassword {
		t.Fatalf("wrong password: got %q", res.Message)
	}

	// The throttler blocks an immediate retry for the same account.
	_, res, err = env.service.SignIn(SignInInput{Email: "a@example.com", Password: "wrong-password-here"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message != MsgTooManyRequests {
		t.Fatalf("immediate retry: got %q", res.Message)
	}
}

func TestSignInRedirectsByAccountState(t *testing.T) {
	env := newTestEnv(t)
	env.signUpUser(t, "a@example.com", "long-enough-password")

	minted, res, err := env.service.SignIn(SignInInput{Email: "a@example.com", Password: "long-enough-password"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if minted == nil || res.Redirect != RedirectVerifyEmail {
		t.Fatalf("unverified account: got %q", res.Redirect)
	}

	env2 := newTestEnv(t)
	env2.verifiedUser(t, "b@example.com", "long-enough-password")
	minted, res, err = env2.service.SignIn(SignInInput{Email: "b@example.com", Password: "long-enough-password"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if minted == nil || res.Redirect != RedirectTwoFactorSetup {
		t.Fatalf("verified account without 2fa: got %q", res.Redirect)
	}
}

func TestSessionRenewal(t *testing.T) {
	env := newTestEnv(t)
	minted, _ := env.signUpUser(t, "a@example.com", "long-enough-password")
	originalExpiry := minted.Session.ExpiresAt

	// Inside the renewal window the expiry slides forward on read.
	later := time.Now().Add(16 * 24 * time.Hour)
	env.service.now = func() time.Time { return later }

	session, _, err := env.service.ValidateSessionToken(minted.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if session == nil {
		t.Fatal("session should still be live")
	}
	if !session.ExpiresAt.After(originalExpiry) {
		t.Fatalf("expiry not extended: %v <= %v", session.ExpiresAt, originalExpiry)
	}
}

func TestSessionExpiry(t *testing.T) {
	env := newTestEnv(t)
	minted, _ := env.signUpUser(t, "a@example.com", "long-enough-password")

	env.service.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	session, user, err := env.service.ValidateSessionToken(minted.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if session != nil || user != nil {
		t.Fatal("expired session must not resolve")
	}

	// The expired row is deleted, so the token stays dead even if time
	// rewinds.
	env.service.now = time.Now
	session, _, err = env.service.ValidateSessionToken(minted.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if session != nil {
		t.Fatal("expired session row should be gone")
	}
}

func TestSignOutInvalidatesToken(t *testing.T) {
	env := newTestEnv(t)
	minted, _ := env.signUpUser(t, "a@example.com", "long-enough-password")
	session, _ := env.resolve(t, minted)

	res, err := env.service.SignOut(session)
	if err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if res.Redirect != RedirectSignIn {
		t.Fatalf("got %q, want %q", res.Redirect, RedirectSignIn)
	}

	stale, _, err := env.service.ValidateSessionToken(minted.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if stale != nil {
		t.Fatal("token must be dead after sign-out")
	}
}

func TestGenerateSessionTokenShape(t *testing.T) {
	token, err := GenerateSessionToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(token) != 32 {
		t.Fatalf("token length = %d, want 32", len(token))
	}
	other, err := GenerateSessionToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if token == other {
		t.Fatal("tokens must be unique")
	}
}
