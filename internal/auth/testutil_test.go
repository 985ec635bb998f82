package auth

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gatekey/backend/pkg/utils"
)

var encryptionOnce sync.Once

// memoryStore is an in-process Store used to drive the flows without a
// database. All mutations take a single lock so concurrent tests observe
// the same atomicity the SQL implementation provides transactionally.
type memoryStore struct {
	mu sync.Mutex

	users        map[uuid.UUID]*userRecord
	sessions     map[string]*Session
	resets       map[string]*PasswordResetSession
	verification map[string]*EmailVerificationRequest
	totpKeys     map[uuid.UUID]string
	credentials  []WebAuthnCredential
}

type userRecord struct {
	id            uuid.UUID
	email         string
	username      string
	passwordHash  string
	emailVerified bool
	recoveryCode  string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:        make(map[uuid.UUID]*userRecord),
		sessions:     make(map[string]*Session),
		resets:       make(map[string]*PasswordResetSession),
		verification: make(map[string]*EmailVerificationRequest),
		totpKeys:     make(map[uuid.UUID]string),
	}
}

func (m *memoryStore) view(rec *userRecord) *User {
	user := &User{
		ID:            rec.id,
		Email:         rec.email,
		Username:      rec.username,
		EmailVerified: rec.emailVerified,
	}
	if _, ok := m.totpKeys[rec.id]; ok {
		user.RegisteredTOTP = true
	}
	for _, credential := range m.credentials {
		if credential.UserID != rec.id {
			continue
		}
		switch credential.Kind {
		case KindPasskey:
			user.RegisteredPasskey = true
		case KindSecurityKey:
			user.RegisteredSecurityKey = true
		}
	}
	return user
}

func (m *memoryStore) CreateUser(email, username, passwordHash, encryptedRecoveryCode string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := &userRecord{
		id:           uuid.New(),
		email:        email,
		username:     username,
		passwordHash: passwordHash,
		recoveryCode: encryptedRecoveryCode,
	}
	m.users[rec.id] = rec
	return m.view(rec), nil
}

func (m *memoryStore) GetUserByEmail(email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.users {
		if rec.email == email {
			return m.view(rec), nil
		}
	}
	return nil, nil
}

func (m *memoryStore) GetUserByID(id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return m.view(rec), nil
}

func (m *memoryStore) EmailAvailable(email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.users {
		if rec.email == email {
			return false, nil
		}
	}
	return true, nil
}

func (m *memoryStore) GetUserPasswordHash(userID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.users[userID]; ok {
		return rec.passwordHash, nil
	}
	return "", nil
}

func (m *memoryStore) UpdateUserPassword(userID uuid.UUID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.users[userID]; ok {
		rec.passwordHash = passwordHash
	}
	return nil
}

func (m *memoryStore) UpdateUserEmailAndSetVerified(userID uuid.UUID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.users[userID]; ok {
		rec.email = email
		rec.emailVerified = true
	}
	return nil
}

func (m *memoryStore) SetUserEmailVerifiedIfEmailMatches(userID uuid.UUID, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[userID]
	if !ok || rec.email != email {
		return false, nil
	}
	rec.emailVerified = true
	return true, nil
}

func (m *memoryStore) GetUserRecoveryCode(userID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.users[userID]; ok {
		return rec.recoveryCode, nil
	}
	return "", nil
}

func (m *memoryStore) UpdateUserRecoveryCode(userID uuid.UUID, encryptedCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.users[userID]; ok {
		rec.recoveryCode = encryptedCode
	}
	return nil
}

func (m *memoryStore) RotateRecoveryCode(userID uuid.UUID, oldEncrypted, newEncrypted string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[userID]
	if !ok || rec.recoveryCode != oldEncrypted {
		return false, nil
	}
	rec.recoveryCode = newEncrypted
	delete(m.totpKeys, userID)
	kept := m.credentials[:0]
	for _, credential := range m.credentials {
		if credential.UserID != userID {
			kept = append(kept, credential)
		}
	}
	m.credentials = kept
	for _, session := range m.sessions {
		if session.UserID == userID {
			session.TwoFactorVerified = false
		}
	}
	return true, nil
}

func (m *memoryStore) CreateSession(session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *session
	m.sessions[session.ID] = &clone
	return nil
}

func (m *memoryStore) GetSession(id string) (*Session, *User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, nil, nil
	}
	rec, ok := m.users[session.UserID]
	if !ok {
		return nil, nil, nil
	}
	clone := *session
	return &clone, m.view(rec), nil
}

func (m *memoryStore) UpdateSessionExpiry(id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[id]; ok {
		session.ExpiresAt = expiresAt
	}
	return nil
}

func (m *memoryStore) SetSessionTwoFactorVerified(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[id]; ok {
		session.TwoFactorVerified = true
	}
	return nil
}

func (m *memoryStore) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memoryStore) DeleteUserSessions(userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, session := range m.sessions {
		if session.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memoryStore) CreatePasswordResetSession(session *PasswordResetSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *session
	m.resets[session.ID] = &clone
	return nil
}

func (m *memoryStore) GetPasswordResetSession(id string) (*PasswordResetSession, *User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.resets[id]
	if !ok {
		return nil, nil, nil
	}
	rec, ok := m.users[session.UserID]
	if !ok {
		return nil, nil, nil
	}
	clone := *session
	return &clone, m.view(rec), nil
}

func (m *memoryStore) SetPasswordResetSessionEmailVerified(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.resets[id]; ok {
		session.EmailVerified = true
	}
	return nil
}

func (m *memoryStore) SetPasswordResetSessionTwoFactorVerified(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.resets[id]; ok {
		session.TwoFactorVerified = true
	}
	return nil
}

func (m *memoryStore) DeletePasswordResetSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resets, id)
	return nil
}

func (m *memoryStore) DeleteUserPasswordResetSessions(userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, session := range m.resets {
		if session.UserID == userID {
			delete(m.resets, id)
		}
	}
	return nil
}

func (m *memoryStore) CreateEmailVerificationRequest(request *EmailVerificationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *request
	m.verification[request.ID] = &clone
	return nil
}

func (m *memoryStore) GetEmailVerificationRequest(userID uuid.UUID, id string) (*EmailVerificationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.verification[id]
	if !ok || request.UserID != userID {
		return nil, nil
	}
	clone := *request
	return &clone, nil
}

func (m *memoryStore) DeleteUserEmailVerificationRequests(userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, request := range m.verification {
		if request.UserID == userID {
			delete(m.verification, id)
		}
	}
	return nil
}

func (m *memoryStore) GetTOTPKey(userID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totpKeys[userID], nil
}

func (m *memoryStore) ReplaceTOTPKey(userID uuid.UUID, encryptedKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totpKeys[userID] = encryptedKey
	return nil
}

func (m *memoryStore) DeleteTOTPKey(userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.totpKeys, userID)
	return nil
}

func (m *memoryStore) CreateWebAuthnCredential(credential *WebAuthnCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.credentials {
		if bytes.Equal(existing.ID, credential.ID) {
			return ErrDuplicateCredential
		}
	}
	m.credentials = append(m.credentials, *credential)
	return nil
}

func (m *memoryStore) GetWebAuthnCredential(credentialID []byte, kind CredentialKind) (*WebAuthnCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, credential := range m.credentials {
		if bytes.Equal(credential.ID, credentialID) && credential.Kind == kind {
			clone := credential
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) GetUserWebAuthnCredential(userID uuid.UUID, credentialID []byte, kind CredentialKind) (*WebAuthnCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, credential := range m.credentials {
		if credential.UserID == userID && bytes.Equal(credential.ID, credentialID) && credential.Kind == kind {
			clone := credential
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) GetUserWebAuthnCredentials(userID uuid.UUID, kind CredentialKind) ([]WebAuthnCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WebAuthnCredential
	for _, credential := range m.credentials {
		if credential.UserID == userID && credential.Kind == kind {
			out = append(out, credential)
		}
	}
	return out, nil
}

func (m *memoryStore) CountWebAuthnCredentials(userID uuid.UUID, kind CredentialKind) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, credential := range m.credentials {
		if credential.UserID == userID && credential.Kind == kind {
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) DeleteWebAuthnCredential(userID uuid.UUID, credentialID []byte, kind CredentialKind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, credential := range m.credentials {
		if credential.UserID == userID && bytes.Equal(credential.ID, credentialID) && credential.Kind == kind {
			m.credentials = append(m.credentials[:i], m.credentials[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// recordingMailer captures outbound codes so tests can replay them.
type recordingMailer struct {
	mu              sync.Mutex
	verificationTo  string
	verification    string
	resetTo         string
	reset           string
	verificationCnt int
}

func (m *recordingMailer) SendVerificationCode(email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verificationTo = email
	m.verification = code
	m.verificationCnt++
	return nil
}

func (m *recordingMailer) SendPasswordResetCode(email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetTo = email
	m.reset = code
	return nil
}

func (m *recordingMailer) lastVerificationCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verification
}

func (m *recordingMailer) lastResetCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reset
}

type testEnv struct {
	service *Service
	store   *memoryStore
	mailer  *recordingMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	encryptionOnce.Do(func() {
		utils.ConfigureEncryption("test-encryption-secret")
	})
	store := newMemoryStore()
	mailer := &recordingMailer{}
	service := NewService(store, mailer, Config{
		RelyingPartyHost:   "localhost",
		RelyingPartyOrigin: "http://localhost:8080",
	})
	return &testEnv{service: service, store: store, mailer: mailer}
}

// signUpUser provisions an account straight through the public flow.
func (e *testEnv) signUpUser(t *testing.T, email, password string) (*MintedSession, *EmailVerificationRequest) {
	t.Helper()
	out, res, err := e.service.SignUp(SignUpInput{
		Username: "tester",
		Email:    email,
		Password: password,
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if !res.IsRedirect() {
		t.Fatalf("sign up rejected: %q", res.Message)
	}
	return out.Session, out.VerificationRequest
}

// verifiedUser provisions an account and completes email verification.
func (e *testEnv) verifiedUser(t *testing.T, email, password string) (*Session, *User) {
	t.Helper()
	minted, _ := e.signUpUser(t, email, password)
	return e.verifiedUserFromMinted(t, minted)
}

// verifiedUserFromMinted completes email verification for a freshly
// signed-up session using the last mailed code.
func (e *testEnv) verifiedUserFromMinted(t *testing.T, minted *MintedSession) (*Session, *User) {
	t.Helper()
	session, user := e.resolve(t, minted)
	request, err := e.service.GetEmailVerificationRequest(user.ID, e.lastRequestID(user.ID))
	if err != nil || request == nil {
		t.Fatalf("pending verification request missing: %v", err)
	}
	fresh, res, err := e.service.VerifyEmail(session, user, request.ID, request.Code)
	if err != nil {
		t.Fatalf("verify email: %v", err)
	}
	if fresh != nil || !res.IsRedirect() {
		t.Fatalf("verify email did not succeed: %q", res.Message)
	}
	return e.resolve(t, minted)
}

// lastRequestID finds the user's pending verification request id.
func (e *testEnv) lastRequestID(userID uuid.UUID) string {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	for id, request := range e.store.verification {
		if request.UserID == userID {
			return id
		}
	}
	return ""
}

// resolve re-reads the session and user through the token path.
func (e *testEnv) resolve(t *testing.T, minted *MintedSession) (*Session, *User) {
	t.Helper()
	session, user, err := e.service.ValidateSessionToken(minted.Token)
	if err != nil {
		t.Fatalf("validate session token: %v", err)
	}
	if session == nil {
		t.Fatal("session not found")
	}
	return session, user
}
