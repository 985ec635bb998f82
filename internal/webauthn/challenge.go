package webauthn

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"sync"
	"time"
)

const challengeSize = 20

// ChallengeRegistry issues single-use random challenges for WebAuthn
// ceremonies. A challenge is valid for one successful Consume within its
// TTL; it is never persisted.
type ChallengeRegistry struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewChallengeRegistry(ttl time.Duration) *ChallengeRegistry {
	return &ChallengeRegistry{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Create issues a fresh 20-byte challenge and registers it for later
// consumption. Expired entries are swept opportunistically.
func (r *ChallengeRegistry) Create() ([]byte, error) {
	challenge := make([]byte, challengeSize)
	if _, err := io.ReadFull(rand.Reader, challenge); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key, issuedAt := range r.entries {
		if now.Sub(issuedAt) > r.ttl {
			delete(r.entries, key)
		}
	}
	r.entries[hex.EncodeToString(challenge)] = now
	return challenge, nil
}

// Consume removes the challenge and reports whether it was live. A second
// Consume of the same value always fails, as does one past the TTL.
func (r *ChallengeRegistry) Consume(challenge []byte) bool {
	key := hex.EncodeToString(challenge)

	r.mu.Lock()
	defer r.mu.Unlock()

	issuedAt, ok := r.entries[key]
	if !ok {
		return false
	}
	delete(r.entries, key)
	return r.now().Sub(issuedAt) <= r.ttl
}
