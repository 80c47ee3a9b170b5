package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidKey = errors.New("invalid API key")
	ErrKeyExpired = errors.New("API key expired")
)

// keyInfo holds the bcrypt hash of an issued key, never the key itself.
type keyInfo struct {
	Hash        string
	Description string
	CreatedAt   time.Time
	ExpiresAt   time.Time // zero means no expiry
}

// KeyManager issues and validates API keys. Keys are returned to the
// caller once at generation time and stored only as bcrypt hashes.
type KeyManager struct {
	keys map[string]*keyInfo // key ID -> info
	mu   sync.RWMutex
}

// NewKeyManager creates a new API key manager
func NewKeyManager() *KeyManager {
	return &KeyManager{
		keys: make(map[string]*keyInfo),
	}
}

// GenerateKey creates a new API key and returns its ID and secret.
// A zero ttl issues a key that never expires.
func (km *KeyManager) GenerateKey(description string, ttl time.Duration) (id, secret string, err error) {
	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate key ID: %w", err)
	}
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate key: %w", err)
	}

	id = base64.RawURLEncoding.EncodeToString(idBytes)
	secret = base64.RawURLEncoding.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash key: %w", err)
	}

	info := &keyInfo{
		Hash:        string(hash),
		Description: description,
		CreatedAt:   time.Now(),
	}
	if ttl > 0 {
		info.ExpiresAt = time.Now().Add(ttl)
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	km.keys[id] = info

	return id, secret, nil
}

// ValidateKey checks an ID/secret pair against the stored hash
func (km *KeyManager) ValidateKey(id, secret string) error {
	km.mu.RLock()
	info, ok := km.keys[id]
	km.mu.RUnlock()

	if !ok {
		return ErrInvalidKey
	}
	if !info.ExpiresAt.IsZero() && time.Now().After(info.ExpiresAt) {
		return ErrKeyExpired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(info.Hash), []byte(secret)); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// RevokeKey removes a key by ID
func (km *KeyManager) RevokeKey(id string) {
	km.mu.Lock()
	defer km.mu.Unlock()
	delete(km.keys, id)
}

// CleanupExpiredKeys removes keys past their expiry
func (km *KeyManager) CleanupExpiredKeys() {
	km.mu.Lock()
	defer km.mu.Unlock()

	now := time.Now()
	for id, info := range km.keys {
		if !info.ExpiresAt.IsZero() && now.After(info.ExpiresAt) {
			delete(km.keys, id)
		}
	}
}

// ListKeys returns key IDs with their descriptions
func (km *KeyManager) ListKeys() map[string]string {
	km.mu.RLock()
	defer km.mu.RUnlock()

	keys := make(map[string]string, len(km.keys))
	for id, info := range km.keys {
		keys[id] = info.Description
	}
	return keys
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Middleware enforces a static bearer token on every request. An empty
// token disables authentication entirely.
func Middleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			presented := strings.TrimPrefix(header, "Bearer ")
			if header == presented || !SecureCompare(presented, token) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
