// Package credstore encrypts and decrypts long-lived secrets at rest
// with a password-derived symmetric key, so the on-disk configuration
// never contains a usable secret (spec §4.1).
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize       = 16 // 128 bits
	nonceSize      = 12 // 96 bits, AES-GCM standard
	keySize        = 32 // 256 bits
	pbkdf2Iters    = 100_000
	defaultMaxAttempts = 5
)

// Plaintext is an in-memory-only secret. Zero it with Zero once the
// caller is done; it is never logged or rendered.
type Plaintext struct {
	b []byte
}

// NewPlaintext copies b into a Plaintext the caller owns.
func NewPlaintext(b []byte) *Plaintext {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &Plaintext{b: cp}
}

// Bytes returns the underlying secret bytes. The returned slice aliases
// Plaintext's storage; callers must not retain it past Zero.
func (p *Plaintext) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.b
}

// Zero overwrites the secret in place. Safe to call multiple times.
func (p *Plaintext) Zero() {
	if p == nil {
		return
	}
	for i := range p.b {
		p.b[i] = 0
	}
	p.b = nil
}

// Encrypted is the at-rest form of a secret: ciphertext (nonce-prefixed,
// GCM-tagged) plus the salt used to derive its key.
type Encrypted struct {
	Ciphertext []byte
	Salt       []byte
}

func deriveKey(password []byte, salt []byte) []byte {
	return pbkdf2.Key(password, salt, pbkdf2Iters, keySize, sha256.New)
}

// Encrypt derives a fresh 256-bit key from password and a new random
// salt, then seals plaintext under AES-256-GCM with a fresh random
// nonce prepended to the ciphertext.
func Encrypt(plaintext []byte, password []byte) (Encrypted, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Encrypted{}, fmt.Errorf("credstore: generate salt: %w", err)
	}

	key := deriveKey(password, salt)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return Encrypted{}, fmt.Errorf("credstore: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Encrypted{}, fmt.Errorf("credstore: new gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Encrypted{}, fmt.Errorf("credstore: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return Encrypted{Ciphertext: ciphertext, Salt: salt}, nil
}

// Decrypt reverses Encrypt. It returns ErrInvalidPassword on an
// authentication-tag mismatch and ErrMalformed on length/parse errors.
func Decrypt(enc Encrypted, password []byte) (*Plaintext, error) {
	if len(enc.Salt) != saltSize {
		return nil, ErrMalformed
	}
	if len(enc.Ciphertext) < nonceSize {
		return nil, ErrMalformed
	}

	key := deriveKey(password, enc.Salt)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credstore: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credstore: new gcm: %w", err)
	}

	nonce := enc.Ciphertext[:nonceSize]
	body := enc.Ciphertext[nonceSize:]

	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ErrInvalidPassword
	}
	return NewPlaintext(plain), nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Kind names a category of credential managed by the store (connection
// string, client secret, ...), so needs_password() can be asked per
// kind per spec §4.1.
type Kind string

const (
	KindServiceBusConnectionString Kind = "servicebus_connection_string"
	KindAzureADClientSecret        Kind = "azure_ad_client_secret"
)

// Store holds the session's cached plaintexts and tracks the
// InvalidPassword retry budget per credential kind. All state is
// in-memory only and guarded by a mutex (spec §5).
type Store struct {
	mu          sync.Mutex
	logger      *zap.Logger
	maxAttempts int
	cache       map[Kind]*Plaintext
	attempts    map[Kind]int
	encrypted   map[Kind]Encrypted
}

// New constructs an empty Store over encrypted, the encrypted
// credentials the caller has already loaded (cmd/quetty reads them from
// the profile's keys.toml). The store reads no file and no environment
// variable itself, so encrypted values set only through the environment
// overlay are not in this map.
func New(logger *zap.Logger, encrypted map[Kind]Encrypted) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		cache:       make(map[Kind]*Plaintext),
		attempts:    make(map[Kind]int),
		encrypted:   encrypted,
	}
}

// ContainsEncrypted reports whether any encrypted credential is
// configured. It is pure with respect to the filesystem: it only
// inspects the map the configuration layer already loaded.
func (s *Store) ContainsEncrypted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.encrypted) > 0
}

// NeedsPassword reports whether kind has an encrypted variant configured
// and no cached plaintext for this session yet.
func (s *Store) NeedsPassword(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hasEncrypted := s.encrypted[kind]
	_, cached := s.cache[kind]
	return hasEncrypted && !cached
}

// Unlock decrypts kind's stored ciphertext with password and caches the
// resulting plaintext for the remainder of the session. It enforces the
// attempt cap and never logs the password or the resulting plaintext.
func (s *Store) Unlock(kind Kind, password []byte) (*Plaintext, error) {
	s.mu.Lock()
	enc, ok := s.encrypted[kind]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("credstore: no encrypted credential for kind %q", kind)
	}
	if s.attempts[kind] >= s.maxAttempts {
		s.mu.Unlock()
		return nil, ErrAttemptsExhausted
	}
	s.mu.Unlock()

	plain, err := Decrypt(enc, password)
	if err != nil {
		if err == ErrInvalidPassword {
			s.mu.Lock()
			s.attempts[kind]++
			remaining := s.maxAttempts - s.attempts[kind]
			s.mu.Unlock()
			s.logger.Warn("invalid master password", zap.String("kind", string(kind)), zap.Int("attempts_remaining", remaining))
			return nil, ErrInvalidPassword
		}
		s.logger.Error("malformed encrypted credential", zap.String("kind", string(kind)))
		return nil, err
	}

	s.mu.Lock()
	s.cache[kind] = plain
	s.attempts[kind] = 0
	s.mu.Unlock()
	s.logger.Info("credential unlocked", zap.String("kind", string(kind)))
	return plain, nil
}

// Cached returns the previously unlocked plaintext for kind, if any.
func (s *Store) Cached(kind Kind) (*Plaintext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.cache[kind]
	return p, ok
}

// SetEncrypted registers (or replaces) the encrypted blob for kind,
// invalidating any cached plaintext and attempt counter for it — used
// when the configuration layer re-encrypts a credential mid-session.
func (s *Store) SetEncrypted(kind Kind, enc Encrypted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encrypted[kind] = enc
	delete(s.cache, kind)
	s.attempts[kind] = 0
}

// Close zeroes every cached plaintext. Call on process exit.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, p := range s.cache {
		p.Zero()
		delete(s.cache, k)
	}
}
