// Package session implements the stateless encrypted session envelope.
//
// The server never stores sessions: the encrypted token carried by the
// client is the storage. Each request decrypts the inbound token,
// refreshes the record, and returns a freshly encrypted token.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize  = 32
	nonceSize = 12
	tagSize   = 16
	keySize   = 32

	// pbkdf2Iterations is the PBKDF2-SHA256 iteration count for
	// deriving the per-token encryption key.
	pbkdf2Iterations = 100_000
)

var (
	// ErrInvalidSession is returned when a token cannot be decoded,
	// authenticated, or parsed. Callers treat the request as having no
	// session.
	ErrInvalidSession = errors.New("invalid session token")

	// ErrSessionExpired is returned when a decrypted record is past its
	// idle timeout or absolute lifetime.
	ErrSessionExpired = errors.New("session expired")
)

// Counters tracks per-session usage.
type Counters struct {
	RequestCount  int64     `json:"request_count"`
	LastRequestAt time.Time `json:"last_request_at"`
}

// Record is the decrypted session state.
type Record struct {
	ID                string            `json:"id"`
	CreatedAt         time.Time         `json:"created_at"`
	LastAccessedAt    time.Time         `json:"last_accessed_at"`
	ExpiresAt         time.Time         `json:"expires_at"`
	ClientFingerprint string            `json:"client_fingerprint,omitempty"`
	Preferences       map[string]string `json:"preferences,omitempty"`
	Counters          Counters          `json:"counters"`
}

// Envelope encrypts and decrypts session records.
//
// Scheme: AES-256-GCM with a key derived per token via
// PBKDF2-SHA256(master key, fresh 32-byte salt, 100000 iterations).
// Wire layout (base64): salt || nonce || auth tag || ciphertext, with
// the salt as associated authenticated data.
type Envelope struct {
	masterKey []byte
	timeout   time.Duration
	maxAge    time.Duration
}

// NewEnvelope creates an envelope from the master key.
func NewEnvelope(masterKey string, timeout, maxAge time.Duration) (*Envelope, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key is required")
	}
	return &Envelope{
		masterKey: []byte(masterKey),
		timeout:   timeout,
		maxAge:    maxAge,
	}, nil
}

// NewRecord mints a fresh session record for a client.
func (e *Envelope) NewRecord(fingerprint string) *Record {
	now := time.Now()
	return &Record{
		ID:                uuid.NewString(),
		CreatedAt:         now,
		LastAccessedAt:    now,
		ExpiresAt:         now.Add(e.timeout),
		ClientFingerprint: fingerprint,
		Counters: Counters{
			RequestCount:  1,
			LastRequestAt: now,
		},
	}
}

// Touch refreshes the record for a new request: bumps the idle expiry
// and the usage counters. Returns ErrSessionExpired when the record is
// past its idle timeout or absolute lifetime.
func (e *Envelope) Touch(rec *Record) error {
	now := time.Now()
	if now.After(rec.ExpiresAt) {
		return ErrSessionExpired
	}
	if now.Sub(rec.CreatedAt) > e.maxAge {
		return ErrSessionExpired
	}

	rec.LastAccessedAt = now
	rec.ExpiresAt = now.Add(e.timeout)
	rec.Counters.RequestCount++
	rec.Counters.LastRequestAt = now
	return nil
}

// Encrypt serializes and encrypts a record into a base64 token.
func (e *Envelope) Encrypt(rec *Record) (string, error) {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal session record: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	aead, err := e.aead(salt)
	if err != nil {
		return "", err
	}

	// Seal appends ciphertext||tag; the wire layout carries the tag
	// before the ciphertext, so split and reorder.
	sealed := aead.Seal(nil, nonce, plaintext, salt)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	token := make([]byte, 0, saltSize+nonceSize+tagSize+len(ciphertext))
	token = append(token, salt...)
	token = append(token, nonce...)
	token = append(token, tag...)
	token = append(token, ciphertext...)

	return base64.StdEncoding.EncodeToString(token), nil
}

// Decrypt authenticates and parses a token. Any parse, MAC, or format
// failure yields ErrInvalidSession.
func (e *Envelope) Decrypt(token string) (*Record, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidSession
	}
	if len(raw) < saltSize+nonceSize+tagSize {
		return nil, ErrInvalidSession
	}

	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+nonceSize]
	tag := raw[saltSize+nonceSize : saltSize+nonceSize+tagSize]
	ciphertext := raw[saltSize+nonceSize+tagSize:]

	aead, err := e.aead(salt)
	if err != nil {
		return nil, ErrInvalidSession
	}

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, salt)
	if err != nil {
		return nil, ErrInvalidSession
	}

	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, ErrInvalidSession
	}
	if rec.ID == "" {
		return nil, ErrInvalidSession
	}

	return &rec, nil
}

// aead builds the AES-256-GCM cipher for a salt.
func (e *Envelope) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(e.masterKey, salt, pbkdf2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}
