package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

const (
	saltLen  = 16
	nonceLen = 16
	tagLen   = 16
	keyLen   = 32

	headerLen = saltLen + nonceLen + tagLen
)

var (
	// ErrKeyMissing is returned when no master secret is configured.
	ErrKeyMissing = errors.New("vault: key material absent")
	// ErrDecrypt is returned for any blob that cannot be opened.
	ErrDecrypt = errors.New("vault: decryption failed")
)

// Params controls the argon2id cost used to derive per-record keys.
type Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultParams matches the cost used for credential hashing elsewhere in the stack.
func DefaultParams() Params {
	return Params{Time: 3, Memory: 64 * 1024, Threads: 2}
}

// Vault seals and opens token payloads with AES-256-GCM under argon2id-derived keys.
type Vault struct {
	secret []byte
	params Params
	slots  *semaphore.Weighted
	rand   io.Reader
}

// Option customizes a Vault.
type Option func(*Vault)

// WithParams overrides the key derivation cost.
func WithParams(p Params) Option {
	return func(v *Vault) {
		v.params = p
	}
}

// WithMaxConcurrency bounds how many key derivations run at once.
func WithMaxConcurrency(n int) Option {
	return func(v *Vault) {
		if n > 0 {
			v.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// New builds a vault from the master secret. An empty secret is refused.
func New(masterSecret string, opts ...Option) (*Vault, error) {
	secret := strings.TrimSpace(masterSecret)
	if secret == "" {
		return nil, ErrKeyMissing
	}
	v := &Vault{
		secret: []byte(secret),
		params: DefaultParams(),
		slots:  semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		rand:   rand.Reader,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Seal encrypts plaintext and returns base64(salt || nonce || tag || ciphertext).
func (v *Vault) Seal(ctx context.Context, plaintext []byte) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", ErrKeyMissing
	}

	buf := make([]byte, saltLen+nonceLen)
	if _, err := io.ReadFull(v.rand, buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	salt, nonce := buf[:saltLen], buf[saltLen:]

	aead, err := v.aead(ctx, salt)
	if err != nil {
		return "", err
	}

	// Go's GCM appends the tag; the stored layout keeps it ahead of the ciphertext.
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	out := make([]byte, 0, headerLen+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Tampered, truncated, or foreign blobs yield ErrDecrypt.
func (v *Vault) Open(ctx context.Context, blob string) ([]byte, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, ErrKeyMissing
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding", ErrDecrypt)
	}
	if len(raw) < headerLen {
		return nil, fmt.Errorf("%w: truncated blob", ErrDecrypt)
	}

	salt := raw[:saltLen]
	nonce := raw[saltLen : saltLen+nonceLen]
	tag := raw[saltLen+nonceLen : headerLen]
	ciphertext := raw[headerLen:]

	aead, err := v.aead(ctx, salt)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+tagLen)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecrypt)
	}
	return plaintext, nil
}

// SealJSON marshals value and seals the result.
func (v *Vault) SealJSON(ctx context.Context, value any) (string, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return v.Seal(ctx, payload)
}

// OpenJSON opens blob and unmarshals it into out.
func (v *Vault) OpenJSON(ctx context.Context, blob string, out any) error {
	plaintext, err := v.Open(ctx, blob)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: malformed payload", ErrDecrypt)
	}
	return nil
}

func (v *Vault) aead(ctx context.Context, salt []byte) (cipher.AEAD, error) {
	if err := v.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire kdf slot: %w", err)
	}
	key := argon2.IDKey(v.secret, salt, v.params.Time, v.params.Memory, v.params.Threads, keyLen)
	v.slots.Release(1)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceLen)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}
