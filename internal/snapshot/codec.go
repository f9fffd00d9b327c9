// Package snapshot seals in-progress answer maps for storage outside the
// session. Sealed snapshots are authenticated, so a tampered or foreign value
// is rejected instead of being restored.
package snapshot

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/session"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	version   = "v1"
	hkdfInfo  = "exstem-proctor/progress/" + version
	minSecret = 16
)

var (
	// ErrUndecryptable means the input was not sealed by this codec's key.
	ErrUndecryptable = errors.New("snapshot undecryptable")
	ErrWeakSecret    = fmt.Errorf("progress secret must be at least %d bytes", minSecret)
)

// Codec implements session.Codec with XChaCha20-Poly1305.
type Codec struct {
	aead cipher.AEAD
}

var _ session.Codec = (*Codec)(nil)

// NewCodec derives the sealing key from secret.
func NewCodec(secret string) (*Codec, error) {
	if len(secret) < minSecret {
		return nil, ErrWeakSecret
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Seal encrypts m as "v1.<base64url(nonce|ciphertext)>".
func (c *Codec) Seal(m session.AnswerMap) (string, error) {
	plain, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plain, []byte(version))
	return version + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Null values and non-numeric keys in the decrypted
// payload are skipped.
func (c *Codec) Open(s string) (session.AnswerMap, error) {
	body, ok := strings.CutPrefix(s, version+".")
	if !ok {
		return nil, ErrUndecryptable
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(raw) < c.aead.NonceSize() {
		return nil, ErrUndecryptable
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, []byte(version))
	if err != nil {
		return nil, ErrUndecryptable
	}

	var decoded map[string]*int
	if err := json.Unmarshal(plain, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecryptable, err)
	}

	out := make(session.AnswerMap, len(decoded))
	for k, v := range decoded {
		idx, err := strconv.Atoi(k)
		if err != nil || v == nil {
			continue
		}
		out[idx] = *v
	}
	return out, nil
}
