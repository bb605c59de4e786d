// Package envelope implements the versioned, passphrase-derived envelope
// format that protects a payload end to end. All operations here run on the
// client side: the server only ever sees the serialized envelope and its
// digest, never the passphrase or the derived key.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Version is the current envelope format discriminator. The KDF cost and
	// cipher choice below are fixed by this version; bumping either means
	// bumping the version.
	Version = 1

	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	kdfIterations = 120000
)

// ErrDecryptFailed is returned for any authentication failure on decrypt.
// A wrong passphrase and a corrupted or tampered envelope are deliberately
// indistinguishable.
var ErrDecryptFailed = errors.New("wrong passphrase or corrupted envelope")

// ErrUnsupportedVersion is returned when an envelope declares a format
// version this codec does not understand.
var ErrUnsupportedVersion = errors.New("unsupported envelope version")

// envelope is the wire form. Field order is the canonical serialization:
// encoding/json emits struct fields in declaration order, so the same
// (payload, salt, nonce) always yields byte-identical envelopes and digests
// across implementations.
type envelope struct {
	Version    int     `json:"v"`
	Salt       []byte  `json:"salt"`
	Nonce      []byte  `json:"iv"`
	Ciphertext []byte  `json:"ciphertext"`
	Filename   *string `json:"filename"`
	MimeType   *string `json:"mimeType"`
	IsText     bool    `json:"isText"`
}

// Metadata describes the original artifact so it can be reconstructed after
// decryption. Filename and MimeType are ignored for text payloads.
type Metadata struct {
	IsText   bool
	Filename string
	MimeType string
}

// Payload is the result of a successful decryption.
type Payload struct {
	IsText   bool
	Text     string
	Data     []byte
	Filename string
	MimeType string
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfIterations, keySize, sha256.New)
}

// Encrypt seals payload under a key derived from passphrase and returns the
// serialized envelope along with the lowercase hex SHA-256 digest of those
// exact bytes. A fresh salt and nonce are drawn from crypto/rand on every
// call; neither the passphrase nor the derived key appears in the output.
func Encrypt(payload []byte, passphrase string, meta Metadata) ([]byte, string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, "", fmt.Errorf("generating salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, "", fmt.Errorf("generating nonce: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, "", fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", fmt.Errorf("creating GCM: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, payload, nil)

	env := envelope{
		Version:    Version,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		IsText:     meta.IsText,
	}
	if !meta.IsText {
		if meta.Filename != "" {
			env.Filename = &meta.Filename
		}
		if meta.MimeType != "" {
			env.MimeType = &meta.MimeType
		}
	}

	serialized, err := json.Marshal(&env)
	if err != nil {
		return nil, "", fmt.Errorf("serializing envelope: %w", err)
	}

	sum := sha256.Sum256(serialized)
	return serialized, hex.EncodeToString(sum[:]), nil
}

// Digest returns the lowercase hex SHA-256 of a serialized envelope. It is
// an identity/tamper attestation only, never a key or capability.
func Digest(serialized []byte) string {
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])
}

// Decrypt parses a serialized envelope and recovers the payload with the
// given passphrase. Any authentication failure — wrong passphrase, flipped
// ciphertext bit, altered nonce — surfaces as the single ErrDecryptFailed.
func Decrypt(serialized []byte, passphrase string) (*Payload, error) {
	var env envelope
	if err := json.Unmarshal(serialized, &env); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if len(env.Salt) != saltSize || len(env.Nonce) != nonceSize {
		return nil, ErrDecryptFailed
	}

	key := deriveKey(passphrase, env.Salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		// Do not wrap the cipher error: its message could distinguish
		// failure modes the caller must not learn.
		return nil, ErrDecryptFailed
	}

	p := &Payload{IsText: env.IsText}
	if env.IsText {
		p.Text = string(plaintext)
		return p, nil
	}
	p.Data = plaintext
	p.Filename = "decrypted-file"
	p.MimeType = "application/octet-stream"
	if env.Filename != nil {
		p.Filename = *env.Filename
	}
	if env.MimeType != nil {
		p.MimeType = *env.MimeType
	}
	return p, nil
}
