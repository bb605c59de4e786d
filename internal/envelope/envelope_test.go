package envelope

import (
	"bytes"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripText(t *testing.T) {
	serialized, digest, err := Encrypt([]byte("if you are reading this, check the safe"), "correct horse", Metadata{IsText: true})
	require.NoError(t, err)
	require.NotEmpty(t, serialized)
	require.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), digest)

	p, err := Decrypt(serialized, "correct horse")
	require.NoError(t, err)
	assert.True(t, p.IsText)
	assert.Equal(t, "if you are reading this, check the safe", p.Text)
}

func TestRoundTripBinary(t *testing.T) {
	payload := []byte{0x00, 0xff, 0x10, 0x80, 0x7f}
	serialized, _, err := Encrypt(payload, "pw", Metadata{Filename: "will.pdf", MimeType: "application/pdf"})
	require.NoError(t, err)

	p, err := Decrypt(serialized, "pw")
	require.NoError(t, err)
	assert.False(t, p.IsText)
	assert.Equal(t, payload, p.Data)
	assert.Equal(t, "will.pdf", p.Filename)
	assert.Equal(t, "application/pdf", p.MimeType)
}

func TestWrongPassphrase(t *testing.T) {
	serialized, _, err := Encrypt([]byte("secret"), "right", Metadata{IsText: true})
	require.NoError(t, err)

	_, err = Decrypt(serialized, "wrong")
	require.ErrorIs(t, err, ErrDecryptFailed)
}

// Flipping any single bit of the ciphertext or nonce must fail with the same
// error as a wrong passphrase, so a recipient cannot tell tampering apart
// from a typo.
func TestTamperIndistinguishable(t *testing.T) {
	serialized, _, err := Encrypt([]byte("secret"), "pw", Metadata{IsText: true})
	require.NoError(t, err)

	for _, field := range []string{"ciphertext", "iv"} {
		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(serialized, &raw))

		var data []byte
		require.NoError(t, json.Unmarshal(raw[field], &data))

		data[0] ^= 0x01
		mutated, err := json.Marshal(data)
		require.NoError(t, err)
		raw[field] = mutated
		tampered, err := json.Marshal(raw)
		require.NoError(t, err)

		_, err = Decrypt(tampered, "pw")
		require.ErrorIs(t, err, ErrDecryptFailed, "field %s", field)
	}
}

// Two encryptions of the same input must use fresh randomness, yet both
// envelopes must still decrypt.
func TestFreshSaltAndNonce(t *testing.T) {
	a, digestA, err := Encrypt([]byte("same input"), "pw", Metadata{IsText: true})
	require.NoError(t, err)
	b, digestB, err := Encrypt([]byte("same input"), "pw", Metadata{IsText: true})
	require.NoError(t, err)

	require.False(t, bytes.Equal(a, b), "envelopes should differ")
	require.NotEqual(t, digestA, digestB)

	var ea, eb envelope
	require.NoError(t, json.Unmarshal(a, &ea))
	require.NoError(t, json.Unmarshal(b, &eb))
	assert.False(t, bytes.Equal(ea.Salt, eb.Salt), "salts should differ")
	assert.False(t, bytes.Equal(ea.Nonce, eb.Nonce), "nonces should differ")

	for _, env := range [][]byte{a, b} {
		p, err := Decrypt(env, "pw")
		require.NoError(t, err)
		assert.Equal(t, "same input", p.Text)
	}
}

func TestDigestMatchesSerializedBytes(t *testing.T) {
	serialized, digest, err := Encrypt([]byte("x"), "pw", Metadata{IsText: true})
	require.NoError(t, err)
	assert.Equal(t, Digest(serialized), digest)
}

func TestUnsupportedVersion(t *testing.T) {
	serialized, _, err := Encrypt([]byte("x"), "pw", Metadata{IsText: true})
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(serialized, &raw))
	raw["v"] = json.RawMessage("2")
	future, err := json.Marshal(raw)
	require.NoError(t, err)

	_, err = Decrypt(future, "pw")
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

// The serialized envelope is the interoperability contract: exact key set,
// declaration order, std base64 values, null metadata for text payloads.
func TestWireFormat(t *testing.T) {
	serialized, _, err := Encrypt([]byte("hello"), "pw", Metadata{IsText: true})
	require.NoError(t, err)

	assert.Regexp(t, `^\{"v":1,"salt":"`, string(serialized))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(serialized, &raw))
	assert.Equal(t, float64(1), raw["v"])
	assert.Equal(t, true, raw["isText"])
	assert.Nil(t, raw["filename"])
	assert.Nil(t, raw["mimeType"])
	assert.Len(t, raw, 7)
}

// The envelope must never contain the passphrase in any form.
func TestPassphraseNotInEnvelope(t *testing.T) {
	serialized, _, err := Encrypt([]byte("payload"), "my-unique-passphrase", Metadata{IsText: true})
	require.NoError(t, err)
	assert.NotContains(t, string(serialized), "my-unique-passphrase")
}
