package signaling

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// RequestSigner derives an HMAC key from a shared secret via HKDF-SHA256 and
// uses it to sign JSON-RPC request ids, so a relay between two peers cannot
// substitute a forged correlation id onto an offer/answer/ice_candidate
// message.
type RequestSigner struct {
	key []byte
}

// NewRequestSigner derives the signing key from secret, salted with salt
// (typically the local peer id, so two peers sharing a secret still derive
// distinct keys).
func NewRequestSigner(secret, salt []byte) (*RequestSigner, error) {
	key := make([]byte, sha256.Size)
	kdf := hkdf.New(sha256.New, secret, salt, []byte("zenmesh-transport-signaling-request-id"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return &RequestSigner{key: key}, nil
}

// Sign returns a hex-encoded HMAC-SHA256 tag over id.
func (s *RequestSigner) Sign(id string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether tag is the correct signature for id.
func (s *RequestSigner) Verify(id, tag string) bool {
	want, err := hex.DecodeString(tag)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(id))
	return hmac.Equal(want, mac.Sum(nil))
}
