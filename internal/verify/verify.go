// Package verify checks the Ed25519 signatures Discord attaches to interaction requests.
package verify

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	HeaderSignature = "X-Signature-Ed25519"
	HeaderTimestamp = "X-Signature-Timestamp"
)

var ErrNoPublicKey = errors.New("discord public key not configured")

// Verifier holds a decoded public key. The zero value rejects everything.
type Verifier struct {
	key ed25519.PublicKey
}

// NewVerifier decodes a hex encoded public key. An empty key yields a verifier
// that fails closed together with ErrNoPublicKey so callers can warn about it.
func NewVerifier(publicKeyHex string) (*Verifier, error) {
	publicKeyHex = strings.TrimSpace(publicKeyHex)
	if publicKeyHex == "" {
		return &Verifier{}, ErrNoPublicKey
	}
	key, err := decodeKey(publicKeyHex)
	if err != nil {
		return &Verifier{}, err
	}
	return &Verifier{key: key}, nil
}

// Configured reports whether a usable key is loaded.
func (v *Verifier) Configured() bool { return v != nil && len(v.key) == ed25519.PublicKeySize }

// Verify checks signature over timestamp+rawBody. rawBody must be the exact bytes received.
func (v *Verifier) Verify(rawBody []byte, signature, timestamp string) bool {
	if !v.Configured() || signature == "" || timestamp == "" {
		return false
	}
	return check(rawBody, signature, timestamp, v.key)
}

// Verify is the stateless form of Verifier.Verify taking the hex public key directly.
func Verify(rawBody []byte, signature, timestamp, publicKey string) bool {
	if signature == "" || timestamp == "" || publicKey == "" {
		return false
	}
	key, err := decodeKey(publicKey)
	if err != nil {
		return false
	}
	return check(rawBody, signature, timestamp, key)
}

func decodeKey(publicKeyHex string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, errors.New("discord public key is not valid hex")
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, errors.New("discord public key has the wrong length")
	}
	return ed25519.PublicKey(b), nil
}

// check hands the inputs to discordgo's verifier, which reads them off a request.
func check(rawBody []byte, signature, timestamp string, key ed25519.PublicKey) bool {
	req := &http.Request{
		Header: http.Header{},
		Body:   io.NopCloser(bytes.NewReader(rawBody)),
	}
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderTimestamp, timestamp)
	return discordgo.VerifyInteraction(req, key)
}
