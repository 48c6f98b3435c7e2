// Package envelope implements the compact three-part signed token described
// in spec.md §6.1: base64url(header).base64url(payload).base64url(signature),
// Ed25519 over the header and payload, keyed by the agent registered at
// Identity under the header's "kid".
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ed25519"
)

// Header is the fixed JOSE-ish header. Algorithm is always Ed25519.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

// ErrMalformed is returned for any structural problem with a token: wrong
// part count, bad base64, bad JSON. Callers map it to INVALID_JWS.
var ErrMalformed = errors.New("envelope: malformed token")

// ErrBadSignature is returned when the signature does not verify against
// the given public key. Callers map it to FORBIDDEN once an envelope is
// otherwise well-formed and the signer is known to Identity.
var ErrBadSignature = errors.New("envelope: signature invalid")

func b64Encode(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
func b64Decode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

// Sign builds a compact token for the given agent/action payload. payload
// must already carry "action" per spec.md §6.1; Sign does not inject it.
func Sign(agentID string, priv ed25519.PrivateKey, payload any) (string, error) {
	header := Header{Alg: "EdDSA", Typ: "JWT", Kid: agentID}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal header: %w", err)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal payload: %w", err)
	}

	headerB64 := b64Encode(headerJSON)
	payloadB64 := b64Encode(payloadJSON)
	signingInput := headerB64 + "." + payloadB64
	sig := ed25519.Sign(priv, []byte(signingInput))

	return signingInput + "." + b64Encode(sig), nil
}

// Parsed is a structurally valid, but not-yet-signature-verified, envelope.
type Parsed struct {
	Header       Header
	PayloadRaw   []byte
	Signature    []byte
	SigningInput []byte
}

// Parse splits and decodes a compact token without verifying its signature.
// A malformed token yields ErrMalformed; this is what maps to INVALID_JWS.
func Parse(token string) (*Parsed, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}
	headerRaw, err := b64Decode(parts[0])
	if err != nil {
		return nil, ErrMalformed
	}
	payloadRaw, err := b64Decode(parts[1])
	if err != nil {
		return nil, ErrMalformed
	}
	sig, err := b64Decode(parts[2])
	if err != nil {
		return nil, ErrMalformed
	}

	var header Header
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return nil, ErrMalformed
	}
	if header.Kid == "" || header.Alg != "EdDSA" {
		return nil, ErrMalformed
	}

	return &Parsed{
		Header:       header,
		PayloadRaw:   payloadRaw,
		Signature:    sig,
		SigningInput: []byte(parts[0] + "." + parts[1]),
	}, nil
}

// Verify checks the Ed25519 signature of p against pub. Returns
// ErrBadSignature on mismatch.
func (p *Parsed) Verify(pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return ErrBadSignature
	}
	if !ed25519.Verify(pub, p.SigningInput, p.Signature) {
		return ErrBadSignature
	}
	return nil
}

// Action extracts the "action" field from the payload without fully
// decoding it into a typed struct — used to reject cross-endpoint replay
// before the endpoint-specific payload shape is parsed (spec.md §6.1).
func (p *Parsed) Action() (string, error) {
	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(p.PayloadRaw, &probe); err != nil {
		return "", ErrMalformed
	}
	return probe.Action, nil
}

// Unmarshal decodes the payload into v (a typed per-action struct).
func (p *Parsed) Unmarshal(v any) error {
	return json.Unmarshal(p.PayloadRaw, v)
}

// DecodePublicKey parses the "ed25519:<base64-raw-32-bytes>" format used for
// public keys throughout spec.md §4.1/§3.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	const prefix = "ed25519:"
	if !strings.HasPrefix(s, prefix) {
		return nil, fmt.Errorf("envelope: public key missing %q prefix", prefix)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, prefix))
	if err != nil {
		// Tolerate raw-url-encoded keys too; agents may send either.
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, prefix))
		if err != nil {
			return nil, fmt.Errorf("envelope: invalid public key encoding: %w", err)
		}
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("envelope: public key must be %d raw bytes", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// EncodePublicKey renders a raw Ed25519 public key in the
// "ed25519:<base64>" form used when registering an agent.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return "ed25519:" + base64.StdEncoding.EncodeToString(pub)
}

// DecodePrivateKey parses a base64-encoded raw 64-byte Ed25519 private key
// (seed+public, standard library layout) as used for svcconfig.Platform's
// private key — the key Task Board and Court sign platform-authorized
// envelopes with.
func DecodePrivateKey(b64 string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("envelope: invalid private key encoding: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("envelope: private key must be %d raw bytes", ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(raw), nil
}
