package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// didPattern matches did:key:z6Mk... identifiers, restricted to the
// Ed25519 multicodec prefix (spec.md §4.1).
var didPattern = regexp.MustCompile(`^did:key:z6Mk[0-9A-HJ-NP-Za-km-z]+$`)

// ed25519MulticodecPrefix is the two-byte multicodec tag (0xED, 0x01) that
// precedes a raw Ed25519 public key inside a did:key multibase payload.
var ed25519MulticodecPrefix = []byte{0xED, 0x01}

// didHeader is the parsed, not-yet-verified shape of a DID-scheme
// Authorization header: "DID <did>:<unixSeconds>:<base64url-signature>".
type didHeader struct {
	DID       string
	Timestamp int64
	Signature []byte
}

func parseDIDHeader(value string) (didHeader, error) {
	const prefix = "DID "
	if !strings.HasPrefix(value, prefix) {
		return didHeader{}, errors.New("not a DID header")
	}
	rest := strings.TrimPrefix(value, prefix)

	// did:key:z6Mk...:<timestamp>:<sig> — split from the right so the DID
	// itself (which contains colons) is preserved intact.
	parts := strings.Split(rest, ":")
	if len(parts) < 5 {
		return didHeader{}, errors.New("malformed DID header")
	}
	sig := parts[len(parts)-1]
	ts := parts[len(parts)-2]
	did := strings.Join(parts[:len(parts)-2], ":")

	if !didPattern.MatchString(did) {
		return didHeader{}, fmt.Errorf("did does not match required pattern: %s", did)
	}

	timestamp, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return didHeader{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	sigBytes, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		if decoded, derr := base64.URLEncoding.DecodeString(sig); derr == nil {
			sigBytes = decoded
		} else {
			return didHeader{}, fmt.Errorf("invalid signature encoding: %w", err)
		}
	}

	return didHeader{DID: did, Timestamp: timestamp, Signature: sigBytes}, nil
}

// didPublicKey extracts the Ed25519 public key embedded in a did:key
// identifier, decoding its multibase "z" (base58btc) payload and stripping
// the 0xED 0x01 multicodec prefix.
func didPublicKey(did string) (ed25519.PublicKey, error) {
	const methodPrefix = "did:key:z"
	if !strings.HasPrefix(did, methodPrefix) {
		return nil, errors.New("not a did:key identifier")
	}
	encoded := strings.TrimPrefix(did, methodPrefix)

	raw, err := decodeBase58(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding did:key multibase payload: %w", err)
	}

	if len(raw) < len(ed25519MulticodecPrefix)+ed25519.PublicKeySize {
		return nil, errors.New("did:key payload too short for an Ed25519 key")
	}
	if raw[0] != ed25519MulticodecPrefix[0] || raw[1] != ed25519MulticodecPrefix[1] {
		return nil, errors.New("did:key payload is not Ed25519-multicodec-tagged")
	}

	key := raw[len(ed25519MulticodecPrefix) : len(ed25519MulticodecPrefix)+ed25519.PublicKeySize]
	return ed25519.PublicKey(key), nil
}

// didSignedPayload builds the exact byte string the client must have
// signed: "<timestamp>:<HTTP-METHOD>:<path>" (spec.md §4.1).
func didSignedPayload(timestamp int64, method, path string) []byte {
	return []byte(fmt.Sprintf("%d:%s:%s", timestamp, method, path))
}

// verifyDIDSignature checks an Ed25519 signature over the timestamp+method+
// path payload using the public key embedded in the DID.
func verifyDIDSignature(h didHeader, method, path string) error {
	pub, err := didPublicKey(h.DID)
	if err != nil {
		return err
	}
	payload := didSignedPayload(h.Timestamp, method, path)
	if !ed25519.Verify(pub, payload, h.Signature) {
		return errors.New("ed25519 signature verification failed")
	}
	return nil
}
