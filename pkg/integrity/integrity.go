// Package integrity signs and verifies request messages with a shared
// symmetric key.
//
// The signature is a keyed hash over the canonical encoding of the request
// (every field except the signature itself), base64 encoded into the HMAC
// field. A worker verifies the signature before it looks at any operation
// field of the request.
package integrity

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"os"
	"strings"

	"github.com/marmos91/authproxy/internal/protocol/wire"
	"golang.org/x/crypto/blake2b"
)

// Supported algorithms.
const (
	AlgorithmHMACSHA1   = "hmac-sha1"
	AlgorithmHMACSHA256 = "hmac-sha256"
	AlgorithmBlake2b256 = "blake2b-256"
)

// RejectionMessage is the error text returned to callers whose request
// failed verification.
const RejectionMessage = "request HMAC value is wrong"

var (
	// ErrHMACMismatch reports a request whose signature does not match.
	ErrHMACMismatch = errors.New(RejectionMessage)

	// ErrEmptyKey is returned when no key material is configured.
	ErrEmptyKey = errors.New("integrity key is empty")
)

// Signer computes and checks request signatures. It is safe for concurrent
// use.
type Signer struct {
	key       []byte
	algorithm string
	newHash   func() (hash.Hash, error)
}

// New returns a signer for the given key and algorithm. An empty algorithm
// selects hmac-sha1.
func New(key []byte, algorithm string) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	if algorithm == "" {
		algorithm = AlgorithmHMACSHA1
	}

	k := append([]byte(nil), key...)
	s := &Signer{key: k, algorithm: strings.ToLower(algorithm)}

	switch s.algorithm {
	case AlgorithmHMACSHA1:
		s.newHash = func() (hash.Hash, error) { return hmac.New(sha1.New, k), nil }
	case AlgorithmHMACSHA256:
		s.newHash = func() (hash.Hash, error) { return hmac.New(sha256.New, k), nil }
	case AlgorithmBlake2b256:
		if len(k) > blake2b.Size {
			return nil, fmt.Errorf("blake2b-256 key must be at most %d bytes, got %d", blake2b.Size, len(k))
		}
		s.newHash = func() (hash.Hash, error) { return blake2b.New256(k) }
	default:
		return nil, fmt.Errorf("unsupported integrity algorithm %q", algorithm)
	}

	return s, nil
}

// Algorithm returns the configured algorithm name.
func (s *Signer) Algorithm() string {
	return s.algorithm
}

func (s *Signer) compute(req *wire.RequestMessage) (string, error) {
	data, err := wire.CanonicalBytes(req)
	if err != nil {
		return "", fmt.Errorf("canonical encoding: %w", err)
	}

	h, err := s.newHash()
	if err != nil {
		return "", err
	}
	h.Write(data)

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// Sign stores the signature of req in req.HMAC.
func (s *Signer) Sign(req *wire.RequestMessage) error {
	mac, err := s.compute(req)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.HMAC = mac
	return nil
}

// Verify recomputes the signature of req and compares it with req.HMAC in
// constant time. A mismatch returns ErrHMACMismatch.
func (s *Signer) Verify(req *wire.RequestMessage) error {
	expected, err := s.compute(req)
	if err != nil {
		return fmt.Errorf("verify request: %w", err)
	}

	if !hmac.Equal([]byte(expected), []byte(req.HMAC)) {
		return ErrHMACMismatch
	}
	return nil
}

// KeyFromFile derives the shared key from a keytab file: the SHA-1 digest of
// its contents.
func KeyFromFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("key file %s: %w", path, ErrEmptyKey)
	}

	sum := sha1.Sum(data)
	return sum[:], nil
}

// KeyFromString decodes an inline base64 key.
func KeyFromString(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyKey
	}

	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 key: %w", err)
	}
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	return key, nil
}
