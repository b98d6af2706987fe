package integrity

import (
	"crypto/sha1"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/authproxy/internal/protocol/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest(t *testing.T) *wire.RequestMessage {
	t.Helper()

	args, err := wire.EncodeArgs(&wire.MkdirArgs{Mode: 0o755})
	require.NoError(t, err)

	return &wire.RequestMessage{
		XID:    11,
		Type:   wire.OpMkdir,
		Path:   "/eos/dev/a/b",
		Client: wire.Identity{Protocol: "sss", Name: "bob", Host: "edge", Tident: "bob.1:2@edge"},
		Opaque: "eos.app=fuse",
		Token:  "",
		Args:   args,
	}
}

func TestSignVerify(t *testing.T) {
	for _, alg := range []string{AlgorithmHMACSHA1, AlgorithmHMACSHA256, AlgorithmBlake2b256} {
		t.Run(alg, func(t *testing.T) {
			s, err := New([]byte("0123456789abcdef"), alg)
			require.NoError(t, err)

			req := sampleRequest(t)
			require.NoError(t, s.Sign(req))
			assert.NotEmpty(t, req.HMAC)

			_, err = base64.StdEncoding.DecodeString(req.HMAC)
			assert.NoError(t, err, "signature must be base64")

			assert.NoError(t, s.Verify(req))
		})
	}
}

func TestSignIsDeterministic(t *testing.T) {
	s, err := New([]byte("k"), "")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmHMACSHA1, s.Algorithm())

	a, b := sampleRequest(t), sampleRequest(t)
	require.NoError(t, s.Sign(a))
	require.NoError(t, s.Sign(b))
	assert.Equal(t, a.HMAC, b.HMAC)

	// Re-signing an already signed message yields the same value.
	prev := a.HMAC
	require.NoError(t, s.Sign(a))
	assert.Equal(t, prev, a.HMAC)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	k1, err := New([]byte("key-one"), AlgorithmHMACSHA1)
	require.NoError(t, err)
	k2, err := New([]byte("key-two"), AlgorithmHMACSHA1)
	require.NoError(t, err)

	req := sampleRequest(t)
	require.NoError(t, k1.Sign(req))

	assert.ErrorIs(t, k2.Verify(req), ErrHMACMismatch)
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	s, err := New([]byte("key"), AlgorithmHMACSHA256)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Verify(sampleRequest(t)), ErrHMACMismatch)
}

func TestSingleByteFlipIsDetected(t *testing.T) {
	s, err := New([]byte("flip-key"), AlgorithmHMACSHA1)
	require.NoError(t, err)

	req := sampleRequest(t)
	require.NoError(t, s.Sign(req))

	encoded, err := wire.EncodeRequest(req)
	require.NoError(t, err)

	detected := 0
	for i := range encoded {
		tampered := append([]byte(nil), encoded...)
		tampered[i] ^= 0x01

		got, err := wire.DecodeRequest(tampered)
		if err != nil {
			detected++
			continue
		}
		if assert.ObjectsAreEqual(req, got) {
			// XDR padding carries no information.
			continue
		}

		assert.ErrorIs(t, s.Verify(got), ErrHMACMismatch, "flip at byte %d went undetected", i)
		detected++
	}

	assert.Greater(t, detected, len(encoded)/2)
}

func TestFieldTamperingIsDetected(t *testing.T) {
	s, err := New([]byte("field-key"), AlgorithmHMACSHA1)
	require.NoError(t, err)

	mutations := map[string]func(r *wire.RequestMessage){
		"type":   func(r *wire.RequestMessage) { r.Type = wire.OpRmdir },
		"path":   func(r *wire.RequestMessage) { r.Path = "/eos/dev/other" },
		"client": func(r *wire.RequestMessage) { r.Client.Name = "root" },
		"opaque": func(r *wire.RequestMessage) { r.Opaque = "" },
		"token":  func(r *wire.RequestMessage) { r.Token = "x" },
		"args":   func(r *wire.RequestMessage) { r.Args = []byte{0, 0, 1, 0xff} },
		"xid":    func(r *wire.RequestMessage) { r.XID++ },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			req := sampleRequest(t)
			require.NoError(t, s.Sign(req))
			mutate(req)
			assert.ErrorIs(t, s.Verify(req), ErrHMACMismatch)
		})
	}
}

func TestNewErrors(t *testing.T) {
	_, err := New(nil, AlgorithmHMACSHA1)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = New([]byte("k"), "md5")
	assert.Error(t, err)

	_, err = New(make([]byte, 65), AlgorithmBlake2b256)
	assert.Error(t, err)
}

func TestKeyFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eos.keytab")
	content := []byte("0 u:daemon g:daemon n:eos-test N:1 c:1 e:0 f:0 k:abcdef\n")
	require.NoError(t, os.WriteFile(path, content, 0600))

	key, err := KeyFromFile(path)
	require.NoError(t, err)

	want := sha1.Sum(content)
	assert.Equal(t, want[:], key)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0600))
	_, err = KeyFromFile(empty)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = KeyFromFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestKeyFromString(t *testing.T) {
	key, err := KeyFromString(base64.StdEncoding.EncodeToString([]byte("secret")))
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), key)

	_, err = KeyFromString("  ")
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = KeyFromString("not base64 !!")
	assert.Error(t, err)
}
