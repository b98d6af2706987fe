package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/marmos91/authproxy/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// OperationType
// ============================================================================

func TestOperationType(t *testing.T) {
	t.Run("EnumerationIsClosed", func(t *testing.T) {
		ops := Operations()
		assert.Len(t, ops, 23)
		assert.Equal(t, OpStat, ops[0])
		assert.Equal(t, OpFileClose, ops[len(ops)-1])
		for _, op := range ops {
			assert.True(t, op.Valid())
			assert.NotContains(t, op.String(), "UNKNOWN")
		}
	})

	t.Run("UnknownValues", func(t *testing.T) {
		op := OperationType(23)
		assert.False(t, op.Valid())
		assert.Equal(t, "UNKNOWN(23)", op.String())
		assert.False(t, OperationType(0xFFFFFFFF).Valid())
	})

	t.Run("HandleBased", func(t *testing.T) {
		assert.True(t, OpFileRead.HandleBased())
		assert.True(t, OpDirClose.HandleBased())
		assert.False(t, OpDirOpen.HandleBased())
		assert.False(t, OpFileOpen.HandleBased())
		assert.False(t, OpStat.HandleBased())
	})
}

// ============================================================================
// Request / response round trip
// ============================================================================

func argsFor(t *testing.T, op OperationType) []byte {
	t.Helper()

	var args any
	switch op {
	case OpFSctlGeneric:
		args = &FSctlArgs{Cmd: 2, Args: "/eos/dev"}
	case OpFSctlExtended:
		args = &FSctlExtArgs{Cmd: 8, Arg1: []byte("mgm.pcmd=version"), Arg2: []byte{0, 1, 2}}
	case OpChmod:
		args = &ChmodArgs{Mode: 0o750}
	case OpChecksum:
		args = &ChecksumArgs{Func: 0, Name: "adler32"}
	case OpMkdir:
		args = &MkdirArgs{Mode: 0o755}
	case OpRename:
		args = &RenameArgs{NewPath: "/b", OpaqueNew: "eos.app=test"}
	case OpPrepare:
		args = &PrepareArgs{ReqID: "r1", Notify: "", Opts: 1, Priority: 2, Paths: []string{"/a", "/b"}, OInfo: []string{"", "x=1"}}
	case OpTruncate:
		args = &TruncateArgs{Size: 1 << 40}
	case OpFileOpen:
		args = &FileOpenArgs{Flags: 0x102, Mode: 0o644}
	case OpFileRead:
		args = &FileReadArgs{Offset: 4096, Length: 512}
	case OpFileWrite:
		args = &FileWriteArgs{Offset: 7, Data: []byte("payload")}
	default:
		return nil
	}

	data, err := EncodeArgs(args)
	require.NoError(t, err)
	return data
}

func TestRequestRoundTrip(t *testing.T) {
	for _, op := range Operations() {
		t.Run(op.String(), func(t *testing.T) {
			req := &RequestMessage{
				XID:  42,
				Type: op,
				Path: "/eos/user/a/file.dat",
				Client: Identity{
					Protocol: "krb5",
					Name:     "alice",
					Host:     "edge01.example.org",
					Tident:   "alice.1:12@edge01",
				},
				Opaque: "eos.ruid=1000&eos.rgid=1000",
				Token:  "0f8e2f62-1c44-4e2c-9a53-0e6d9a1b7a0c",
				Args:   argsFor(t, op),
				HMAC:   "c2lnbmF0dXJl",
			}

			data, err := EncodeRequest(req)
			require.NoError(t, err)

			got, err := DecodeRequest(data)
			require.NoError(t, err)
			assert.Equal(t, req, got)
		})
	}
}

func TestRequestRoundTripEmptyFields(t *testing.T) {
	req := &RequestMessage{Type: OpDirRead}

	data, err := EncodeRequest(req)
	require.NoError(t, err)

	got, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestResponseRoundTrip(t *testing.T) {
	big := bytes.Repeat([]byte{0xAB}, 4<<20+3)

	tests := []struct {
		name string
		resp *ResponseMessage
	}{
		{"Success", &ResponseMessage{XID: 1, ReturnCode: 0}},
		{"ByteCount", &ResponseMessage{XID: 2, ReturnCode: 3, Payload: []byte("abc")}},
		{"Error", &ResponseMessage{XID: 3, ReturnCode: -1, HasError: true, Error: ErrInfo{Code: 2, Message: "no such file"}}},
		{"Redirect", &ResponseMessage{XID: 4, ReturnCode: -256, HasError: true, Error: ErrInfo{Code: 1094, Message: "mgm2.example.org"}, Collapse: true}},
		{"LargePayload", &ResponseMessage{XID: 5, ReturnCode: int64(len(big)), Payload: big}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeResponse(tt.resp)
			require.NoError(t, err)

			got, err := DecodeResponse(data)
			require.NoError(t, err)
			assert.Equal(t, tt.resp, got)
		})
	}
}

func TestArgsRoundTrip(t *testing.T) {
	in := PrepareArgs{ReqID: "stage-1", Opts: 4, Paths: []string{"/a", "/b/c"}, OInfo: []string{"x", "y"}}

	data, err := EncodeArgs(&in)
	require.NoError(t, err)

	var out PrepareArgs
	require.NoError(t, DecodeArgs(data, &out))
	assert.Equal(t, in, out)
}

func TestStatAndModePayload(t *testing.T) {
	st := vfs.StatInfo{Ino: 12, Mode: vfs.ModeRegular | 0o644, Nlink: 1, Size: 99, Mtime: 1700000000000000000}

	data, err := EncodeStat(st)
	require.NoError(t, err)
	got, err := DecodeStat(data)
	require.NoError(t, err)
	assert.Equal(t, st, got)

	data, err = EncodeMode(vfs.ModeDir | 0o755)
	require.NoError(t, err)
	mode, err := DecodeMode(data)
	require.NoError(t, err)
	assert.Equal(t, vfs.ModeDir|0o755, mode)
}

// ============================================================================
// Malformed input
// ============================================================================

func TestDecodeRejectsHostileLength(t *testing.T) {
	data, err := EncodeRequest(&RequestMessage{XID: 1, Type: OpStat, Path: "/x"})
	require.NoError(t, err)

	// The path length prefix follows xid and type.
	binary.BigEndian.PutUint32(data[8:], 0x7FFFFFF0)

	_, err = DecodeRequest(data)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsTruncatedAndTrailing(t *testing.T) {
	data, err := EncodeResponse(&ResponseMessage{XID: 9, Payload: []byte("hello")})
	require.NoError(t, err)

	_, err = DecodeResponse(data[:len(data)-2])
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeResponse(append(data, 0, 0, 0, 0))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeRequest([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCanonicalBytesIgnoresHMAC(t *testing.T) {
	req := &RequestMessage{XID: 7, Type: OpMkdir, Path: "/a", HMAC: "first"}

	a, err := CanonicalBytes(req)
	require.NoError(t, err)

	req.HMAC = "second"
	b, err := CanonicalBytes(req)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "second", req.HMAC, "canonical encoding must not touch the message")
}

// ============================================================================
// Record marking
// ============================================================================

func TestRecordRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 4095, MaxFragmentSize, MaxFragmentSize + 1, 3*MaxFragmentSize + 17}

	for _, size := range sizes {
		data := bytes.Repeat([]byte{byte(size)}, size)

		var buf bytes.Buffer
		require.NoError(t, WriteRecord(&buf, data))

		got, err := ReadRecord(&buf, 0)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, len(data), len(got))
		assert.True(t, bytes.Equal(data, got), "size %d", size)
	}
}

func TestRecordHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, []byte("abcd")))

	header := binary.BigEndian.Uint32(buf.Bytes()[:4])
	assert.Equal(t, uint32(0x80000004), header)
}

func TestReadRecordErrors(t *testing.T) {
	t.Run("CleanEOF", func(t *testing.T) {
		_, err := ReadRecord(strings.NewReader(""), 0)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("TruncatedBody", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteRecord(&buf, []byte("abcdef")))
		_, err := ReadRecord(bytes.NewReader(buf.Bytes()[:7]), 0)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("TooLarge", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteRecord(&buf, make([]byte, 100)))
		_, err := ReadRecord(&buf, 64)
		assert.True(t, errors.Is(err, ErrRecordTooLarge))
	})

	t.Run("MultipleRecordsInStream", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteRecord(&buf, []byte("one")))
		require.NoError(t, WriteRecord(&buf, []byte("two")))

		first, err := ReadRecord(&buf, 0)
		require.NoError(t, err)
		second, err := ReadRecord(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, "one", string(first))
		assert.Equal(t, "two", string(second))
	})
}

func TestPeekXID(t *testing.T) {
	data, err := EncodeResponse(&ResponseMessage{XID: 0xCAFE0001, ReturnCode: -1})
	require.NoError(t, err)

	xid, err := PeekXID(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFE0001), xid)

	_, err = PeekXID([]byte{1, 2})
	assert.ErrorIs(t, err, ErrMalformed)
}
