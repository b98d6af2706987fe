package namespace

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"hash/adler32"
	"hash/crc32"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/marmos91/authproxy/pkg/store/content"
	"github.com/marmos91/authproxy/pkg/store/metadata"
	"github.com/marmos91/authproxy/pkg/vfs"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var checksums = map[string]func() hash.Hash{
	"adler32":  func() hash.Hash { return adler32.New() },
	"crc32":    func() hash.Hash { return crc32.NewIEEE() },
	"crc32c":   func() hash.Hash { return crc32.New(castagnoli) },
	"md5":      md5.New,
	"sha1":     sha1.New,
	"sha256":   sha256.New,
	"xxhash64": func() hash.Hash { return xxhash.New() },
}

// checksumChunk is the read size used while hashing content.
const checksumChunk = 1 << 20

// Checksum computes a digest of a file's content. Calc and Get return the
// hex digest in the error message; Size returns the digest length in bytes as
// the error code.
func (ns *Namespace) Checksum(ctx context.Context, fn vfs.ChecksumFunc, csName, path string, einfo *vfs.ErrInfo, _ vfs.Identity, _ string) vfs.ReturnCode {
	newHash, ok := checksums[strings.ToLower(csName)]
	if !ok {
		return einfo.Set(vfs.ENOTSUP, "checksum %q not supported", csName)
	}

	if fn == vfs.ChecksumSize {
		einfo.Code = int32(newHash().Size())
		return vfs.OK
	}
	if fn != vfs.ChecksumCalc && fn != vfs.ChecksumGet {
		return einfo.Set(vfs.EINVAL, "unknown checksum function %d", fn)
	}

	p := metadata.Clean(path)
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	e, err := ns.meta.Get(ctx, p)
	if err != nil {
		return fail(einfo, err, p)
	}
	if e.IsDir() {
		return einfo.Set(vfs.EISDIR, "%s: is a directory", p)
	}

	h := newHash()
	buf := make([]byte, min(e.Size, checksumChunk))
	for offset := int64(0); offset < e.Size; {
		n, err := ns.content.ReadAt(ctx, e.ContentID, buf, offset)
		if errors.Is(err, content.ErrContentNotFound) {
			break
		}
		if err != nil {
			return fail(einfo, err, p)
		}
		if n == 0 {
			break
		}
		h.Write(buf[:n])
		offset += int64(n)
	}

	einfo.Code = 0
	einfo.Message = hex.EncodeToString(h.Sum(nil))
	return vfs.OK
}
