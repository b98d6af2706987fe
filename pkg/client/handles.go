package client

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/authproxy/internal/protocol/wire"
	"github.com/marmos91/authproxy/pkg/vfs"
)

// session holds what every handle request carries: the token naming the
// manager-side handle and the identity that opened it.
type session struct {
	c      *Client
	token  string
	path   string
	client vfs.Identity
	opaque string
}

func (s *session) request(op wire.OperationType) *wire.RequestMessage {
	req := request(op, s.path, s.client, s.opaque)
	req.Token = s.token
	return req
}

// name asks the manager for the handle's name and falls back to the path the
// handle was opened with when the manager cannot be reached.
func (s *session) name(op wire.OperationType) string {
	ctx, cancel := context.WithTimeout(context.Background(), s.c.pool.ReceiveTimeout()+time.Second)
	defer cancel()

	var einfo vfs.ErrInfo
	resp := s.c.exchange(ctx, s.request(op), &einfo)
	if s.c.finish(resp, &einfo, "") != vfs.OK {
		return s.path
	}
	return string(resp.Payload)
}

func newToken() string {
	return uuid.NewString()
}

// ============================================================================
// Directories
// ============================================================================

type remoteDir struct {
	session
}

var _ vfs.Directory = (*remoteDir)(nil)

// OpenDir opens a directory on the manager. The returned handle is only
// usable while the manager keeps the session token alive.
func (c *Client) OpenDir(ctx context.Context, path string, einfo *vfs.ErrInfo, client vfs.Identity, opaque string) (vfs.Directory, vfs.ReturnCode) {
	d := &remoteDir{session{c: c, token: newToken(), path: path, client: client, opaque: opaque}}

	rc := c.finish(c.exchange(ctx, d.request(wire.OpDirOpen), einfo), einfo, path)
	if rc != vfs.OK {
		return nil, rc
	}
	return d, rc
}

func (d *remoteDir) Next(ctx context.Context, einfo *vfs.ErrInfo) (string, vfs.ReturnCode) {
	resp := d.c.exchange(ctx, d.request(wire.OpDirRead), einfo)
	if rc := d.c.finish(resp, einfo, ""); rc != vfs.OK {
		return "", rc
	}
	return string(resp.Payload), vfs.OK
}

func (d *remoteDir) Name() string {
	return d.name(wire.OpDirFname)
}

func (d *remoteDir) Close(ctx context.Context, einfo *vfs.ErrInfo) vfs.ReturnCode {
	return d.c.finish(d.c.exchange(ctx, d.request(wire.OpDirClose), einfo), einfo, "")
}

// ============================================================================
// Files
// ============================================================================

type remoteFile struct {
	session
}

var _ vfs.File = (*remoteFile)(nil)

// OpenFile opens a file on the manager.
func (c *Client) OpenFile(ctx context.Context, path string, flags int32, mode uint32, einfo *vfs.ErrInfo, client vfs.Identity, opaque string) (vfs.File, vfs.ReturnCode) {
	f := &remoteFile{session{c: c, token: newToken(), path: path, client: client, opaque: opaque}}

	data, ok := c.args(&wire.FileOpenArgs{Flags: flags, Mode: mode}, einfo)
	if !ok {
		return nil, vfs.Error
	}
	req := f.request(wire.OpFileOpen)
	req.Args = data

	rc := c.finish(c.exchange(ctx, req, einfo), einfo, path)
	if rc != vfs.OK {
		return nil, rc
	}
	return f, rc
}

// Read fills p starting at offset. Buffers larger than wire.MaxIOSize are
// split into several requests; a short chunk ends the read. A failure after
// some bytes arrived reports the partial count.
func (f *remoteFile) Read(ctx context.Context, offset int64, p []byte, einfo *vfs.ErrInfo) vfs.ReturnCode {
	var total int
	for total < len(p) {
		chunk := min(len(p)-total, wire.MaxIOSize)

		n, rc := f.readChunk(ctx, offset+int64(total), p[total:total+chunk], einfo)
		if rc < 0 {
			if total > 0 {
				einfo.Reset()
				break
			}
			return rc
		}
		total += n
		if n < chunk {
			break
		}
	}
	return vfs.ReturnCode(total)
}

func (f *remoteFile) readChunk(ctx context.Context, offset int64, p []byte, einfo *vfs.ErrInfo) (int, vfs.ReturnCode) {
	data, ok := f.c.args(&wire.FileReadArgs{Offset: offset, Length: int32(len(p))}, einfo)
	if !ok {
		return 0, vfs.Error
	}
	req := f.request(wire.OpFileRead)
	req.Args = data

	resp := f.c.exchange(ctx, req, einfo)
	rc := f.c.finish(resp, einfo, "")
	if rc < 0 {
		return 0, rc
	}
	return copy(p, resp.Payload), rc
}

// Write sends p starting at offset, split at wire.MaxIOSize. An empty p still
// reaches the manager as a single zero-length write.
func (f *remoteFile) Write(ctx context.Context, offset int64, p []byte, einfo *vfs.ErrInfo) vfs.ReturnCode {
	var total int
	for {
		chunk := min(len(p)-total, wire.MaxIOSize)

		rc := f.writeChunk(ctx, offset+int64(total), p[total:total+chunk], einfo)
		if rc < 0 {
			if total > 0 {
				einfo.Reset()
				break
			}
			return rc
		}
		total += int(rc)
		if int(rc) < chunk || total >= len(p) {
			break
		}
	}
	return vfs.ReturnCode(total)
}

func (f *remoteFile) writeChunk(ctx context.Context, offset int64, p []byte, einfo *vfs.ErrInfo) vfs.ReturnCode {
	data, ok := f.c.args(&wire.FileWriteArgs{Offset: offset, Data: p}, einfo)
	if !ok {
		return vfs.Error
	}
	req := f.request(wire.OpFileWrite)
	req.Args = data
	return f.c.finish(f.c.exchange(ctx, req, einfo), einfo, "")
}

func (f *remoteFile) Stat(ctx context.Context, einfo *vfs.ErrInfo) (vfs.StatInfo, vfs.ReturnCode) {
	resp := f.c.exchange(ctx, f.request(wire.OpFileStat), einfo)
	if rc := f.c.finish(resp, einfo, ""); rc != vfs.OK {
		return vfs.StatInfo{}, rc
	}

	st, err := wire.DecodeStat(resp.Payload)
	if err != nil {
		return vfs.StatInfo{}, einfo.Set(vfs.EBADMSG, "file stat: %v", err)
	}
	return st, vfs.OK
}

func (f *remoteFile) Name() string {
	return f.name(wire.OpFileFname)
}

func (f *remoteFile) Close(ctx context.Context, einfo *vfs.ErrInfo) vfs.ReturnCode {
	return f.c.finish(f.c.exchange(ctx, f.request(wire.OpFileClose), einfo), einfo, "")
}
