package dispatcher

import (
	"context"
	"errors"
	"strconv"

	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/internal/protocol/wire"
	"github.com/marmos91/authproxy/pkg/handles"
	"github.com/marmos91/authproxy/pkg/vfs"
)

// call is the per-request state handed to an operation handler.
type call struct {
	ctx    context.Context
	req    *wire.RequestMessage
	client vfs.Identity
	einfo  vfs.ErrInfo
}

// respond builds the response for a finished namespace call. Error
// information is attached whenever the callee filled it in.
func (c *call) respond(rc vfs.ReturnCode, payload []byte) *wire.ResponseMessage {
	resp := &wire.ResponseMessage{ReturnCode: int64(rc), Payload: payload}
	if c.einfo.IsSet() || rc == vfs.Error {
		resp.SetError(c.einfo.Code, c.einfo.Message)
	}
	return resp
}

// fail builds an error response without calling the namespace.
func (c *call) fail(code int32, format string, args ...any) *wire.ResponseMessage {
	return c.respond(c.einfo.Set(code, format, args...), nil)
}

// args decodes the operation arguments into v.
func (c *call) args(v any) *wire.ResponseMessage {
	if err := wire.DecodeArgs(c.req.Args, v); err != nil {
		return c.fail(vfs.EBADMSG, "%s: %v", c.req.Type, err)
	}
	return nil
}

type operation func(d *Dispatcher, c *call) *wire.ResponseMessage

// operationTable maps every member of wire.OperationType to its handler.
var operationTable = [...]operation{
	wire.OpStat:          (*Dispatcher).stat,
	wire.OpStatMode:      (*Dispatcher).statMode,
	wire.OpFSctlGeneric:  (*Dispatcher).fsctl,
	wire.OpFSctlExtended: (*Dispatcher).fsctlExt,
	wire.OpChmod:         (*Dispatcher).chmod,
	wire.OpChecksum:      (*Dispatcher).checksum,
	wire.OpExists:        (*Dispatcher).exists,
	wire.OpMkdir:         (*Dispatcher).mkdir,
	wire.OpRmdir:         (*Dispatcher).rmdir,
	wire.OpRemove:        (*Dispatcher).remove,
	wire.OpRename:        (*Dispatcher).rename,
	wire.OpPrepare:       (*Dispatcher).prepare,
	wire.OpTruncate:      (*Dispatcher).truncate,
	wire.OpDirOpen:       (*Dispatcher).dirOpen,
	wire.OpDirRead:       (*Dispatcher).dirRead,
	wire.OpDirFname:      (*Dispatcher).dirFname,
	wire.OpDirClose:      (*Dispatcher).dirClose,
	wire.OpFileOpen:      (*Dispatcher).fileOpen,
	wire.OpFileStat:      (*Dispatcher).fileStat,
	wire.OpFileFname:     (*Dispatcher).fileFname,
	wire.OpFileRead:      (*Dispatcher).fileRead,
	wire.OpFileWrite:     (*Dispatcher).fileWrite,
	wire.OpFileClose:     (*Dispatcher).fileClose,
}

// ============================================================================
// Path operations
// ============================================================================

func (d *Dispatcher) stat(c *call) *wire.ResponseMessage {
	st, rc := d.fs.Stat(c.ctx, c.req.Path, &c.einfo, c.client, c.req.Opaque)
	if rc != vfs.OK {
		return c.respond(rc, nil)
	}

	payload, err := wire.EncodeStat(st)
	if err != nil {
		return c.fail(vfs.EIO, "stat: %v", err)
	}
	return c.respond(rc, payload)
}

func (d *Dispatcher) statMode(c *call) *wire.ResponseMessage {
	mode, rc := d.fs.StatMode(c.ctx, c.req.Path, &c.einfo, c.client, c.req.Opaque)
	if rc != vfs.OK {
		return c.respond(rc, nil)
	}

	payload, err := wire.EncodeMode(mode)
	if err != nil {
		return c.fail(vfs.EIO, "stat mode: %v", err)
	}
	return c.respond(rc, payload)
}

func (d *Dispatcher) fsctl(c *call) *wire.ResponseMessage {
	var args wire.FSctlArgs
	if resp := c.args(&args); resp != nil {
		return resp
	}
	return c.respond(d.fs.FSctl(c.ctx, args.Cmd, args.Args, &c.einfo, c.client), nil)
}

func (d *Dispatcher) fsctlExt(c *call) *wire.ResponseMessage {
	var args wire.FSctlExtArgs
	if resp := c.args(&args); resp != nil {
		return resp
	}
	ext := vfs.FSctlArgs{Arg1: args.Arg1, Arg2: args.Arg2}
	return c.respond(d.fs.FSctlExt(c.ctx, args.Cmd, ext, &c.einfo, c.client), nil)
}

func (d *Dispatcher) chmod(c *call) *wire.ResponseMessage {
	var args wire.ChmodArgs
	if resp := c.args(&args); resp != nil {
		return resp
	}
	return c.respond(d.fs.Chmod(c.ctx, c.req.Path, args.Mode, &c.einfo, c.client, c.req.Opaque), nil)
}

func (d *Dispatcher) checksum(c *call) *wire.ResponseMessage {
	var args wire.ChecksumArgs
	if resp := c.args(&args); resp != nil {
		return resp
	}
	rc := d.fs.Checksum(c.ctx, vfs.ChecksumFunc(args.Func), args.Name, c.req.Path, &c.einfo, c.client, c.req.Opaque)
	return c.respond(rc, nil)
}

func (d *Dispatcher) exists(c *call) *wire.ResponseMessage {
	exists, rc := d.fs.Exists(c.ctx, c.req.Path, &c.einfo, c.client, c.req.Opaque)
	if rc != vfs.OK {
		return c.respond(rc, nil)
	}
	return c.respond(rc, []byte(strconv.Itoa(int(exists))))
}

func (d *Dispatcher) mkdir(c *call) *wire.ResponseMessage {
	var args wire.MkdirArgs
	if resp := c.args(&args); resp != nil {
		return resp
	}
	return c.respond(d.fs.Mkdir(c.ctx, c.req.Path, args.Mode, &c.einfo, c.client, c.req.Opaque), nil)
}

func (d *Dispatcher) rmdir(c *call) *wire.ResponseMessage {
	return c.respond(d.fs.Rmdir(c.ctx, c.req.Path, &c.einfo, c.client, c.req.Opaque), nil)
}

func (d *Dispatcher) remove(c *call) *wire.ResponseMessage {
	return c.respond(d.fs.Remove(c.ctx, c.req.Path, &c.einfo, c.client, c.req.Opaque), nil)
}

func (d *Dispatcher) rename(c *call) *wire.ResponseMessage {
	var args wire.RenameArgs
	if resp := c.args(&args); resp != nil {
		return resp
	}
	rc := d.fs.Rename(c.ctx, c.req.Path, args.NewPath, &c.einfo, c.client, c.req.Opaque, args.OpaqueNew)
	return c.respond(rc, nil)
}

func (d *Dispatcher) prepare(c *call) *wire.ResponseMessage {
	var args wire.PrepareArgs
	if resp := c.args(&args); resp != nil {
		return resp
	}
	pargs := vfs.PrepareArgs{
		ReqID:    args.ReqID,
		Notify:   args.Notify,
		Opts:     args.Opts,
		Priority: args.Priority,
		Paths:    args.Paths,
		OInfo:    args.OInfo,
	}
	return c.respond(d.fs.Prepare(c.ctx, pargs, &c.einfo, c.client), nil)
}

func (d *Dispatcher) truncate(c *call) *wire.ResponseMessage {
	var args wire.TruncateArgs
	if resp := c.args(&args); resp != nil {
		return resp
	}
	return c.respond(d.fs.Truncate(c.ctx, c.req.Path, args.Size, &c.einfo, c.client, c.req.Opaque), nil)
}

// ============================================================================
// Directory handles
// ============================================================================

// owned checks that a registered handle belongs to the caller.
func (c *call) owned(owner vfs.Identity) *wire.ResponseMessage {
	if owner != c.client {
		logger.Warn("%s: session token %q presented by %s belongs to %s", c.req.Type, c.req.Token, c.client, owner)
		return c.fail(vfs.EPERM, "session token belongs to another client")
	}
	return nil
}

func (c *call) missing(err error) *wire.ResponseMessage {
	if errors.Is(err, handles.ErrNotFound) {
		return c.fail(vfs.ENOENT, "no such session token")
	}
	return c.fail(vfs.EIO, "%s: %v", c.req.Type, err)
}

func (d *Dispatcher) dirOpen(c *call) *wire.ResponseMessage {
	if c.req.Token == "" {
		return c.fail(vfs.EINVAL, "directory open without session token")
	}

	if _, owner, err := d.handles.LookupDir(c.req.Token); err == nil {
		if resp := c.owned(owner); resp != nil {
			return resp
		}
		logger.Debug("DIR_OPEN retry for token %q, keeping existing handle", c.req.Token)
		return c.respond(vfs.OK, nil)
	}

	dir, rc := d.fs.OpenDir(c.ctx, c.req.Path, &c.einfo, c.client, c.req.Opaque)
	if rc != vfs.OK || dir == nil {
		return c.respond(rc, nil)
	}

	if _, inserted, err := d.handles.InsertDir(c.req.Token, c.client, dir); !inserted {
		var einfo vfs.ErrInfo
		dir.Close(c.ctx, &einfo)
		if err != nil {
			return c.fail(vfs.EEXIST, "%v", err)
		}
	}
	return c.respond(vfs.OK, nil)
}

func (d *Dispatcher) lookupDir(c *call) (vfs.Directory, *wire.ResponseMessage) {
	dir, owner, err := d.handles.LookupDir(c.req.Token)
	if err != nil {
		return nil, c.missing(err)
	}
	if resp := c.owned(owner); resp != nil {
		return nil, resp
	}
	return dir, nil
}

func (d *Dispatcher) dirRead(c *call) *wire.ResponseMessage {
	dir, resp := d.lookupDir(c)
	if resp != nil {
		return resp
	}

	name, rc := dir.Next(c.ctx, &c.einfo)
	if rc != vfs.OK {
		return c.respond(rc, nil)
	}
	return c.respond(rc, []byte(name))
}

func (d *Dispatcher) dirFname(c *call) *wire.ResponseMessage {
	dir, resp := d.lookupDir(c)
	if resp != nil {
		return resp
	}
	return c.respond(vfs.OK, []byte(dir.Name()))
}

func (d *Dispatcher) dirClose(c *call) *wire.ResponseMessage {
	if _, resp := d.lookupDir(c); resp != nil {
		return resp
	}

	dir, err := d.handles.RemoveDir(c.req.Token)
	if err != nil {
		return c.missing(err)
	}
	return c.respond(dir.Close(c.ctx, &c.einfo), nil)
}

// ============================================================================
// File handles
// ============================================================================

func (d *Dispatcher) fileOpen(c *call) *wire.ResponseMessage {
	if c.req.Token == "" {
		return c.fail(vfs.EINVAL, "file open without session token")
	}

	var args wire.FileOpenArgs
	if resp := c.args(&args); resp != nil {
		return resp
	}

	if _, owner, err := d.handles.LookupFile(c.req.Token); err == nil {
		if resp := c.owned(owner); resp != nil {
			return resp
		}
		logger.Debug("FILE_OPEN retry for token %q, keeping existing handle", c.req.Token)
		return c.respond(vfs.OK, nil)
	}

	file, rc := d.fs.OpenFile(c.ctx, c.req.Path, args.Flags, args.Mode, &c.einfo, c.client, c.req.Opaque)
	if rc != vfs.OK || file == nil {
		// Failed opens are never registered.
		return c.respond(rc, nil)
	}

	if _, inserted, err := d.handles.InsertFile(c.req.Token, c.client, file); !inserted {
		var einfo vfs.ErrInfo
		file.Close(c.ctx, &einfo)
		if err != nil {
			return c.fail(vfs.EEXIST, "%v", err)
		}
	}
	return c.respond(vfs.OK, nil)
}

func (d *Dispatcher) lookupFile(c *call) (vfs.File, *wire.ResponseMessage) {
	file, owner, err := d.handles.LookupFile(c.req.Token)
	if err != nil {
		return nil, c.missing(err)
	}
	if resp := c.owned(owner); resp != nil {
		return nil, resp
	}
	return file, nil
}

func (d *Dispatcher) fileStat(c *call) *wire.ResponseMessage {
	file, resp := d.lookupFile(c)
	if resp != nil {
		return resp
	}

	st, rc := file.Stat(c.ctx, &c.einfo)
	if rc != vfs.OK {
		return c.respond(rc, nil)
	}

	payload, err := wire.EncodeStat(st)
	if err != nil {
		return c.fail(vfs.EIO, "file stat: %v", err)
	}
	return c.respond(rc, payload)
}

func (d *Dispatcher) fileFname(c *call) *wire.ResponseMessage {
	file, resp := d.lookupFile(c)
	if resp != nil {
		return resp
	}
	return c.respond(vfs.OK, []byte(file.Name()))
}

func (d *Dispatcher) fileRead(c *call) *wire.ResponseMessage {
	var args wire.FileReadArgs
	if resp := c.args(&args); resp != nil {
		return resp
	}
	if args.Length < 0 || args.Length > wire.MaxIOSize {
		return c.fail(vfs.EINVAL, "read length %d out of range [0, %d]", args.Length, wire.MaxIOSize)
	}
	if args.Offset < 0 {
		return c.fail(vfs.EINVAL, "negative read offset %d", args.Offset)
	}

	file, resp := d.lookupFile(c)
	if resp != nil {
		return resp
	}

	buf := make([]byte, args.Length)
	rc := file.Read(c.ctx, args.Offset, buf, &c.einfo)
	if rc < 0 {
		return c.respond(rc, nil)
	}

	n := min(int(rc), len(buf))
	return c.respond(vfs.ReturnCode(n), buf[:n])
}

func (d *Dispatcher) fileWrite(c *call) *wire.ResponseMessage {
	var args wire.FileWriteArgs
	if resp := c.args(&args); resp != nil {
		return resp
	}
	if args.Offset < 0 {
		return c.fail(vfs.EINVAL, "negative write offset %d", args.Offset)
	}

	file, resp := d.lookupFile(c)
	if resp != nil {
		return resp
	}
	return c.respond(file.Write(c.ctx, args.Offset, args.Data, &c.einfo), nil)
}

func (d *Dispatcher) fileClose(c *call) *wire.ResponseMessage {
	if _, resp := d.lookupFile(c); resp != nil {
		return resp
	}

	file, err := d.handles.RemoveFile(c.req.Token)
	if err != nil {
		return c.missing(err)
	}

	rc := file.Close(c.ctx, &c.einfo)
	if rc == vfs.Error {
		logger.Debug("FILE_CLOSE %s: %s", file.Name(), c.einfo)
	}
	return c.respond(rc, nil)
}
