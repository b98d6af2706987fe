// Package client is the edge-side proxy facade. It implements vfs.FileSystem
// by forwarding every call to the manager and translating the reply back
// into native return codes and error objects.
package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/internal/protocol/wire"
	"github.com/marmos91/authproxy/pkg/integrity"
	"github.com/marmos91/authproxy/pkg/pool"
	"github.com/marmos91/authproxy/pkg/vfs"
)

// Config holds the settings the facade needs besides its pool and signer.
type Config struct {
	// ManagerHost is advertised in locally answered LOCATE queries and is
	// usually the manager's IP address.
	ManagerHost string `mapstructure:"manager_host"`

	// LocalPort is the port this edge serves clients on.
	LocalPort int `mapstructure:"local_port" validate:"min=0,max=65535"`

	// CollapsePort is used to build collapsed redirect URLs. Zero selects
	// LocalPort.
	CollapsePort int `mapstructure:"collapse_port" validate:"min=0,max=65535"`
}

// Metrics receives facade events.
type Metrics interface {
	RecordCall(op string, duration time.Duration, outcome string)
	RecordTimeout(op string)
}

type noopMetrics struct{}

func (noopMetrics) RecordCall(string, time.Duration, string) {}
func (noopMetrics) RecordTimeout(string)                     {}

// Client forwards filesystem calls to the manager. It is safe for concurrent
// use; concurrency is bounded by the pool size.
type Client struct {
	pool    *pool.Pool
	signer  *integrity.Signer
	config  Config
	metrics Metrics
	xid     atomic.Uint32
}

var _ vfs.FileSystem = (*Client)(nil)

// New returns a facade over p. A nil metrics sink disables metrics.
func New(p *pool.Pool, signer *integrity.Signer, config Config, metrics Metrics) (*Client, error) {
	if p == nil {
		return nil, errors.New("client: connection pool is required")
	}
	if signer == nil {
		return nil, errors.New("client: signer is required")
	}
	if config.CollapsePort == 0 {
		config.CollapsePort = config.LocalPort
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	c := &Client{pool: p, signer: signer, config: config, metrics: metrics}
	c.xid.Store(uint32(time.Now().UnixNano()))
	return c, nil
}

// exchange signs and sends req on a pooled connection and returns the
// decoded reply. On transport failure it fills einfo with EIO and returns
// nil.
func (c *Client) exchange(ctx context.Context, req *wire.RequestMessage, einfo *vfs.ErrInfo) *wire.ResponseMessage {
	op := req.Type.String()
	start := time.Now()

	resp, err := c.roundTrip(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, pool.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			c.metrics.RecordTimeout(op)
		}
		c.metrics.RecordCall(op, elapsed, "transport_error")
		logger.Error("%s %q: %v", op, req.Path, err)
		einfo.Set(vfs.EIO, "%s: communication with manager failed: %v", strings.ToLower(op), err)
		return nil
	}

	if vfs.ReturnCode(resp.ReturnCode) == vfs.Redirect {
		if resp.HasError {
			resp.Collapse = true
		} else {
			logger.Error("%s %q: redirect without error information, turning it into an error", op, req.Path)
			resp.ReturnCode = int64(vfs.Error)
			resp.SetError(vfs.EIO, fmt.Sprintf("%s: manager redirected without a target", strings.ToLower(op)))
		}
	}

	c.metrics.RecordCall(op, elapsed, outcome(vfs.ReturnCode(resp.ReturnCode)))
	return resp
}

func (c *Client) roundTrip(ctx context.Context, req *wire.RequestMessage) (*wire.ResponseMessage, error) {
	req.XID = c.xid.Add(1)
	if err := c.signer.Sign(req); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	frame, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer c.pool.Release(conn)

	reply, err := conn.RoundTrip(ctx, req.XID, frame)
	if err != nil {
		return nil, err
	}
	return wire.DecodeResponse(reply)
}

// finish copies error information from resp into einfo and returns the
// native return code. A collapsed redirect is rewritten into a URL pointing
// at the collapse port of the redirect target.
func (c *Client) finish(resp *wire.ResponseMessage, einfo *vfs.ErrInfo, path string) vfs.ReturnCode {
	if resp == nil {
		return vfs.Error
	}

	if resp.HasError && einfo != nil {
		if resp.Collapse && path != "" {
			einfo.Code = vfs.CollapseRedirectCode
			einfo.Message = fmt.Sprintf("root://%s:%d/%s", resp.Error.Message, c.config.CollapsePort, path)
		} else {
			einfo.Code = resp.Error.Code
			einfo.Message = resp.Error.Message
		}
	}
	return vfs.ReturnCode(resp.ReturnCode)
}

func (c *Client) args(v any, einfo *vfs.ErrInfo) ([]byte, bool) {
	data, err := wire.EncodeArgs(v)
	if err != nil {
		einfo.Set(vfs.EINVAL, "encode arguments: %v", err)
		return nil, false
	}
	return data, true
}

func request(op wire.OperationType, path string, client vfs.Identity, opaque string) *wire.RequestMessage {
	return &wire.RequestMessage{
		Type:   op,
		Path:   path,
		Client: wire.IdentityFrom(client),
		Opaque: opaque,
	}
}

func outcome(rc vfs.ReturnCode) string {
	if rc >= 0 {
		return "ok"
	}
	return strings.ToLower(rc.String())
}

// ============================================================================
// vfs.FileSystem
// ============================================================================

func (c *Client) Stat(ctx context.Context, path string, einfo *vfs.ErrInfo, client vfs.Identity, opaque string) (vfs.StatInfo, vfs.ReturnCode) {
	resp := c.exchange(ctx, request(wire.OpStat, path, client, opaque), einfo)
	rc := c.finish(resp, einfo, path)
	if rc != vfs.OK {
		return vfs.StatInfo{}, rc
	}

	st, err := wire.DecodeStat(resp.Payload)
	if err != nil {
		return vfs.StatInfo{}, einfo.Set(vfs.EBADMSG, "stat: %v", err)
	}
	return st, rc
}

func (c *Client) StatMode(ctx context.Context, path string, einfo *vfs.ErrInfo, client vfs.Identity, opaque string) (uint32, vfs.ReturnCode) {
	resp := c.exchange(ctx, request(wire.OpStatMode, path, client, opaque), einfo)
	rc := c.finish(resp, einfo, path)
	if rc != vfs.OK {
		return 0, rc
	}

	mode, err := wire.DecodeMode(resp.Payload)
	if err != nil {
		return 0, einfo.Set(vfs.EBADMSG, "stat mode: %v", err)
	}
	return mode, rc
}

// FSctl forwards a control command. LOCATE is answered locally so that
// clients keep talking to this edge.
func (c *Client) FSctl(ctx context.Context, cmd int32, args string, einfo *vfs.ErrInfo, client vfs.Identity) vfs.ReturnCode {
	if cmd&vfs.FSctlCmdMask == vfs.FSctlLocate {
		msg := fmt.Sprintf("Sr\x00[::%s]:%d ", c.config.ManagerHost, c.config.LocalPort)
		einfo.Code = int32(len(msg))
		einfo.Message = msg
		return vfs.Data
	}

	data, ok := c.args(&wire.FSctlArgs{Cmd: cmd, Args: args}, einfo)
	if !ok {
		return vfs.Error
	}
	req := request(wire.OpFSctlGeneric, "", client, "")
	req.Args = data
	return c.finish(c.exchange(ctx, req, einfo), einfo, "")
}

func (c *Client) FSctlExt(ctx context.Context, cmd int32, args vfs.FSctlArgs, einfo *vfs.ErrInfo, client vfs.Identity) vfs.ReturnCode {
	data, ok := c.args(&wire.FSctlExtArgs{Cmd: cmd, Arg1: args.Arg1, Arg2: args.Arg2}, einfo)
	if !ok {
		return vfs.Error
	}
	req := request(wire.OpFSctlExtended, "", client, "")
	req.Args = data
	return c.finish(c.exchange(ctx, req, einfo), einfo, "")
}

func (c *Client) Chmod(ctx context.Context, path string, mode uint32, einfo *vfs.ErrInfo, client vfs.Identity, opaque string) vfs.ReturnCode {
	data, ok := c.args(&wire.ChmodArgs{Mode: mode}, einfo)
	if !ok {
		return vfs.Error
	}
	req := request(wire.OpChmod, path, client, opaque)
	req.Args = data
	return c.finish(c.exchange(ctx, req, einfo), einfo, path)
}

func (c *Client) Checksum(ctx context.Context, fn vfs.ChecksumFunc, csName, path string, einfo *vfs.ErrInfo, client vfs.Identity, opaque string) vfs.ReturnCode {
	data, ok := c.args(&wire.ChecksumArgs{Func: int32(fn), Name: csName}, einfo)
	if !ok {
		return vfs.Error
	}
	req := request(wire.OpChecksum, path, client, opaque)
	req.Args = data
	return c.finish(c.exchange(ctx, req, einfo), einfo, path)
}

func (c *Client) Exists(ctx context.Context, path string, einfo *vfs.ErrInfo, client vfs.Identity, opaque string) (vfs.Existence, vfs.ReturnCode) {
	resp := c.exchange(ctx, request(wire.OpExists, path, client, opaque), einfo)
	rc := c.finish(resp, einfo, path)
	if rc != vfs.OK {
		return vfs.ExistsNo, rc
	}

	v, err := strconv.Atoi(string(resp.Payload))
	if err != nil {
		return vfs.ExistsNo, einfo.Set(vfs.EBADMSG, "exists: bad payload %q", resp.Payload)
	}
	return vfs.Existence(v), rc
}

func (c *Client) Mkdir(ctx context.Context, path string, mode uint32, einfo *vfs.ErrInfo, client vfs.Identity, opaque string) vfs.ReturnCode {
	data, ok := c.args(&wire.MkdirArgs{Mode: mode}, einfo)
	if !ok {
		return vfs.Error
	}
	req := request(wire.OpMkdir, path, client, opaque)
	req.Args = data
	return c.finish(c.exchange(ctx, req, einfo), einfo, path)
}

func (c *Client) Rmdir(ctx context.Context, path string, einfo *vfs.ErrInfo, client vfs.Identity, opaque string) vfs.ReturnCode {
	return c.finish(c.exchange(ctx, request(wire.OpRmdir, path, client, opaque), einfo), einfo, path)
}

func (c *Client) Remove(ctx context.Context, path string, einfo *vfs.ErrInfo, client vfs.Identity, opaque string) vfs.ReturnCode {
	return c.finish(c.exchange(ctx, request(wire.OpRemove, path, client, opaque), einfo), einfo, path)
}

func (c *Client) Rename(ctx context.Context, oldPath, newPath string, einfo *vfs.ErrInfo, client vfs.Identity, opaqueOld, opaqueNew string) vfs.ReturnCode {
	data, ok := c.args(&wire.RenameArgs{NewPath: newPath, OpaqueNew: opaqueNew}, einfo)
	if !ok {
		return vfs.Error
	}
	req := request(wire.OpRename, oldPath, client, opaqueOld)
	req.Args = data
	return c.finish(c.exchange(ctx, req, einfo), einfo, oldPath)
}

func (c *Client) Prepare(ctx context.Context, args vfs.PrepareArgs, einfo *vfs.ErrInfo, client vfs.Identity) vfs.ReturnCode {
	data, ok := c.args(&wire.PrepareArgs{
		ReqID:    args.ReqID,
		Notify:   args.Notify,
		Opts:     args.Opts,
		Priority: args.Priority,
		Paths:    args.Paths,
		OInfo:    args.OInfo,
	}, einfo)
	if !ok {
		return vfs.Error
	}
	req := request(wire.OpPrepare, "", client, "")
	req.Args = data
	return c.finish(c.exchange(ctx, req, einfo), einfo, "")
}

func (c *Client) Truncate(ctx context.Context, path string, size int64, einfo *vfs.ErrInfo, client vfs.Identity, opaque string) vfs.ReturnCode {
	data, ok := c.args(&wire.TruncateArgs{Size: size}, einfo)
	if !ok {
		return vfs.Error
	}
	req := request(wire.OpTruncate, path, client, opaque)
	req.Args = data
	return c.finish(c.exchange(ctx, req, einfo), einfo, path)
}
