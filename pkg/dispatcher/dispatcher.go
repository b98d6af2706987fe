// Package dispatcher executes forwarded filesystem calls on the manager.
//
// Every frame handed to Handle produces exactly one encoded response, no
// matter how broken the frame is. The request envelope is decoded first, the
// signature verified second, and only then are the operation arguments
// decoded and the namespace called.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/internal/protocol/wire"
	"github.com/marmos91/authproxy/pkg/handles"
	"github.com/marmos91/authproxy/pkg/integrity"
	"github.com/marmos91/authproxy/pkg/stats"
	"github.com/marmos91/authproxy/pkg/vfs"
)

// Rejection reasons reported to Metrics.RecordRejection.
const (
	RejectMalformed   = "malformed"
	RejectSignature   = "signature"
	RejectUnsupported = "unsupported"
	RejectPanic       = "panic"
)

// Metrics receives dispatcher events.
type Metrics interface {
	RecordRequest(op string, duration time.Duration, outcome string)
	RecordRejection(reason string)
	RecordReplyDropped()
	SetActiveWorkers(n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordRequest(string, time.Duration, string) {}
func (noopMetrics) RecordRejection(string)                      {}
func (noopMetrics) RecordReplyDropped()                         {}
func (noopMetrics) SetActiveWorkers(int)                        {}

// Options wires a Dispatcher to its collaborators. FileSystem and Signer are
// required; the rest get defaults.
type Options struct {
	FileSystem vfs.FileSystem
	Signer     *integrity.Signer
	Handles    *handles.Table
	Stats      *stats.Collector
	Metrics    Metrics
}

// Dispatcher turns request frames into response frames.
type Dispatcher struct {
	fs      vfs.FileSystem
	signer  *integrity.Signer
	handles *handles.Table
	stats   *stats.Collector
	metrics Metrics
}

// New returns a dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.FileSystem == nil {
		return nil, errors.New("dispatcher: file system is required")
	}
	if opts.Signer == nil {
		return nil, errors.New("dispatcher: signer is required")
	}
	if opts.Handles == nil {
		opts.Handles = handles.New(nil)
	}
	if opts.Stats == nil {
		opts.Stats = stats.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	return &Dispatcher{
		fs:      opts.FileSystem,
		signer:  opts.Signer,
		handles: opts.Handles,
		stats:   opts.Stats,
		metrics: opts.Metrics,
	}, nil
}

// Handles returns the handle table shared by all workers.
func (d *Dispatcher) Handles() *handles.Table {
	return d.handles
}

// Handle processes one request frame and returns the encoded response.
func (d *Dispatcher) Handle(ctx context.Context, frame []byte) (reply []byte) {
	xid, _ := wire.PeekXID(frame)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while dispatching xid=0x%x: %v\n%s", xid, r, debug.Stack())
			d.metrics.RecordRejection(RejectPanic)
			reply = d.encode(errorResponse(xid, vfs.EIO, "internal error while executing request"))
		}
	}()

	req, err := wire.DecodeRequest(frame)
	if err != nil {
		logger.Warn("Rejecting undecodable request xid=0x%x (%d bytes): %v", xid, len(frame), err)
		d.metrics.RecordRejection(RejectMalformed)
		return d.encode(errorResponse(xid, vfs.EBADMSG, fmt.Sprintf("malformed request: %v", err)))
	}

	if err := d.signer.Verify(req); err != nil {
		logger.Warn("Rejecting %s %q from %s: %v", req.Type, req.Path, req.Client.VFS(), err)
		d.metrics.RecordRejection(RejectSignature)
		return d.encode(errorResponse(req.XID, vfs.EKEYREJECTED, integrity.RejectionMessage))
	}

	return d.encode(d.execute(ctx, req))
}

// execute runs a verified request and records its latency.
func (d *Dispatcher) execute(ctx context.Context, req *wire.RequestMessage) *wire.ResponseMessage {
	if !req.Type.Valid() {
		logger.Warn("Unsupported operation type %d from %s", uint32(req.Type), req.Client.VFS())
		d.metrics.RecordRejection(RejectUnsupported)
		return errorResponse(req.XID, vfs.ENOTSUP, fmt.Sprintf("unsupported operation type %d", uint32(req.Type)))
	}

	op := operationTable[req.Type]
	if op == nil {
		d.metrics.RecordRejection(RejectUnsupported)
		return errorResponse(req.XID, vfs.ENOTSUP, fmt.Sprintf("unsupported operation type %d", uint32(req.Type)))
	}

	logger.Debug("%s path=%q token=%q client=%s xid=0x%x",
		req.Type, req.Path, req.Token, req.Client.VFS(), req.XID)

	call := &call{ctx: ctx, req: req, client: req.Client.VFS()}

	start := time.Now()
	resp := op(d, call)
	elapsed := time.Since(start)

	resp.XID = req.XID
	name := req.Type.String()
	d.stats.Record(name, elapsed)
	d.metrics.RecordRequest(name, elapsed, outcome(resp))

	return resp
}

func (d *Dispatcher) encode(resp *wire.ResponseMessage) []byte {
	data, err := wire.EncodeResponse(resp)
	if err == nil {
		return data
	}

	logger.Error("Failed to encode response xid=0x%x: %v", resp.XID, err)
	data, err = wire.EncodeResponse(errorResponse(resp.XID, vfs.EIO, "failed to encode response"))
	if err != nil {
		// A fixed-shape error response always encodes.
		panic(err)
	}
	return data
}

func errorResponse(xid uint32, code int32, message string) *wire.ResponseMessage {
	resp := &wire.ResponseMessage{XID: xid, ReturnCode: int64(vfs.Error)}
	resp.SetError(code, message)
	return resp
}

// outcome labels a response for metrics.
func outcome(resp *wire.ResponseMessage) string {
	rc := vfs.ReturnCode(resp.ReturnCode)
	if rc >= 0 {
		return "ok"
	}
	return strings.ToLower(rc.String())
}
