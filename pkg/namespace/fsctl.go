package namespace

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/authproxy/pkg/store/metadata"
	"github.com/marmos91/authproxy/pkg/vfs"
)

// locateResponse is the body of a LOCATE answer: a response type tag, a NUL
// and the address list. The error code carries the body length.
func locateResponse(einfo *vfs.ErrInfo, host string, port int) vfs.ReturnCode {
	msg := fmt.Sprintf("Sr\x00[::%s]:%d ", host, port)
	einfo.Code = int32(len(msg))
	einfo.Message = msg
	return vfs.Data
}

// data answers a query with msg in the error object.
func data(einfo *vfs.ErrInfo, msg string) vfs.ReturnCode {
	einfo.Code = int32(len(msg))
	einfo.Message = msg
	return vfs.Data
}

func (ns *Namespace) FSctl(ctx context.Context, cmd int32, args string, einfo *vfs.ErrInfo, _ vfs.Identity) vfs.ReturnCode {
	switch cmd & vfs.FSctlCmdMask {
	case vfs.FSctlLocate:
		// Locate arguments may carry a leading '*' asking for every
		// location; there is only ever one here.
		target := strings.TrimPrefix(args, "*")
		if target != "" {
			p := metadata.Clean(target)
			if _, err := ns.meta.Get(ctx, p); err != nil {
				return fail(einfo, err, p)
			}
		}
		return locateResponse(einfo, ns.opts.Host, ns.opts.Port)

	case vfs.FSctlStatFS:
		used, free, _, err := ns.space(ctx)
		if err != nil {
			return fail(einfo, err, "statfs")
		}
		util := 0
		if total := used + free; total > 0 {
			util = int(used * 100 / total)
		}
		// writable nodes, free MB, utilization, staging nodes, free MB, utilization
		return data(einfo, fmt.Sprintf("1 %d %d 0 0 0", free>>20, util))

	case vfs.FSctlStatLS:
		used, free, files, err := ns.space(ctx)
		if err != nil {
			return fail(einfo, err, "statls")
		}
		return data(einfo, fmt.Sprintf("oss.cgroup=default&oss.space=%d&oss.free=%d&oss.maxf=%d&oss.used=%d&oss.quota=-1&oss.files=%d",
			used+free, free, free, used, files))

	case vfs.FSctlPlugin:
		return ns.plugin(args, einfo)
	}

	return einfo.Set(vfs.ENOTSUP, "fsctl command %d not supported", cmd)
}

func (ns *Namespace) FSctlExt(_ context.Context, cmd int32, args vfs.FSctlArgs, einfo *vfs.ErrInfo, _ vfs.Identity) vfs.ReturnCode {
	if cmd&vfs.FSctlCmdMask == vfs.FSctlPlugin {
		return ns.plugin(string(args.Arg1), einfo)
	}
	return einfo.Set(vfs.ENOTSUP, "extended fsctl command %d not supported", cmd)
}

func (ns *Namespace) plugin(query string, einfo *vfs.ErrInfo) vfs.ReturnCode {
	switch strings.TrimSpace(query) {
	case "version":
		return data(einfo, ns.opts.Version)
	case "ping":
		return data(einfo, "pong")
	}
	return einfo.Set(vfs.EINVAL, "unknown plugin query %q", query)
}

// space reports used and free bytes against the configured capacity plus the
// number of files.
func (ns *Namespace) space(ctx context.Context) (used, free, files uint64, err error) {
	st, err := ns.meta.Statistics(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	used = st.Bytes
	if used < ns.opts.Capacity {
		free = ns.opts.Capacity - used
	}
	return used, free, st.Files, nil
}
