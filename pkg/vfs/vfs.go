// Package vfs defines the native filesystem call surface shared by the
// manager-side namespace and the edge-side proxy client.
//
// Every call reports its outcome twice, the way native filesystem plugins do:
// a ReturnCode and, on failure or redirection, an ErrInfo filled in by the
// callee. Because the proxy client implements FileSystem as well, code written
// against this interface cannot tell whether it runs next to the namespace or
// on the far side of the RPC link.
package vfs

import (
	"context"
	"fmt"
)

// ReturnCode is the native outcome of a call. Negative values are sentinels,
// zero is success and positive values carry a byte count (read/write) or a
// stall time in seconds.
type ReturnCode int64

const (
	OK       ReturnCode = 0
	Error    ReturnCode = -1
	Stall    ReturnCode = 1
	Redirect ReturnCode = -256
	Started  ReturnCode = -512
	Data     ReturnCode = -1024
)

func (rc ReturnCode) String() string {
	switch rc {
	case OK:
		return "OK"
	case Error:
		return "ERROR"
	case Redirect:
		return "REDIRECT"
	case Started:
		return "STARTED"
	case Data:
		return "DATA"
	}
	if rc > 0 {
		return fmt.Sprintf("%d", int64(rc))
	}
	return fmt.Sprintf("UNKNOWN(%d)", int64(rc))
}

// Failed reports whether rc is the error sentinel.
func (rc ReturnCode) Failed() bool {
	return rc == Error
}

// ErrInfo is the error object filled in by the callee.
type ErrInfo struct {
	Code    int32
	Message string
}

// Set overwrites code and message and returns Error for convenient
// `return einfo.Set(...)` style call sites.
func (e *ErrInfo) Set(code int32, format string, args ...any) ReturnCode {
	if e == nil {
		return Error
	}
	e.Code = code
	if len(args) > 0 {
		e.Message = fmt.Sprintf(format, args...)
	} else {
		e.Message = format
	}
	return Error
}

// IsSet reports whether any information was recorded.
func (e *ErrInfo) IsSet() bool {
	return e != nil && (e.Code != 0 || e.Message != "")
}

// Reset clears the object.
func (e *ErrInfo) Reset() {
	if e != nil {
		*e = ErrInfo{}
	}
}

func (e ErrInfo) String() string {
	return fmt.Sprintf("code=%d msg=%q", e.Code, e.Message)
}

// Identity describes the authenticated caller on whose behalf an operation
// runs.
type Identity struct {
	Protocol string
	Name     string
	Host     string
	Tident   string
}

func (id Identity) String() string {
	if id.Tident != "" {
		return id.Tident
	}
	return fmt.Sprintf("%s@%s", id.Name, id.Host)
}

// StatInfo is the stat structure carried as a STAT payload. Times are Unix
// nanoseconds.
type StatInfo struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Atime   int64
	Mtime   int64
	Ctime   int64
}

// IsDir reports whether the mode describes a directory.
func (s StatInfo) IsDir() bool {
	return s.Mode&ModeTypeMask == ModeDir
}

// Mode type bits, identical to the POSIX S_IF* values.
const (
	ModeTypeMask uint32 = 0o170000
	ModeDir      uint32 = 0o040000
	ModeRegular  uint32 = 0o100000
	ModePerm     uint32 = 0o7777
)

// Open flags understood by OpenFile.
const (
	OpenReadOnly  int32 = 0x0000
	OpenWriteOnly int32 = 0x0001
	OpenReadWrite int32 = 0x0002
	OpenAccMode   int32 = 0x0003
	OpenCreate    int32 = 0x0100
	OpenTruncate  int32 = 0x0200
	OpenMakePath  int32 = 0x4000
)

// CollapseRedirectFlag marks a redirect whose ErrInfo message is a complete
// URL rather than a host name. ErrInfo.Code carries the complement of the
// flag, as native redirect handlers expect.
const (
	CollapseRedirectFlag int32 = 0x40000000
	CollapseRedirectCode int32 = ^CollapseRedirectFlag
)

// MkdirMakePath in the mode passed to Mkdir creates missing parents.
const MkdirMakePath uint32 = 0x4000

// FSctl opcodes. The opcode lives in the low byte of the command.
const (
	FSctlLocate  int32 = 1
	FSctlStatFS  int32 = 2
	FSctlStatLS  int32 = 3
	FSctlStatXA  int32 = 4
	FSctlStatCC  int32 = 5
	FSctlPlugin  int32 = 8
	FSctlPlugIO  int32 = 16
	FSctlCmdMask int32 = 0xFF
)

// ChecksumFunc selects what Checksum does.
type ChecksumFunc int32

const (
	ChecksumCalc ChecksumFunc = iota
	ChecksumGet
	ChecksumSize
)

// Existence is the result of Exists.
type Existence int32

const (
	ExistsNo Existence = iota
	ExistsFile
	ExistsDirectory
	ExistsOther
)

// FSctlArgs are the arguments of an extended control command.
type FSctlArgs struct {
	Arg1 []byte
	Arg2 []byte
}

// PrepareArgs describe a staging request for a list of paths.
type PrepareArgs struct {
	ReqID    string
	Notify   string
	Opts     int32
	Priority int32
	Paths    []string
	OInfo    []string
}

// FileSystem is the namespace call surface.
type FileSystem interface {
	Stat(ctx context.Context, path string, einfo *ErrInfo, client Identity, opaque string) (StatInfo, ReturnCode)
	StatMode(ctx context.Context, path string, einfo *ErrInfo, client Identity, opaque string) (uint32, ReturnCode)
	FSctl(ctx context.Context, cmd int32, args string, einfo *ErrInfo, client Identity) ReturnCode
	FSctlExt(ctx context.Context, cmd int32, args FSctlArgs, einfo *ErrInfo, client Identity) ReturnCode
	Chmod(ctx context.Context, path string, mode uint32, einfo *ErrInfo, client Identity, opaque string) ReturnCode
	Checksum(ctx context.Context, fn ChecksumFunc, csName, path string, einfo *ErrInfo, client Identity, opaque string) ReturnCode
	Exists(ctx context.Context, path string, einfo *ErrInfo, client Identity, opaque string) (Existence, ReturnCode)
	Mkdir(ctx context.Context, path string, mode uint32, einfo *ErrInfo, client Identity, opaque string) ReturnCode
	Rmdir(ctx context.Context, path string, einfo *ErrInfo, client Identity, opaque string) ReturnCode
	Remove(ctx context.Context, path string, einfo *ErrInfo, client Identity, opaque string) ReturnCode
	Rename(ctx context.Context, oldPath, newPath string, einfo *ErrInfo, client Identity, opaqueOld, opaqueNew string) ReturnCode
	Prepare(ctx context.Context, args PrepareArgs, einfo *ErrInfo, client Identity) ReturnCode
	Truncate(ctx context.Context, path string, size int64, einfo *ErrInfo, client Identity, opaque string) ReturnCode
	OpenDir(ctx context.Context, path string, einfo *ErrInfo, client Identity, opaque string) (Directory, ReturnCode)
	OpenFile(ctx context.Context, path string, flags int32, mode uint32, einfo *ErrInfo, client Identity, opaque string) (File, ReturnCode)
}

// Directory is an open directory listing.
type Directory interface {
	// Next returns the next entry name. Error with an unset ErrInfo marks the
	// end of the listing.
	Next(ctx context.Context, einfo *ErrInfo) (string, ReturnCode)
	Name() string
	Close(ctx context.Context, einfo *ErrInfo) ReturnCode
}

// File is an open file. Read and Write return the number of bytes
// transferred as the ReturnCode.
type File interface {
	Read(ctx context.Context, offset int64, p []byte, einfo *ErrInfo) ReturnCode
	Write(ctx context.Context, offset int64, p []byte, einfo *ErrInfo) ReturnCode
	Stat(ctx context.Context, einfo *ErrInfo) (StatInfo, ReturnCode)
	Name() string
	Close(ctx context.Context, einfo *ErrInfo) ReturnCode
}
