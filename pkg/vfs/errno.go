package vfs

import "golang.org/x/sys/unix"

// Error codes carried in ErrInfo.Code.
var (
	EPERM     = int32(unix.EPERM)
	ENOENT    = int32(unix.ENOENT)
	EIO       = int32(unix.EIO)
	EBADF     = int32(unix.EBADF)
	EACCES    = int32(unix.EACCES)
	EEXIST    = int32(unix.EEXIST)
	ENOTDIR   = int32(unix.ENOTDIR)
	EISDIR    = int32(unix.EISDIR)
	EINVAL    = int32(unix.EINVAL)
	ENOSPC    = int32(unix.ENOSPC)
	ENOTEMPTY = int32(unix.ENOTEMPTY)
	ENOTSUP   = int32(unix.ENOTSUP)
	EBADMSG   = int32(unix.EBADMSG)
	EBUSY     = int32(unix.EBUSY)
	EXDEV     = int32(unix.EXDEV)
	EFBIG     = int32(unix.EFBIG)
	ETIMEDOUT = int32(unix.ETIMEDOUT)
)

// EKEYREJECTED uses the Linux value on every platform so that rejections are
// reported identically whatever the edge runs on.
const EKEYREJECTED int32 = 129

// ErrnoText returns the system description of an error code.
func ErrnoText(code int32) string {
	if code == EKEYREJECTED {
		return "key was rejected by service"
	}
	return unix.Errno(code).Error()
}
