package wire

// Identity is the wire form of the caller identity.
type Identity struct {
	Protocol string
	Name     string
	Host     string
	Tident   string
}

// ErrInfo is the wire form of the native error object.
type ErrInfo struct {
	Code    int32
	Message string
}

// RequestMessage is the envelope sent from the proxy client to a worker.
//
// Args holds the operation fields, XDR encoded from the args struct matching
// Type. It stays opaque until the HMAC has been verified. HMAC is the base64
// keyed hash of the canonical encoding of every other field.
type RequestMessage struct {
	XID    uint32
	Type   OperationType
	Path   string
	Client Identity
	Opaque string
	Token  string
	Args   []byte
	HMAC   string
}

// ResponseMessage is the single reply a worker sends for each request.
//
// Error is meaningful only when HasError is set. Collapse asks the client to
// turn a redirect into a collapsed redirect on its configured port.
type ResponseMessage struct {
	XID        uint32
	ReturnCode int64
	HasError   bool
	Error      ErrInfo
	Collapse   bool
	Payload    []byte
}

// SetError records error information on the response.
func (r *ResponseMessage) SetError(code int32, message string) {
	r.HasError = true
	r.Error = ErrInfo{Code: code, Message: message}
}

// Per-operation argument structs. Handle operations without parameters
// (DIR_READ, DIR_FNAME, DIR_CLOSE, FILE_STAT, FILE_FNAME, FILE_CLOSE) and the
// path-only operations (STAT, STAT_MODE, EXISTS, RMDIR, REMOVE, DIR_OPEN)
// carry an empty Args.

type FSctlArgs struct {
	Cmd  int32
	Args string
}

type FSctlExtArgs struct {
	Cmd  int32
	Arg1 []byte
	Arg2 []byte
}

type ChmodArgs struct {
	Mode uint32
}

type ChecksumArgs struct {
	Func int32
	Name string
}

type MkdirArgs struct {
	Mode uint32
}

type RenameArgs struct {
	NewPath   string
	OpaqueNew string
}

type PrepareArgs struct {
	ReqID    string
	Notify   string
	Opts     int32
	Priority int32
	Paths    []string
	OInfo    []string
}

type TruncateArgs struct {
	Size int64
}

type FileOpenArgs struct {
	Flags int32
	Mode  uint32
}

type FileReadArgs struct {
	Offset int64
	Length int32
}

type FileWriteArgs struct {
	Offset int64
	Data   []byte
}

// Stat is the wire form of a stat structure, used as STAT and FILE_STAT payload.
type Stat struct {
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
