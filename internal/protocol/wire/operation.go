package wire

import "fmt"

// OperationType identifies the filesystem call carried by a request. The set
// is closed: adding a member means extending the client facade and the
// dispatcher switch together.
type OperationType uint32

const (
	OpStat OperationType = iota
	OpStatMode
	OpFSctlGeneric
	OpFSctlExtended
	OpChmod
	OpChecksum
	OpExists
	OpMkdir
	OpRmdir
	OpRemove
	OpRename
	OpPrepare
	OpTruncate
	OpDirOpen
	OpDirRead
	OpDirFname
	OpDirClose
	OpFileOpen
	OpFileStat
	OpFileFname
	OpFileRead
	OpFileWrite
	OpFileClose

	opCount
)

var operationNames = [...]string{
	OpStat:          "STAT",
	OpStatMode:      "STAT_MODE",
	OpFSctlGeneric:  "FSCTL_GENERIC",
	OpFSctlExtended: "FSCTL_EXTENDED",
	OpChmod:         "CHMOD",
	OpChecksum:      "CHECKSUM",
	OpExists:        "EXISTS",
	OpMkdir:         "MKDIR",
	OpRmdir:         "RMDIR",
	OpRemove:        "REMOVE",
	OpRename:        "RENAME",
	OpPrepare:       "PREPARE",
	OpTruncate:      "TRUNCATE",
	OpDirOpen:       "DIR_OPEN",
	OpDirRead:       "DIR_READ",
	OpDirFname:      "DIR_FNAME",
	OpDirClose:      "DIR_CLOSE",
	OpFileOpen:      "FILE_OPEN",
	OpFileStat:      "FILE_STAT",
	OpFileFname:     "FILE_FNAME",
	OpFileRead:      "FILE_READ",
	OpFileWrite:     "FILE_WRITE",
	OpFileClose:     "FILE_CLOSE",
}

// Valid reports whether op is a member of the enumeration.
func (op OperationType) Valid() bool {
	return op < opCount
}

func (op OperationType) String() string {
	if op.Valid() {
		return operationNames[op]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(op))
}

// Operations returns every member of the enumeration in wire order.
func Operations() []OperationType {
	ops := make([]OperationType, 0, opCount)
	for op := OperationType(0); op < opCount; op++ {
		ops = append(ops, op)
	}
	return ops
}

// HandleBased reports whether op addresses an open handle by session token
// instead of a path.
func (op OperationType) HandleBased() bool {
	switch op {
	case OpDirRead, OpDirFname, OpDirClose,
		OpFileStat, OpFileFname, OpFileRead, OpFileWrite, OpFileClose:
		return true
	}
	return false
}
