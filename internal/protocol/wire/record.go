package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Records are framed with ONC RPC record marking: each fragment starts with a
// 4-byte big-endian header whose top bit marks the last fragment of a record
// and whose low 31 bits hold the fragment length.

const (
	lastFragmentBit   = 0x80000000
	fragmentLenMask   = 0x7FFFFFFF
	fragmentHeaderLen = 4

	// MaxFragmentSize bounds a single outgoing fragment.
	MaxFragmentSize = 1 << 20

	// DefaultMaxRecordSize bounds a reassembled incoming record.
	DefaultMaxRecordSize = 16 << 20

	// MaxIOSize bounds the data carried by a single FILE_READ or FILE_WRITE,
	// leaving room for the envelope inside DefaultMaxRecordSize.
	MaxIOSize = 8 << 20
)

// ErrRecordTooLarge is returned when an incoming record exceeds the limit.
var ErrRecordTooLarge = errors.New("record exceeds maximum size")

// FragmentHeader is a decoded record-marking header.
type FragmentHeader struct {
	IsLast bool
	Length uint32
}

func readFragmentHeader(r io.Reader) (FragmentHeader, error) {
	var buf [fragmentHeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FragmentHeader{}, err
	}

	header := binary.BigEndian.Uint32(buf[:])
	return FragmentHeader{
		IsLast: header&lastFragmentBit != 0,
		Length: header & fragmentLenMask,
	}, nil
}

// ReadRecord reads one complete record, reassembling fragments. maxSize <= 0
// selects DefaultMaxRecordSize. io.EOF is returned unchanged when the stream
// ends cleanly between records.
func ReadRecord(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxRecordSize
	}

	var record []byte
	first := true

	for {
		header, err := readFragmentHeader(r)
		if err != nil {
			if first && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("read fragment header: %w", err)
		}
		first = false

		if len(record)+int(header.Length) > maxSize {
			return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrRecordTooLarge, len(record)+int(header.Length), maxSize)
		}

		start := len(record)
		record = append(record, make([]byte, header.Length)...)
		if _, err := io.ReadFull(r, record[start:]); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("read fragment body: %w", err)
		}

		if header.IsLast {
			return record, nil
		}
	}
}

// WriteRecord writes data as one record, split into fragments of at most
// MaxFragmentSize bytes, with a single Write call on w.
func WriteRecord(w io.Writer, data []byte) error {
	fragments := (len(data) + MaxFragmentSize - 1) / MaxFragmentSize
	if fragments == 0 {
		fragments = 1
	}

	buf := make([]byte, 0, len(data)+fragments*fragmentHeaderLen)
	for off := 0; ; {
		end := off + MaxFragmentSize
		if end > len(data) {
			end = len(data)
		}

		header := uint32(end - off)
		if end == len(data) {
			header |= lastFragmentBit
		}
		buf = binary.BigEndian.AppendUint32(buf, header)
		buf = append(buf, data[off:end]...)

		if end == len(data) {
			break
		}
		off = end
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
