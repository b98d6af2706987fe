package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// ErrMalformed is returned for input that is not a valid XDR encoding of the
// expected type.
var ErrMalformed = errors.New("malformed message")

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unmarshal decodes data into v after checking that every length prefix fits
// in the input, so a hostile prefix cannot trigger a huge allocation, and
// that no trailing bytes remain.
func unmarshal(data []byte, v any) error {
	consumed, err := scan(data, reflect.TypeOf(v).Elem())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if consumed != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-consumed)
	}

	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// scan walks data following the XDR layout of t and returns the number of
// bytes the encoding occupies.
func scan(data []byte, t reflect.Type) (int, error) {
	switch t.Kind() {
	case reflect.Bool, reflect.Int32, reflect.Uint32:
		if len(data) < 4 {
			return 0, fmt.Errorf("short %s", t)
		}
		return 4, nil

	case reflect.Int64, reflect.Uint64:
		if len(data) < 8 {
			return 0, fmt.Errorf("short %s", t)
		}
		return 8, nil

	case reflect.String:
		return scanOpaque(data)

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return scanOpaque(data)
		}
		if len(data) < 4 {
			return 0, fmt.Errorf("short array count")
		}
		count := binary.BigEndian.Uint32(data)
		off := 4
		for i := uint32(0); i < count; i++ {
			n, err := scan(data[off:], t.Elem())
			if err != nil {
				return 0, fmt.Errorf("element %d: %w", i, err)
			}
			off += n
		}
		return off, nil

	case reflect.Struct:
		off := 0
		for i := 0; i < t.NumField(); i++ {
			n, err := scan(data[off:], t.Field(i).Type)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", t.Field(i).Name, err)
			}
			off += n
		}
		return off, nil
	}

	return 0, fmt.Errorf("unsupported kind %s", t.Kind())
}

func scanOpaque(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("short length prefix")
	}
	length := uint64(binary.BigEndian.Uint32(data))
	padded := (length + 3) &^ 3
	if padded > uint64(len(data)-4) {
		return 0, fmt.Errorf("length %d exceeds remaining %d bytes", length, len(data)-4)
	}
	return 4 + int(padded), nil
}

// EncodeRequest serializes a request, HMAC included.
func EncodeRequest(req *RequestMessage) ([]byte, error) {
	data, err := marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}

// DecodeRequest parses a request envelope. Args is left encoded.
func DecodeRequest(data []byte) (*RequestMessage, error) {
	req := &RequestMessage{}
	if err := unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if len(req.Args) == 0 {
		req.Args = nil
	}
	return req, nil
}

// CanonicalBytes is the encoding covered by the HMAC: the request with an
// empty HMAC field. The request itself is not modified.
func CanonicalBytes(req *RequestMessage) ([]byte, error) {
	clone := *req
	clone.HMAC = ""
	return EncodeRequest(&clone)
}

// EncodeResponse serializes a response.
func EncodeResponse(resp *ResponseMessage) ([]byte, error) {
	data, err := marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return data, nil
}

// DecodeResponse parses a response.
func DecodeResponse(data []byte) (*ResponseMessage, error) {
	resp := &ResponseMessage{}
	if err := unmarshal(data, resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Payload) == 0 {
		resp.Payload = nil
	}
	return resp, nil
}

// EncodeArgs serializes an operation args struct.
func EncodeArgs(args any) ([]byte, error) {
	data, err := marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return data, nil
}

// DecodeArgs parses data into the args struct pointed to by args.
func DecodeArgs(data []byte, args any) error {
	if err := unmarshal(data, args); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}

// PeekXID returns the XID of an encoded request or response without decoding
// the rest of the message.
func PeekXID(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: %d bytes, no XID", ErrMalformed, len(data))
	}
	return binary.BigEndian.Uint32(data[:4]), nil
}
