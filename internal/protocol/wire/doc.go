// Package wire defines the messages exchanged between the proxy client and
// the manager workers, their XDR encoding, and the record-marking framing
// used on the byte stream.
//
// A request travels as one record:
//
//	+------------------+-----------------------------------------------+
//	| record marking   | XDR RequestMessage                            |
//	| last bit | len   | xid type path client opaque token args hmac   |
//	+------------------+-----------------------------------------------+
//
// The operation fields travel inside Args as a separately encoded args
// struct, so a receiver can verify the HMAC over the envelope before it
// interprets any operation-specific data.
package wire
