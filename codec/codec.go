// Package codec encodes packets as protobuf-wire records, for capture files
// and for handing packets across a process boundary.
package codec

import (
	"errors"

	"github.com/lcx/xbee/net"
)

var (
	errCodecNotInit = errors.New("codec not init")

	_codec Codec = &RecordCodec{}
)

// Codec converts packets to and from bytes.
type Codec interface {
	Encode(p *net.Packet, b []byte) ([]byte, error)
	Decode(p *net.Packet, b []byte) error
}

// Encode appends the record for p to b.
func Encode(p *net.Packet, b []byte) ([]byte, error) {
	if _codec == nil {
		return nil, errCodecNotInit
	}
	return _codec.Encode(p, b)
}

// Decode fills p from a single record.
func Decode(p *net.Packet, b []byte) error {
	if _codec == nil {
		return errCodecNotInit
	}
	return _codec.Decode(p, b)
}

// SetCodec replaces the package codec.
func SetCodec(c Codec) {
	_codec = c
}
