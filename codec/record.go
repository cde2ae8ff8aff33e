package codec

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lcx/xbee/net"
)

// packet record fields
const (
	fieldConnType  protowire.Number = 1
	fieldAddress   protowire.Number = 2
	fieldStatus    protowire.Number = 3
	fieldOptions   protowire.Number = 4
	fieldRSSI      protowire.Number = 5
	fieldFrameID   protowire.Number = 6
	fieldATCommand protowire.Number = 7
	fieldData      protowire.Number = 8
	fieldTimestamp protowire.Number = 9
	fieldSample    protowire.Number = 10
)

// address fields; presence marks the group as enabled
const (
	addrShort          protowire.Number = 1
	addrLong           protowire.Number = 2
	addrLocalEndpoint  protowire.Number = 3
	addrRemoteEndpoint protowire.Number = 4
	addrProfile        protowire.Number = 5
	addrCluster        protowire.Number = 6
)

// sample fields
const (
	sampleKey     protowire.Number = 1
	sampleChannel protowire.Number = 2
	sampleValues  protowire.Number = 3
)

var errMalformed = errors.New("codec: malformed record")

// RecordCodec writes packets in protobuf wire format without generated code.
// Unknown fields are skipped on decode.
type RecordCodec struct{}

// Encode appends the record for p to b.
func (RecordCodec) Encode(p *net.Packet, b []byte) ([]byte, error) {
	if p == nil {
		return b, fmt.Errorf("%w: nil packet", net.ErrInvalidParam)
	}
	if p.ConnType != "" {
		b = protowire.AppendTag(b, fieldConnType, protowire.BytesType)
		b = protowire.AppendString(b, p.ConnType)
	}
	if addr := appendAddress(nil, p.Address); len(addr) > 0 {
		b = protowire.AppendTag(b, fieldAddress, protowire.BytesType)
		b = protowire.AppendBytes(b, addr)
	}
	b = appendVarintField(b, fieldStatus, uint64(p.Status))
	b = appendVarintField(b, fieldOptions, uint64(p.Options))
	b = appendVarintField(b, fieldRSSI, uint64(p.RSSI))
	b = appendVarintField(b, fieldFrameID, uint64(p.FrameID))
	if p.ATCommand != "" {
		b = protowire.AppendTag(b, fieldATCommand, protowire.BytesType)
		b = protowire.AppendString(b, p.ATCommand)
	}
	if len(p.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Data)
	}
	if !p.Timestamp.IsZero() {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, uint64(p.Timestamp.UnixNano()))
	}
	for _, key := range p.SampleKeys() {
		for _, ch := range p.SampleChannels(key) {
			vals, _ := p.Samples(key, ch)
			b = protowire.AppendTag(b, fieldSample, protowire.BytesType)
			b = protowire.AppendBytes(b, appendSample(nil, key, ch, vals))
		}
	}
	return b, nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendAddress(b []byte, a net.Address) []byte {
	if a.ShortEnabled {
		b = protowire.AppendTag(b, addrShort, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Short))
	}
	if a.LongEnabled {
		b = protowire.AppendTag(b, addrLong, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, a.Long)
	}
	if a.EndpointsEnabled {
		b = protowire.AppendTag(b, addrLocalEndpoint, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.LocalEndpoint))
		b = protowire.AppendTag(b, addrRemoteEndpoint, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.RemoteEndpoint))
	}
	if a.ProfileEnabled {
		b = protowire.AppendTag(b, addrProfile, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.ProfileID))
	}
	if a.ClusterEnabled {
		b = protowire.AppendTag(b, addrCluster, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.ClusterID))
	}
	return b
}

func appendSample(b []byte, key string, ch int, vals []int) []byte {
	b = protowire.AppendTag(b, sampleKey, protowire.BytesType)
	b = protowire.AppendString(b, key)
	b = protowire.AppendTag(b, sampleChannel, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(ch)))

	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(int64(v)))
	}
	b = protowire.AppendTag(b, sampleValues, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// Decode fills p from b. p is expected to be freshly acquired.
func (RecordCodec) Decode(p *net.Packet, b []byte) error {
	if p == nil {
		return fmt.Errorf("%w: nil packet", net.ErrInvalidParam)
	}
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldConnType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			p.ConnType = v
			return n, nil
		case num == fieldAddress && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			return n, decodeAddress(&p.Address, v)
		case num == fieldStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			p.Status = byte(v)
			return n, nil
		case num == fieldOptions && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			p.Options = byte(v)
			return n, nil
		case num == fieldRSSI && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			p.RSSI = byte(v)
			return n, nil
		case num == fieldFrameID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			p.FrameID = byte(v)
			return n, nil
		case num == fieldATCommand && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			p.ATCommand = v
			return n, nil
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			p.Data = append(p.Data[:0], v...)
			return n, nil
		case num == fieldTimestamp && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			p.Timestamp = time.Unix(0, int64(v))
			return n, nil
		case num == fieldSample && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			return n, decodeSample(p, v)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func decodeAddress(a *net.Address, b []byte) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == addrLong && typ == protowire.Fixed64Type {
			v, n := protowire.ConsumeFixed64(b)
			a.LongEnabled, a.Long = true, v
			return n, nil
		}
		if typ != protowire.VarintType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeVarint(b)
		switch num {
		case addrShort:
			a.ShortEnabled, a.Short = true, uint16(v)
		case addrLocalEndpoint:
			a.EndpointsEnabled, a.LocalEndpoint = true, byte(v)
		case addrRemoteEndpoint:
			a.EndpointsEnabled, a.RemoteEndpoint = true, byte(v)
		case addrProfile:
			a.ProfileEnabled, a.ProfileID = true, uint16(v)
		case addrCluster:
			a.ClusterEnabled, a.ClusterID = true, uint16(v)
		}
		return n, nil
	})
}

func decodeSample(p *net.Packet, b []byte) error {
	var (
		key  string
		ch   int
		vals []int
	)
	err := eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == sampleKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			key = v
			return n, nil
		case num == sampleChannel && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			ch = int(protowire.DecodeZigZag(v))
			return n, nil
		case num == sampleValues && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return m, nil
				}
				vals = append(vals, int(protowire.DecodeZigZag(v)))
				packed = packed[m:]
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: sample without key", errMalformed)
	}
	for _, v := range vals {
		p.AddSample(key, ch, v)
	}
	return nil
}

// eachField walks the fields of a message. fn consumes the value following
// the tag and returns its length, or a negative protowire error code.
func eachField(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", errMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
