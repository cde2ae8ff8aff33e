// Package series2 registers the frame layouts of the ZigBee firmware under
// the mode name "xbee2". Import it for its side effect:
//
//	import _ "github.com/lcx/xbee/net/modes/series2"
package series2

import (
	"github.com/lcx/xbee/net"
	"github.com/lcx/xbee/net/modes/internal/apiframe"
)

const ModeName = "xbee2"

const (
	opTransmit         byte = 0x10
	opExplicitTransmit byte = 0x11
	opTxStatus         byte = 0x8B
	opReceive          byte = 0x90
	opExplicitReceive  byte = 0x91
	opIOSample         byte = 0x92
	opIdentify         byte = 0x95

	optDisableRetries  byte = 0x01
	optExtendedTimeout byte = 0x40

	// unknownLong addresses a node by its 16-bit address only.
	unknownLong uint64 = 0xFFFFFFFFFFFFFFFF

	maxDataLength = 84

	// Digi's default endpoint, cluster and profile for serial data.
	DefaultEndpoint byte   = 0xE8
	DefaultCluster  uint16 = 0x0011
	DefaultProfile  uint16 = 0xC105
)

// Delivery status values reported in TxError.Status.
const (
	TxMACAckFailure     byte = 0x01
	TxCCAFailure        byte = 0x02
	TxNetworkAckFailure byte = 0x21
	TxNotJoined         byte = 0x22
	TxAddressNotFound   byte = 0x24
	TxRouteNotFound     byte = 0x25
	TxPayloadTooLarge   byte = 0x74
)

// Sideband channels of a node identification frame, recorded under the
// "identify" key.
const SampleIdentify = "identify"

const (
	IdentifyParent = iota
	IdentifyDeviceType
	IdentifyEvent
	IdentifyProfile
	IdentifyManufacturer
	IdentifyRemoteShort
)

func init() {
	net.MustRegisterMode(Mode())
}

// Mode returns the table for ZigBee firmware.
func Mode() *net.Mode {
	return &net.Mode{
		Name: ModeName,
		Handlers: []net.HandlerDef{
			{Opcode: apiframe.OpLocalAT, Name: "local at request", Encode: apiframe.EncodeLocalAT},
			{Opcode: apiframe.OpLocalATResponse, Name: "local at response", Decode: apiframe.DecodeLocalATResponse},
			{Opcode: apiframe.OpRemoteAT, Name: "remote at request", Encode: apiframe.RemoteATEncoder(unknownLong)},
			{Opcode: apiframe.OpRemoteATResponse, Name: "remote at response", Decode: apiframe.DecodeRemoteATResponse},
			{Opcode: apiframe.OpModemStatus, Name: "modem status", Decode: apiframe.DecodeModemStatus},
			{Opcode: opTxStatus, Name: "transmit status", Decode: decodeTxStatus},
			{Opcode: opTransmit, Name: "transmit request", Encode: encodeTransmit},
			{Opcode: opReceive, Name: "receive packet", Decode: decodeReceive},
			{Opcode: opExplicitTransmit, Name: "explicit transmit request", Encode: encodeExplicit},
			{Opcode: opExplicitReceive, Name: "explicit receive", Decode: decodeExplicit},
			{Opcode: opIOSample, Name: "i/o sample", Decode: decodeIOSample},
			{Opcode: opIdentify, Name: "node identification", Decode: decodeIdentify},
		},
		ConnTypes: []net.ConnTypeDef{
			{Name: "Local AT", RxID: net.Op(apiframe.OpLocalATResponse), TxID: net.Op(apiframe.OpLocalAT), Addr: net.AddrNone},
			{Name: "Remote AT", RxID: net.Op(apiframe.OpRemoteATResponse), TxID: net.Op(apiframe.OpRemoteAT), Addr: net.AddrAny, Endpoints: net.EndpointsNotAllowed},
			{Name: "Modem Status", RxID: net.Op(apiframe.OpModemStatus), Addr: net.AddrNone},
			{Name: "Transmit Status", RxID: net.Op(opTxStatus), Addr: net.AddrNone},
			{Name: "Data", RxID: net.Op(opReceive), TxID: net.Op(opTransmit), Addr: net.AddrAny, Endpoints: net.EndpointsNotAllowed, MaxData: maxDataLength},
			{Name: "Data (explicit)", RxID: net.Op(opExplicitReceive), TxID: net.Op(opExplicitTransmit), Addr: net.AddrAny, Endpoints: net.EndpointsRequired, MaxData: maxDataLength},
			{Name: "I/O", RxID: net.Op(opIOSample), Addr: net.AddrAny, Endpoints: net.EndpointsNotAllowed},
			{Name: "Identify", RxID: net.Op(opIdentify), Addr: net.AddrAny, Endpoints: net.EndpointsNotAllowed},
		},
	}
}

func destination(req *net.EncodeRequest) (uint64, uint16) {
	if req.Settings.Broadcast {
		return net.BroadcastLong, net.UnknownShort
	}
	long, short := unknownLong, net.UnknownShort
	if req.Addr.LongEnabled {
		long = req.Addr.Long
	}
	if req.Addr.ShortEnabled {
		short = req.Addr.Short
	}
	return long, short
}

func txOptions(s net.ConnSettings) byte {
	var o byte
	if s.DisableRetries {
		o |= optDisableRetries
	}
	if s.ExtendedTimeout {
		o |= optExtendedTimeout
	}
	return o
}

func appendHeader(out []byte, req *net.EncodeRequest) []byte {
	long, short := destination(req)
	out = append(out, req.Opcode, req.FrameID)
	out = apiframe.AppendU64(out, long)
	return apiframe.AppendU16(out, short)
}

// [0x10, frame id, dst64, dst16, radius, options, data...]
func encodeTransmit(req *net.EncodeRequest) ([]byte, error) {
	out := appendHeader(make([]byte, 0, 14+len(req.Data)), req)
	out = append(out, req.Settings.BroadcastRadius, txOptions(req.Settings))
	return append(out, req.Data...), nil
}

// [0x11, frame id, dst64, dst16, src ep, dst ep, cluster, profile, radius, options, data...]
func encodeExplicit(req *net.EncodeRequest) ([]byte, error) {
	a := req.Addr
	src, dst := DefaultEndpoint, DefaultEndpoint
	if a.EndpointsEnabled {
		src, dst = a.LocalEndpoint, a.RemoteEndpoint
	}
	cluster, profile := DefaultCluster, DefaultProfile
	if a.ClusterEnabled {
		cluster = a.ClusterID
	}
	if a.ProfileEnabled {
		profile = a.ProfileID
	}

	out := appendHeader(make([]byte, 0, 20+len(req.Data)), req)
	out = append(out, src, dst)
	out = apiframe.AppendU16(out, cluster)
	out = apiframe.AppendU16(out, profile)
	out = append(out, req.Settings.BroadcastRadius, txOptions(req.Settings))
	return append(out, req.Data...), nil
}

// [0x8B, frame id, dst16, retries, delivery status, discovery status]
func decodeTxStatus(frame []byte, d *net.Decoded) error {
	c := apiframe.NewCursor(frame)
	id := c.U8()
	_ = c.U16()
	retries := c.U8()
	delivery := c.U8()
	discovery := c.U8()
	if err := c.Err(); err != nil {
		return err
	}
	d.Ack = net.FrameAck{Active: true, ID: id, RetVal: delivery}
	d.Packet.FrameID = id
	d.Packet.Status = delivery
	d.Packet.Data = append(d.Packet.Data[:0], retries, delivery, discovery)
	return nil
}

// [0x90, src64, src16, options, data...]
func decodeReceive(frame []byte, d *net.Decoded) error {
	c := apiframe.NewCursor(frame)
	long := c.U64()
	short := c.U16()
	opts := c.U8()
	data := c.Rest()
	if err := c.Err(); err != nil {
		return err
	}
	d.Addr = apiframe.SourceAddr(long, short)
	d.Packet.Options = opts
	d.Packet.Data = append(d.Packet.Data[:0], data...)
	return nil
}

// [0x91, src64, src16, src ep, dst ep, cluster, profile, options, data...]
func decodeExplicit(frame []byte, d *net.Decoded) error {
	c := apiframe.NewCursor(frame)
	long := c.U64()
	short := c.U16()
	srcEP := c.U8()
	dstEP := c.U8()
	cluster := c.U16()
	profile := c.U16()
	opts := c.U8()
	data := c.Rest()
	if err := c.Err(); err != nil {
		return err
	}
	a := apiframe.SourceAddr(long, short).WithEndpoints(dstEP, srcEP)
	a.ClusterEnabled, a.ClusterID = true, cluster
	a.ProfileEnabled, a.ProfileID = true, profile
	d.Addr = a
	d.Packet.Options = opts
	d.Packet.Data = append(d.Packet.Data[:0], data...)
	return nil
}

// [0x92, src64, src16, options, count, digital mask, analog mask, samples...]
// Analog mask bits 0-3 select AD0-3 and bit 7 the supply voltage.
func decodeIOSample(frame []byte, d *net.Decoded) error {
	c := apiframe.NewCursor(frame)
	long := c.U64()
	short := c.U16()
	opts := c.U8()
	if err := c.Err(); err != nil {
		return err
	}
	d.Addr = apiframe.SourceAddr(long, short)
	p := d.Packet
	p.Options = opts
	p.Data = append(p.Data[:0], c.Rest()...)

	c = apiframe.NewCursorAt(p.Data, 0)
	count := int(c.U8())
	digital := c.U16()
	analog := c.U8()
	for i := 0; i < count; i++ {
		if digital != 0 {
			v := c.U16()
			for ch := 0; ch < 16; ch++ {
				if digital&(1<<ch) != 0 {
					p.AddSample(apiframe.SampleDigital, ch, int(v>>ch)&1)
				}
			}
		}
		for ch := 0; ch < 8; ch++ {
			if analog&(1<<ch) != 0 {
				p.AddSample(apiframe.SampleAnalog, ch, int(c.U16()))
			}
		}
	}
	return c.Err()
}

// [0x95, src64, src16, options, remote16, remote64, NI, 0x00, parent16,
// device type, source event, profile, manufacturer]
func decodeIdentify(frame []byte, d *net.Decoded) error {
	c := apiframe.NewCursor(frame)
	long := c.U64()
	short := c.U16()
	opts := c.U8()
	remoteShort := c.U16()
	_ = c.U64()
	ni := c.CString()
	parent := c.U16()
	devType := c.U8()
	event := c.U8()
	profile := c.U16()
	manufacturer := c.U16()
	if err := c.Err(); err != nil {
		return err
	}
	d.Addr = apiframe.SourceAddr(long, short)
	p := d.Packet
	p.Options = opts
	p.Data = append(p.Data[:0], ni...)
	p.AddSample(SampleIdentify, IdentifyParent, int(parent))
	p.AddSample(SampleIdentify, IdentifyDeviceType, int(devType))
	p.AddSample(SampleIdentify, IdentifyEvent, int(event))
	p.AddSample(SampleIdentify, IdentifyProfile, int(profile))
	p.AddSample(SampleIdentify, IdentifyManufacturer, int(manufacturer))
	p.AddSample(SampleIdentify, IdentifyRemoteShort, int(remoteShort))
	return nil
}
