// Package series1 registers the frame layouts of the 802.15.4 firmware under
// the mode name "xbee1". Import it for its side effect:
//
//	import _ "github.com/lcx/xbee/net/modes/series1"
package series1

import (
	"github.com/lcx/xbee/net"
	"github.com/lcx/xbee/net/modes/internal/apiframe"
)

const ModeName = "xbee1"

const (
	opTx64     byte = 0x00
	opTx16     byte = 0x01
	opRx64     byte = 0x80
	opRx16     byte = 0x81
	opRxIO64   byte = 0x82
	opRxIO16   byte = 0x83
	opTxStatus byte = 0x89

	optDisableAck byte = 0x01

	maxDataLength = 100
)

// Transmit status values reported in TxError.Status.
const (
	TxNoAck      byte = 0x01
	TxCCAFailure byte = 0x02
	TxPurged     byte = 0x03
)

func init() {
	net.MustRegisterMode(Mode())
}

// Mode returns the table for 802.15.4 firmware.
func Mode() *net.Mode {
	return &net.Mode{
		Name: ModeName,
		Handlers: []net.HandlerDef{
			{Opcode: apiframe.OpLocalAT, Name: "local at request", Encode: apiframe.EncodeLocalAT},
			{Opcode: apiframe.OpLocalATResponse, Name: "local at response", Decode: apiframe.DecodeLocalATResponse},
			{Opcode: apiframe.OpRemoteAT, Name: "remote at request", Encode: apiframe.RemoteATEncoder(0)},
			{Opcode: apiframe.OpRemoteATResponse, Name: "remote at response", Decode: apiframe.DecodeRemoteATResponse},
			{Opcode: apiframe.OpModemStatus, Name: "modem status", Decode: apiframe.DecodeModemStatus},
			{Opcode: opTxStatus, Name: "transmit status", Decode: decodeTxStatus},
			{Opcode: opTx16, Name: "16-bit transmit", Encode: encodeTx16},
			{Opcode: opTx64, Name: "64-bit transmit", Encode: encodeTx64},
			{Opcode: opRx16, Name: "16-bit receive", Decode: decodeRx16},
			{Opcode: opRx64, Name: "64-bit receive", Decode: decodeRx64},
			{Opcode: opRxIO16, Name: "16-bit i/o receive", Decode: decodeRxIO16},
			{Opcode: opRxIO64, Name: "64-bit i/o receive", Decode: decodeRxIO64},
		},
		ConnTypes: []net.ConnTypeDef{
			{Name: "Local AT", RxID: net.Op(apiframe.OpLocalATResponse), TxID: net.Op(apiframe.OpLocalAT), Addr: net.AddrNone},
			{Name: "Remote AT", RxID: net.Op(apiframe.OpRemoteATResponse), TxID: net.Op(apiframe.OpRemoteAT), Addr: net.AddrAny, Endpoints: net.EndpointsNotAllowed},
			{Name: "Modem Status", RxID: net.Op(apiframe.OpModemStatus), Addr: net.AddrNone},
			{Name: "Transmit Status", RxID: net.Op(opTxStatus), Addr: net.AddrNone},
			{Name: "16-bit Data", RxID: net.Op(opRx16), TxID: net.Op(opTx16), Addr: net.AddrShortOnly, Endpoints: net.EndpointsNotAllowed, MaxData: maxDataLength},
			{Name: "64-bit Data", RxID: net.Op(opRx64), TxID: net.Op(opTx64), Addr: net.AddrLongOnly, Endpoints: net.EndpointsNotAllowed, MaxData: maxDataLength},
			{Name: "16-bit I/O", RxID: net.Op(opRxIO16), Addr: net.AddrShortOnly, Endpoints: net.EndpointsNotAllowed},
			{Name: "64-bit I/O", RxID: net.Op(opRxIO64), Addr: net.AddrLongOnly, Endpoints: net.EndpointsNotAllowed},
		},
	}
}

// ModemStatusText names a modem status byte. The codes are shared by both
// firmware families.
func ModemStatusText(status byte) string {
	return apiframe.ModemStatusText(status)
}

func txOptions(s net.ConnSettings) byte {
	if s.DisableRetries {
		return optDisableAck
	}
	return 0
}

// [0x01, frame id, dst16, options, data...]
func encodeTx16(req *net.EncodeRequest) ([]byte, error) {
	dst := req.Addr.Short
	if req.Settings.Broadcast {
		dst = net.BroadcastShort
	}
	out := make([]byte, 0, 5+len(req.Data))
	out = append(out, req.Opcode, req.FrameID)
	out = apiframe.AppendU16(out, dst)
	out = append(out, txOptions(req.Settings))
	return append(out, req.Data...), nil
}

// [0x00, frame id, dst64, options, data...]
func encodeTx64(req *net.EncodeRequest) ([]byte, error) {
	dst := req.Addr.Long
	if req.Settings.Broadcast {
		dst = net.BroadcastLong
	}
	out := make([]byte, 0, 11+len(req.Data))
	out = append(out, req.Opcode, req.FrameID)
	out = apiframe.AppendU64(out, dst)
	out = append(out, txOptions(req.Settings))
	return append(out, req.Data...), nil
}

// [0x89, frame id, status]
func decodeTxStatus(frame []byte, d *net.Decoded) error {
	c := apiframe.NewCursor(frame)
	id := c.U8()
	status := c.U8()
	if err := c.Err(); err != nil {
		return err
	}
	d.Ack = net.FrameAck{Active: true, ID: id, RetVal: status}
	d.Packet.FrameID = id
	d.Packet.Status = status
	return nil
}

// [0x81, src16, rssi, options, data...]
func decodeRx16(frame []byte, d *net.Decoded) error {
	c := apiframe.NewCursor(frame)
	d.Addr = net.ShortAddr(c.U16())
	return decodeRxTail(c, d)
}

// [0x80, src64, rssi, options, data...]
func decodeRx64(frame []byte, d *net.Decoded) error {
	c := apiframe.NewCursor(frame)
	d.Addr = net.LongAddr(c.U64())
	return decodeRxTail(c, d)
}

func decodeRxTail(c *apiframe.Cursor, d *net.Decoded) error {
	rssi := c.U8()
	opts := c.U8()
	data := c.Rest()
	if err := c.Err(); err != nil {
		return err
	}
	d.Packet.RSSI = rssi
	d.Packet.Options = opts
	d.Packet.Data = append(d.Packet.Data[:0], data...)
	return nil
}

func decodeRxIO16(frame []byte, d *net.Decoded) error {
	c := apiframe.NewCursor(frame)
	d.Addr = net.ShortAddr(c.U16())
	return decodeIOTail(c, d)
}

func decodeRxIO64(frame []byte, d *net.Decoded) error {
	c := apiframe.NewCursor(frame)
	d.Addr = net.LongAddr(c.U64())
	return decodeIOTail(c, d)
}

func decodeIOTail(c *apiframe.Cursor, d *net.Decoded) error {
	if err := decodeRxTail(c, d); err != nil {
		return err
	}
	return decodeSamples(d.Packet, d.Packet.Data)
}

// decodeSamples parses [count, mask hi, mask lo, samples...]. Mask bits 0-8
// select DIO0-8, bits 9-14 ADC0-5. Each sample carries one digital word when
// any DIO is enabled followed by one word per enabled ADC.
func decodeSamples(p *net.Packet, b []byte) error {
	c := apiframe.NewCursorAt(b, 0)
	count := int(c.U8())
	mask := c.U16()
	digital := mask & 0x01FF
	analog := (mask >> 9) & 0x3F

	for i := 0; i < count; i++ {
		if digital != 0 {
			v := c.U16()
			for ch := 0; ch < 9; ch++ {
				if digital&(1<<ch) != 0 {
					p.AddSample(apiframe.SampleDigital, ch, int(v>>ch)&1)
				}
			}
		}
		for ch := 0; ch < 6; ch++ {
			if analog&(1<<ch) != 0 {
				p.AddSample(apiframe.SampleAnalog, ch, int(c.U16()))
			}
		}
	}
	return c.Err()
}
