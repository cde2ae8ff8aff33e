package apiframe

import (
	"fmt"

	"github.com/lcx/xbee/net"
)

const (
	OpLocalAT          byte = 0x08
	OpLocalATQueue     byte = 0x09
	OpRemoteAT         byte = 0x17
	OpModemStatus      byte = 0x8A
	OpLocalATResponse  byte = 0x88
	OpRemoteATResponse byte = 0x97

	remoteApplyChanges byte = 0x02
)

// Sideband keys used by the I/O sample decoders.
const (
	SampleDigital = "digital"
	SampleAnalog  = "analog"
)

func checkATCommand(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: AT command needs two characters", net.ErrInvalidParam)
	}
	return nil
}

// EncodeLocalAT builds [op, frame id, command, parameter...]. With
// QueueChanges the parameter is queued instead of applied.
func EncodeLocalAT(req *net.EncodeRequest) ([]byte, error) {
	if err := checkATCommand(req.Data); err != nil {
		return nil, err
	}
	op := req.Opcode
	if req.Settings.QueueChanges {
		op = OpLocalATQueue
	}
	out := make([]byte, 0, 2+len(req.Data))
	out = append(out, op, req.FrameID)
	return append(out, req.Data...), nil
}

// DecodeLocalATResponse parses [op, frame id, command, status, value...].
func DecodeLocalATResponse(frame []byte, d *net.Decoded) error {
	c := NewCursor(frame)
	id := c.U8()
	cmd := c.Bytes(2)
	status := c.U8()
	value := c.Rest()
	if err := c.Err(); err != nil {
		return err
	}
	d.Ack = net.FrameAck{Active: true, ID: id, RetVal: status}
	fillAT(d.Packet, id, cmd, status, value)
	return nil
}

// RemoteATEncoder builds remote AT requests. unknownLong is the 64-bit value
// the firmware expects when only the 16-bit address is known.
func RemoteATEncoder(unknownLong uint64) net.EncodeFunc {
	return func(req *net.EncodeRequest) ([]byte, error) {
		if err := checkATCommand(req.Data); err != nil {
			return nil, err
		}
		long, short := unknownLong, net.UnknownShort
		switch {
		case req.Settings.Broadcast:
			long = net.BroadcastLong
		default:
			if req.Addr.LongEnabled {
				long = req.Addr.Long
			}
			if req.Addr.ShortEnabled {
				short = req.Addr.Short
			}
		}
		opts := remoteApplyChanges
		if req.Settings.QueueChanges {
			opts = 0
		}
		out := make([]byte, 0, 13+len(req.Data))
		out = append(out, req.Opcode, req.FrameID)
		out = AppendU64(out, long)
		out = AppendU16(out, short)
		out = append(out, opts)
		return append(out, req.Data...), nil
	}
}

// DecodeRemoteATResponse parses [op, frame id, src64, src16, command, status, value...].
func DecodeRemoteATResponse(frame []byte, d *net.Decoded) error {
	c := NewCursor(frame)
	id := c.U8()
	long := c.U64()
	short := c.U16()
	cmd := c.Bytes(2)
	status := c.U8()
	value := c.Rest()
	if err := c.Err(); err != nil {
		return err
	}
	d.Addr = SourceAddr(long, short)
	d.Ack = net.FrameAck{Active: true, ID: id, RetVal: status}
	fillAT(d.Packet, id, cmd, status, value)
	return nil
}

func fillAT(p *net.Packet, id byte, cmd []byte, status byte, value []byte) {
	p.FrameID = id
	p.ATCommand = string(cmd)
	p.Status = status
	p.Data = append(p.Data[:0], value...)
}

// DecodeModemStatus parses [op, status].
func DecodeModemStatus(frame []byte, d *net.Decoded) error {
	c := NewCursor(frame)
	status := c.U8()
	if err := c.Err(); err != nil {
		return err
	}
	d.Packet.Status = status
	d.Packet.Data = append(d.Packet.Data[:0], status)
	return nil
}

var _modemStatusText = map[byte]string{
	0x00: "hardware reset",
	0x01: "watchdog timer reset",
	0x02: "joined network",
	0x03: "disassociated",
	0x06: "coordinator started",
	0x07: "network security key updated",
	0x0D: "voltage supply limit exceeded",
	0x11: "modem configuration changed while join in progress",
}

// ModemStatusText names a modem status byte.
func ModemStatusText(status byte) string {
	if s, ok := _modemStatusText[status]; ok {
		return s
	}
	if status >= 0x80 {
		return "stack error"
	}
	return fmt.Sprintf("status 0x%02X", status)
}
