package net

import (
	"errors"
	"fmt"
)

var (
	// parameter errors
	ErrInvalidParam    = errors.New("net: invalid parameter")
	ErrInvalidAddress  = errors.New("net: address does not satisfy connection type")
	ErrUnknownConnType = errors.New("net: unknown connection type")
	ErrUnknownMode     = errors.New("net: unknown mode")
	ErrInvalidMode     = errors.New("net: mode table is incomplete")

	// resource exhaustion
	ErrNoFrameID = errors.New("net: no free frame id")

	// transport errors
	ErrTransport = errors.New("net: transport error")
	ErrLinkDead  = errors.New("net: link dead")

	// timeout
	ErrAckTimeout = errors.New("net: acknowledgment timed out")

	// state errors
	ErrNoMode         = errors.New("net: no mode active")
	ErrConnExists     = errors.New("net: connection already exists")
	ErrCallbackActive = errors.New("net: delivery callback attached")
	ErrConnEnded      = errors.New("net: connection ended")
	ErrEngineClosed   = errors.New("net: engine closed")
	ErrNoPacket       = errors.New("net: no packet queued")
	ErrNoEncoder      = errors.New("net: connection type cannot transmit")
)

// TxError is a negative acknowledgment reported by the radio for a transmit.
type TxError struct {
	FrameID byte
	Status  byte
}

func (e *TxError) Error() string {
	return fmt.Sprintf("net: transmit frame %d failed with status 0x%02X", e.FrameID, e.Status)
}
