package net

import (
	"fmt"
	"strings"
	"sync"

	"github.com/lcx/xbee/fifo"
)

// AddrReq is the addressing class a connection type demands.
type AddrReq int

const (
	AddrNone      AddrReq = iota // no network address (local connections)
	AddrAny                      // short or long, at least one
	AddrShortOnly                // short only
	AddrLongOnly                 // long only
	AddrBoth                     // short and long
)

func (r AddrReq) String() string {
	switch r {
	case AddrNone:
		return "none"
	case AddrAny:
		return "any"
	case AddrShortOnly:
		return "short-only"
	case AddrLongOnly:
		return "long-only"
	case AddrBoth:
		return "both"
	}
	return fmt.Sprintf("AddrReq(%d)", int(r))
}

// EndpointReq says whether connections of a type carry application endpoints.
type EndpointReq int

const (
	EndpointsOptional EndpointReq = iota
	EndpointsRequired
	EndpointsNotAllowed
)

// Opcode is an optional protocol frame type.
type Opcode struct {
	ID    byte
	Valid bool
}

// Op returns a valid opcode.
func Op(id byte) Opcode {
	return Opcode{ID: id, Valid: true}
}

func (o Opcode) String() string {
	if !o.Valid {
		return "-"
	}
	return fmt.Sprintf("0x%02X", o.ID)
}

// ConnTypeDef is the static description of a class of connections sharing a
// receive/transmit opcode pair and addressing rules.
type ConnTypeDef struct {
	Name      string
	RxID      Opcode
	TxID      Opcode
	Addr      AddrReq
	Endpoints EndpointReq

	// MaxData bounds the payload of one transmit. Zero means no bound beyond
	// the frame limit.
	MaxData int
}

// Validate checks addr against the type's requirement classes.
func (d *ConnTypeDef) Validate(addr Address) error {
	ok := false
	switch d.Addr {
	case AddrNone:
		ok = !addr.HasAddr()
	case AddrAny:
		ok = addr.HasAddr()
	case AddrShortOnly:
		ok = addr.ShortEnabled && !addr.LongEnabled
	case AddrLongOnly:
		ok = addr.LongEnabled && !addr.ShortEnabled
	case AddrBoth:
		ok = addr.ShortEnabled && addr.LongEnabled
	}
	if !ok {
		return fmt.Errorf("%w: %q requires %s address, got %s", ErrInvalidAddress, d.Name, d.Addr, addr)
	}
	switch d.Endpoints {
	case EndpointsRequired:
		if !addr.EndpointsEnabled {
			return fmt.Errorf("%w: %q requires endpoints", ErrInvalidAddress, d.Name)
		}
	case EndpointsNotAllowed:
		if addr.EndpointsEnabled {
			return fmt.Errorf("%w: %q does not take endpoints", ErrInvalidAddress, d.Name)
		}
	}
	return nil
}

// connType is the live counterpart of a ConnTypeDef inside an active mode.
type connType struct {
	def       *ConnTypeDef
	rx        *handler
	tx        *handler
	conns     *fifo.List[*Conn]
	connectMu sync.Mutex
}

func newConnType(def *ConnTypeDef) *connType {
	return &connType{def: def, conns: fifo.New[*Conn](0)}
}

func (ct *connType) name() string {
	return ct.def.Name
}

func (ct *connType) initialized() bool {
	return ct.rx != nil || ct.tx != nil
}

func typeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
