package net

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lcx/xbee/log"
)

// Mode is a named bundle of handlers and connection types for one radio
// firmware family. Modes register themselves at init time and are immutable
// once registered.
type Mode struct {
	Name      string
	Handlers  []HandlerDef
	ConnTypes []ConnTypeDef
}

var (
	_modeLock sync.RWMutex
	// _modeMap is keyed by lower-cased mode name.
	_modeMap = make(map[string]*Mode)
)

// RegisterMode makes m available to SetMode. Names are case-insensitive.
func RegisterMode(m *Mode) error {
	if m == nil || m.Name == "" {
		return fmt.Errorf("%w: mode needs a name", ErrInvalidMode)
	}
	_modeLock.Lock()
	defer _modeLock.Unlock()
	key := typeKey(m.Name)
	if _, ok := _modeMap[key]; ok {
		return fmt.Errorf("%w: mode %q already registered", ErrInvalidParam, m.Name)
	}
	_modeMap[key] = cloneMode(m)
	return nil
}

// MustRegisterMode is RegisterMode for init functions.
func MustRegisterMode(m *Mode) {
	if err := RegisterMode(m); err != nil {
		panic(err)
	}
}

// LookupMode returns the registered mode called name.
func LookupMode(name string) (*Mode, error) {
	_modeLock.RLock()
	defer _modeLock.RUnlock()
	m, ok := _modeMap[typeKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
	return m, nil
}

// ModeNames lists registered modes in sorted order.
func ModeNames() []string {
	_modeLock.RLock()
	defer _modeLock.RUnlock()
	names := make([]string, 0, len(_modeMap))
	for _, m := range _modeMap {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

func unregisterMode(name string) {
	_modeLock.Lock()
	defer _modeLock.Unlock()
	delete(_modeMap, typeKey(name))
}

func cloneMode(m *Mode) *Mode {
	return &Mode{
		Name:      m.Name,
		Handlers:  append([]HandlerDef(nil), m.Handlers...),
		ConnTypes: append([]ConnTypeDef(nil), m.ConnTypes...),
	}
}

// modeRuntime is an activated mode: handlers bound to their connection types.
type modeRuntime struct {
	mode     *Mode
	rx       map[byte]*handler
	handlers []*handler
	types    []*connType
	byName   map[string]*connType
}

// buildMode activates m without touching any engine state, so a failure
// leaves the current mode in place.
func buildMode(m *Mode, queueLimit int, logger *log.Logger) (*modeRuntime, error) {
	if m == nil || m.Name == "" || len(m.Handlers) == 0 || len(m.ConnTypes) == 0 {
		return nil, ErrInvalidMode
	}
	m = cloneMode(m)

	rt := &modeRuntime{
		mode:   m,
		rx:     make(map[byte]*handler),
		byName: make(map[string]*connType, len(m.ConnTypes)),
	}
	for i := range m.ConnTypes {
		def := &m.ConnTypes[i]
		key := typeKey(def.Name)
		if key == "" {
			return nil, fmt.Errorf("%w: connection type %d has no name", ErrInvalidMode, i)
		}
		if _, ok := rt.byName[key]; ok {
			return nil, fmt.Errorf("%w: duplicate connection type %q", ErrInvalidMode, def.Name)
		}
		ct := newConnType(def)
		rt.types = append(rt.types, ct)
		rt.byName[key] = ct
	}

	bound := make(map[byte]bool, len(m.Handlers))
	for i := range m.Handlers {
		def := &m.Handlers[i]
		if bound[def.Opcode] {
			logger.Warn().Str("mode", m.Name).Str("handler", def.Name).Str("opcode", Op(def.Opcode).String()).
				Msg("duplicate handler opcode, keeping the first")
			continue
		}
		if def.Decode == nil && def.Encode == nil {
			logger.Warn().Str("mode", m.Name).Str("handler", def.Name).Msg("handler has neither decoder nor encoder")
			continue
		}

		h := newHandler(def, queueLimit)
		for _, ct := range rt.types {
			switch {
			case def.Decode != nil && ct.def.RxID.Valid && ct.def.RxID.ID == def.Opcode && ct.rx == nil:
				ct.rx = h
				h.ctype = ct
			case def.Encode != nil && ct.def.TxID.Valid && ct.def.TxID.ID == def.Opcode && ct.tx == nil:
				ct.tx = h
				h.ctype = ct
			}
			if h.ctype != nil {
				break
			}
		}
		if h.ctype == nil {
			logger.Debug().Str("mode", m.Name).Str("handler", def.Name).Str("opcode", Op(def.Opcode).String()).
				Msg("handler has no connection type, left unbound")
			continue
		}
		bound[def.Opcode] = true
		rt.handlers = append(rt.handlers, h)
		if h.isRx() {
			rt.rx[def.Opcode] = h
		}
	}

	for _, ct := range rt.types {
		if !ct.initialized() {
			logger.Warn().Str("mode", m.Name).Str("connType", ct.name()).Msg("connection type has no handler bound")
		}
	}
	return rt, nil
}

// connType looks a connection type up by case-insensitive name.
func (rt *modeRuntime) connType(name string) (*connType, error) {
	ct, ok := rt.byName[typeKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q in mode %q", ErrUnknownConnType, name, rt.mode.Name)
	}
	return ct, nil
}

// ConnTypeNames lists the connection types of the mode in table order.
func (m *Mode) ConnTypeNames() []string {
	names := make([]string, 0, len(m.ConnTypes))
	for _, ct := range m.ConnTypes {
		names = append(names, ct.Name)
	}
	return names
}
