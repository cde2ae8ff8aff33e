package net

import (
	"sort"
	"sync"
	"time"
)

// Packet is the decoded, application-visible form of an inbound frame.
type Packet struct {
	ConnType  string
	Address   Address
	Status    byte
	Options   byte
	RSSI      byte
	FrameID   byte
	ATCommand string
	Data      []byte
	Timestamp time.Time

	// sideband telemetry: key -> channel -> ordered raw values
	sideband map[string]map[int][]int
}

var _packetPool = sync.Pool{
	New: func() any {
		return &Packet{}
	},
}

// AcquirePacket returns a zeroed packet from the pool.
func AcquirePacket() *Packet {
	return _packetPool.Get().(*Packet)
}

// Release resets p and returns it to the pool. p must not be used afterwards.
func (p *Packet) Release() {
	if p == nil {
		return
	}
	data := p.Data[:0]
	*p = Packet{Data: data}
	_packetPool.Put(p)
}

// AddSample appends a raw value to the sideband channel key/channel.
func (p *Packet) AddSample(key string, channel int, value int) {
	if p.sideband == nil {
		p.sideband = make(map[string]map[int][]int)
	}
	ch, ok := p.sideband[key]
	if !ok {
		ch = make(map[int][]int)
		p.sideband[key] = ch
	}
	ch[channel] = append(ch[channel], value)
}

// Samples returns the values recorded under key/channel in arrival order.
func (p *Packet) Samples(key string, channel int) ([]int, bool) {
	v, ok := p.sideband[key][channel]
	return v, ok
}

// SampleCount reports how many values were recorded under key/channel.
func (p *Packet) SampleCount(key string, channel int) int {
	return len(p.sideband[key][channel])
}

// SampleKeys lists sideband keys in sorted order.
func (p *Packet) SampleKeys() []string {
	keys := make([]string, 0, len(p.sideband))
	for k := range p.sideband {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SampleChannels lists the channels recorded under key in ascending order.
func (p *Packet) SampleChannels(key string) []int {
	chs := make([]int, 0, len(p.sideband[key]))
	for ch := range p.sideband[key] {
		chs = append(chs, ch)
	}
	sort.Ints(chs)
	return chs
}

// Clone returns a deep copy of p that is not tied to the pool.
func (p *Packet) Clone() *Packet {
	out := *p
	out.Data = append([]byte(nil), p.Data...)
	out.sideband = nil
	for key, chs := range p.sideband {
		for ch, vals := range chs {
			for _, v := range vals {
				out.AddSample(key, ch, v)
			}
		}
	}
	return &out
}
