package net

// resolve finds the connection an inbound address belongs to.
//
// An empty candidate matches an empty first entry outright. Otherwise entries
// are scanned in insertion order and the first awake match wins; a sleeping
// match is only returned when no awake one exists. Catch-all connections are
// consulted last.
func (ct *connType) resolve(addr Address) *Conn {
	if c := ct.match(addr); c != nil {
		return c
	}
	var catchAll *Conn
	ct.conns.Each(func(c *Conn) bool {
		if c.catchAll() && !c.IsSleeping() {
			catchAll = c
			return false
		}
		return true
	})
	return catchAll
}

// match applies the address rules only, without the catch-all fallback.
func (ct *connType) match(addr Address) *Conn {
	if first, ok := ct.conns.Head(); ok && addr.IsEmpty() && first.addr.IsEmpty() {
		return first
	}

	var awake, sleeping *Conn
	ct.conns.Each(func(c *Conn) bool {
		if !addr.Matches(c.addr) {
			return true
		}
		if !c.IsSleeping() {
			awake = c
			return false
		}
		if sleeping == nil {
			sleeping = c
		}
		return true
	})
	if awake != nil {
		return awake
	}
	return sleeping
}

// awakeMatch returns the first awake connection bound to addr. Unlike
// match it skips sleeping entries, so an address-less connection behind a
// sleeping head is still found.
func (ct *connType) awakeMatch(addr Address) *Conn {
	var found *Conn
	ct.conns.Each(func(c *Conn) bool {
		if c.IsSleeping() {
			return true
		}
		if (addr.IsEmpty() && c.addr.IsEmpty()) || addr.Matches(c.addr) {
			found = c
			return false
		}
		return true
	})
	return found
}
