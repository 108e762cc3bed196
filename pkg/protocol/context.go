package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Context is the set of channel definitions announced by the most recent
// Header, together with the latest value seen for each channel. The
// definitions never change after construction; a new Header produces a new
// Context. Latest values are written by the decoder and may be read from any
// goroutine.
type Context struct {
	defs  map[uint8]Definition
	order []uint8

	mu     sync.RWMutex
	latest map[uint8]any
}

// NewContext builds a Context from definitions in announcement order.
func NewContext(defs []Definition) (*Context, error) {
	c := &Context{
		defs:   make(map[uint8]Definition, len(defs)),
		order:  make([]uint8, 0, len(defs)),
		latest: make(map[uint8]any, len(defs)),
	}
	for _, def := range defs {
		id := def.ID()
		if _, dup := c.defs[id]; dup {
			return nil, fmt.Errorf("%w: 0x%02x", ErrDuplicateDataID, id)
		}
		c.defs[id] = def
		c.order = append(c.order, id)
	}
	return c, nil
}

// EmptyContext returns a Context with no definitions.
func EmptyContext() *Context {
	c, _ := NewContext(nil)
	return c
}

func (c *Context) Len() int {
	return len(c.order)
}

func (c *Context) Definition(id uint8) (Definition, bool) {
	def, ok := c.defs[id]
	return def, ok
}

// Definitions returns the definitions in the order the Header announced them.
func (c *Context) Definitions() []Definition {
	out := make([]Definition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.defs[id])
	}
	return out
}

// Lookup finds a definition by internal name.
func (c *Context) Lookup(name string) (Definition, bool) {
	for _, id := range c.order {
		if c.defs[id].Meta().InternalName == name {
			return c.defs[id], true
		}
	}
	return nil, false
}

// Resolve finds a definition by key: a 0x-prefixed hex id, a decimal id, or
// an internal name.
func (c *Context) Resolve(key string) (Definition, bool) {
	if strings.HasPrefix(key, "0x") || strings.HasPrefix(key, "0X") {
		if n, err := strconv.ParseUint(key[2:], 16, 8); err == nil {
			return c.Definition(uint8(n))
		}
	}
	if n, err := strconv.ParseUint(key, 10, 8); err == nil {
		if def, ok := c.Definition(uint8(n)); ok {
			return def, true
		}
	}
	return c.Lookup(key)
}

// Latest returns the most recent value decoded for id.
func (c *Context) Latest(id uint8) (any, bool) {
	c.mu.RLock()
	v, ok := c.latest[id]
	c.mu.RUnlock()
	return v, ok
}

// LatestValues copies the latest value of every channel that has one.
func (c *Context) LatestValues() map[uint8]any {
	c.mu.RLock()
	out := make(map[uint8]any, len(c.latest))
	for id, v := range c.latest {
		out[id] = v
	}
	c.mu.RUnlock()
	return out
}

func (c *Context) commit(samples []Sample) {
	if len(samples) == 0 {
		return
	}
	c.mu.Lock()
	for _, s := range samples {
		c.latest[s.DataID] = s.Value
	}
	c.mu.Unlock()
}
