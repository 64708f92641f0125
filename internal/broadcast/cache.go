package broadcast

import (
	"sort"

	"github.com/DoyleJ11/drawsync/internal/drawing"
	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/pkg/types"
)

type entry struct {
	log *drawing.Log
	// pending is set while a catch-up snapshot for this peer is in flight.
	pending bool
	// cleared records a clear seen while pending; the live log is then
	// complete on its own and the snapshot must not be prepended.
	cleared bool
}

// Cache is an observer's copy of every peer's drawing, keyed by identity.
// Like drawing.Log it belongs to a single event loop.
type Cache struct {
	entries map[string]*entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

func (c *Cache) get(id string) *entry {
	e, ok := c.entries[id]
	if !ok {
		e = &entry{log: drawing.NewLog()}
		c.entries[id] = e
	}
	return e
}

// Apply consumes one live packet. It reports whether the topic belongs to
// the drawing protocol. A malformed line is rejected without touching state.
func (c *Cache) Apply(p transport.Packet) (bool, error) {
	switch p.Topic {
	case types.TopicDrawLine:
		l, err := drawing.DecodeLine(p.Payload)
		if err != nil {
			return true, err
		}
		c.AppendLine(p.Sender, l)
		return true, nil
	case types.TopicClearDrawing:
		c.ClearPeer(p.Sender)
		return true, nil
	default:
		return false, nil
	}
}

func (c *Cache) AppendLine(id string, l drawing.Line) {
	c.get(id).log.Append(l)
}

func (c *Cache) ClearPeer(id string) {
	e := c.get(id)
	e.log.Clear()
	if e.pending {
		e.cleared = true
	}
}

// Expect marks id as waiting for a catch-up snapshot. Live events keep
// being applied meanwhile.
func (c *Cache) Expect(id string) {
	e := c.get(id)
	e.pending = true
	e.cleared = false
}

// Install reconciles a catch-up snapshot with the live events received
// since Expect: snapshot followed by live lines, or the live lines alone
// when a clear was seen. Lines drawn between the snapshot and its arrival
// may appear twice; none are lost.
func (c *Cache) Install(id string, snapshot []drawing.Line) {
	e := c.get(id)
	if e.pending && e.cleared {
		e.pending, e.cleared = false, false
		return
	}
	merged := make([]drawing.Line, 0, len(snapshot)+e.log.Len())
	merged = append(merged, snapshot...)
	merged = append(merged, e.log.Snapshot()...)
	e.log = drawing.NewLogFrom(merged)
	e.pending, e.cleared = false, false
}

// Abandon ends a failed catch-up, keeping only live lines.
func (c *Cache) Abandon(id string) {
	if e, ok := c.entries[id]; ok {
		e.pending, e.cleared = false, false
	}
}

func (c *Cache) Pending(id string) bool {
	e, ok := c.entries[id]
	return ok && e.pending
}

// Reset empties every drawing, as happens on a round transition. Pending
// snapshots taken before the reset are discarded when they arrive.
func (c *Cache) Reset() {
	for _, e := range c.entries {
		e.log.Clear()
		if e.pending {
			e.cleared = true
		}
	}
}

func (c *Cache) Remove(id string) {
	delete(c.entries, id)
}

// Discard forgets everything, so a rejoin starts from an empty cache.
func (c *Cache) Discard() {
	clear(c.entries)
}

func (c *Cache) Drawing(id string) []drawing.Line {
	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	return e.log.Snapshot()
}

func (c *Cache) Has(id string) bool {
	_, ok := c.entries[id]
	return ok
}

func (c *Cache) Peers() []string {
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Cache) Snapshot() map[string][]drawing.Line {
	out := make(map[string][]drawing.Line, len(c.entries))
	for id, e := range c.entries {
		out[id] = e.log.Snapshot()
	}
	return out
}
