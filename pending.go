package rs485

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v3"
)

// pendingRequest is an in-flight request awaiting its response.
type pendingRequest struct {
	command    byte
	onResponse func(frame []byte)
	onAbandon  func()
	createdAt  time.Time

	// matched is set once the response arrived; the entry then only holds
	// its slot until grace fires.
	matched bool
	grace   clockwork.Timer
}

// abandon stops the grace timer and reports an unanswered request.
func (p *pendingRequest) abandon() {
	if p.grace != nil {
		p.grace.Stop()
	}
	if !p.matched && p.onAbandon != nil {
		p.onAbandon()
	}
}

// pendingTable holds at most one pending request per device address.
//
// Only the connector's event loop mutates the table; other goroutines may
// read its size.
type pendingTable struct {
	entries *xsync.MapOf[byte, *pendingRequest]
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: xsync.NewMapOf[byte, *pendingRequest]()}
}

// Len returns the number of occupied slots.
func (t *pendingTable) Len() int {
	return t.entries.Size()
}

func (t *pendingTable) get(address byte) (*pendingRequest, bool) {
	return t.entries.Load(address)
}

// put occupies the slot of address. The caller must have checked that the
// slot is free.
func (t *pendingTable) put(address byte, p *pendingRequest) {
	t.entries.Store(address, p)
}

// match returns the unanswered request of address expecting command.
func (t *pendingTable) match(address, command byte) *pendingRequest {
	p, ok := t.entries.Load(address)
	if !ok || p.matched || p.command != command {
		return nil
	}
	return p
}

// isStale reports whether the request of address is older than the
// staleness window.
func (t *pendingTable) isStale(address byte, now time.Time) bool {
	p, ok := t.entries.Load(address)
	return ok && now.Sub(p.createdAt) > staleAfter
}

// evict abandons and removes the request of address.
func (t *pendingTable) evict(address byte) {
	if p, ok := t.entries.LoadAndDelete(address); ok {
		p.abandon()
	}
}

// removeIf removes the request of address only if it is still p.
func (t *pendingTable) removeIf(address byte, p *pendingRequest) bool {
	cur, ok := t.entries.Load(address)
	if !ok || cur != p {
		return false
	}
	t.entries.Delete(address)
	return true
}

// clear abandons every request and empties the table.
func (t *pendingTable) clear() {
	t.entries.Range(func(address byte, p *pendingRequest) bool {
		t.entries.Delete(address)
		p.abandon()
		return true
	})
}
