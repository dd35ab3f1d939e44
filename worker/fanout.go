/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package worker

import (
	"strconv"
	"time"

	"github.com/nabbar/zproxy/metrics"
	"github.com/nabbar/zproxy/protocol"
)

// Router is the fan-out router for one mode: it holds at most one pending
// backend response at a time, demultiplexing it to every live connection
// its payload addresses before the next bus read for this mode is allowed.
type Router struct {
	arena   *ResponseArena
	pool    *nodePool
	sending *IntrusiveList
	waiting *IntrusiveList

	pendingIdx int // arena index of the pending response, or -1
	intakeAt   time.Time

	met      *metrics.Collector
	workerID string
}

// NewRouter allocates a Router over a key domain of size maxconn (the
// mode's connection budget — a slot key sits in at most one of sending or
// waiting at a time, the invariant backing the shared nodePool below). met
// may be nil; workerID labels the fan-out latency histogram when it isn't.
func NewRouter(maxconn int, met *metrics.Collector, workerID int) *Router {
	pool := newNodePool(maxconn)
	return &Router{
		arena:      NewResponseArena(),
		pool:       pool,
		sending:    NewIntrusiveList(pool),
		waiting:    NewIntrusiveList(pool),
		pendingIdx: -1,
		met:        met,
		workerID:   strconv.Itoa(workerID),
	}
}

// HasPending reports whether a response is currently being fanned out —
// the signal that gates further bus reads for this mode.
func (r *Router) HasPending() bool {
	return r.pendingIdx >= 0
}

// HasSendWork reports whether the sending list still has deliveries in
// flight, so decidePollTimeout does not block while there is fan-out work
// left to do this tick.
func (r *Router) HasSendWork() bool {
	return !r.sending.Empty()
}

// Intake accepts a freshly parsed backend response and reserves a
// fan-out node for every id in ids whose slot key resolves to a live
// connection with a byte-exact matching session id. Mismatches (parse
// failure, empty slot, stale id after slot reuse) are silently skipped.
// The caller must have already checked HasPending() is false.
func (r *Router) Intake(payload []byte, ids []string, conns []*Connection) {
	idx, ok := r.arena.Alloc(Response{Payload: payload, IDs: ids})
	if !ok {
		panic(ErrorArenaExhausted.Error())
	}

	matched := 0
	for _, id := range ids {
		slot, ok := ParseSlotKey(id)
		if !ok || slot < 0 || slot >= len(conns) {
			continue
		}
		c := conns[slot]
		if c == nil || !c.Live || !SessionIDMatches(c.ID, id) {
			continue
		}
		r.arena.Retain(idx)
		c.FanoutLoc = fanoutSending
		r.sending.PushBack(slot)
		matched++
	}

	r.pendingIdx = idx
	r.intakeAt = time.Now()
	if matched == 0 {
		r.finishIfDrained()
	}
}

// Drain walks the sending list, attempting delivery into each target's
// inbox. Full inboxes move to the waiting list; delivered ones release
// their reservation. Once both lists are empty the pending response's base
// reference is released and the router is ready for the next bus read.
func (r *Router) Drain(conns []*Connection) {
	if r.pendingIdx < 0 {
		return
	}

	resp := r.arena.Get(r.pendingIdx)

	for {
		key, ok := r.sending.PopFront()
		if !ok {
			break
		}
		c := conns[key]
		if c == nil || !c.Live {
			// Invariant violation: a fan-out node outlived its connection.
			panic(ErrorInvariant.Error())
		}

		if c.Inbox.TrySend(protocol.BackendMessage{Payload: resp.Payload}) {
			c.FanoutLoc = fanoutNone
			r.arena.Release(r.pendingIdx)
			if r.met != nil {
				r.met.FanoutLatency.WithLabelValues(r.workerID).Observe(time.Since(r.intakeAt).Seconds())
			}
		} else {
			c.FanoutLoc = fanoutWaiting
			r.waiting.PushBack(key)
		}
	}

	r.finishIfDrained()
}

// Rearm moves key from the waiting list back to sending, in response to
// its inbox's writable edge (poll subtoken 4).
func (r *Router) Rearm(key int, conns []*Connection) {
	r.waiting.Remove(key)
	conns[key].FanoutLoc = fanoutSending
	r.sending.PushBack(key)
}

func (r *Router) finishIfDrained() {
	if r.pendingIdx < 0 {
		return
	}
	if r.sending.Empty() && r.waiting.Empty() {
		r.arena.Release(r.pendingIdx)
		r.pendingIdx = -1
	}
}

// Detach removes key from whichever fan-out list holds it (sending or
// waiting), used when a connection tears down mid-delivery. The
// reservation's arena reference, which would otherwise have been released
// on successful delivery, is released here instead.
func (r *Router) Detach(c *Connection) {
	switch c.FanoutLoc {
	case fanoutSending:
		r.sending.Remove(c.SlotKey)
	case fanoutWaiting:
		r.waiting.Remove(c.SlotKey)
	default:
		return
	}
	c.FanoutLoc = fanoutNone
	r.arena.Release(r.pendingIdx)
	r.finishIfDrained()
}
