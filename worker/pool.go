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

// RespSenderBound is the number of responses a mode may have in flight to
// its fan-out sending/waiting lists beyond the one currently pending.
const RespSenderBound = 1

// MsgRetainedMax is the hard ceiling on live, ref-counted Response objects
// per mode at any instant: the one response currently pending plus
// RespSenderBound. A connection holding a reference into this arena never
// copies the payload — it clones the (cheap) arena index and bumps refcount,
// so this bound, not "one slot per connection", is what must never grow.
const MsgRetainedMax = 1 + RespSenderBound

// Response is one parsed backend message, materialized once per bus read
// and ref-counted out to every connection it addresses.
type Response struct {
	Payload []byte
	IDs     []string
}

// ResponseArena is a fixed, 2-slot ref-counted pool of parsed Response
// objects for one mode. Allocation never grows past MsgRetainedMax; running
// out is a precondition bug (the bus-intake backpressure in the event loop
// guarantees a mode never attempts a second allocation while its prior
// response is still pending).
type ResponseArena struct {
	slots    []Response
	refcount []int32
	free     []int
}

// NewResponseArena allocates a ResponseArena with capacity MsgRetainedMax.
func NewResponseArena() *ResponseArena {
	a := &ResponseArena{
		slots:    make([]Response, MsgRetainedMax),
		refcount: make([]int32, MsgRetainedMax),
		free:     make([]int, MsgRetainedMax),
	}
	for i := range a.free {
		a.free[i] = MsgRetainedMax - 1 - i
	}
	return a
}

// Alloc stores r in a free slot and returns its index with refcount 1. ok
// is false if the arena is exhausted.
func (a *ResponseArena) Alloc(r Response) (idx int, ok bool) {
	if len(a.free) == 0 {
		return 0, false
	}
	idx = a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.slots[idx] = r
	a.refcount[idx] = 1
	return idx, true
}

// Retain bumps idx's refcount, modeling a clone handed to one more target connection.
func (a *ResponseArena) Retain(idx int) {
	a.refcount[idx]++
}

// Release drops idx's refcount and returns the slot to the free list once it
// reaches zero; it reports whether the slot was freed.
func (a *ResponseArena) Release(idx int) bool {
	a.refcount[idx]--
	if a.refcount[idx] > 0 {
		return false
	}
	a.slots[idx] = Response{}
	a.free = append(a.free, idx)
	return true
}

// Get returns the Response stored at idx.
func (a *ResponseArena) Get(idx int) *Response {
	return &a.slots[idx]
}

// SharedStreamData is the FSM-updated, worker-read record backing a stream
// connection's routing state: the backend address that most recently
// addressed this session (empty until first contact) and its per-direction
// output sequence counter.
type SharedStreamData struct {
	ToAddr string
	OutSeq uint64
}

// SharedDataArena holds one SharedStreamData per stream-mode slot key,
// sized once to the worker's stream connection budget; a slot's data
// resets to its zero value when the slot is freed and reused.
type SharedDataArena struct {
	data []SharedStreamData
}

// NewSharedDataArena allocates a SharedDataArena over streamMaxConn slots.
func NewSharedDataArena(streamMaxConn int) *SharedDataArena {
	return &SharedDataArena{data: make([]SharedStreamData, streamMaxConn)}
}

// Get returns a pointer to slotKey's shared data for in-place mutation by
// the protocol FSM or the worker.
func (s *SharedDataArena) Get(slotKey int) *SharedStreamData {
	return &s.data[slotKey]
}

// Reset zeroes slotKey's shared data, called when its connection slot is freed.
func (s *SharedDataArena) Reset(slotKey int) {
	s.data[slotKey] = SharedStreamData{}
}
