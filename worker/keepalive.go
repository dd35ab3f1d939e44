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
	"time"

	"github.com/nabbar/zproxy/protocol"
)

const (
	// KeepAliveIntervalMs is how often the worker scans for stream
	// connections due a keep-alive.
	KeepAliveIntervalMs = 100
	// KeepAliveBatches bounds how many round-robin scan rounds it takes to
	// cover the largest supported stream_maxconn.
	KeepAliveBatches = 450
	// KeepAliveTimeoutMs is the client-facing keep-alive timeout the
	// protocol layer is expected to honor; carried here since ka_batch is
	// derived from the same budget.
	KeepAliveTimeoutMs = 45000
)

// KeepAlive owns the round-robin scan and address-grouped batch used to
// emit keep-alive packets, and doubles as the grouping engine for the
// shutdown-time cancel flush (§4.4) via a separately built Batch.
type KeepAlive struct {
	batch         *Batch
	streamMaxConn int
	kaBatch       int
	nextIndex     int
	nextTime      time.Time
	haveNextTime  bool
}

// NewKeepAlive sizes ka_batch = ceil(streamMaxConn / KeepAliveBatches).
func NewKeepAlive(streamMaxConn int) *KeepAlive {
	kaBatch := (streamMaxConn + KeepAliveBatches - 1) / KeepAliveBatches
	if kaBatch < 1 {
		kaBatch = 1
	}
	return &KeepAlive{
		batch:         NewBatch(streamMaxConn),
		streamMaxConn: streamMaxConn,
		kaBatch:       kaBatch,
	}
}

// Tick runs one event-loop iteration's worth of keep-alive bookkeeping: if
// due and the batch is empty, scans ka_batch connections starting at
// next_keep_alive_index for stream connections with a known backend
// address. It reports skipped=true if the loop had fallen behind by more
// than one interval, in which case the skipped interval's candidate
// selection is dropped entirely rather than re-grouped (Open Question 1).
func (k *KeepAlive) Tick(now time.Time, conns []*Connection, shared *SharedDataArena) (skipped bool) {
	interval := time.Duration(KeepAliveIntervalMs) * time.Millisecond

	if !k.haveNextTime {
		k.nextTime = now.Add(interval)
		k.haveNextTime = true
		return false
	}
	if now.Before(k.nextTime) {
		return false
	}

	if k.batch.Len() == 0 {
		k.scanRound(conns, shared)
	}

	if now.Sub(k.nextTime) > interval {
		k.nextTime = now.Add(interval)
		return true
	}
	k.nextTime = k.nextTime.Add(interval)
	return false
}

func (k *KeepAlive) scanRound(conns []*Connection, shared *SharedDataArena) {
	if k.streamMaxConn == 0 {
		return
	}
	for i := 0; i < k.kaBatch; i++ {
		key := (k.nextIndex + i) % k.streamMaxConn
		c := conns[key]
		if c == nil || !c.Live || c.Mode != protocol.ModeStream || c.InKeepAliveBatch {
			continue
		}
		sd := shared.Get(key)
		if sd.ToAddr == "" {
			continue
		}
		if k.batch.Add(sd.ToAddr, key) {
			c.InKeepAliveBatch = true
		}
	}
	k.nextIndex = (k.nextIndex + k.kaBatch) % k.streamMaxConn
}

// HasPendingBatch reports whether the keep-alive batch has a group ready to
// emit, so decidePollTimeout does not block while there is a keep-alive or
// cancel group waiting on emitKeepAliveGroup/sendBatchGroup.
func (k *KeepAlive) HasPendingBatch() bool {
	return k.batch.Len() > 0
}

// TakeGroup pops the next address group from the keep-alive batch.
func (k *KeepAlive) TakeGroup(getIDs func(ckey int) (string, uint64)) (addr string, ids []Snapshot, ok bool) {
	return k.batch.TakeGroup(getIDs)
}

// ClearAfterGroup clears the keep-alive-batch membership flag for every
// connection the most recent TakeGroup dequeued, once its packet is sent.
func (k *KeepAlive) ClearAfterGroup(conns []*Connection) {
	for _, key := range k.batch.LastGroupCkeys() {
		if c := conns[key]; c != nil {
			c.InKeepAliveBatch = false
		}
	}
}

// Forget removes a torn-down connection from the keep-alive batch, if present.
func (k *KeepAlive) Forget(c *Connection) {
	if !c.InKeepAliveBatch {
		return
	}
	k.batch.Remove(c.SlotKey)
	c.InKeepAliveBatch = false
}

// BuildCancelBatch assembles a fresh Batch of every live stream connection
// with a known backend address, for the shutdown-time cancel flush. It
// shares no state with the keep-alive Batch: shutdown runs after the main
// loop has already exited.
func BuildCancelBatch(conns []*Connection, shared *SharedDataArena) *Batch {
	b := NewBatch(len(conns))
	for key, c := range conns {
		if c == nil || !c.Live || c.Mode != protocol.ModeStream {
			continue
		}
		sd := shared.Get(key)
		if sd.ToAddr == "" {
			continue
		}
		b.Add(sd.ToAddr, key)
	}
	return b
}
