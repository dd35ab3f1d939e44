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
	"io"

	"github.com/nabbar/zproxy/protocol"
)

// Inbox is a capacity-1 holder of one fanned-out backend message. Because
// the worker is single-threaded, TrySend/TryRecv need no locking; they
// exist as named operations (rather than a bare field) to keep the
// capacity-1 backpressure contract explicit at every call site.
type Inbox struct {
	has bool
	msg protocol.BackendMessage
}

// TrySend parks msg in the inbox. It reports false (the fan-out node must
// move to the waiting list) if the inbox is already occupied.
func (b *Inbox) TrySend(msg protocol.BackendMessage) bool {
	if b.has {
		return false
	}
	b.has = true
	b.msg = msg
	return true
}

// TryRecv drains the inbox, if occupied.
func (b *Inbox) TryRecv() (protocol.BackendMessage, bool) {
	if !b.has {
		return protocol.BackendMessage{}, false
	}
	m := b.msg
	b.has = false
	b.msg = protocol.BackendMessage{}
	return m, true
}

// fanoutLocation tags which of a mode's fan-out lists, if any, currently
// holds a connection's reservation node.
type fanoutLocation int8

const (
	fanoutNone fanoutLocation = iota
	fanoutSending
	fanoutWaiting
)

// Connection is one accepted client socket's full worker-side state: the
// stream, its protocol FSM, its current interest set, timer/inbox/keep-alive
// handles, and fan-out bookkeeping. It is never heap-churned across its
// lifetime — Worker pre-allocates one slab of these sized to the mode's
// maxconn and reuses slots after teardown.
type Connection struct {
	Live     bool
	SlotKey  int
	Mode     protocol.Mode
	ID       string
	PeerAddr string

	Stream io.ReadWriteCloser
	FSM    protocol.FSM
	Want   protocol.Want

	TimerArmed bool
	Inbox      Inbox

	FanoutLoc fanoutLocation

	InKeepAliveBatch bool
	IsTLS            bool
	OutSeq           uint64
}

// Reset clears a connection slot for reuse, called once teardown completes
// (or between Ready transitions, selectively — see worker.go).
func (c *Connection) Reset() {
	*c = Connection{SlotKey: c.SlotKey}
}
