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

// Package protocol defines the per-connection state machine contract the
// event loop drives (ServerReqConnection, ServerStreamConnection in the
// component table) and ships a minimal concrete HTTP/1.x + WebSocket
// implementation sufficient to exercise that contract end to end. The
// worker package never parses bytes itself: it only calls Start/Process/
// ApplyResponse and reacts to the returned Want/Status.
package protocol

import (
	"io"
	"time"
)

// Mode distinguishes the two connection families the event loop drives.
type Mode int

const (
	ModeReq Mode = iota
	ModeStream
)

// Status is what Process reports back to the event loop about the FSM's
// lifecycle after this tick.
type Status int

const (
	// Continue: the FSM is still mid-exchange: reconcile Want and resume later.
	Continue Status = iota
	// Finished: tear the connection down.
	Finished
	// Ready: the FSM reached a keep-alive boundary (stream mode only); the
	// worker should allocate a fresh session id and call Start again.
	Ready
)

// Want is the FSM's current interest set, reconciled into poller
// registrations and the timer wheel by the event loop after every Process call.
type Want struct {
	SockRead     bool
	SockWrite    bool
	ZhttpRead    bool
	ZhttpWrite   bool
	ZhttpWriteTo bool
	HasTimeout   bool
	Timeout      time.Duration
}

// BackendMessage is one fanned-out bus response, already demultiplexed to
// this connection by the worker's router.
type BackendMessage struct {
	Payload []byte
}

// Sender is the bound outbound channel(s) a FSM may use to publish a parsed
// request toward the backend bus. Req-mode FSMs get a send-to-any sender;
// stream-mode FSMs additionally get a send-to-addr sender once a handler
// has claimed the session (mirrors the worker's routed message senders).
type Sender interface {
	SendAny(payload []byte) error
	SendAddr(addr string, payload []byte) error
}

// FSM is the per-connection protocol state machine the event loop drives.
// Implementations must never block: Process is called from the worker's
// single-threaded reactor and must return promptly, reporting interest via
// Want instead of waiting on I/O itself.
type FSM interface {
	// Start (re)initializes the FSM for session id, called once at accept
	// and again whenever Process returns Ready.
	Start(id string) error
	// Process advances the FSM by one event-loop tick against stream,
	// using packetBuf/tmpBuf as scratch (owned by the worker, reused
	// across every connection processed this tick — the FSM must not
	// retain them past this call).
	Process(now time.Time, stream io.ReadWriter, packetBuf, tmpBuf []byte, out Sender) (Want, Status, error)
	// ApplyResponse feeds one fanned-out backend message to the FSM ahead
	// of the next Process call. Apply errors are logged and otherwise
	// ignored by the worker (per-connection, non-fatal).
	ApplyResponse(msg BackendMessage) error
}

// Factory constructs a fresh FSM for a newly accepted connection of mode m.
type Factory func(m Mode) FSM

// NewFactory returns the reference Factory: ServerReqConnection for
// request-mode sockets, ServerStreamConnection for stream-mode ones.
func NewFactory() Factory {
	return func(m Mode) FSM {
		if m == ModeStream {
			return NewServerStreamConnection()
		}
		return NewServerReqConnection()
	}
}
