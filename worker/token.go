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

import "github.com/nabbar/zproxy/protocol"

// BaseTokens is the fixed number of poller registrations a worker holds
// outside its connection slabs: the bus wake eventfd, the stop eventfd, and
// a handful of reserved slots for future non-fd sources.
const BaseTokens = 12

// TokensPerConn bounds the subtoken space encoded per connection. Only
// SubtokSockRead/SubtokSockWrite are ever registered with the poller (a
// TLS-backed connection has no poller registration at all — see
// tlsSocket — and the Zhttp* interest bits in protocol.Want describe the
// bus side, which has no fd of its own); the rest are reserved.
const TokensPerConn = 8

const (
	SubtokSockRead uint8 = iota
	SubtokSockWrite
	SubtokInboxWritable
)

// tokenReservedBit marks the two process-wide wakeup tokens so they never
// collide with encodeToken's connection-token layout, which only ever sets
// bits below it.
const tokenReservedBit = uint64(1) << 63

const (
	// tokenBusWake is the poller token for the eventfd a bus subscription
	// callback signals after enqueueing a message, so poll.Wait doesn't sit
	// out the rest of PollTimeoutMax before the next tick notices it.
	tokenBusWake = tokenReservedBit | 0
	// tokenStopWake is the poller token for the eventfd Run's context-watch
	// goroutine signals on cancellation.
	tokenStopWake = tokenReservedBit | 1
)

// PollerSize computes the advisory capacity passed to poller.New, matching
// BASE_TOKENS + req_maxconn*3 + stream_maxconn*4: stream connections carry
// one extra registration for the inbox-writable rearm edge used by
// send-to-addr fan-out.
func PollerSize(reqMaxConn, streamMaxConn int) int {
	return BaseTokens + reqMaxConn*3 + streamMaxConn*4
}

// encodeToken packs a connection's mode, slot key and subtoken into the
// opaque 64-bit value the poller hands back on Wait.
func encodeToken(mode protocol.Mode, slot int, sub uint8) uint64 {
	var modeBit uint64
	if mode == protocol.ModeStream {
		modeBit = 1
	}
	return modeBit<<40 | uint64(slot)<<8 | uint64(sub)
}

// decodeToken reverses encodeToken.
func decodeToken(token uint64) (mode protocol.Mode, slot int, sub uint8) {
	sub = uint8(token & 0xff)
	slot = int((token >> 8) & 0xffffffff)
	if (token>>40)&1 == 1 {
		mode = protocol.ModeStream
	} else {
		mode = protocol.ModeReq
	}
	return
}
