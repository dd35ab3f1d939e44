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
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// rawSocket adapts one non-blocking file descriptor to io.ReadWriteCloser so
// protocol.FSM implementations never see net.Conn: the worker's own epoll
// instance is the only poller driving this fd, and Go's runtime netpoller
// must never be allowed to touch it once ownership has been handed over.
type rawSocket struct {
	fd         int
	peerClosed bool
}

// takeRawFd detaches conn from Go's runtime netpoller and returns an
// independently owned, non-blocking descriptor. conn is closed as part of
// the handover; callers must not use it again.
func takeRawFd(conn net.Conn) (int, error) {
	type fileConn interface {
		File() (*os.File, error)
	}
	fc, ok := conn.(fileConn)
	if !ok {
		return -1, fmt.Errorf("worker: connection type %T cannot be converted to a raw fd", conn)
	}

	f, err := fc.File()
	if err != nil {
		return -1, err
	}
	defer f.Close()

	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	_ = conn.Close()
	return fd, nil
}

func newRawSocket(fd int) *rawSocket {
	return &rawSocket{fd: fd}
}

// Read maps EAGAIN to io.EOF so the protocol package's existing "incomplete
// read, try again later" handling (which treats any Read error uniformly)
// keeps working without change; a genuine orderly close is distinguished
// only by peerClosed, which the event loop checks after every Process call
// instead of trusting the FSM to notice on its own. This is the one place
// the reference protocol implementation's "any error means try later"
// shortcut needed a matching accommodation on the transport side.
func (s *rawSocket) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, io.EOF
		}
		s.peerClosed = true
		return 0, err
	}
	if n == 0 {
		s.peerClosed = true
		return 0, io.EOF
	}
	return n, nil
}

// Write reports a would-block write as a no-op success rather than an
// error. The reference FSMs issue a single unbuffered Write per response and
// do not retry partial writes; production use would need an output buffer
// and a SockWrite-driven retry loop, which is out of scope here.
func (s *rawSocket) Write(p []byte) (int, error) {
	n, err := unix.Write(s.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil
		}
		return n, err
	}
	return n, nil
}

func (s *rawSocket) Close() error {
	return unix.Close(s.fd)
}
