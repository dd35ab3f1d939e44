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
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// fdConn adapts a raw, blocking-mode file descriptor to net.Conn so
// crypto/tls — which only ever drives a blocking net.Conn, with no
// memory-BIO mode the way e.g. OpenSSL offers — can run its handshake and
// record layer against it without Go's runtime netpoller ever learning the
// fd exists. An fdConn is used exclusively by tlsSocket's own goroutines.
type fdConn struct {
	fd int
}

func (c *fdConn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (c *fdConn) Write(p []byte) (int, error) { return unix.Write(c.fd, p) }
func (c *fdConn) Close() error                 { return unix.Close(c.fd) }
func (c *fdConn) LocalAddr() net.Addr          { return fdAddr{} }
func (c *fdConn) RemoteAddr() net.Addr         { return fdAddr{} }

func (c *fdConn) SetDeadline(_ time.Time) error      { return nil }
func (c *fdConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *fdConn) SetWriteDeadline(_ time.Time) error { return nil }

type fdAddr struct{}

func (fdAddr) Network() string { return "tcp" }
func (fdAddr) String() string  { return "raw-fd" }

// tlsSocket terminates TLS on a dedicated goroutine pair running the
// handshake and record layer over a raw fd the reactor's epoll instance
// never registers: crypto/tls exposes no non-blocking or memory-BIO API, so
// there is no way to drive it from inside a single tick the way rawSocket
// drives a plaintext fd. Decrypted application data and queued writes cross
// into the single-threaded tick through two mutex-guarded buffers, keeping
// the same contract rawSocket gives Connection.Stream: Read reports io.EOF
// when nothing is buffered yet instead of blocking, and PeerClosed carries
// the distinction between "try later" and "really done" that the event loop
// checks after every Process call.
type tlsSocket struct {
	conn *tls.Conn

	mu         sync.Mutex
	in         bytes.Buffer
	out        bytes.Buffer
	peerClosed bool

	wake chan struct{}
	done chan struct{}
}

// newTLSSocket takes ownership of fd, which takeRawFd already left
// independently owned and non-blocking; it is reverted to blocking mode
// here since the TLS goroutines use ordinary blocking syscalls on it,
// never Go's async I/O path. The handshake and read pump start in the
// background; newTLSSocket itself never blocks on network I/O.
func newTLSSocket(fd int, cfg *tls.Config) (*tlsSocket, error) {
	if err := unix.SetNonblock(fd, false); err != nil {
		return nil, err
	}

	s := &tlsSocket{
		conn: tls.Server(&fdConn{fd: fd}, cfg),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.readPump()
	return s, nil
}

func (s *tlsSocket) readPump() {
	defer close(s.done)

	if err := s.conn.Handshake(); err != nil {
		s.mu.Lock()
		s.peerClosed = true
		s.mu.Unlock()
		return
	}

	go s.writePump()

	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.in.Write(buf[:n])
			s.mu.Unlock()
		}
		if err != nil {
			s.mu.Lock()
			s.peerClosed = true
			s.mu.Unlock()
			return
		}
	}
}

func (s *tlsSocket) writePump() {
	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}

		for {
			s.mu.Lock()
			if s.out.Len() == 0 {
				s.mu.Unlock()
				break
			}
			chunk := make([]byte, s.out.Len())
			copy(chunk, s.out.Bytes())
			s.out.Reset()
			s.mu.Unlock()

			if _, err := s.conn.Write(chunk); err != nil {
				s.mu.Lock()
				s.peerClosed = true
				s.mu.Unlock()
				return
			}
		}
	}
}

// Read drains already-decrypted plaintext without blocking the caller's
// tick; if none is buffered yet it reports io.EOF, the same "try again
// later" signal rawSocket gives for EAGAIN.
func (s *tlsSocket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.in.Len() == 0 {
		return 0, io.EOF
	}
	return s.in.Read(p)
}

// Write queues p for the background write pump and reports success
// immediately: the reference FSMs issue one unbuffered Write per response
// and never retry a partial one, the same simplification rawSocket makes.
func (s *tlsSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.out.Write(p)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return len(p), nil
}

// PeerClosed reports whether the handshake failed or the peer closed the
// TLS session, the same authoritative "really done" signal rawSocket.peerClosed gives.
func (s *tlsSocket) PeerClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerClosed
}

func (s *tlsSocket) Close() error {
	return s.conn.Close()
}
