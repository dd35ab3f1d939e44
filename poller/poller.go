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

// Package poller wraps a raw Linux epoll instance for the single-threaded,
// non-blocking per-worker reactor. Every registration carries an opaque
// 64-bit Token chosen by the caller (the worker encodes slot + subtoken into
// it, see worker.encodeToken) rather than a file descriptor, matching the
// event loop's "decompose into (slot, subtoken)" dispatch contract.
//
// Besides socket fds, the worker also needs to wake on cross-goroutine
// events (bus callbacks, the stop signal) that carry no fd of their own;
// Wakeup backs each of those with a Linux eventfd registered like any other
// source, standing in for the custom non-fd registrations the original
// reactor supported.
package poller

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nabbar/zproxy/errors"
)

// Event is one readiness notification returned by Wait.
type Event struct {
	Token    uint64
	Readable bool
	Writable bool
}

// Poller is a thin, non-blocking epoll wrapper sized once at construction.
type Poller struct {
	mu   sync.Mutex
	epfd int
	fds  map[uint64]int // token -> registered fd, for Remove bookkeeping
}

// New creates an epoll instance. size is advisory (Linux ignores it beyond
// requiring > 0) but documents the worker's intended capacity:
// BASE_TOKENS + 3*req_maxconn + 4*stream_maxconn.
func New(size int) (*Poller, error) {
	if size <= 0 {
		size = 1
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, ErrorCreate.Error(err)
	}

	return &Poller{
		epfd: epfd,
		fds:  make(map[uint64]int),
	}, nil
}

// Add registers fd for read/write readiness under token, level-triggered.
func (p *Poller) Add(fd int, token uint64, read, write bool) error {
	ev := unix.EpollEvent{Fd: int32(fd)}
	ev.Events = flags(read, write)
	setToken(&ev, token)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return ErrorRegister.Error(err)
	}
	p.fds[token] = fd
	return nil
}

// Modify changes the interest set for an already-registered token.
func (p *Poller) Modify(fd int, token uint64, read, write bool) error {
	ev := unix.EpollEvent{Fd: int32(fd)}
	ev.Events = flags(read, write)
	setToken(&ev, token)

	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return ErrorRegister.Error(err)
	}
	return nil
}

// Remove deregisters token (and its associated fd) from the poller.
func (p *Poller) Remove(token uint64) error {
	p.mu.Lock()
	fd, ok := p.fds[token]
	delete(p.fds, token)
	p.mu.Unlock()

	if !ok {
		return nil
	}

	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return ErrorRegister.Error(err)
	}
	return nil
}

// Wait blocks up to timeoutMs (0 = return immediately, -1 = block
// indefinitely) and appends ready events into dst, returning the extended
// slice. dst is reused across calls to avoid per-tick allocation.
func (p *Poller) Wait(dst []Event, timeoutMs int) ([]Event, error) {
	var raw [256]unix.EpollEvent

	n, err := unix.EpollWait(p.epfd, raw[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, ErrorWait.Error(err)
	}

	for i := 0; i < n; i++ {
		dst = append(dst, Event{
			Token:    getToken(&raw[i]),
			Readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: raw[i].Events&(unix.EPOLLOUT) != 0,
		})
	}

	return dst, nil
}

// Close releases the epoll file descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}

// Wakeup is an eventfd-backed, non-fd poller source: any goroutine that
// needs to interrupt a blocked Wait call — a NATS subscription callback
// enqueuing a bus message, a context cancellation — signals it instead of
// waiting for the next tick's timeout to elapse on its own.
type Wakeup struct {
	fd    int
	token uint64
}

// NewWakeup creates an eventfd and registers it for read readiness under
// token, which the caller should reserve from a range it never also uses
// for fd-backed (connection) tokens.
func (p *Poller) NewWakeup(token uint64) (*Wakeup, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, ErrorCreate.Error(err)
	}
	if err := p.Add(fd, token, true, false); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &Wakeup{fd: fd, token: token}, nil
}

// Token is the poller token Wait reports events for on this source.
func (w *Wakeup) Token() uint64 { return w.token }

// Signal wakes any goroutine blocked in Wait; safe to call from any
// goroutine, any number of times before the next Drain.
func (w *Wakeup) Signal() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(w.fd, buf[:])
}

// Drain resets the eventfd's counter once Wait has reported it readable.
func (w *Wakeup) Drain() {
	var buf [8]byte
	_, _ = unix.Read(w.fd, buf[:])
}

func (w *Wakeup) Close() error {
	return unix.Close(w.fd)
}

func flags(read, write bool) uint32 {
	var e uint32
	if read {
		e |= unix.EPOLLIN
	}
	if write {
		e |= unix.EPOLLOUT
	}
	return e
}

// setToken/getToken pack the caller's 64-bit token into the epoll_event's
// opaque "data" union via the SetUint64/GetUint64 helpers. This overwrites
// the Fd field epoll_wait would otherwise echo back, which is why Add/Remove
// keep their own token->fd bookkeeping (p.fds) instead of relying on it.
func setToken(ev *unix.EpollEvent, token uint64) {
	ev.SetUint64(token)
}

func getToken(ev *unix.EpollEvent) uint64 {
	return ev.GetUint64()
}
