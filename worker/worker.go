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

// Package worker implements the single-threaded, per-worker event reactor:
// one epoll set driving a request-mode connection slab and a stream-mode
// connection slab, fanning out backend bus responses to the connections
// they address and batching keep-alive/cancel traffic toward the backends a
// stream session has pinned to.
package worker

import (
	"crypto/tls"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sys/unix"

	"github.com/nabbar/zproxy/bus"
	"github.com/nabbar/zproxy/logger"
	"github.com/nabbar/zproxy/metrics"
	"github.com/nabbar/zproxy/poller"
	"github.com/nabbar/zproxy/protocol"
)

// AcceptPerLoopMax bounds how many queued sockets one tick drains from the
// accept channel, so a connect burst cannot starve fan-out/keep-alive work.
const AcceptPerLoopMax = 100

// PollTimeoutMax is the longest epoll_wait may block for in one tick; the
// timer wheel's next expiry only ever shortens it.
const PollTimeoutMax = 100 * time.Millisecond

// slab is the per-mode bank of connection slots plus the structures that
// scope to it: its fan-out router and its timer wheel.
type slab struct {
	mode    protocol.Mode
	conns   []*Connection
	free    []int
	router  *Router
	timers  *TimerWheel
	pending *KeySet
}

func newSlab(mode protocol.Mode, maxconn int, met *metrics.Collector, workerID int) *slab {
	conns := make([]*Connection, maxconn)
	free := make([]int, 0, maxconn)
	for i := range conns {
		conns[i] = &Connection{SlotKey: i}
		free = append(free, maxconn-1-i)
	}
	wheelSize := maxconn
	if wheelSize < 1 {
		wheelSize = 1
	}
	return &slab{
		mode:    mode,
		conns:   conns,
		free:    free,
		router:  NewRouter(maxconn, met, workerID),
		timers:  NewTimerWheel(maxconn, wheelSize),
		pending: NewKeySet(maxconn),
	}
}

func (s *slab) allocate() (*Connection, bool) {
	if len(s.free) == 0 {
		return nil, false
	}
	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	return s.conns[idx], true
}

func (s *slab) release(c *Connection) {
	slot := c.SlotKey
	c.Reset()
	s.free = append(s.free, slot)
}

// Config bundles what NewWorker needs to size and wire one reactor.
type Config struct {
	ID            int
	ReqMaxConn    int
	StreamMaxConn int
	Bus           *bus.Client
	Factory       protocol.Factory
	Log           logger.Logger
	Metrics       *metrics.Collector
}

// Worker is one single-threaded reactor instance.
type Worker struct {
	id  int
	log logger.Logger
	met *metrics.Collector

	poll *poller.Poller
	busc *bus.Client
	fact protocol.Factory

	req    *slab
	stream *slab

	keepAlive *KeepAlive
	shared    *SharedDataArena

	reqPipeline        *pendingPipeline
	streamAnyPipeline  *pendingPipeline
	streamAddrPipeline *pendingPipeline

	inboundReq  chan []byte
	inboundStrm chan []byte
	acceptReq   chan pendingAccept
	acceptStrm  chan pendingAccept

	busSubReq  *nats.Subscription
	busSubStrm *nats.Subscription

	busWake  *poller.Wakeup
	stopWake *poller.Wakeup

	packetBuf []byte
	tmpBuf    []byte

	events   []poller.Event
	draining atomic.Bool

	startTick time.Time
	tickCount int64
}

// pendingAccept is one freshly accepted socket waiting for admit: tcfg is
// nil for a plaintext listener, or the identity-resolving *tls.Config a TLS
// listener built, in which case admit hands the fd to a tlsSocket instead
// of a rawSocket.
type pendingAccept struct {
	conn net.Conn
	tcfg *tls.Config
}

// New allocates a Worker's slabs, epoll instance and accept channels, and
// subscribes it to the bus address backend handlers route fanned-out
// responses to. It does not start the loop; call Run for that.
func New(cfg Config) (*Worker, error) {
	size := PollerSize(cfg.ReqMaxConn, cfg.StreamMaxConn)
	p, err := poller.New(size)
	if err != nil {
		return nil, err
	}

	busWake, err := p.NewWakeup(tokenBusWake)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	stopWake, err := p.NewWakeup(tokenStopWake)
	if err != nil {
		_ = busWake.Close()
		_ = p.Close()
		return nil, err
	}

	w := &Worker{
		id:                 cfg.ID,
		log:                cfg.Log,
		met:                cfg.Metrics,
		poll:               p,
		busc:               cfg.Bus,
		fact:               cfg.Factory,
		req:                newSlab(protocol.ModeReq, cfg.ReqMaxConn, cfg.Metrics, cfg.ID),
		stream:             newSlab(protocol.ModeStream, cfg.StreamMaxConn, cfg.Metrics, cfg.ID),
		keepAlive:          NewKeepAlive(cfg.StreamMaxConn),
		shared:             NewSharedDataArena(cfg.StreamMaxConn),
		reqPipeline:        newPendingPipeline(cfg.ReqMaxConn),
		streamAnyPipeline:  newPendingPipeline(cfg.StreamMaxConn),
		streamAddrPipeline: newPendingPipeline(cfg.StreamMaxConn),
		inboundReq:         make(chan []byte, 4096),
		inboundStrm:        make(chan []byte, 4096),
		acceptReq:          make(chan pendingAccept, AcceptPerLoopMax),
		acceptStrm:         make(chan pendingAccept, AcceptPerLoopMax),
		busWake:            busWake,
		stopWake:           stopWake,
		packetBuf:          make([]byte, 0, bus.BulkPacketSizeMax),
		tmpBuf:             make([]byte, 4096),
		events:             make([]poller.Event, 0, 256),
	}

	if cfg.Bus != nil {
		subReq, err := cfg.Bus.SubscribeAddr(w.busAddr(protocol.ModeReq), func(msg *nats.Msg) {
			w.inboundReq <- msg.Data
			w.busWake.Signal()
		})
		if err != nil {
			_ = stopWake.Close()
			_ = busWake.Close()
			_ = p.Close()
			return nil, err
		}
		w.busSubReq = subReq

		subStrm, err := cfg.Bus.SubscribeAddr(w.busAddr(protocol.ModeStream), func(msg *nats.Msg) {
			w.inboundStrm <- msg.Data
			w.busWake.Signal()
		})
		if err != nil {
			_ = subReq.Unsubscribe()
			_ = stopWake.Close()
			_ = busWake.Close()
			_ = p.Close()
			return nil, err
		}
		w.busSubStrm = subStrm
	}

	return w, nil
}

// busAddr is the per-worker, per-mode bus subject backends route responses
// to, derived from the same worker id embedded in every session id this
// worker mints (see NewSessionID) so a reply can be traced back here. Req
// and stream responses use distinct subjects since a slot key alone, without
// the mode that picked its slab, is ambiguous.
func (w *Worker) busAddr(mode protocol.Mode) string {
	return "worker." + strconv.Itoa(w.id) + "." + modeName(mode)
}

// AcceptReq queues a freshly accepted request-mode socket for the next
// tick. tcfg is nil for a plaintext listener, or the *tls.Config a TLS
// listener resolved for its identities; admit branches on it to decide
// between a rawSocket and a tlsSocket.
func (w *Worker) AcceptReq(conn net.Conn, tcfg *tls.Config) {
	w.acceptReq <- pendingAccept{conn: conn, tcfg: tcfg}
}

// AcceptStream queues a freshly accepted stream-mode socket for the next tick.
func (w *Worker) AcceptStream(conn net.Conn, tcfg *tls.Config) {
	w.acceptStrm <- pendingAccept{conn: conn, tcfg: tcfg}
}

func (w *Worker) slabFor(mode protocol.Mode) *slab {
	if mode == protocol.ModeStream {
		return w.stream
	}
	return w.req
}

// admit pulls up to AcceptPerLoopMax queued sockets of one mode into free
// slab slots, starting each one's FSM and registering it for read
// readiness. A plaintext connection hands its raw fd straight to the
// poller; a TLS one hands it to a tlsSocket instead, which runs the
// handshake and record layer on its own goroutines and is never
// registered with the poller at all — see markTLSPending for how such a
// connection still gets a stepConnection chance every tick.
func (w *Worker) admit(mode protocol.Mode, ch chan pendingAccept) {
	s := w.slabFor(mode)

	for i := 0; i < AcceptPerLoopMax; i++ {
		var pa pendingAccept
		select {
		case pa = <-ch:
		default:
			return
		}
		conn := pa.conn

		c, ok := s.allocate()
		if !ok {
			_ = conn.Close()
			if w.log != nil {
				w.log.Warning("worker %d: %s slab full, rejecting connection", w.id, modeName(mode))
			}
			if w.met != nil {
				w.met.DroppedAtCap.WithLabelValues(strconv.Itoa(w.id), modeName(mode)).Inc()
			}
			continue
		}

		fd, err := takeRawFd(conn)
		if err != nil {
			s.release(c)
			if w.log != nil {
				w.log.Warning("worker %d: failed to take raw fd: %s", w.id, err.Error())
			}
			continue
		}

		id, err := NewSessionID(w.id, c.SlotKey)
		if err != nil {
			_ = unix.Close(fd)
			s.release(c)
			continue
		}

		c.Live = true
		c.Mode = mode
		c.ID = id
		c.PeerAddr = conn.RemoteAddr().String()
		c.FSM = w.fact(mode)
		c.FanoutLoc = fanoutNone

		if pa.tcfg != nil {
			ts, err := newTLSSocket(fd, pa.tcfg)
			if err != nil {
				_ = unix.Close(fd)
				if w.log != nil {
					w.log.Warning("worker %d: TLS setup failed: %s", w.id, err.Error())
				}
				s.release(c)
				continue
			}
			c.Stream = ts
			c.IsTLS = true
		} else {
			c.Stream = newRawSocket(fd)
		}

		if err := c.FSM.Start(id); err != nil {
			w.teardown(s, c)
			continue
		}

		if !c.IsTLS {
			if err := w.poll.Add(fd, encodeToken(mode, c.SlotKey, SubtokSockRead), true, false); err != nil {
				w.teardown(s, c)
				continue
			}
		}
		c.Want = protocol.Want{SockRead: true}

		if w.met != nil {
			w.met.Connections.WithLabelValues(strconv.Itoa(w.id), modeName(mode)).Inc()
		}
	}
}

func modeName(m protocol.Mode) string {
	if m == protocol.ModeStream {
		return "stream"
	}
	return "req"
}

// teardown releases a connection's socket, poller registrations and
// fan-out/keep-alive/timer bookkeeping, then returns its slot to the slab's
// free list.
func (w *Worker) teardown(s *slab, c *Connection) {
	if !c.Live {
		return
	}

	_ = w.poll.Remove(encodeToken(c.Mode, c.SlotKey, SubtokSockRead))
	_ = w.poll.Remove(encodeToken(c.Mode, c.SlotKey, SubtokSockWrite))
	_ = w.poll.Remove(encodeToken(c.Mode, c.SlotKey, SubtokInboxWritable))

	s.router.Detach(c)
	s.timers.Cancel(c.SlotKey)
	w.keepAlive.Forget(c)
	if c.Mode == protocol.ModeStream {
		w.shared.Reset(c.SlotKey)
	}

	if c.Stream != nil {
		_ = c.Stream.Close()
	}

	if w.met != nil {
		w.met.Connections.WithLabelValues(strconv.Itoa(w.id), modeName(c.Mode)).Dec()
	}

	s.release(c)
}

// Drain signals the worker should stop admitting new connections and begin
// the shutdown cancel-flush once the loop next observes it.
func (w *Worker) Drain() {
	w.draining.Store(true)
}

func (w *Worker) isDraining() bool {
	return w.draining.Load()
}
