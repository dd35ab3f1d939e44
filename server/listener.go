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

package server

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"

	"github.com/nabbar/zproxy/certificates"
	"github.com/nabbar/zproxy/config"
	"github.com/nabbar/zproxy/logger"
	"github.com/nabbar/zproxy/protocol"
	"github.com/nabbar/zproxy/worker"
)

// listener owns one bound plaintext socket and hands every accepted
// connection to the next worker in round robin, tagged with the protocol
// mode its config section picked. It never parses a byte itself, and for a
// TLS-enabled section it never terminates TLS either — the listener stays
// a bare net.Listener and hands the resolved *tls.Config alongside the raw
// connection, so the worker that ends up owning the raw fd is the one to
// drive the handshake and record layer directly over it (see
// worker.tlsSocket): wrapping the listener itself with tls.NewListener
// would hand the worker a *tls.Conn, which has no way to surrender its
// underlying fd.
type listener struct {
	cfg     config.ListenerConfig
	mode    protocol.Mode
	ln      net.Listener
	tcfg    *tls.Config
	workers []*worker.Worker
	next    atomic.Uint64
	log     logger.Logger
	run     atomic.Bool
}

func newListener(cfg config.ListenerConfig, workers []*worker.Worker, identities *certificates.IdentityCache, log logger.Logger) (*listener, error) {
	if len(workers) == 0 {
		return nil, ErrorNoWorkers.Error(nil)
	}

	mode := protocol.ModeReq
	if cfg.Mode == config.ModeStream {
		mode = protocol.ModeStream
	}

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, ErrorListen.Error(err)
	}

	var tcfg *tls.Config
	if cfg.TLS {
		if identities == nil {
			_ = ln.Close()
			return nil, ErrorIdentityMissing.Error(nil)
		}
		base := certificates.New()
		tcfg = identities.ServerTLSConfig(base)
		tcfg.MinVersion = tls.VersionTLS12
	}

	return &listener{
		cfg:     cfg,
		mode:    mode,
		ln:      ln,
		tcfg:    tcfg,
		workers: workers,
		log:     log,
	}, nil
}

// serve accepts connections until ctx is cancelled or the listener closes,
// handing each one to the next worker in the round-robin rotation.
func (l *listener) serve(ctx context.Context) {
	l.run.Store(true)
	defer l.run.Store(false)

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if l.log != nil {
				l.log.Warning("listener %s: accept failed: %s", l.cfg.Address, err.Error())
			}
			continue
		}

		w := l.pick()
		if l.mode == protocol.ModeStream {
			w.AcceptStream(conn, l.tcfg)
		} else {
			w.AcceptReq(conn, l.tcfg)
		}
	}
}

// pick returns the next worker in round-robin order, distributing this
// listener's accepted connections evenly across the reactor pool.
func (l *listener) pick() *worker.Worker {
	idx := l.next.Add(1) - 1
	return l.workers[int(idx)%len(l.workers)]
}

func (l *listener) close() error {
	return l.ln.Close()
}
