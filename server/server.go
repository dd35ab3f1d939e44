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

// Package server binds the listeners named in a process's configuration and
// fans their accepted sockets out across a pool of worker reactors. It owns
// no protocol logic of its own: a listener's only job is handing a freshly
// accepted net.Conn to the next worker in rotation, tagged with the mode
// (request or stream) its configuration section picked.
package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nabbar/zproxy/config"
	"github.com/nabbar/zproxy/logger"
	"github.com/nabbar/zproxy/worker"
)

// Pool is every bound listener for one process, sharing one worker pool.
type Pool struct {
	listeners []*listener
	workers   []*worker.Worker
	log       logger.Logger
	cnl       context.CancelFunc
	wg        sync.WaitGroup
}

// New resolves the identity cache and binds every listener named in cfg.
// Binding happens eagerly so a misconfigured address or missing identity is
// reported before Listen starts accepting traffic.
func New(cfg *config.Config, workers []*worker.Worker, log logger.Logger) (*Pool, error) {
	identities, err := buildIdentityCache(cfg.Identities, "")
	if err != nil {
		return nil, err
	}

	p := &Pool{workers: workers, log: log}
	for _, lc := range cfg.Listeners {
		l, err := newListener(lc, workers, identities, log)
		if err != nil {
			p.closeBound()
			return nil, err
		}
		p.listeners = append(p.listeners, l)
	}

	return p, nil
}

func (p *Pool) closeBound() {
	for _, l := range p.listeners {
		_ = l.close()
	}
}

// Listen starts every listener's accept loop in its own goroutine and
// returns immediately; call WaitNotify or Shutdown to stop them.
func (p *Pool) Listen(ctx context.Context) {
	ctx, cnl := context.WithCancel(ctx)
	p.cnl = cnl

	for _, l := range p.listeners {
		l := l
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			l.serve(ctx)
		}()
		if p.log != nil {
			p.log.Info("listener %s: accepting %s connections", l.cfg.Address, l.cfg.Mode)
		}
	}
}

// WaitNotify blocks until SIGINT/SIGTERM/SIGQUIT or ctx is cancelled, then
// drains every worker and shuts the pool down.
func (p *Pool) WaitNotify(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case <-quit:
	case <-ctx.Done():
	}

	p.Shutdown()
}

// Shutdown stops accepting new connections, drains every worker (each
// reactor runs its own cancel-flush in Worker.Run once Drain is observed),
// and waits for every listener goroutine to exit.
func (p *Pool) Shutdown() {
	for _, w := range p.workers {
		w.Drain()
	}
	if p.cnl != nil {
		p.cnl()
	}
	p.closeBound()
	p.wg.Wait()
}
