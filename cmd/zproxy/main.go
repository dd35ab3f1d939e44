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

// Command zproxy bootstraps the process: load configuration, wire the
// backend bus, spin up one reactor per configured worker, bind every
// listener, and block until a shutdown signal drains them all.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nabbar/zproxy/bus"
	"github.com/nabbar/zproxy/config"
	"github.com/nabbar/zproxy/logger"
	"github.com/nabbar/zproxy/metrics"
	"github.com/nabbar/zproxy/protocol"
	"github.com/nabbar/zproxy/server"
	"github.com/nabbar/zproxy/worker"
)

// shutdownGrace bounds how long main waits for every worker to finish its
// own cancel-flush after a drain is requested before it cancels the root
// context to force the remaining workers to stop, then waits for them.
const shutdownGrace = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run() error {
	path := flag.String("config", "zproxy.yaml", "path to the process configuration file")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on, empty disables it")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(context.Background())
	if err := log.SetOptions(cfg.ToLoggerOptions()); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer func() { _ = log.Close() }()

	reg := prometheus.NewRegistry()
	met, err := metrics.NewCollector(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warning("metrics server stopped: %s", err.Error())
			}
		}()
		log.Info("metrics listening on %s", *metricsAddr)
	}

	busClient, err := bus.Connect(bus.Config{
		URL:          cfg.Bus.URL,
		AnySubject:   cfg.Bus.AnySubject,
		QueueGroup:   cfg.Bus.QueueGroup,
		InstanceID:   cfg.Bus.InstanceID,
		ReconnectMax: cfg.Bus.ReconnectMax,
	}, log, met.BusReconnects)
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer busClient.Close()

	factory := protocol.NewFactory()

	workers := make([]*worker.Worker, cfg.Worker.Count)
	for i := range workers {
		w, err := worker.New(worker.Config{
			ID:            i,
			ReqMaxConn:    cfg.Worker.ReqMaxConn,
			StreamMaxConn: cfg.Worker.StreamMaxConn,
			Bus:           busClient,
			Factory:       factory,
			Log:           log,
			Metrics:       met,
		})
		if err != nil {
			return fmt.Errorf("start worker %d: %w", i, err)
		}
		workers[i] = w
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(rootCtx); err != nil {
				log.Warning("worker stopped: %s", err.Error())
			}
		}()
	}

	pool, err := server.New(cfg, workers, log)
	if err != nil {
		return fmt.Errorf("bind listeners: %w", err)
	}

	pool.Listen(rootCtx)
	pool.WaitNotify(rootCtx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Warning("shutdown grace period elapsed, forcing exit")
		rootCancel()
		<-done
	}

	return nil
}
