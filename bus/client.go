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

// Package bus wraps the NATS connection shared read-only across every worker,
// the single "bus socket manager" the concurrency model allows as non-local
// state. It implements the two routed-send semantics the event loop needs:
// send-to-any (a queue-group subscription, load balanced across workers) and
// send-to-addr (direct subject addressing, used for stream-mode responses
// that must land on the worker owning the originating connection).
package bus

import (
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nabbar/zproxy/logger"
)

// Client is the shared handle onto the backend message bus.
type Client struct {
	nc         *nats.Conn
	log        logger.Logger
	anySubject string
	queueGroup string
	instanceID string
}

// Config carries the NATS connection parameters.
type Config struct {
	URL          string
	AnySubject   string
	QueueGroup   string
	InstanceID   string
	ReconnectMax int
}

// Connect dials the bus and returns a ready Client. reconnects, if non-nil,
// is incremented once per reconnect so a flapping bus link is visible
// without grepping logs; pass nil where no Collector is wired yet.
func Connect(cfg Config, log logger.Logger, reconnects prometheus.Counter) (*Client, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.ReconnectMax),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subj := ""
			if sub != nil {
				subj = sub.Subject
			}
			log.Warning("bus async error on %q: %s", subj, err.Error())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warning("bus disconnected: %s", err.Error())
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("bus reconnected")
			if reconnects != nil {
				reconnects.Inc()
			}
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, ErrorConnect.Error(err)
	}

	return &Client{
		nc:         nc,
		log:        log,
		anySubject: cfg.AnySubject,
		queueGroup: cfg.QueueGroup,
		instanceID: cfg.InstanceID,
	}, nil
}

// InstanceID returns the per-process bus instance id used to frame stream-mode messages.
func (c *Client) InstanceID() string {
	return c.instanceID
}

// PublishAny sends payload to the "send to any worker" subject: any worker in
// the queue group may receive it.
func (c *Client) PublishAny(payload []byte) error {
	if err := c.nc.Publish(c.anySubject, payload); err != nil {
		return ErrorPublish.Error(err)
	}
	return nil
}

// PublishAddr sends payload directly to addr, a specific worker/connection's
// address subject.
func (c *Client) PublishAddr(addr string, payload []byte) error {
	if err := c.nc.Publish(addr, payload); err != nil {
		return ErrorPublish.Error(err)
	}
	return nil
}

// SubscribeAny joins the queue group on the "any" subject: exactly one worker
// in the group receives each message.
func (c *Client) SubscribeAny(handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.nc.QueueSubscribe(c.anySubject, c.queueGroup, handler)
	if err != nil {
		return nil, ErrorSubscribe.Error(err)
	}
	return sub, nil
}

// SubscribeAddr subscribes to a worker-specific address subject (no queue
// group: only this worker should receive messages addressed to it).
func (c *Client) SubscribeAddr(addr string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(addr, handler)
	if err != nil {
		return nil, ErrorSubscribe.Error(err)
	}
	return sub, nil
}

// IsConnected reports whether the underlying NATS connection is usable.
func (c *Client) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Close closes the underlying NATS connection without draining it.
func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
