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
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nabbar/zproxy/bus"
	"github.com/nabbar/zproxy/errors/pool"
	"github.com/nabbar/zproxy/protocol"
)

// connSender is the protocol.Sender bound to one connection: it wraps
// outbound payloads in a BusEnvelope addressed by the connection's own
// session id and, for stream mode, remembers the backend address a
// send-to-addr call pinned the session to so keep-alive/cancel batching can
// find it later. Rather than publish to the bus directly, it offers onto
// the worker's bounded pipeline for this lane — req and stream each keep an
// independent send-to-any lane, and stream additionally has a send-to-addr
// lane — so every backend write passes through the same single-slot
// pending/writable-gate backpressure tick() drains in step 8.
type connSender struct {
	w *Worker
	c *Connection
	s *slab
}

func (cs *connSender) SendAny(payload []byte) error {
	env, err := EncodeEnvelope([]string{cs.c.ID}, payload)
	if err != nil {
		return err
	}

	pipe := cs.w.reqPipeline
	if cs.s.mode == protocol.ModeStream {
		pipe = cs.w.streamAnyPipeline
	}
	if !pipe.offer(sendMsg{payload: env}) {
		return ErrorSendQueueFull.Error(nil)
	}
	return nil
}

func (cs *connSender) SendAddr(addr string, payload []byte) error {
	env, err := EncodeEnvelope([]string{cs.c.ID}, payload)
	if err != nil {
		return err
	}
	if cs.s.mode == protocol.ModeStream {
		cs.w.shared.Get(cs.c.SlotKey).ToAddr = addr
	}
	framed := bus.FrameStream(cs.w.busc.InstanceID(), env)
	if !cs.w.streamAddrPipeline.offer(sendMsg{addr: addr, payload: framed}) {
		return ErrorSendQueueFull.Error(nil)
	}
	return nil
}

func (w *Worker) publishAny(msg sendMsg) error {
	return w.busc.PublishAny(msg.payload)
}

func (w *Worker) publishAddr(msg sendMsg) error {
	return w.busc.PublishAddr(msg.addr, msg.payload)
}

// Run drives the reactor until ctx is cancelled, then performs the
// shutdown cancel-flush before returning. A background goroutine forwards
// ctx's cancellation onto stopWake so a tick blocked in poll.Wait notices
// it immediately rather than waiting out the rest of its timeout.
func (w *Worker) Run(ctx context.Context) error {
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			w.stopWake.Signal()
		case <-stopped:
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return w.shutdown()
		default:
		}

		w.tick()

		if w.isDraining() && len(w.req.free) == len(w.req.conns) && len(w.stream.free) == len(w.stream.conns) {
			return w.shutdown()
		}
	}
}

// tick runs the ten steps of one event-loop iteration: advance timers,
// accept, bus intake, fan-out drain, process step, keep-alive batching,
// batch emission, backend write pumps, decide the poll timeout, and poll.
func (w *Worker) tick() {
	now := time.Now()
	w.tickCount++
	nowTick := w.tickCount

	if w.met != nil {
		defer func(start time.Time) {
			w.met.TickDuration.WithLabelValues(strconv.Itoa(w.id)).Observe(time.Since(start).Seconds())
		}(now)
	}

	// 1. advance timers
	w.expireTimers(now, nowTick, w.req)
	w.expireTimers(now, nowTick, w.stream)

	// 2. accept
	if !w.isDraining() {
		w.admit(protocol.ModeReq, w.acceptReq)
		w.admit(protocol.ModeStream, w.acceptStrm)
	}

	// 3. bus intake
	w.busIntake(w.req, w.inboundReq)
	w.busIntake(w.stream, w.inboundStrm)

	// 4. fan-out drain
	w.req.router.Drain(w.req.conns)
	w.markInboxPending(w.req)
	w.stream.router.Drain(w.stream.conns)
	w.markInboxPending(w.stream)

	// TLS connections have no poller registration of their own (their
	// handshake/record layer runs on a dedicated goroutine pair over the
	// raw fd — see tlsSocket), so give each one a stepConnection chance
	// every tick instead of waiting on an epoll event that will never come.
	w.markTLSPending(w.req)
	w.markTLSPending(w.stream)

	// 5. process step
	w.processStep(now)

	// 6. keep-alive batching
	if skipped := w.keepAlive.Tick(now, w.stream.conns, w.shared); skipped && w.log != nil {
		w.log.Warning("worker %d: keep-alive scan fell behind, dropped a stale interval", w.id)
	}

	// 7. batch emission
	w.emitKeepAliveGroup()

	// 8. backend write pumps: drain each bounded pipeline's single-slot
	// holder while its writable gate stays open. Connections only ever
	// offer onto these queues (see connSender); this is the one place any
	// of the three lanes actually reaches the bus.
	w.reqPipeline.drain(w.publishAny)
	w.streamAnyPipeline.drain(w.publishAny)
	w.streamAddrPipeline.drain(w.publishAddr)

	// 9. decide poll timeout
	timeout := w.decidePollTimeout(now)

	// 10. poll
	events, err := w.poll.Wait(w.events[:0], timeout)
	if err != nil && w.log != nil {
		w.log.Warning("worker %d: poll wait failed: %s", w.id, err.Error())
	}

	// The two reserved wake tokens carry no connection slot to dispatch to;
	// drain their eventfds here and keep only genuine socket events for
	// processStep's next pass.
	filtered := events[:0]
	for _, ev := range events {
		switch ev.Token {
		case tokenBusWake:
			w.busWake.Drain()
		case tokenStopWake:
			w.stopWake.Drain()
		default:
			filtered = append(filtered, ev)
		}
	}
	w.events = filtered
}

// markTLSPending marks every live TLS-backed connection in s as pending so
// processStep drives its FSM this tick regardless of poller activity.
func (w *Worker) markTLSPending(s *slab) {
	for _, c := range s.conns {
		if c != nil && c.Live && c.IsTLS {
			s.pending.Add(c.SlotKey)
		}
	}
}

func (w *Worker) expireTimers(now time.Time, nowTick int64, s *slab) {
	for _, key := range s.timers.TakeExpired(nowTick) {
		c := s.conns[key]
		if c != nil && c.Live {
			c.TimerArmed = false
			s.pending.Add(key)
		}
	}
}

func (w *Worker) markInboxPending(s *slab) {
	for _, c := range s.conns {
		if c != nil && c.Live && c.Inbox.has {
			s.pending.Add(c.SlotKey)
		}
	}
}

// busIntake reads at most one new backend message for s's mode, iff its
// router isn't already fanning out a prior one, and reserves it for
// delivery. Stream-mode messages carry the "<instance_id> " framing prefix;
// a mismatch is dropped with a warning rather than risking cross-instance
// delivery.
func (w *Worker) busIntake(s *slab, ch chan []byte) {
	if s.router.HasPending() {
		return
	}

	var raw []byte
	select {
	case raw = <-ch:
	default:
		return
	}

	if s.mode == protocol.ModeStream {
		payload, ok := bus.UnframeStream(w.busc.InstanceID(), raw)
		if !ok {
			if w.log != nil {
				w.log.Warning("worker %d: dropped a stream message with a mismatched instance prefix", w.id)
			}
			return
		}
		raw = payload
	}

	env, err := DecodeEnvelope(raw)
	if err != nil {
		if w.log != nil {
			w.log.Warning("worker %d: dropped an unparsable bus envelope: %s", w.id, err.Error())
		}
		return
	}

	s.router.Intake(env.Payload, env.IDs, s.conns)
}

// processStep converts the previous tick's poll results into each slab's
// pending set, then drives every pending connection's FSM exactly once.
func (w *Worker) processStep(now time.Time) {
	for _, ev := range w.events {
		mode, slot, _ := decodeToken(ev.Token)
		s := w.slabFor(mode)
		if slot < 0 || slot >= len(s.conns) {
			continue
		}
		s.pending.Add(slot)
	}

	for _, s := range [...]*slab{w.req, w.stream} {
		for {
			slot, ok := s.pending.Take()
			if !ok {
				break
			}
			c := s.conns[slot]
			if c == nil || !c.Live {
				continue
			}
			w.stepConnection(s, c, now)
		}
	}
}

// stepConnection applies a waiting inbox message (if any), drives the FSM
// one tick, reconciles its poller registration and timer against the
// returned Want, and tears the connection down on Finished/error/peer close.
func (w *Worker) stepConnection(s *slab, c *Connection, now time.Time) {
	if msg, ok := c.Inbox.TryRecv(); ok {
		if err := c.FSM.ApplyResponse(msg); err != nil && w.log != nil {
			w.log.Warning("worker %d: ApplyResponse failed for %s: %s", w.id, c.ID, err.Error())
		}
		if c.FanoutLoc == fanoutWaiting {
			s.router.Rearm(c.SlotKey, s.conns)
		}
	}

	want, status, err := c.FSM.Process(now, c.Stream, w.packetBuf[:0], w.tmpBuf, &connSender{w: w, c: c, s: s})
	if err != nil || status == protocol.Finished || streamPeerClosed(c.Stream) {
		w.teardown(s, c)
		return
	}

	if status == protocol.Ready {
		id, err := NewSessionID(w.id, c.SlotKey)
		if err != nil {
			w.teardown(s, c)
			return
		}
		c.ID = id
		if err := c.FSM.Start(id); err != nil {
			w.teardown(s, c)
			return
		}
		if s.mode == protocol.ModeStream {
			w.shared.Reset(c.SlotKey)
		}
		want = protocol.Want{SockRead: true}
	}

	c.Want = want
	if sock, ok := c.Stream.(*rawSocket); ok {
		if err := w.poll.Modify(sock.fd, encodeToken(s.mode, c.SlotKey, SubtokSockRead), want.SockRead, want.SockWrite); err != nil && w.log != nil {
			w.log.Warning("worker %d: poll modify failed for %s: %s", w.id, c.ID, err.Error())
		}
	}
	// A tlsSocket has no poller registration to modify: markTLSPending
	// already guarantees it another stepConnection call next tick.

	if want.HasTimeout {
		ticks := int64(want.Timeout/time.Millisecond) / TickDurationMs
		if ticks < 1 {
			ticks = 1
		}
		s.timers.Arm(c.SlotKey, w.tickCount+ticks)
		c.TimerArmed = true
	} else if c.TimerArmed {
		s.timers.Cancel(c.SlotKey)
		c.TimerArmed = false
	}
}

// streamPeerClosed reports the authoritative "really done" signal a
// Connection.Stream carries, distinct from the ordinary try-again-later
// (0, io.EOF) both rawSocket and tlsSocket report when nothing is ready
// yet. Streams that implement neither peerClosed shape (there are none in
// this package today) are treated as never closed.
func streamPeerClosed(stream interface{}) bool {
	switch s := stream.(type) {
	case *rawSocket:
		return s.peerClosed
	case *tlsSocket:
		return s.PeerClosed()
	default:
		return false
	}
}

type keepAlivePacket struct {
	Kind string   `json:"kind"`
	IDs  []string `json:"ids"`
}

// emitKeepAliveGroup pops and sends at most one address group per tick from
// the keep-alive batch, bounding how much bulk-packet work one tick can do.
func (w *Worker) emitKeepAliveGroup() {
	_, _ = w.sendBatchGroup(w.keepAlive.TakeGroup, "keep-alive", true)
}

// sendBatchGroup is shared by keep-alive emission and the shutdown cancel
// flush: both pop one address group, serialize it as a bulk request, and
// publish it toward the backend the group's connections are pinned to. The
// returned error is the bus publish failure, if any; keep-alive emission
// only logs it, while shutdown's cancel flush collects it into its pool.
func (w *Worker) sendBatchGroup(take func(func(int) (string, uint64)) (string, []Snapshot, bool), kind string, advanceSeq bool) (bool, error) {
	addr, ids, ok := take(func(ckey int) (string, uint64) {
		c := w.stream.conns[ckey]
		return c.ID, c.OutSeq
	})
	if !ok {
		return false, nil
	}

	if w.met != nil {
		w.met.BatchSize.WithLabelValues(strconv.Itoa(w.id), kind).Observe(float64(len(ids)))
	}

	snapshotIDs := make([]string, len(ids))
	for i, s := range ids {
		snapshotIDs[i] = s.ID
	}

	payload, err := json.Marshal(keepAlivePacket{Kind: kind, IDs: snapshotIDs})
	if err != nil {
		return true, nil
	}
	env, err := EncodeEnvelope(snapshotIDs, payload)
	if err != nil {
		return true, nil
	}
	framed := bus.FrameStream(w.busc.InstanceID(), env)
	var pubErr error
	if err := w.busc.PublishAddr(addr, framed); err != nil {
		pubErr = fmt.Errorf("worker %d: %s publish to %s failed: %w", w.id, kind, addr, err)
		if w.log != nil {
			w.log.Warning("%s", pubErr.Error())
		}
	}

	if advanceSeq {
		for _, s := range ids {
			w.stream.conns[s.Key].OutSeq++
		}
		w.keepAlive.ClearAfterGroup(w.stream.conns)
	}
	return true, pubErr
}

// decidePollTimeout returns 0 immediately if there is work this tick could
// do without waiting on a poller event at all (hasImmediateWork), shortens
// PollTimeoutMax to the timer-wheel tick duration whenever either slab has
// an armed timer, so expirations are never discovered more than one tick
// late, and otherwise lets the poller block for up to PollTimeoutMax.
func (w *Worker) decidePollTimeout(now time.Time) int {
	if w.hasImmediateWork() {
		return 0
	}
	if w.req.timers.ArmedCount() > 0 || w.stream.timers.ArmedCount() > 0 {
		return TickDurationMs
	}
	return int(PollTimeoutMax / time.Millisecond)
}

// hasImmediateWork reports whether any later step would find buffered work
// to do without a poller event to drive it: a queued accept, a fan-out
// still delivering, a bus message sitting in inboundReq/inboundStrm, a
// keep-alive/cancel batch ready to emit, or a backend-write pipeline with
// something held or queued. Mirrors the disjunction the reactor this was
// translated from evaluates before computing its own poll timeout, so a
// burst of buffered work drains tick after tick with a zero timeout
// instead of trickling out one item per PollTimeoutMax.
func (w *Worker) hasImmediateWork() bool {
	if !w.isDraining() && (len(w.acceptReq) > 0 || len(w.acceptStrm) > 0) {
		return true
	}
	if w.req.router.HasSendWork() || w.stream.router.HasSendWork() {
		return true
	}
	if len(w.inboundReq) > 0 || len(w.inboundStrm) > 0 {
		return true
	}
	if w.keepAlive.HasPendingBatch() {
		return true
	}
	if w.reqPipeline.hasWork() || w.streamAnyPipeline.hasWork() || w.streamAddrPipeline.hasWork() {
		return true
	}
	return false
}

// shutdown runs the cancel flush (§4.4): every live stream connection with a
// known backend address is regrouped by address and sent a "cancel" bulk
// request, ten milliseconds apart, so backends can release state for
// sessions this process is about to drop. Every failure along the way
// (a cancel group that failed to publish, an unsubscribe error, the final
// poller close) is collected rather than the first one winning, since a
// shutdown path that stops at the first error leaves later steps
// (unsubscribing, closing the poller fd) undone.
func (w *Worker) shutdown() error {
	errs := pool.New()

	cancel := BuildCancelBatch(w.stream.conns, w.shared)
	for cancel.Len() > 0 {
		if _, err := w.sendBatchGroup(cancel.TakeGroup, "cancel", false); err != nil {
			errs.Add(err)
		}
		time.Sleep(TickDurationMs * time.Millisecond)
	}

	if w.busSubReq != nil {
		if err := w.busSubReq.Unsubscribe(); err != nil {
			errs.Add(fmt.Errorf("worker %d: unsubscribe req: %w", w.id, err))
		}
	}
	if w.busSubStrm != nil {
		if err := w.busSubStrm.Unsubscribe(); err != nil {
			errs.Add(fmt.Errorf("worker %d: unsubscribe stream: %w", w.id, err))
		}
	}
	_ = w.busWake.Close()
	_ = w.stopWake.Close()

	if err := w.poll.Close(); err != nil {
		errs.Add(err)
	}

	return errs.Error()
}
