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

// TickDurationMs is the timer wheel's tick granularity.
const TickDurationMs = 10

// TimerWheel maps (expiry tick, slot key) to a due-entry slot, one timer per
// key at a time (a prior registration is implicitly replaced by Arm, so
// callers get idempotent "remove before add" semantics for free). Every
// connection's timer shares one pool of intrusive-list nodes the same way
// the fan-out lists and batch queues do, since a key is armed in at most one
// bucket at a time.
type TimerWheel struct {
	pool       *nodePool
	buckets    []*IntrusiveList
	wheelSize  int
	keyExpiry  []int64
	lastTick   int64
	armedCount int
}

// NewTimerWheel allocates a wheel over a key domain of size capacity (the
// worker's full connection slab) with wheelSize buckets. wheelSize must
// exceed the longest delay ever armed (in ticks) or expiries silently
// collide into the wrong bucket.
func NewTimerWheel(capacity, wheelSize int) *TimerWheel {
	pool := newNodePool(capacity)
	buckets := make([]*IntrusiveList, wheelSize)
	for i := range buckets {
		buckets[i] = NewIntrusiveList(pool)
	}
	expiry := make([]int64, capacity)
	for i := range expiry {
		expiry[i] = -1
	}
	return &TimerWheel{
		pool:      pool,
		buckets:   buckets,
		wheelSize: wheelSize,
		keyExpiry: expiry,
	}
}

// Arm schedules key to expire at expiryTick, replacing any timer already
// held by key.
func (w *TimerWheel) Arm(key int, expiryTick int64) {
	w.Cancel(key)
	idx := int(expiryTick % int64(w.wheelSize))
	w.buckets[idx].PushBack(key)
	w.keyExpiry[key] = expiryTick
	w.armedCount++
}

// Cancel removes key's timer, if any. No-op if key has none armed.
func (w *TimerWheel) Cancel(key int) {
	if w.keyExpiry[key] < 0 {
		return
	}
	idx := int(w.keyExpiry[key] % int64(w.wheelSize))
	w.buckets[idx].Remove(key)
	w.keyExpiry[key] = -1
	w.armedCount--
}

// Armed reports whether key currently has a pending timer.
func (w *TimerWheel) Armed(key int) bool {
	return w.keyExpiry[key] >= 0
}

// ArmedCount reports how many keys currently have a pending timer, letting
// the event loop decide whether it can safely poll with a long timeout.
func (w *TimerWheel) ArmedCount() int {
	return w.armedCount
}

// TakeExpired advances the wheel from its last processed tick up to
// nowTick (inclusive) and returns every slot key whose timer fell due in
// that span, in the tick order they expired.
func (w *TimerWheel) TakeExpired(nowTick int64) []int {
	if nowTick <= w.lastTick {
		return nil
	}

	steps := nowTick - w.lastTick
	if steps > int64(w.wheelSize) {
		// A gap this long has already swept past every bucket at least
		// once; cap the walk since nothing more can be collected beyond it.
		steps = int64(w.wheelSize)
	}

	var expired []int
	for i := int64(1); i <= steps; i++ {
		tick := w.lastTick + i
		bucket := w.buckets[tick%int64(w.wheelSize)]
		for {
			key, ok := bucket.PopFront()
			if !ok {
				break
			}
			w.keyExpiry[key] = -1
			w.armedCount--
			expired = append(expired, key)
		}
	}

	w.lastTick = nowTick
	return expired
}
