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

import "github.com/nabbar/zproxy/bus"

// IDsPerGroup bounds how many session ids take_group packs into one group,
// matching the codec's per-packet id limit.
const IDsPerGroup = bus.IDSMax

// Snapshot is one connection's (id, seq) pair as captured by take_group at
// the moment its packet is about to be serialized.
type Snapshot struct {
	Key int
	ID  string
	Seq uint64
}

// Batch groups slot keys by backend address for bulk keep-alive/cancel
// packets. A key sits in at most one batch at a time; capacity bounds the
// total number of keys the batch may hold across every address.
type Batch struct {
	pool      *nodePool
	capacity  int
	size      int
	addrOrder []string
	addrLists map[string]*IntrusiveList
	addrIndex map[string]int
	cursor    int
	keyAddr   []string

	lastGroupCkeys []int
}

// NewBatch allocates a Batch over a key domain of size capacity (the
// worker's stream-mode connection budget).
func NewBatch(capacity int) *Batch {
	return &Batch{
		pool:      newNodePool(capacity),
		capacity:  capacity,
		addrLists: make(map[string]*IntrusiveList),
		addrIndex: make(map[string]int),
		keyAddr:   make([]string, capacity),
	}
}

// Len reports the total number of keys currently batched, across every address.
func (b *Batch) Len() int {
	return b.size
}

// Add inserts ckey into addr's queue. Returns false if the batch is at
// capacity; the caller must not have ckey already present in any batch.
func (b *Batch) Add(addr string, ckey int) bool {
	if b.size >= b.capacity {
		return false
	}

	list, ok := b.addrLists[addr]
	if !ok {
		list = NewIntrusiveList(b.pool)
		b.addrLists[addr] = list
		b.addrIndex[addr] = len(b.addrOrder)
		b.addrOrder = append(b.addrOrder, addr)
	}

	list.PushBack(ckey)
	b.keyAddr[ckey] = addr
	b.size++
	return true
}

// Remove detaches ckey from whichever address queue holds it. No-op if ckey
// is not currently batched.
func (b *Batch) Remove(ckey int) {
	addr := b.keyAddr[ckey]
	if addr == "" {
		return
	}

	list := b.addrLists[addr]
	list.Remove(ckey)
	b.keyAddr[ckey] = ""
	b.size--

	if list.Empty() {
		b.dropAddr(addr)
	}
}

// TakeGroup advances the round-robin address cursor and pops up to
// IDsPerGroup keys from the current address's queue, calling getIDs for
// each to capture its (id, seq) snapshot. The dequeued keys are recorded in
// LastGroupCkeys. ok is false once every address queue is empty, at which
// point the batch has self-cleared.
func (b *Batch) TakeGroup(getIDs func(ckey int) (id string, seq uint64)) (addr string, ids []Snapshot, ok bool) {
	b.lastGroupCkeys = b.lastGroupCkeys[:0]

	for attempts := 0; attempts < len(b.addrOrder)+1; attempts++ {
		if len(b.addrOrder) == 0 {
			b.clear()
			return "", nil, false
		}

		b.cursor %= len(b.addrOrder)
		curAddr := b.addrOrder[b.cursor]
		list := b.addrLists[curAddr]

		if list.Empty() {
			b.dropAddr(curAddr)
			continue
		}

		for len(ids) < IDsPerGroup {
			key, has := list.PopFront()
			if !has {
				break
			}
			id, seq := getIDs(key)
			ids = append(ids, Snapshot{Key: key, ID: id, Seq: seq})
			b.lastGroupCkeys = append(b.lastGroupCkeys, key)
			b.keyAddr[key] = ""
			b.size--
		}

		addr = curAddr
		if list.Empty() {
			b.dropAddr(curAddr)
		} else {
			b.cursor = (b.cursor + 1) % len(b.addrOrder)
		}
		return addr, ids, true
	}

	b.clear()
	return "", nil, false
}

// LastGroupCkeys returns the slot keys dequeued by the most recent TakeGroup
// call, for the caller to advance per-connection out_seq/keep_alive state.
func (b *Batch) LastGroupCkeys() []int {
	return b.lastGroupCkeys
}

func (b *Batch) dropAddr(addr string) {
	idx, ok := b.addrIndex[addr]
	if !ok {
		return
	}
	last := len(b.addrOrder) - 1
	b.addrOrder[idx] = b.addrOrder[last]
	b.addrIndex[b.addrOrder[idx]] = idx
	b.addrOrder = b.addrOrder[:last]

	delete(b.addrIndex, addr)
	delete(b.addrLists, addr)

	if len(b.addrOrder) == 0 {
		b.cursor = 0
	} else if b.cursor >= len(b.addrOrder) {
		b.cursor = 0
	}
}

func (b *Batch) clear() {
	b.addrOrder = b.addrOrder[:0]
	b.addrLists = make(map[string]*IntrusiveList)
	b.addrIndex = make(map[string]int)
	b.cursor = 0
	b.size = 0
	for i := range b.keyAddr {
		b.keyAddr[i] = ""
	}
}
