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

const noNode = -1

// nodePool is the shared prev/next storage backing every IntrusiveList drawn
// over the same key domain. Because a slot key is a member of at most one
// list at a time (the fan-out sending/waiting pair, or one batch address
// queue), every list sharing a pool can safely reuse the same index-based
// node for a given key instead of allocating its own.
type nodePool struct {
	prev []int
	next []int
}

func newNodePool(capacity int) *nodePool {
	p := &nodePool{
		prev: make([]int, capacity),
		next: make([]int, capacity),
	}
	for i := range p.prev {
		p.prev[i] = noNode
		p.next[i] = noNode
	}
	return p
}

// linked reports whether key currently sits in some list drawn over this pool.
func (p *nodePool) linked(key int, head int) bool {
	return head == key || p.prev[key] != noNode || p.next[key] != noNode
}

// IntrusiveList is a FIFO view (head=oldest, tail=newest) over a shared
// nodePool. PushBack/Remove/PopFront are O(1); no allocation.
type IntrusiveList struct {
	pool *nodePool
	head int
	tail int
	size int
}

// NewIntrusiveList creates an empty list drawn over pool.
func NewIntrusiveList(pool *nodePool) *IntrusiveList {
	return &IntrusiveList{pool: pool, head: noNode, tail: noNode}
}

// Empty reports whether the list holds no keys.
func (l *IntrusiveList) Empty() bool {
	return l.size == 0
}

// Len reports the number of keys currently in the list.
func (l *IntrusiveList) Len() int {
	return l.size
}

// PushBack appends key. The caller must ensure key is not already linked
// into any list sharing this pool.
func (l *IntrusiveList) PushBack(key int) {
	l.pool.prev[key] = l.tail
	l.pool.next[key] = noNode

	if l.tail != noNode {
		l.pool.next[l.tail] = key
	} else {
		l.head = key
	}
	l.tail = key
	l.size++
}

// PopFront removes and returns the oldest key. ok is false if empty.
func (l *IntrusiveList) PopFront() (key int, ok bool) {
	if l.head == noNode {
		return 0, false
	}
	key = l.head
	l.remove(key)
	return key, true
}

// Front returns the oldest key without removing it.
func (l *IntrusiveList) Front() (key int, ok bool) {
	if l.head == noNode {
		return 0, false
	}
	return l.head, true
}

// Remove detaches key from the list. No-op if key is not the head, tail, or
// linked between two other members of *this* list (callers only ever remove
// keys they know are present).
func (l *IntrusiveList) Remove(key int) {
	l.remove(key)
}

func (l *IntrusiveList) remove(key int) {
	prev := l.pool.prev[key]
	next := l.pool.next[key]

	if prev != noNode {
		l.pool.next[prev] = next
	} else {
		l.head = next
	}
	if next != noNode {
		l.pool.prev[next] = prev
	} else {
		l.tail = prev
	}

	l.pool.prev[key] = noNode
	l.pool.next[key] = noNode
	l.size--
}

// Each calls fn for every key from oldest to newest.
func (l *IntrusiveList) Each(fn func(key int)) {
	for k := l.head; k != noNode; k = l.pool.next[k] {
		fn(k)
	}
}
