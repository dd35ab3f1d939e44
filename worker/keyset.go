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

// KeySet is a deduping FIFO of slot keys "needing process". Add is a no-op
// if the key is already queued; Take yields keys in the order they were
// first added. Capacity is fixed at construction to the worker's total
// connection budget, matching the single pre-sized slab the rest of the
// worker's state lives in.
type KeySet struct {
	queued []int  // ring buffer of pending keys
	head   int    // next index to take
	count  int    // number of keys currently queued
	member []bool // member[key] true iff key is currently queued
}

// NewKeySet allocates a KeySet able to hold every key in [0, capacity).
func NewKeySet(capacity int) *KeySet {
	return &KeySet{
		queued: make([]int, capacity),
		member: make([]bool, capacity),
	}
}

// Add marks key as needing process. No-op if already queued.
func (k *KeySet) Add(key int) {
	if k.member[key] {
		return
	}
	k.member[key] = true
	tail := (k.head + k.count) % len(k.queued)
	k.queued[tail] = key
	k.count++
}

// Take pops the oldest queued key. ok is false if the set is empty.
func (k *KeySet) Take() (key int, ok bool) {
	if k.count == 0 {
		return 0, false
	}
	key = k.queued[k.head]
	k.head = (k.head + 1) % len(k.queued)
	k.count--
	k.member[key] = false
	return key, true
}

// Len reports how many keys are currently queued.
func (k *KeySet) Len() int {
	return k.count
}

// Contains reports whether key is currently queued.
func (k *KeySet) Contains(key int) bool {
	return k.member[key]
}
