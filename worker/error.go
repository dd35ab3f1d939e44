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

import "github.com/nabbar/zproxy/errors"

const (
	ErrorSlabFull errors.CodeError = iota + errors.MinPkgWorker
	ErrorSlotReuse
	ErrorArenaExhausted
	ErrorInboxDisconnected
	ErrorInvariant
	ErrorSendQueueFull
)

func init() {
	errors.RegisterIdFctMessage(ErrorSlabFull, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case errors.UNK_ERROR:
		return ""
	case ErrorSlabFull:
		return "connection slab is full"
	case ErrorSlotReuse:
		return "session id does not match the connection currently holding this slot"
	case ErrorArenaExhausted:
		return "response arena exhausted"
	case ErrorInboxDisconnected:
		return "connection inbox disconnected"
	case ErrorInvariant:
		return "internal invariant violated"
	case ErrorSendQueueFull:
		return "backend send pipeline is full"
	}

	return ""
}
