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
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/hashicorp/go-uuid"
)

// SessionIDMaxLen bounds the wire id at 32 ASCII bytes.
const SessionIDMaxLen = 32

// cidBytes is the random suffix width; 4 bytes (8 hex chars) leaves
// comfortable room under SessionIDMaxLen for realistic worker/slot digit
// counts while still making slot-reuse collisions practically impossible
// within one process lifetime.
const cidBytes = 4

// NewSessionID builds the wire id "<workerID>-<slotKey>-<cidHex>" for a
// freshly started (or restarted, after Ready) connection occupying slotKey.
func NewSessionID(workerID, slotKey int) (string, error) {
	raw, err := uuid.GenerateRandomBytes(cidBytes)
	if err != nil {
		return "", err
	}
	id := strconv.Itoa(workerID) + "-" + strconv.Itoa(slotKey) + "-" + hex.EncodeToString(raw)
	if len(id) > SessionIDMaxLen {
		return "", ErrorInvariant.Error()
	}
	return id, nil
}

// ParseSlotKey extracts the slot key (the integer between the first two
// '-' bytes) from a session id. ok is false if the id is malformed.
func ParseSlotKey(id string) (slotKey int, ok bool) {
	first := strings.IndexByte(id, '-')
	if first < 0 {
		return 0, false
	}
	rest := id[first+1:]
	second := strings.IndexByte(rest, '-')
	if second < 0 {
		return 0, false
	}

	n, err := strconv.Atoi(rest[:second])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// SessionIDMatches reports whether candidate is byte-identical to current,
// the slot-reuse guard used before fan-out delivery.
func SessionIDMatches(current, candidate string) bool {
	return current == candidate
}
