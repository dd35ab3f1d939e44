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

import "encoding/json"

// BusEnvelope is the wire shape of every message crossing the bus in either
// direction: a single payload blob addressed to one or more session ids at
// once, mirroring the in-process router's "one allocation, N references"
// fan-out. A request envelope carries exactly one id (the sender's own); a
// backend response, keep-alive or cancel may carry many.
type BusEnvelope struct {
	IDs     []string `json:"ids"`
	Payload []byte   `json:"payload"`
}

// EncodeEnvelope serializes ids+payload for a bus publish.
func EncodeEnvelope(ids []string, payload []byte) ([]byte, error) {
	return json.Marshal(BusEnvelope{IDs: ids, Payload: payload})
}

// DecodeEnvelope parses a bus message back into its ids and shared payload.
func DecodeEnvelope(raw []byte) (BusEnvelope, error) {
	var env BusEnvelope
	err := json.Unmarshal(raw, &env)
	return env, err
}
