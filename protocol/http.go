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

package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"strings"
)

// Request is a minimally parsed HTTP/1.x request line plus headers.
type Request struct {
	Method  string
	Path    string
	Version string
	Headers map[string]string
}

var errIncomplete = errors.New("protocol: incomplete request")

// Header returns the header named key (case-insensitive), or "".
func (r *Request) Header(key string) string {
	return r.Headers[strings.ToLower(key)]
}

// IsWebSocketUpgrade reports whether the request carries the Upgrade:
// websocket handshake headers.
func (r *Request) IsWebSocketUpgrade() bool {
	return strings.EqualFold(r.Header("upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header("connection")), "upgrade")
}

// parseRequest reads one full HTTP/1.x request (request line + headers,
// terminated by a blank line) from br. It returns errIncomplete if br does
// not yet hold a full header block, the caller's cue to try again once more
// bytes have arrived.
func parseRequest(br *bufio.Reader) (*Request, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, errors.New("protocol: malformed request line")
	}

	req := &Request{
		Method:  parts[0],
		Path:    parts[1],
		Version: strings.TrimSpace(parts[2]),
		Headers: make(map[string]string),
	}

	for {
		hl, err := readLine(br)
		if err != nil {
			return nil, err
		}
		if hl == "" {
			break
		}
		k, v, ok := strings.Cut(hl, ":")
		if !ok {
			continue
		}
		req.Headers[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	return req, nil
}

// readLine reads one CRLF- or LF-terminated line, trimmed of its terminator.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", errIncomplete
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ResponsePayload is the minimal wire format a backend handler's bus
// response is decoded from: just enough to render a status line, headers,
// and body back to the client.
type ResponsePayload struct {
	Code    int               `json:"code"`
	Reason  string            `json:"reason"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body"`
}

// DecodeResponsePayload unmarshals a backend message payload into a ResponsePayload.
func DecodeResponsePayload(payload []byte) (ResponsePayload, error) {
	var rp ResponsePayload
	if err := json.Unmarshal(payload, &rp); err != nil {
		return ResponsePayload{}, err
	}
	return rp, nil
}

// EncodeResponsePayload is the inverse of DecodeResponsePayload, used by
// test handlers and reference backends to produce a BackendMessage payload.
func EncodeResponsePayload(rp ResponsePayload) []byte {
	b, _ := json.Marshal(rp)
	return b
}

// RenderHTTPResponse writes rp as an HTTP/1.x status line + headers + body,
// adding Content-Length when the caller hasn't set one explicitly.
func RenderHTTPResponse(version string, rp ResponsePayload) []byte {
	var b strings.Builder
	b.WriteString(version)
	b.WriteByte(' ')
	if rp.Reason == "" {
		rp.Reason = "OK"
	}
	b.WriteString(itoa(rp.Code))
	b.WriteByte(' ')
	b.WriteString(rp.Reason)
	b.WriteString("\r\n")

	if _, ok := rp.Headers["Content-Length"]; !ok {
		b.WriteString("Content-Length: ")
		b.WriteString(itoa(len(rp.Body)))
		b.WriteString("\r\n")
	}
	for k, v := range rp.Headers {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.Write(rp.Body)
	return []byte(b.String())
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
