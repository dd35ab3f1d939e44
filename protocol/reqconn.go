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
	"errors"
	"io"
	"time"
)

type reqState int

const (
	reqAwaitingRequest reqState = iota
	reqAwaitingResponse
	reqDone
)

// ServerReqConnection is the reference req-mode FSM: parse one request,
// wait for exactly one backend response, write it, done. Req-mode
// connections never reach Ready — one request, one response, then close.
type ServerReqConnection struct {
	id      string
	state   reqState
	br      *bufio.Reader
	req     *Request
	pending *ResponsePayload
}

// NewServerReqConnection constructs an idle req-mode FSM.
func NewServerReqConnection() *ServerReqConnection {
	return &ServerReqConnection{}
}

func (c *ServerReqConnection) Start(id string) error {
	c.id = id
	c.state = reqAwaitingRequest
	c.br = nil
	c.req = nil
	c.pending = nil
	return nil
}

func (c *ServerReqConnection) ApplyResponse(msg BackendMessage) error {
	rp, err := DecodeResponsePayload(msg.Payload)
	if err != nil {
		return err
	}
	c.pending = &rp
	return nil
}

func (c *ServerReqConnection) Process(now time.Time, stream io.ReadWriter, packetBuf, tmpBuf []byte, out Sender) (Want, Status, error) {
	if c.br == nil {
		c.br = bufio.NewReader(stream)
	}

	switch c.state {
	case reqAwaitingRequest:
		req, err := parseRequest(c.br)
		if err == errIncomplete {
			return Want{SockRead: true}, Continue, nil
		}
		if err != nil {
			return Want{}, Finished, err
		}
		c.req = req
		c.state = reqAwaitingResponse

		if out != nil {
			_ = out.SendAny(packetBuf[:0])
		}
		return Want{}, Continue, nil

	case reqAwaitingResponse:
		if c.pending == nil {
			return Want{}, Continue, nil
		}
		out := RenderHTTPResponse(c.req.Version, *c.pending)
		if _, err := stream.Write(out); err != nil {
			return Want{}, Finished, err
		}
		c.state = reqDone
		return Want{}, Finished, nil

	default:
		return Want{}, Finished, errors.New("protocol: process called after finish")
	}
}
