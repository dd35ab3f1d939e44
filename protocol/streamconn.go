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
	"io"
	"strings"
	"time"
)

type streamState int

const (
	streamAwaitingRequest streamState = iota
	streamAwaitingResponse
	streamWSActive
	streamWSClosing
	streamDone
)

// WSMessage is the bus wire shape for one WebSocket frame round-tripped
// through a backend handler once a connection has upgraded.
type WSMessage struct {
	Type    string `json:"type"`
	Payload []byte `json:"payload"`
}

const maxWSFramePayload = 1 << 20

// ServerStreamConnection is the reference stream-mode FSM: plain HTTP
// keep-alive (re-arms via Ready) or, once a client requests Upgrade:
// websocket, RFC 6455 frames forwarded one at a time through the backend bus.
type ServerStreamConnection struct {
	id      string
	state   streamState
	br      *bufio.Reader
	req     *Request
	pending *ResponsePayload
	wsMsg   *WSMessage
}

// NewServerStreamConnection constructs an idle stream-mode FSM.
func NewServerStreamConnection() *ServerStreamConnection {
	return &ServerStreamConnection{}
}

func (c *ServerStreamConnection) Start(id string) error {
	c.id = id
	c.state = streamAwaitingRequest
	c.br = nil
	c.req = nil
	c.pending = nil
	c.wsMsg = nil
	return nil
}

func (c *ServerStreamConnection) ApplyResponse(msg BackendMessage) error {
	if c.state == streamWSActive || c.state == streamWSClosing {
		var m WSMessage
		if err := json.Unmarshal(msg.Payload, &m); err != nil {
			return err
		}
		c.wsMsg = &m
		return nil
	}

	rp, err := DecodeResponsePayload(msg.Payload)
	if err != nil {
		return err
	}
	c.pending = &rp
	return nil
}

func (c *ServerStreamConnection) Process(now time.Time, stream io.ReadWriter, packetBuf, tmpBuf []byte, out Sender) (Want, Status, error) {
	if c.br == nil {
		c.br = bufio.NewReader(stream)
	}

	switch c.state {
	case streamAwaitingRequest:
		req, err := parseRequest(c.br)
		if err == errIncomplete {
			return Want{SockRead: true}, Continue, nil
		}
		if err != nil {
			return Want{}, Finished, err
		}
		c.req = req
		c.state = streamAwaitingResponse
		if out != nil {
			_ = out.SendAny(packetBuf[:0])
		}
		return Want{}, Continue, nil

	case streamAwaitingResponse:
		if c.pending == nil {
			return Want{}, Continue, nil
		}
		if c.req.IsWebSocketUpgrade() && c.pending.Code == 101 {
			resp := RenderUpgradeResponse(c.req.Header("sec-websocket-key"))
			if _, err := stream.Write(resp); err != nil {
				return Want{}, Finished, err
			}
			c.state = streamWSActive
			c.pending = nil
			return Want{SockRead: true}, Continue, nil
		}

		resp := RenderHTTPResponse(c.req.Version, *c.pending)
		if _, err := stream.Write(resp); err != nil {
			return Want{}, Finished, err
		}
		c.pending = nil

		if shouldClose(c.req) {
			return Want{}, Finished, nil
		}
		return Want{}, Ready, nil

	case streamWSActive:
		return c.processWS(stream, out)

	case streamWSClosing:
		return Want{}, Finished, nil

	default:
		return Want{}, Finished, errors.New("protocol: process called after finish")
	}
}

func (c *ServerStreamConnection) processWS(stream io.ReadWriter, out Sender) (Want, Status, error) {
	if c.wsMsg != nil {
		m := c.wsMsg
		c.wsMsg = nil

		switch m.Type {
		case "close":
			if err := WriteFrame(stream, OpClose, m.Payload); err != nil {
				return Want{}, Finished, err
			}
			return Want{}, Finished, nil
		case "pong":
			if err := WriteFrame(stream, OpPong, m.Payload); err != nil {
				return Want{}, Finished, err
			}
		case "ping":
			if err := WriteFrame(stream, OpPing, m.Payload); err != nil {
				return Want{}, Finished, err
			}
		case "binary":
			if err := WriteFrame(stream, OpBinary, m.Payload); err != nil {
				return Want{}, Finished, err
			}
		default:
			if err := WriteFrame(stream, OpText, m.Payload); err != nil {
				return Want{}, Finished, err
			}
		}
		return Want{SockRead: true}, Continue, nil
	}

	opcode, payload, err := ReadFrame(c.br, maxWSFramePayload)
	if err == io.EOF {
		return Want{}, Finished, nil
	}
	if err != nil {
		return Want{}, Finished, err
	}

	msg := WSMessage{Payload: payload}
	switch opcode {
	case OpPing:
		msg.Type = "ping"
	case OpClose:
		msg.Type = "close"
	case OpBinary:
		msg.Type = "binary"
	default:
		msg.Type = "text"
	}

	encoded, _ := json.Marshal(msg)
	if out != nil {
		_ = out.SendAny(encoded)
	}
	return Want{}, Continue, nil
}

func shouldClose(req *Request) bool {
	conn := strings.ToLower(req.Header("connection"))
	if conn == "close" {
		return true
	}
	if req.Version == "HTTP/1.0" && conn != "keep-alive" {
		return true
	}
	return false
}
