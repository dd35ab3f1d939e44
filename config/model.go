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

// Package config loads and validates the static configuration of a zproxy
// process: its listeners, per-worker connection budget, TLS identities, and
// the backend bus connection, via spf13/viper.
package config

import (
	"github.com/nabbar/zproxy/logger"
)

// Mode tags a listener as either single-shot request/response or long-lived streaming.
type Mode string

const (
	ModeReq    Mode = "req"
	ModeStream Mode = "stream"
)

// ListenerConfig describes one bound socket.
type ListenerConfig struct {
	Index           int    `mapstructure:"index" validate:"gte=0"`
	Mode            Mode   `mapstructure:"mode" validate:"required,oneof=req stream"`
	Address         string `mapstructure:"address" validate:"required,hostname_port"`
	TLS             bool   `mapstructure:"tls"`
	DefaultCertName string `mapstructure:"defaultCertName"`
}

// IdentityConfig describes one named TLS server identity.
type IdentityConfig struct {
	Name     string `mapstructure:"name" validate:"required"`
	CertFile string `mapstructure:"certFile" validate:"required"`
	KeyFile  string `mapstructure:"keyFile" validate:"required"`
}

// WorkerConfig governs the per-worker reactor's resource bounds.
type WorkerConfig struct {
	Count              int `mapstructure:"count" validate:"gte=1"`
	ReqMaxConn         int `mapstructure:"reqMaxConn" validate:"gte=0"`
	StreamMaxConn      int `mapstructure:"streamMaxConn" validate:"gte=0"`
	BufferSize         int `mapstructure:"bufferSize" validate:"gte=1024"`
	BodyBufferSize     int `mapstructure:"bodyBufferSize" validate:"gte=1024"`
	KeepAliveTimeoutMs int `mapstructure:"keepAliveTimeoutMs" validate:"gte=1000"`
}

// BusConfig configures the NATS connection used as the backend message bus.
type BusConfig struct {
	URL          string `mapstructure:"url" validate:"required"`
	AnySubject   string `mapstructure:"anySubject" validate:"required"`
	QueueGroup   string `mapstructure:"queueGroup" validate:"required"`
	InstanceID   string `mapstructure:"instanceId"`
	ReconnectMax int    `mapstructure:"reconnectMax" validate:"gte=-1"`
}

// LogConfig mirrors logger.Options for viper unmarshalling.
type LogConfig struct {
	Level  string          `mapstructure:"level"`
	Stdout *logger.OptionsStd `mapstructure:"stdout"`
}

// Config is the top-level, fully validated process configuration.
type Config struct {
	Listeners  []ListenerConfig `mapstructure:"listeners" validate:"required,min=1,dive"`
	Identities []IdentityConfig `mapstructure:"identities" validate:"dive"`
	Worker     WorkerConfig     `mapstructure:"worker" validate:"required"`
	Bus        BusConfig        `mapstructure:"bus" validate:"required"`
	Log        LogConfig        `mapstructure:"log"`
}

// ToLoggerOptions converts the Log section into logger.Options.
func (c *Config) ToLoggerOptions() *logger.Options {
	return &logger.Options{
		Level:  c.Log.Level,
		Stdout: c.Log.Stdout,
	}
}
