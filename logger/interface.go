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
 */

package logger

import (
	"context"
	"io"
	"log"
)

// Logger is the main structured logging interface used across every package.
type Logger interface {
	io.WriteCloser

	// SetLevel changes the minimal level of log message accepted by the logger.
	SetLevel(lvl Level)
	// GetLevel returns the minimal level of log message accepted by the logger.
	GetLevel() Level

	// SetOptions sets or updates the sinks and formatting of the logger.
	SetOptions(opt *Options) error
	// GetOptions returns the current logger configuration.
	GetOptions() *Options

	// SetFields replaces the default fields attached to every entry.
	SetFields(f Fields)
	// GetFields returns a copy of the default fields.
	GetFields() Fields

	// Clone returns an independent logger sharing the same configuration.
	Clone() Logger

	// WithFields returns an Entry pre-populated with the given extra fields.
	WithFields(f Fields) Entry

	// GetStdLogger returns a standard library *log.Logger writing through this Logger at lvl.
	GetStdLogger(lvl Level, flags int) *log.Logger

	Debug(message string, args ...interface{})
	Info(message string, args ...interface{})
	Warning(message string, args ...interface{})
	Error(message string, args ...interface{})
	Fatal(message string, args ...interface{})
	Panic(message string, args ...interface{})

	// LogErrorCtxf logs err (if non-nil) at lvl, contextualized with ctx, returning true if logged.
	LogErrorCtxf(lvl Level, ctx string, err error) bool
}

// New returns a new Logger writing at InfoLevel to stdout, with no file sink configured.
func New(ctx context.Context) Logger {
	l := &logger{
		lvl: InfoLevel,
		fld: NewFields(),
		opt: &Options{},
	}
	l.rebuild()
	return l
}
