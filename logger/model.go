package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

type logger struct {
	mu  sync.RWMutex
	lvl Level
	fld Fields
	opt *Options
	log *logrus.Logger
	fil *os.File
}

func (o *logger) rebuild() {
	l := logrus.New()
	l.SetLevel(o.lvl.Logrus())
	l.SetOutput(io.Discard)

	var out io.Writer = io.Discard
	writers := make([]io.Writer, 0, 2)

	if o.opt.Stdout == nil || !o.opt.Stdout.DisableStandard {
		writers = append(writers, os.Stdout)
		l.SetFormatter(&logrus.TextFormatter{
			DisableColors:    o.opt.Stdout != nil && o.opt.Stdout.DisableColor,
			FullTimestamp:    true,
			DisableTimestamp: false,
		})
		if o.opt.Stdout != nil && o.opt.Stdout.EnableTrace {
			l.SetReportCaller(true)
		}
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	if o.fil != nil {
		_ = o.fil.Close()
		o.fil = nil
	}

	for _, f := range o.opt.LogFile {
		flags := os.O_APPEND | os.O_WRONLY
		if f.Create {
			flags |= os.O_CREATE
		}
		fh, e := os.OpenFile(f.Filepath, flags, 0644)
		if e == nil {
			o.fil = fh
			writers = append(writers, fh)
		}
	}

	if len(writers) > 0 {
		out = io.MultiWriter(writers...)
	}

	l.SetOutput(out)
	o.log = l
}

func (o *logger) SetLevel(lvl Level) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lvl = lvl
	if o.log != nil {
		o.log.SetLevel(lvl.Logrus())
	}
}

func (o *logger) GetLevel() Level {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lvl
}

func (o *logger) SetOptions(opt *Options) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if opt == nil {
		opt = &Options{}
	}
	if opt.Level != "" {
		o.lvl = GetLevelString(opt.Level)
	}
	o.opt = opt
	o.rebuild()
	return nil
}

func (o *logger) GetOptions() *Options {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.opt
}

func (o *logger) SetFields(f Fields) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fld = f.Clone()
}

func (o *logger) GetFields() Fields {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.fld.Clone()
}

func (o *logger) Clone() Logger {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := &logger{
		lvl: o.lvl,
		fld: o.fld.Clone(),
		opt: o.opt,
	}
	n.rebuild()
	return n
}

func (o *logger) WithFields(f Fields) Entry {
	o.mu.RLock()
	base := o.fld.Clone()
	o.mu.RUnlock()
	return &entry{l: o, f: base.Merge(f)}
}

func (o *logger) logWith(lvl Level, f Fields, message string, args ...interface{}) {
	o.mu.RLock()
	l := o.log
	cur := o.lvl
	o.mu.RUnlock()

	if l == nil || lvl > cur {
		return
	}

	msg := message
	if len(args) > 0 {
		msg = fmt.Sprintf(message, args...)
	}

	l.WithFields(f.Logrus()).Log(lvl.Logrus(), msg)
}

func (o *logger) Debug(message string, args ...interface{}) {
	o.logWith(DebugLevel, o.GetFields(), message, args...)
}
func (o *logger) Info(message string, args ...interface{}) {
	o.logWith(InfoLevel, o.GetFields(), message, args...)
}
func (o *logger) Warning(message string, args ...interface{}) {
	o.logWith(WarnLevel, o.GetFields(), message, args...)
}
func (o *logger) Error(message string, args ...interface{}) {
	o.logWith(ErrorLevel, o.GetFields(), message, args...)
}
func (o *logger) Fatal(message string, args ...interface{}) {
	o.logWith(FatalLevel, o.GetFields(), message, args...)
}
func (o *logger) Panic(message string, args ...interface{}) {
	o.logWith(PanicLevel, o.GetFields(), message, args...)
}

func (o *logger) LogErrorCtxf(lvl Level, ctx string, err error) bool {
	if err == nil {
		return false
	}
	o.logWith(lvl, o.GetFields(), "%s: %s", ctx, err.Error())
	return true
}

func (o *logger) Write(p []byte) (int, error) {
	o.Info(string(p))
	return len(p), nil
}

func (o *logger) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fil != nil {
		e := o.fil.Close()
		o.fil = nil
		return e
	}
	return nil
}

// GetStdLogger returns a standard library *log.Logger writing through this Logger at lvl.
func (o *logger) GetStdLogger(lvl Level, flags int) *log.Logger {
	return log.New(&levelWriter{l: o, lvl: lvl}, "", flags)
}

type levelWriter struct {
	l   *logger
	lvl Level
}

func (w *levelWriter) Write(p []byte) (int, error) {
	w.l.logWith(w.lvl, w.l.GetFields(), string(p))
	return len(p), nil
}
