package logger

// Entry is a chainable log builder carrying extra fields for a single call site.
type Entry interface {
	Add(key string, val interface{}) Entry
	Debug(message string, args ...interface{})
	Info(message string, args ...interface{})
	Warning(message string, args ...interface{})
	Error(message string, args ...interface{})
	Fatal(message string, args ...interface{})
	Panic(message string, args ...interface{})
}

type entry struct {
	l *logger
	f Fields
}

func (e *entry) Add(key string, val interface{}) Entry {
	e.f = e.f.Add(key, val)
	return e
}

func (e *entry) log(lvl Level, message string, args ...interface{}) {
	e.l.logWith(lvl, e.f, message, args...)
}

func (e *entry) Debug(message string, args ...interface{})   { e.log(DebugLevel, message, args...) }
func (e *entry) Info(message string, args ...interface{})    { e.log(InfoLevel, message, args...) }
func (e *entry) Warning(message string, args ...interface{}) { e.log(WarnLevel, message, args...) }
func (e *entry) Error(message string, args ...interface{})   { e.log(ErrorLevel, message, args...) }
func (e *entry) Fatal(message string, args ...interface{})   { e.log(FatalLevel, message, args...) }
func (e *entry) Panic(message string, args ...interface{})   { e.log(PanicLevel, message, args...) }
