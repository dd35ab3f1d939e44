package logger

import "github.com/sirupsen/logrus"

// Fields is a set of key/value pairs attached to every entry emitted by a Logger.
type Fields map[string]interface{}

// NewFields returns a new empty Fields set.
func NewFields() Fields {
	return make(Fields)
}

// Add sets a key/value pair and returns the receiver for chaining.
func (f Fields) Add(key string, val interface{}) Fields {
	if f == nil {
		return f
	}
	f[key] = val
	return f
}

// Clone returns an independent copy of the fields set.
func (f Fields) Clone() Fields {
	n := make(Fields, len(f))
	for k, v := range f {
		n[k] = v
	}
	return n
}

// Merge copies every entry of o into the receiver, overwriting existing keys.
func (f Fields) Merge(o Fields) Fields {
	if f == nil || o == nil {
		return f
	}
	for k, v := range o {
		f[k] = v
	}
	return f
}

// Logrus converts the fields set to a logrus.Fields value.
func (f Fields) Logrus() logrus.Fields {
	r := make(logrus.Fields, len(f))
	for k, v := range f {
		r[k] = v
	}
	return r
}
