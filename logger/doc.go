// Package logger provides a compact, logrus-backed structured logger used by every
// component of this module: worker event loops, the bus client, and the TLS layer.
//
// A Logger carries a minimal Level, a default Fields set merged into every entry, and
// zero or more sinks configured through Options (stdout, log files). Call sites
// that need a stdlib *log.Logger (e.g. to satisfy an API expecting one) can obtain one
// through GetStdLogger or the package-level GetLogger helper.
package logger
