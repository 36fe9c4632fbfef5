/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package klog is the daemon's structured logger: an RFC5424-framed
// logger over one or more io.WriteCloser sinks plus fan-out Relays,
// adapted from the ingest daemon's logging package.
package klog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
	FATAL
)

const (
	defaultDepth = 3
	defaultID    = `kasd@1`

	maxAppname  = 48
	maxHostname = 255
)

var (
	ErrNotOpen      = errors.New("klog: logger is not open")
	ErrInvalidLevel = errors.New("klog: invalid log level")
)

// Relay receives every logged line in addition to the logger's writers
// (used to fan structured log output into, e.g., the backend audit
// trail without opening a second file descriptor).
type Relay interface {
	WriteLog(time.Time, []byte) error
}

// core holds the logger's actual sink state, shared by a Logger and
// every WithFields derivative of it so AddWriter/SetLevel affect them all.
type core struct {
	hostname string
	appname  string

	wtrs []io.WriteCloser
	rls  []Relay
	mtx  sync.Mutex
	lvl  Level
	hot  bool
}

// Logger is a handle onto a shared core plus a fixed set of
// structured-data fields (baseSDs) prepended to every record it
// writes. WithFields derives a connection- or workspace-scoped Logger
// without opening a second sink, the same *Logger type flowing through
// internal/session and internal/ticketmode either way.
type Logger struct {
	c       *core
	baseSDs []rfc5424.SDParam
}

// New creates a logger writing to wtr at level INFO, guessing hostname
// and process name the same way the ingest daemon does.
func New(wtr io.WriteCloser) *Logger {
	c := &core{wtrs: []io.WriteCloser{wtr}, lvl: INFO, hot: true}
	c.hostname, _ = os.Hostname()
	if len(c.hostname) > maxHostname {
		c.hostname = c.hostname[:maxHostname]
	}
	if args := os.Args; len(args) > 0 {
		exe := filepath.Base(args[0])
		if ext := filepath.Ext(exe); len(ext) > 0 && len(ext) < len(exe) {
			exe = strings.TrimSuffix(exe, ext)
		}
		if len(exe) > maxAppname {
			exe = exe[:maxAppname]
		}
		c.appname = exe
	}
	return &Logger{c: c}
}

// WithFields returns a Logger sharing this one's sinks and level but
// prepending sds to every record it writes, used to scope a logger to
// one connection (peer address, correlation id) or one workspace.
func (l *Logger) WithFields(sds ...rfc5424.SDParam) *Logger {
	merged := make([]rfc5424.SDParam, 0, len(l.baseSDs)+len(sds))
	merged = append(merged, l.baseSDs...)
	merged = append(merged, sds...)
	return &Logger{c: l.c, baseSDs: merged}
}

// NewFile opens (creating if absent, appending otherwise) f and
// returns a Logger writing to it.
func NewFile(f string) (*Logger, error) {
	fout, err := os.OpenFile(f, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}
	return New(fout), nil
}

func NewDiscardLogger() *Logger {
	return New(discardCloser{})
}

func (l *Logger) Close() (err error) {
	c := l.c
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if err = c.ready(); err != nil {
		return
	}
	c.hot = false
	for _, w := range c.wtrs {
		if cerr := w.Close(); cerr != nil {
			err = cerr
		}
	}
	return
}

func (c *core) ready() error {
	if !c.hot || (len(c.wtrs) == 0 && len(c.rls) == 0) {
		return ErrNotOpen
	}
	return nil
}

func (l *Logger) AddWriter(wtr io.WriteCloser) error {
	if wtr == nil {
		return errors.New("klog: nil writer")
	}
	c := l.c
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	c.wtrs = append(c.wtrs, wtr)
	return nil
}

func (l *Logger) AddRelay(r Relay) error {
	if r == nil {
		return errors.New("klog: nil relay")
	}
	c := l.c
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	c.rls = append(c.rls, r)
	return nil
}

func (l *Logger) SetLevel(lvl Level) error {
	if !lvl.Valid() {
		return ErrInvalidLevel
	}
	c := l.c
	c.mtx.Lock()
	c.lvl = lvl
	c.mtx.Unlock()
	return nil
}

func (l *Logger) SetLevelString(s string) error {
	lvl, err := LevelFromString(s)
	if err != nil {
		return err
	}
	return l.SetLevel(lvl)
}

func (l *Logger) GetLevel() Level {
	c := l.c
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.lvl
}

// Debug/Info/Warn/Error/Critical write an RFC5424-structured record
// tagged with sds structured-data parameters (e.g. connection id,
// workspace id). Fatal additionally exits the process; it does not
// close the logger first.

func (l *Logger) Debug(msg string, sds ...rfc5424.SDParam) error {
	return l.output(defaultDepth, DEBUG, msg, sds...)
}
func (l *Logger) Info(msg string, sds ...rfc5424.SDParam) error {
	return l.output(defaultDepth, INFO, msg, sds...)
}
func (l *Logger) Warn(msg string, sds ...rfc5424.SDParam) error {
	return l.output(defaultDepth, WARN, msg, sds...)
}
func (l *Logger) Error(msg string, sds ...rfc5424.SDParam) error {
	return l.output(defaultDepth, ERROR, msg, sds...)
}
func (l *Logger) Critical(msg string, sds ...rfc5424.SDParam) error {
	return l.output(defaultDepth, CRITICAL, msg, sds...)
}

func (l *Logger) Fatal(msg string, sds ...rfc5424.SDParam) {
	l.FatalCode(1, msg, sds...)
}

func (l *Logger) FatalCode(code int, msg string, sds ...rfc5424.SDParam) {
	l.output(defaultDepth, FATAL, msg, sds...)
	os.Exit(code)
}

// Debugf/Infof/... are the printf-style equivalents, used for the
// ambient diagnostics that do not carry structured fields.
func (l *Logger) Debugf(f string, args ...interface{}) error {
	return l.output(defaultDepth, DEBUG, fmt.Sprintf(f, args...))
}
func (l *Logger) Infof(f string, args ...interface{}) error {
	return l.output(defaultDepth, INFO, fmt.Sprintf(f, args...))
}
func (l *Logger) Warnf(f string, args ...interface{}) error {
	return l.output(defaultDepth, WARN, fmt.Sprintf(f, args...))
}
func (l *Logger) Errorf(f string, args ...interface{}) error {
	return l.output(defaultDepth, ERROR, fmt.Sprintf(f, args...))
}

func (l *Logger) output(depth int, lvl Level, msg string, sds ...rfc5424.SDParam) error {
	c := l.c
	c.mtx.Lock()
	skip := c.lvl == OFF || lvl < c.lvl
	c.mtx.Unlock()
	if skip {
		return nil
	}
	if len(l.baseSDs) > 0 {
		all := make([]rfc5424.SDParam, 0, len(l.baseSDs)+len(sds))
		all = append(all, l.baseSDs...)
		sds = append(all, sds...)
	}
	ts := time.Now()
	b, err := genRFCMessage(ts, lvl.priority(), c.hostname, c.appname, callLoc(depth), msg, sds...)
	if err != nil {
		return err
	}
	return l.writeOutput(ts, b)
}

func (l *Logger) writeOutput(ts time.Time, b []byte) (err error) {
	c := l.c
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if rerr := c.ready(); rerr != nil {
		return rerr
	}
	for _, w := range c.wtrs {
		if _, werr := w.Write(append(b, '\n')); werr != nil {
			err = werr
		}
	}
	for _, r := range c.rls {
		if rerr := r.WriteLog(ts, b); rerr != nil {
			err = rerr
		}
	}
	return
}

// Write implements io.Writer so *Logger can be handed to a standard
// library log.Logger or an http.Server's ErrorLog field.
func (l *Logger) Write(b []byte) (int, error) {
	c := l.c
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if err := c.ready(); err != nil {
		return 0, err
	}
	for _, w := range c.wtrs {
		if _, err := w.Write(b); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

func genRFCMessage(ts time.Time, prio rfc5424.Priority, hostname, appname, msgid, msg string, sds ...rfc5424.SDParam) ([]byte, error) {
	m := rfc5424.Message{
		Priority:  prio,
		Timestamp: ts,
		Hostname:  trimLength(maxHostname, hostname),
		AppName:   trimLength(maxAppname, appname),
		MessageID: trimLength(32, msgid),
		Message:   []byte(msg),
	}
	if len(sds) > 0 {
		m.StructuredData = []rfc5424.StructuredData{{ID: defaultID, Parameters: sds}}
	}
	return m.MarshalBinary()
}

func callLoc(depth int) string {
	if _, file, line, ok := runtime.Caller(depth); ok {
		dir, f := filepath.Split(file)
		return fmt.Sprintf("%s:%d", filepath.Join(filepath.Base(dir), f), line)
	}
	return ""
}

func trimLength(n int, s string) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (l Level) String() string {
	switch l {
	case OFF:
		return "OFF"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	case FATAL:
		return "FATAL"
	}
	return "UNKNOWN"
}

func (l Level) Valid() bool {
	return l >= OFF && l <= FATAL
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case OFF:
		return 0
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case CRITICAL:
		return rfc5424.User | rfc5424.Crit
	case FATAL:
		return rfc5424.User | rfc5424.Emergency
	}
	return rfc5424.User | rfc5424.Debug
}

func LevelFromString(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "OFF":
		return OFF, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "CRITICAL":
		return CRITICAL, nil
	case "FATAL":
		return FATAL, nil
	default:
		return OFF, ErrInvalidLevel
	}
}

type discardCloser struct{}

func (discardCloser) Write(b []byte) (int, error) { return len(b), nil }
func (discardCloser) Close() error                { return nil }
