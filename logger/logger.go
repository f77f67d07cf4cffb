/***********************************************************************************************************************
 *
 *   MIT License
 *
 *   Copyright (c) 2021 Nicolas JUHEL
 *
 *   Permission is hereby granted, free of charge, to any person obtaining a copy
 *   of this software and associated documentation files (the "Software"), to deal
 *   in the Software without restriction, including without limitation the rights
 *   to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 *   copies of the Software, and to permit persons to whom the Software is
 *   furnished to do so, subject to the following conditions:
 *
 *   The above copyright notice and this permission notice shall be included in all
 *   copies or substantial portions of the Software.
 *
 *   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 *   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 *   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 *   AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 *   LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 *   OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 *   SOFTWARE.
 *
 *
 **********************************************************************************************************************/

// Package logger ties Entry, Level and Format together behind a small
// process-wide Logger facade. It replaces the pattern of a global mutable
// log level with a single atomically-swappable configuration value that
// every caller reads through: the level lives in one place, guarded by
// atomic.Value[T], never a package-level var mutated from N call sites.
package logger

import (
	"io"
	"log"
	"os"

	"github.com/sirupsen/logrus"

	libatm "github.com/sabouaram/netbridge/atomic"
)

// Options mirrors the subset of hclog.LoggerOptions the hclog bridge needs
// to answer IsTrace().
type Options struct {
	EnableTrace bool
}

// Logger is the process-wide logging facade every component logs through.
// Concrete loggers are obtained from New and shared by reference; nothing
// in this package keeps package-level mutable state outside of an instance.
type Logger interface {
	io.Writer

	SetLevel(lvl Level)
	GetLevel() Level

	SetFields(f Fields)
	GetFields() Fields

	SetOptions(o *Options)
	GetOptions() *Options

	Entry(level Level, msg string, args ...interface{}) *Entry

	Debug(msg string, data interface{}, args ...interface{})
	Info(msg string, data interface{}, args ...interface{})
	Warning(msg string, data interface{}, args ...interface{})
	Error(msg string, data interface{}, args ...interface{})

	GetStdLogger(lvl Level, calldepth int) *log.Logger
}

type logFacade struct {
	lvl  libatm.Value[Level]
	fld  libatm.Value[Fields]
	opt  libatm.Value[*Options]
	base *logrus.Logger
}

// New builds a Logger writing to out (os.Stderr if nil) at format fmt and
// starting level lvl. The level and fields are stored in atomic.Value[T]s
// so concurrent sessions (one per accepted connection) can read/raise
// verbosity without a lock.
func New(lvl Level, format Format, out io.Writer) Logger {
	if out == nil {
		out = os.Stderr
	}

	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(lvl.Logrus())

	updateFormatter(format)
	base.SetFormatter(logrus.StandardLogger().Formatter)

	l := &logFacade{
		lvl: libatm.NewValue[Level](),
		fld: libatm.NewValue[Fields](),
		opt: libatm.NewValue[*Options](),
	}
	l.base = base
	l.lvl.Store(lvl)
	l.fld.Store(NewFields())
	l.opt.Store(&Options{})
	return l
}

func (l *logFacade) Write(p []byte) (int, error) {
	l.Entry(l.GetLevel(), string(p)).Log()
	return len(p), nil
}

func (l *logFacade) SetLevel(lvl Level) {
	l.lvl.Store(lvl)
	l.base.SetLevel(lvl.Logrus())
}

func (l *logFacade) GetLevel() Level {
	return l.lvl.Load()
}

func (l *logFacade) SetFields(f Fields) {
	l.fld.Store(f)
}

func (l *logFacade) GetFields() Fields {
	return l.fld.Load()
}

func (l *logFacade) SetOptions(o *Options) {
	if o == nil {
		o = &Options{}
	}
	l.opt.Store(o)
}

func (l *logFacade) GetOptions() *Options {
	return l.opt.Load()
}

func (l *logFacade) Entry(level Level, msg string, args ...interface{}) *Entry {
	e := &Entry{
		log:     func() *logrus.Logger { return l.base },
		Level:   level,
		Message: msg,
		Fields:  l.GetFields(),
	}
	if len(args) > 0 {
		e.FieldAdd("args", args)
	}
	return e
}

func (l *logFacade) Debug(msg string, data interface{}, args ...interface{}) {
	l.Entry(DebugLevel, msg, args...).DataSet(data).Log()
}

func (l *logFacade) Info(msg string, data interface{}, args ...interface{}) {
	l.Entry(InfoLevel, msg, args...).DataSet(data).Log()
}

func (l *logFacade) Warning(msg string, data interface{}, args ...interface{}) {
	l.Entry(WarnLevel, msg, args...).DataSet(data).Log()
}

func (l *logFacade) Error(msg string, data interface{}, args ...interface{}) {
	l.Entry(ErrorLevel, msg, args...).DataSet(data).Log()
}

func (l *logFacade) GetStdLogger(lvl Level, calldepth int) *log.Logger {
	w := &stdWriter{l: l, lvl: lvl}
	return log.New(w, "", 0)
}

// stdWriter adapts the facade to the standard library's log.Logger, used by
// the hclog bridge's StandardLogger().
type stdWriter struct {
	l   *logFacade
	lvl Level
}

func (w *stdWriter) Write(p []byte) (int, error) {
	w.l.Entry(w.lvl, string(p)).Log()
	return len(p), nil
}
