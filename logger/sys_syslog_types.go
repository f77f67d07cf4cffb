// +build !windows

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

package logger

// NetworkType names the transport newSyslog dials the syslog daemon over;
// an empty string means the local Unix socket (matching syslog.Dial's own
// "local if empty" convention).
type NetworkType string

const (
	NetworkLocal NetworkType = ""
	NetworkTCP   NetworkType = "tcp"
	NetworkUDP   NetworkType = "udp"
)

func (n NetworkType) String() string {
	return string(n)
}

// syslogWrapper is the minimal write/close/level contract newSyslog returns;
// it is wired into logrus as an io.Writer-based hook by NewSyslogHook.
type syslogWrapper interface {
	Write(p []byte) (int, error)
	Close() error
	Panic(p []byte) (int, error)
	Fatal(p []byte) (int, error)
	Error(p []byte) (int, error)
	Warning(p []byte) (int, error)
	Info(p []byte) (int, error)
	Debug(p []byte) (int, error)
}

// NewSyslogHook dials a syslog daemon over net (NetworkLocal for the local
// Unix socket) and returns an io.WriteCloser suitable for logger.SetOutput,
// so a session's log stream can be redirected to syslog instead of stderr.
func NewSyslogHook(net NetworkType, host, tag string, severity SyslogSeverity, facility SyslogFacility) (syslogWrapper, error) {
	return newSyslog(net, host, tag, severity, facility)
}
