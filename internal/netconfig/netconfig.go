/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
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

// Package netconfig is the immutable, CLI-bound runtime configuration: one
// record enumerating mode, transport, wrap, endpoints, timeouts, buffer
// sizes, ACLs and the rendezvous/TLS settings, validated once via
// github.com/go-playground/validator/v10 the same way certificates.Config
// validates itself, then shared read-only by every component that needs
// it (dispatch core, transfer engine, scanner, stream wrappers).
package netconfig

import (
	"fmt"
	"time"

	libval "github.com/go-playground/validator/v10"

	"github.com/sabouaram/netbridge/certificates"
	liberr "github.com/sabouaram/netbridge/errors"
	"github.com/sabouaram/netbridge/internal/acl"
	"github.com/sabouaram/netbridge/logger"
)

// Mode selects the top-level operation.
type Mode string

const (
	ModeConnect    Mode = "connect"
	ModeListen     Mode = "listen"
	ModeScan       Mode = "scan"
	ModeRendezvous Mode = "rendezvous"
)

// Transport selects the socket family.
type Transport string

const (
	TransportTCP  Transport = "tcp"
	TransportUDP  Transport = "udp"
	TransportSCTP Transport = "sctp"
	TransportUnix Transport = "unix"
)

// Wrap selects the stream decorator layered over the raw transport.
type Wrap string

const (
	WrapNone   Wrap = "none"
	WrapTLS    Wrap = "tls"
	WrapDTLS   Wrap = "dtls"
	WrapTelnet Wrap = "telnet"
	WrapSRP    Wrap = "srp"
)

// Verbosity mirrors spec.md's quiet/normal/verbose/debug/trace levels,
// cumulative via repeated -v flags. There is no dedicated logger.Level
// below DebugLevel, so Verbose/Debug/Trace all map onto logger.DebugLevel;
// the distinction that remains meaningful to the rest of the program is
// "how many -v flags were given", which dispatch and the scanner consult
// directly for how chatty their own progress logging should be.
type Verbosity uint8

const (
	VerbosityQuiet Verbosity = iota
	VerbosityNormal
	VerbosityVerbose
	VerbosityDebug
	VerbosityTrace
)

// Level translates Verbosity into the logger package's Level.
func (v Verbosity) Level() logger.Level {
	switch v {
	case VerbosityQuiet:
		return logger.WarnLevel
	case VerbosityNormal:
		return logger.InfoLevel
	default:
		return logger.DebugLevel
	}
}

// Timeouts bundles the three independent budgets the transfer engine's
// Tracker consumes, plus the connect-phase dial timeout which belongs to
// dispatch/dial rather than to a live session.
type Timeouts struct {
	Connect   time.Duration
	Idle      time.Duration
	Execution time.Duration
}

// Rendezvous carries the NAT-traversal settings; only meaningful when
// Mode == ModeRendezvous or Wrap == WrapSRP.
type Rendezvous struct {
	Secret string
	Relay  string
	Listen bool // which side of the LISTEN/CONNECT exchange this peer plays
}

// TLSSettings carries the cert/key/verify knobs handed to
// certificates.Config when Wrap == WrapTLS.
type TLSSettings struct {
	Cert       string
	Key        string
	VerifyPeer bool
	ServerName string
	Config     certificates.Config
}

// Scan bundles the port-scanner knobs (spec.md §4.8/§6).
type Scan struct {
	Ports           []int
	Concurrency     int
	Randomize       bool
	InterProbeDelay time.Duration
	PreferIOUring   bool
	FailIfNoneOpen  bool
}

// Config is the full immutable record spec.md §3 describes. It is built
// by the CLI layer (cmd/netbridge), validated exactly once via Validate,
// and shared read-only thereafter — nothing in this package or its callers
// mutates a Config after construction.
type Config struct {
	Mode      Mode      `validate:"required,oneof=connect listen scan rendezvous"`
	Transport Transport `validate:"required,oneof=tcp udp sctp unix"`
	Wrap      Wrap      `validate:"omitempty,oneof=none tls dtls telnet srp"`

	Host string
	Port int `validate:"omitempty,min=1,max=65535"`
	Path string // unix socket path, when Transport == TransportUnix

	ListenBacklog int

	Broker bool
	Chat   bool

	ExecProgram string
	ExecArgs    []string

	Allow []string
	Deny  []string

	Verbosity Verbosity

	Timeouts Timeouts

	BufferSize int

	CloseOnEOF   bool
	CRLFOutbound bool

	TeePath     string
	HexDumpPath string

	// MaxRate caps the combined transfer rate in bytes/second; 0 disables
	// throttling.
	MaxRate int64

	DropUser string

	Rendezvous Rendezvous
	TLS        TLSSettings

	Scan Scan

	StatusAddr string // optional gin introspection endpoint, SPEC_FULL §3
	AuditDB    string // optional sqlite session ledger path, SPEC_FULL §3

	TermType   string
	EnvAllow   map[string]string
}

// Validate checks the struct tags above and the cross-field rules spec.md
// §7 names explicitly (rendezvous with a connectionless transport,
// exec-mode's fail-closed ACL posture is enforced by dispatch itself since
// it depends on the parsed ACL list, not on Config alone).
func (c *Config) Validate() liberr.Error {
	err := ErrorValidatorError.Error(nil)

	if er := libval.New().Struct(c); er != nil {
		if e, ok := er.(*libval.InvalidValidationError); ok {
			err.Add(e)
		}
		for _, e := range er.(libval.ValidationErrors) {
			//nolint goerr113
			err.Add(fmt.Errorf("config field '%s' is not validated by constraint '%s'", e.StructNamespace(), e.ActualTag()))
		}
	}

	if c.Mode == ModeRendezvous && c.Transport != TransportTCP {
		//nolint goerr113
		err.Add(fmt.Errorf("rendezvous mode requires tcp transport, got %q", c.Transport))
	}

	if c.Mode == ModeConnect && c.Port == 0 && c.Transport != TransportUnix {
		//nolint goerr113
		err.Add(fmt.Errorf("port 0 is rejected for connect mode"))
	}

	if c.Mode == ModeScan {
		for _, p := range c.Scan.Ports {
			if p <= 0 || p > 65535 {
				//nolint goerr113
				err.Add(fmt.Errorf("scan port %d out of range", p))
				break
			}
		}
	}

	if err.HasParent() {
		return err
	}
	return nil
}

// BuildACL parses Allow/Deny into an acl.List, first-match-wins, with
// DefaultDeny forced on whenever exec mode is configured with no allow
// entries — the "exec-requires-allow" fail-closed posture spec.md §4.9
// and §8 scenario 6 require dispatch to enforce before it ever binds.
func (c *Config) BuildACL() (*acl.List, error) {
	l := &acl.List{}
	for _, d := range c.Deny {
		if err := l.Add(d, acl.Deny); err != nil {
			return nil, err
		}
	}
	for _, a := range c.Allow {
		if err := l.Add(a, acl.Allow); err != nil {
			return nil, err
		}
	}
	if c.ExecProgram != "" && len(c.Allow) == 0 {
		l.DefaultDeny = true
	}
	return l, nil
}
