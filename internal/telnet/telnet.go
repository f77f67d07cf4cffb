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

// Package telnet implements the IAC state machine and Q-method option
// negotiation used to decorate a raw stream with telnet protocol handling.
// It does not aspire to full RFC 1143 queue-bit semantics nor full LINEMODE
// SLC editing.
package telnet

// Command is a telnet command byte (IAC-prefixed), per RFC 854.
type Command byte

const (
	SE   Command = 240
	NOP  Command = 241
	DM   Command = 242
	BRK  Command = 243
	IP   Command = 244
	AO   Command = 245
	AYT  Command = 246
	EC   Command = 247
	EL   Command = 248
	GA   Command = 249
	SB   Command = 250
	WILL Command = 251
	WONT Command = 252
	DO   Command = 253
	DONT Command = 254
	IAC  Command = 255
)

// Option is a telnet option code per the IANA telnet-options registry.
type Option byte

const (
	OptBinaryTransmission Option = 0
	OptEcho               Option = 1
	OptSuppressGoAhead    Option = 3
	OptStatus             Option = 5
	OptTerminalType       Option = 24
	OptNAWS               Option = 31
	OptTerminalSpeed      Option = 32
	OptRemoteFlowControl  Option = 33
	OptLinemode           Option = 34
	OptNewEnviron         Option = 39
)

// NEW-ENVIRON / TERMINAL-TYPE subnegotiation verbs.
const (
	SubIS   byte = 0
	SubSEND byte = 1
	SubINFO byte = 2

	EnvVAR     byte = 0
	EnvVALUE   byte = 1
	EnvESC     byte = 2
	EnvUSERVAR byte = 3
)

const (
	maxSubnegBuffer  = 1024
	maxPartialBuffer = 16
	maxAttemptCount  = 10
)

type parserState int

const (
	stateData parserState = iota
	stateIAC
	stateNeg // after WILL/WONT/DO/DONT, awaiting option byte
	stateSB
	stateSBData
	stateSBIAC
)

// negState is the Q-method four-state option negotiation state.
type negState int

const (
	negNo negState = iota
	negYes
	negWantNo
	negWantYes
)

// CommandEvent is raised for telnet commands that do not map to an option
// negotiation (EOF, SUSP, BRK, IP, AO, AYT, EC, EL, GA, NOP, DM).
type CommandEvent struct {
	Command Command
}

// Handler is invoked by the processor to let the owner react to control
// events and option-driven behaviour (ECHO toggling local TTY echo, NAWS
// delivering the negotiated size, and so on). All methods are optional: a
// nil Handler means "accept/refuse silently, no side effect".
type Handler interface {
	// OnCommand fires for bare commands that are not part of option negotiation.
	OnCommand(ev CommandEvent)
	// OnOptionEnabled fires when an option transitions into the enabled
	// (YES) state, remote is the side that is now performing it.
	OnOptionEnabled(opt Option, remote bool)
	// OnOptionDisabled fires when an option transitions out of the enabled
	// state.
	OnOptionDisabled(opt Option, remote bool)
	// OnSubnegotiation fires with the complete payload between IAC SB
	// <option> and IAC SE.
	OnSubnegotiation(opt Option, payload []byte)
}

type optionState struct {
	local   negState // do we perform the option
	remote  negState // does the peer perform the option
	attempt int
}

// Processor is a telnet IAC/option-negotiation state machine. It is not
// safe for concurrent use; callers serialize access the way the transfer
// engine serializes access to a single session's streams.
type Processor struct {
	state parserState

	cmd     byte // pending command byte (WILL/WONT/DO/DONT) while in stateNeg
	sbOpt   Option
	sbBuf   []byte
	partial []byte

	supported map[Option]bool
	opts      map[Option]*optionState

	termType string
	envAllow map[string]string

	h Handler

	errored bool
	err     error
}

// New constructs a Processor. supportedOptions lists the options this side
// is willing to negotiate at all (ECHO, SUPPRESS-GO-AHEAD, TERMINAL-TYPE,
// NAWS, NEW-ENVIRON, LINEMODE by default); anything else is refused with
// WONT/DONT.
func New(h Handler, termType string, envAllow map[string]string) *Processor {
	p := &Processor{
		state: stateData,
		supported: map[Option]bool{
			OptEcho:              true,
			OptSuppressGoAhead:   true,
			OptTerminalType:      true,
			OptNAWS:              true,
			OptNewEnviron:        true,
			OptLinemode:          true,
			OptBinaryTransmission: false,
		},
		opts:     make(map[Option]*optionState),
		termType: termType,
		envAllow: envAllow,
		h:        h,
	}
	return p
}

func (p *Processor) optionState(o Option) *optionState {
	s, ok := p.opts[o]
	if !ok {
		s = &optionState{}
		p.opts[o] = s
	}
	return s
}

// Err returns the sticky protocol-violation error, if the processor has
// torn itself down.
func (p *Processor) Err() error {
	return p.err
}

func (p *Processor) fail(err error) {
	if !p.errored {
		p.errored = true
		p.err = err
	}
}

// Decode consumes raw bytes read off the wire and returns the decoded
// application-data bytes (IAC un-escaped, commands and negotiation
// consumed). resp is any bytes that must be written back to the peer as an
// immediate response (negotiation replies, subnegotiation answers); the
// caller is responsible for sending resp before further reads if ordering
// matters, though in practice the transfer engine simply queues it for
// output.
func (p *Processor) Decode(in []byte) (out []byte, resp []byte, err error) {
	if p.errored {
		return nil, nil, p.err
	}

	for _, b := range in {
		if err := p.step(b, &out, &resp); err != nil {
			p.fail(err)
			return out, resp, err
		}
	}
	return out, resp, nil
}

func (p *Processor) step(b byte, out, resp *[]byte) error {
	switch p.state {
	case stateData:
		if Command(b) == IAC {
			p.state = stateIAC
			return nil
		}
		*out = append(*out, b)
		return nil

	case stateIAC:
		c := Command(b)
		switch c {
		case IAC:
			*out = append(*out, 0xFF)
			p.state = stateData
		case WILL, WONT, DO, DONT:
			p.cmd = b
			p.state = stateNeg
		case SB:
			p.state = stateSB
		case SE:
			return ErrInvalidTransition
		default:
			if p.h != nil {
				p.h.OnCommand(CommandEvent{Command: c})
			}
			p.state = stateData
		}
		return nil

	case stateNeg:
		opt := Option(b)
		r := p.negotiate(Command(p.cmd), opt)
		*resp = append(*resp, r...)
		p.state = stateData
		return nil

	case stateSB:
		p.sbOpt = Option(b)
		p.sbBuf = p.sbBuf[:0]
		p.state = stateSBData
		return nil

	case stateSBData:
		if Command(b) == IAC {
			p.state = stateSBIAC
			return nil
		}
		if len(p.sbBuf) >= maxSubnegBuffer {
			return ErrSubnegOverflow
		}
		p.sbBuf = append(p.sbBuf, b)
		return nil

	case stateSBIAC:
		switch Command(b) {
		case IAC:
			if len(p.sbBuf) >= maxSubnegBuffer {
				return ErrSubnegOverflow
			}
			p.sbBuf = append(p.sbBuf, 0xFF)
			p.state = stateSBData
		case SE:
			r := p.deliverSubneg(p.sbOpt, p.sbBuf)
			*resp = append(*resp, r...)
			p.state = stateData
		default:
			return ErrInvalidTransition
		}
		return nil
	}

	return ErrInvalidTransition
}

// negotiate implements the abbreviated Q-method: a request to enable an
// already-enabled option (or disable an already-disabled one) is ignored;
// every genuine change request elicits exactly one response; the attempt
// counter increases on each exchange and refuses further negotiation for
// that option at the ceiling.
func (p *Processor) negotiate(cmd Command, opt Option) []byte {
	s := p.optionState(opt)
	allowed := p.supported[opt]

	switch cmd {
	case WILL: // peer announces it WILL perform opt; we DO or DONT
		if s.remote == negYes {
			return nil
		}
		if s.attempt >= maxAttemptCount {
			return nil
		}
		s.attempt++
		if allowed {
			s.remote = negYes
			if p.h != nil {
				p.h.OnOptionEnabled(opt, true)
			}
			return []byte{0xFF, byte(DO), byte(opt)}
		}
		return []byte{0xFF, byte(DONT), byte(opt)}

	case WONT:
		if s.remote == negNo {
			return nil
		}
		s.attempt++
		wasYes := s.remote == negYes
		s.remote = negNo
		if wasYes && p.h != nil {
			p.h.OnOptionDisabled(opt, true)
		}
		return []byte{0xFF, byte(DONT), byte(opt)}

	case DO: // peer asks us to perform opt
		if s.local == negYes {
			return nil
		}
		if s.attempt >= maxAttemptCount {
			return nil
		}
		s.attempt++
		if allowed {
			s.local = negYes
			if p.h != nil {
				p.h.OnOptionEnabled(opt, false)
			}
			resp := []byte{0xFF, byte(WILL), byte(opt)}
			if opt == OptTerminalType || opt == OptNAWS {
				// nothing further here; SEND/IS exchange happens via subnegotiation
			}
			return resp
		}
		return []byte{0xFF, byte(WONT), byte(opt)}

	case DONT:
		if s.local == negNo {
			return nil
		}
		s.attempt++
		wasYes := s.local == negYes
		s.local = negNo
		if wasYes && p.h != nil {
			p.h.OnOptionDisabled(opt, false)
		}
		return []byte{0xFF, byte(WONT), byte(opt)}
	}
	return nil
}

func (p *Processor) deliverSubneg(opt Option, payload []byte) []byte {
	if p.h != nil {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		p.h.OnSubnegotiation(opt, cp)
	}

	switch opt {
	case OptTerminalType:
		if len(payload) >= 1 && payload[0] == SubSEND {
			return encodeSub(OptTerminalType, append([]byte{SubIS}, []byte(p.termType)...))
		}
	case OptNewEnviron:
		if len(payload) >= 1 && payload[0] == SubSEND {
			return p.buildNewEnvironReply()
		}
	}
	return nil
}

func (p *Processor) buildNewEnvironReply() []byte {
	body := []byte{SubIS}
	for k, v := range p.envAllow {
		body = append(body, EnvVAR)
		body = append(body, escapeEnv([]byte(k))...)
		body = append(body, EnvVALUE)
		body = append(body, escapeEnv([]byte(v))...)
	}
	return encodeSub(OptNewEnviron, body)
}

// escapeEnv escapes IAC/ESC/control bytes per the NEW-ENVIRON rules before
// they are placed in a VAR/VALUE field.
func escapeEnv(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case EnvVAR, EnvVALUE, EnvESC, EnvUSERVAR:
			out = append(out, EnvESC, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

func encodeSub(opt Option, body []byte) []byte {
	out := []byte{0xFF, byte(SB), byte(opt)}
	out = append(out, Escape(body)...)
	out = append(out, 0xFF, byte(SE))
	return out
}

// Escape doubles every 0xFF byte in application data or subnegotiation
// payloads before it goes out on the wire.
func Escape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		out = append(out, b)
		if b == 0xFF {
			out = append(out, 0xFF)
		}
	}
	return out
}

// RequestWill builds an `IAC WILL <opt>` request, e.g. to start an
// ECHO or SUPPRESS-GO-AHEAD negotiation from our side.
func RequestWill(opt Option) []byte {
	return []byte{0xFF, byte(WILL), byte(opt)}
}

// RequestDo builds an `IAC DO <opt>` request.
func RequestDo(opt Option) []byte {
	return []byte{0xFF, byte(DO), byte(opt)}
}

// EncodeNAWS builds the NAWS subnegotiation payload for the given terminal
// size (two 16-bit big-endian integers), ready to re-emit on resize.
func EncodeNAWS(width, height uint16) []byte {
	body := []byte{byte(width >> 8), byte(width), byte(height >> 8), byte(height)}
	return encodeSub(OptNAWS, body)
}
