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

// Package rendezvous establishes a raw bidirectional byte tunnel between
// two peers that share only a secret, through an intermediary relay whose
// address is known. It derives a shared address and password from the
// secret and exchanges fixed-size LISTEN/CONNECT/START packets with the
// relay; it does not implement the relay itself.
package rendezvous

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	enchex "github.com/sabouaram/netbridge/encoding/hexa"
	encsha "github.com/sabouaram/netbridge/encoding/sha256"
)

// Packet type bytes, bit-exact with the wire format.
const (
	TypeListen  byte = 0x01
	TypeConnect byte = 0x02
	TypeStart   byte = 0x05
)

// Protocol version carried in every LISTEN/CONNECT packet.
const (
	ProtoMajor = 1
	ProtoMinor = 3
)

// Flags.
const (
	FlagLowLatency  byte = 0x08
	StartFlagServer byte = 0x01
	StartFlagClient byte = 0x02
)

const (
	addrLen  = 16
	tokenLen = 16

	listenConnectSize = 128
	startSize         = 32
)

var (
	addressConstant  = []byte("netbridge-rendezvous-address-v1")
	passwordConstant = []byte("netbridge-rendezvous-password-v1")
)

// DeriveAddress returns the 16-byte address derived from secret, per
// address = first 16 bytes of H(constant1 || S).
func DeriveAddress(secret string) [addrLen]byte {
	sum := encsha.New().Encode(append(append([]byte{}, addressConstant...), secret...))
	var out [addrLen]byte
	copy(out[:], sum[:addrLen])
	return out
}

// DerivePassword returns the 33-byte password: 32 lowercase hex digits of
// the first 16 bytes of H(constant2 || S), plus a terminating NUL for FFI
// friendliness.
func DerivePassword(secret string) [33]byte {
	sum := encsha.New().Encode(append(append([]byte{}, passwordConstant...), secret...))
	hx := enchex.New().Encode(sum[:16])
	var out [33]byte
	copy(out[:32], hx)
	return out
}

// Role is the SRP role the relay assigns to this peer after the handshake.
type Role int

const (
	RoleUndetermined Role = iota
	RoleSRPServer
	RoleSRPClient
)

// Session holds the derived rendezvous state for one handshake attempt.
type Session struct {
	Secret  string
	Address [addrLen]byte
	Token   [tokenLen]byte
	Conn    net.Conn
	Role    Role
}

// listenConnectPacket is the shared 128-byte layout of LISTEN and CONNECT:
// {type(1), proto-major(1), proto-minor(1), flags(1), reserved(28),
// address(16), token(16), reserved(64)}.
func encodeListenConnect(typ byte, flags byte, addr [addrLen]byte, token [tokenLen]byte) []byte {
	buf := make([]byte, listenConnectSize)
	buf[0] = typ
	buf[1] = ProtoMajor
	buf[2] = ProtoMinor
	buf[3] = flags
	// bytes [4:32) reserved, left zero
	copy(buf[32:48], addr[:])
	copy(buf[48:64], token[:])
	// bytes [64:128) reserved, left zero
	return buf
}

func decodeListenConnect(buf []byte) (typ, major, minor, flags byte, addr [addrLen]byte, token [tokenLen]byte, err error) {
	if len(buf) != listenConnectSize {
		err = ErrInvalidHandshake
		return
	}
	typ, major, minor, flags = buf[0], buf[1], buf[2], buf[3]
	copy(addr[:], buf[32:48])
	copy(token[:], buf[48:64])
	return
}

// encodeStart builds the 32-byte {type(1), flags(1), reserved(30)} packet.
func encodeStart(flags byte) []byte {
	buf := make([]byte, startSize)
	buf[0] = TypeStart
	buf[1] = flags
	return buf
}

func decodeStart(buf []byte) (flags byte, err error) {
	if len(buf) != startSize {
		err = ErrInvalidHandshake
		return
	}
	if buf[0] != TypeStart {
		err = ErrInvalidHandshake
		return
	}
	return buf[1], nil
}

// Dial connects to the relay, sends either LISTEN or CONNECT carrying the
// address derived from secret, and waits for the START packet that assigns
// this peer's SRP role. listening selects which of the two packet types is
// sent; the relay pairs a LISTEN with a CONNECT sharing the same address
// and is the sole authority over role assignment.
func Dial(ctx context.Context, relay string, secret string, listening bool, timeout time.Duration) (*Session, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", relay)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: dial relay: %w", err)
	}

	addr := DeriveAddress(secret)
	var token [tokenLen]byte // reserved for future relay-assigned session tokens

	typ := TypeConnect
	if listening {
		typ = TypeListen
	}

	pkt := encodeListenConnect(typ, FlagLowLatency, addr, token)
	if err := writeDeadline(conn, pkt, timeout); err != nil {
		conn.Close()
		return nil, err
	}

	startBuf := make([]byte, startSize)
	if err := readFullDeadline(conn, startBuf, timeout); err != nil {
		conn.Close()
		return nil, err
	}

	flags, err := decodeStart(startBuf)
	if err != nil {
		conn.Close()
		return nil, err
	}

	role := RoleUndetermined
	switch {
	case flags&StartFlagServer != 0:
		role = RoleSRPServer
	case flags&StartFlagClient != 0:
		role = RoleSRPClient
	default:
		conn.Close()
		return nil, ErrInvalidHandshake
	}

	return &Session{
		Secret:  secret,
		Address: addr,
		Token:   token,
		Conn:    conn,
		Role:    role,
	}, nil
}

func writeDeadline(conn net.Conn, buf []byte, timeout time.Duration) error {
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
		defer conn.SetWriteDeadline(time.Time{})
	}
	_, err := conn.Write(buf)
	if err != nil {
		return fmt.Errorf("rendezvous: write: %w", err)
	}
	return nil
}

func readFullDeadline(conn net.Conn, buf []byte, timeout time.Duration) error {
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return fmt.Errorf("rendezvous: read: %w", err)
		}
	}
	return nil
}

// AddressEqual is a small helper the end-to-end "echo loopback" scenario
// uses to assert the address derived from a known secret matches the
// expected 16-byte hash prefix.
func AddressEqual(a, b [addrLen]byte) bool {
	return bytes.Equal(a[:], b[:])
}
