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

// Package acl parses and matches the allow/deny CIDR lists used to gate
// accepted connections in the dispatch core.
package acl

import "net"

// Decision is the outcome of matching an address against a List.
type Decision int

const (
	Allow Decision = iota
	Deny
)

// Entry is one ordered CIDR rule.
type Entry struct {
	Net      *net.IPNet
	Decision Decision
}

// List is an ordered set of CIDR entries. Matching is first-match-wins;
// absence of any entry means allow, unless DefaultDeny is set (the
// fail-closed posture required when exec mode is configured).
type List struct {
	Entries     []Entry
	DefaultDeny bool
}

// Add parses a CIDR string (IPv4 or IPv6) and appends it with the given
// decision. A bare IP address (no "/len") is treated as a /32 or /128.
func (l *List) Add(cidr string, d Decision) error {
	n, err := parseCIDR(cidr)
	if err != nil {
		return ErrInvalidCIDR
	}
	l.Entries = append(l.Entries, Entry{Net: n, Decision: d})
	return nil
}

func parseCIDR(s string) (*net.IPNet, error) {
	if _, n, err := net.ParseCIDR(s); err == nil {
		return n, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, ErrInvalidCIDR
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	_, n, err := net.ParseCIDR(ip.String() + "/" + itoa(bits))
	return n, err
}

func itoa(n int) string {
	if n == 32 {
		return "32"
	}
	return "128"
}

// Match returns the decision for addr: the first matching entry wins; with
// no entries, the result is Allow unless DefaultDeny is set.
func (l *List) Match(addr net.IP) Decision {
	for _, e := range l.Entries {
		if e.Net.Contains(addr) {
			return e.Decision
		}
	}
	if l.DefaultDeny {
		return Deny
	}
	return Allow
}
