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

package dispatch

import (
	"context"
	"fmt"
	"net"

	"github.com/sabouaram/netbridge/certificates"
	"github.com/sabouaram/netbridge/internal/netconfig"
	"github.com/sabouaram/netbridge/internal/srptun"
	"github.com/sabouaram/netbridge/internal/stream"
	"github.com/sabouaram/netbridge/internal/telnet"
)

// ErrDTLSUnsupported mirrors ErrSCTPUnsupported: no example repository in
// the retrieval pack imports a DTLS library, so wrap=dtls is accepted by
// netconfig's validator but refused here rather than guessed at.
var ErrDTLSUnsupported = fmt.Errorf("%w: dtls wrap has no available implementation", ErrBindFailed)

// noopTelnetHandler answers telnet option negotiation events with nothing;
// NAWS/terminal-type plumbing belongs to an interactive exec session,
// which sets its own handler via cmd/netbridge.
type noopTelnetHandler struct{}

func (noopTelnetHandler) OnCommand(telnet.CommandEvent)              {}
func (noopTelnetHandler) OnOptionEnabled(opt telnet.Option, r bool)  {}
func (noopTelnetHandler) OnOptionDisabled(opt telnet.Option, r bool) {}
func (noopTelnetHandler) OnSubnegotiation(telnet.Option, []byte)     {}

// wrapAccepted layers cfg.Wrap over a freshly accepted server-side
// connection.
func wrapAccepted(ctx context.Context, cfg *netconfig.Config, conn net.Conn) (stream.Stream, error) {
	raw := stream.NewRaw(conn)

	switch cfg.Wrap {
	case netconfig.WrapNone, "":
		return raw, nil

	case netconfig.WrapTelnet:
		return stream.NewTelnet(raw, noopTelnetHandler{}, cfg.TermType, cfg.EnvAllow), nil

	case netconfig.WrapTLS:
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		return stream.NewTLSServer(raw, tlsCfg)

	case netconfig.WrapSRP:
		tun, err := stream.NewSRP(ctx, conn, srptun.RoleServer, []byte(cfg.Rendezvous.Secret), cfg.Timeouts.Connect)
		if err != nil {
			return nil, err
		}
		return tun, nil

	case netconfig.WrapDTLS:
		return nil, ErrDTLSUnsupported

	default:
		return nil, fmt.Errorf("%w: unknown wrap %q", ErrBindFailed, cfg.Wrap)
	}
}

// WrapClient is the exported form of wrapDialed, used directly by
// cmd/netbridge's connect-mode runner.
func WrapClient(ctx context.Context, cfg *netconfig.Config, conn net.Conn) (stream.Stream, error) {
	return wrapDialed(ctx, cfg, conn)
}

// wrapDialed layers cfg.Wrap over a freshly dialed client-side connection.
func wrapDialed(ctx context.Context, cfg *netconfig.Config, conn net.Conn) (stream.Stream, error) {
	raw := stream.NewRaw(conn)

	switch cfg.Wrap {
	case netconfig.WrapNone, "":
		return raw, nil

	case netconfig.WrapTelnet:
		return stream.NewTelnet(raw, noopTelnetHandler{}, cfg.TermType, cfg.EnvAllow), nil

	case netconfig.WrapTLS:
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		return stream.NewTLSClient(raw, tlsCfg, cfg.TLS.ServerName)

	case netconfig.WrapSRP:
		return stream.NewSRP(ctx, conn, srptun.RoleClient, []byte(cfg.Rendezvous.Secret), cfg.Timeouts.Connect)

	case netconfig.WrapDTLS:
		return nil, ErrDTLSUnsupported

	default:
		return nil, fmt.Errorf("%w: unknown wrap %q", ErrBindFailed, cfg.Wrap)
	}
}

// buildTLSConfig realizes cfg.TLS into a certificates.TLSConfig, loading
// the cert/key pair named by the CLI flags on top of whatever the
// validated certificates.Config already carries.
func buildTLSConfig(cfg *netconfig.Config) (certificates.TLSConfig, error) {
	tlsCfg := cfg.TLS.Config.New()
	if cfg.TLS.Cert != "" && cfg.TLS.Key != "" {
		if err := tlsCfg.AddCertificatePairFile(cfg.TLS.Key, cfg.TLS.Cert); err != nil {
			return nil, fmt.Errorf("%w: loading tls cert/key: %v", ErrBindFailed, err)
		}
	}
	return tlsCfg, nil
}
