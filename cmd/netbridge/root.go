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

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sabouaram/netbridge/duration"
	"github.com/sabouaram/netbridge/internal/netconfig"
)

// newRootCmd builds the cobra command tree. Flag values are bound through
// viper the way the teacher's own cobra/viper glue packages bind theirs,
// with precedence CLI > env (NETBRIDGE_* prefix) > built-in default per
// spec.md §6.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("NETBRIDGE")
	v.AutomaticEnv()
	v.SetDefault("relay", "")

	root := &cobra.Command{
		Use:           "netbridge [host] [port]",
		Short:         "netbridge is a network swiss-army knife: connect, listen, scan, and rendezvous across tcp/udp/unix/tls/srp/telnet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()

	// Mode/transport/wrap.
	f.Bool("listen", false, "listen mode instead of connect")
	f.Bool("scan", false, "port-scan mode")
	f.Bool("rendezvous", false, "rendezvous (NAT traversal) mode")
	f.String("transport", "tcp", "tcp|udp|sctp|unix")
	f.String("unix", "", "unix socket path (implies --transport unix)")
	f.String("wrap", "none", "none|tls|dtls|telnet|srp")

	// Rendezvous/SRP.
	f.String("rendezvous-secret", "", "shared secret for rendezvous/srp wrap")
	f.String("rendezvous-relay", "", "relay host:port for rendezvous mode")

	// TLS.
	f.String("tls-cert", "", "TLS certificate file")
	f.String("tls-key", "", "TLS key file")
	f.Bool("tls-verify", true, "verify peer certificate")
	f.String("tls-server-name", "", "expected TLS server name (client mode)")

	// Behaviour.
	f.String("exec", "", "program to exec for each accepted connection (listen mode)")
	f.StringSlice("allow", nil, "allow CIDR (repeatable, first-match-wins with --deny)")
	f.StringSlice("deny", nil, "deny CIDR (repeatable)")
	f.String("drop-user", "", "user to drop privileges to after bind")
	f.CountP("verbose", "v", "raise verbosity (-v, -vv, -vvv)")
	f.Bool("quiet", false, "suppress routine-info logging")
	f.String("connect-timeout", "10s", "dial timeout (duration.Parse syntax)")
	f.String("idle-timeout", "0s", "idle timeout (0 disables)")
	f.String("exec-timeout", "0s", "execution budget (0 disables)")
	f.String("tee", "", "path to append a raw copy of transferred bytes")
	f.String("hexdump", "", "path to append an offset/hex/ascii rendering")
	f.Bool("close-on-eof", false, "collapse half-close into immediate full close")
	f.Bool("crlf", false, "convert outbound bare LF to CRLF")
	f.Bool("broker", false, "broker/fan-out mode (listen only)")
	f.Bool("chat", false, "prefix broker fan-out with <user N>")
	f.Int("buffer-size", 32*1024, "per-direction ring buffer size in bytes")
	f.Int64("max-rate", 0, "cap combined transfer rate in bytes/second (0 disables)")
	f.Int("backlog", 128, "listen backlog")

	// Scan.
	f.String("ports", "", "port list/range for scan mode, e.g. 20-25,80,443")
	f.Int("scan-concurrency", 1, "scan concurrency (workers or io_uring queue depth)")
	f.Bool("randomize-ports", false, "shuffle scan order")
	f.String("scan-delay", "0s", "delay between probes (duration.Parse syntax)")
	f.Bool("fail-if-none-open", false, "exit non-zero if no ports are found open")

	// Additive introspection/audit (SPEC_FULL.md §3).
	f.String("status-addr", "", "optional HTTP introspection endpoint, e.g. :9090")
	f.String("audit-db", "", "optional sqlite path for the append-only session ledger")

	// Telnet.
	f.String("term-type", "xterm", "telnet TERMINAL-TYPE value offered to the remote")
	f.StringSlice("env-allow", nil, "NAME=value pair offered for telnet NEW-ENVIRON SEND (repeatable); nothing is offered unless listed here")

	_ = v.BindPFlags(f)

	root.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(v, args)
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if verr := cfg.Validate(); verr != nil {
			return fmt.Errorf("%w: %v", errUsage, verr)
		}
		return dispatchMode(cmd.Context(), cfg)
	}

	return root
}

// buildConfig realizes viper-bound flags plus positional host/port
// arguments into a netconfig.Config. Positional args follow the classic
// netcat convention: `netbridge host port` for connect mode.
func buildConfig(v *viper.Viper, args []string) (*netconfig.Config, error) {
	connectTimeout, err := parseTimeoutFlag(v, "connect-timeout")
	if err != nil {
		return nil, err
	}
	idleTimeout, err := parseTimeoutFlag(v, "idle-timeout")
	if err != nil {
		return nil, err
	}
	execTimeout, err := parseTimeoutFlag(v, "exec-timeout")
	if err != nil {
		return nil, err
	}

	cfg := &netconfig.Config{
		Transport:     netconfig.Transport(v.GetString("transport")),
		Wrap:          netconfig.Wrap(v.GetString("wrap")),
		Path:          v.GetString("unix"),
		ListenBacklog: v.GetInt("backlog"),
		Broker:        v.GetBool("broker"),
		Chat:          v.GetBool("chat"),
		ExecProgram:   v.GetString("exec"),
		Allow:         v.GetStringSlice("allow"),
		Deny:          v.GetStringSlice("deny"),
		BufferSize:    v.GetInt("buffer-size"),
		MaxRate:       v.GetInt64("max-rate"),
		CloseOnEOF:    v.GetBool("close-on-eof"),
		CRLFOutbound:  v.GetBool("crlf"),
		TeePath:       v.GetString("tee"),
		HexDumpPath:   v.GetString("hexdump"),
		DropUser:      v.GetString("drop-user"),
		StatusAddr:    v.GetString("status-addr"),
		AuditDB:       v.GetString("audit-db"),
		TermType:      v.GetString("term-type"),
		EnvAllow:      parseEnvAllow(v.GetStringSlice("env-allow")),
		Timeouts: netconfig.Timeouts{
			Connect:   connectTimeout,
			Idle:      idleTimeout,
			Execution: execTimeout,
		},
		Rendezvous: netconfig.Rendezvous{
			Secret: v.GetString("rendezvous-secret"),
			Relay:  v.GetString("rendezvous-relay"),
			Listen: v.GetBool("listen"),
		},
		TLS: netconfig.TLSSettings{
			Cert:       v.GetString("tls-cert"),
			Key:        v.GetString("tls-key"),
			VerifyPeer: v.GetBool("tls-verify"),
			ServerName: v.GetString("tls-server-name"),
		},
	}

	switch {
	case v.GetBool("rendezvous"):
		cfg.Mode = netconfig.ModeRendezvous
	case v.GetBool("scan"):
		cfg.Mode = netconfig.ModeScan
	case v.GetBool("listen"):
		cfg.Mode = netconfig.ModeListen
	default:
		cfg.Mode = netconfig.ModeConnect
	}

	if cfg.Path != "" {
		cfg.Transport = netconfig.TransportUnix
	}

	switch v.GetInt("verbose") {
	case 0:
		cfg.Verbosity = netconfig.VerbosityNormal
	case 1:
		cfg.Verbosity = netconfig.VerbosityVerbose
	case 2:
		cfg.Verbosity = netconfig.VerbosityDebug
	default:
		cfg.Verbosity = netconfig.VerbosityTrace
	}
	if v.GetBool("quiet") {
		cfg.Verbosity = netconfig.VerbosityQuiet
	}

	if len(args) > 0 {
		cfg.Host = args[0]
	}
	if len(args) > 1 {
		p, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", args[1], err)
		}
		cfg.Port = p
	}

	if cfg.Mode == netconfig.ModeScan {
		ports, err := parsePorts(v.GetString("ports"))
		if err != nil {
			return nil, err
		}
		scanDelay, err := parseTimeoutFlag(v, "scan-delay")
		if err != nil {
			return nil, err
		}
		cfg.Scan = netconfig.Scan{
			Ports:           ports,
			Concurrency:     v.GetInt("scan-concurrency"),
			Randomize:       v.GetBool("randomize-ports"),
			InterProbeDelay: scanDelay,
			PreferIOUring:   true,
			FailIfNoneOpen:  v.GetBool("fail-if-none-open"),
		}
	}

	return cfg, nil
}

// parseTimeoutFlag resolves a duration-valued flag through duration.Parse
// rather than pflag's built-in Duration type, so a malformed value surfaces
// as the same usage error every other flag produces instead of pflag's
// own parse failure shape.
func parseTimeoutFlag(v *viper.Viper, name string) (time.Duration, error) {
	raw := v.GetString(name)
	if raw == "" {
		return 0, nil
	}
	d, err := duration.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return d.Time(), nil
}

// parseEnvAllow turns repeated --env-allow NAME=value flags into the
// static allowlist map telnet's NEW-ENVIRON SEND handler draws from;
// entries without an '=' are skipped rather than rejected, since a typo
// here should never escalate into a hard startup failure.
func parseEnvAllow(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		idx := strings.IndexByte(p, '=')
		if idx < 0 {
			continue
		}
		out[p[:idx]] = p[idx+1:]
	}
	return out
}

// parsePorts expands a comma-separated list of single ports and
// start-end ranges ("20-25,80,443") into an explicit slice, rejecting a
// range whose start exceeds its end (spec.md §8 boundary behaviour).
func parsePorts(spec string) ([]int, error) {
	if spec == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.IndexByte(part, '-'); idx >= 0 {
			lo, err := strconv.Atoi(part[:idx])
			if err != nil {
				return nil, fmt.Errorf("invalid port range %q: %w", part, err)
			}
			hi, err := strconv.Atoi(part[idx+1:])
			if err != nil {
				return nil, fmt.Errorf("invalid port range %q: %w", part, err)
			}
			if lo > hi {
				return nil, fmt.Errorf("port range start %d exceeds end %d", lo, hi)
			}
			for p := lo; p <= hi; p++ {
				out = append(out, p)
			}
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", part, err)
		}
		out = append(out, p)
	}
	return out, nil
}
