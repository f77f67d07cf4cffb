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
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sabouaram/netbridge/console"
	"github.com/sabouaram/netbridge/internal/auditlog"
	"github.com/sabouaram/netbridge/internal/dispatch"
	"github.com/sabouaram/netbridge/internal/metrics"
	"github.com/sabouaram/netbridge/internal/netconfig"
	"github.com/sabouaram/netbridge/internal/rendezvous"
	"github.com/sabouaram/netbridge/internal/scanner"
	"github.com/sabouaram/netbridge/internal/sigx"
	"github.com/sabouaram/netbridge/internal/statussrv"
	"github.com/sabouaram/netbridge/internal/stream"
	"github.com/sabouaram/netbridge/internal/transfer"
	"github.com/sabouaram/netbridge/logger"
)

// dispatchMode realizes a validated Config into one of the four top-level
// operations, wiring a signal translator that cancels the shared context
// on SIGINT/SIGTERM so Ctrl-C unblocks whichever multiplexer wait the
// chosen mode is parked in.
func dispatchMode(ctx context.Context, cfg *netconfig.Config) error {
	log := logger.New(cfg.Verbosity.Level(), logger.TextFormat, os.Stderr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := sigx.New(ctx)
	go pollSignals(ctx, sig, cancel)

	switch cfg.Mode {
	case netconfig.ModeConnect:
		return runConnect(ctx, cfg, log)
	case netconfig.ModeListen:
		return runListen(ctx, cfg, log)
	case netconfig.ModeScan:
		return runScan(ctx, cfg, log)
	case netconfig.ModeRendezvous:
		return runRendezvous(ctx, cfg, log)
	default:
		return fmt.Errorf("%w: unknown mode %q", errUsage, cfg.Mode)
	}
}

// pollSignals bridges sigx's poll-based translator into ctx cancellation:
// nothing downstream of dispatchMode calls Poll itself, so this is the one
// place SIGINT/SIGTERM actually unblock whatever multiplexer wait a mode
// is parked in.
func pollSignals(ctx context.Context, sig *sigx.Translator, cancel context.CancelFunc) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch sig.Poll() {
			case sigx.EventInterrupt, sigx.EventTerminate:
				cancel()
				return
			}
		}
	}
}

// pumpOptions builds the transfer.Options shared by connect and rendezvous
// mode, opening the optional tee/hexdump sink files named by --tee and
// --hexdump; the returned close func must run once the pump returns.
func pumpOptions(cfg *netconfig.Config, log logger.Logger) (transfer.Options, func(), error) {
	opts := transfer.Options{
		BufferSize:   cfg.BufferSize,
		ExecTimeout:  cfg.Timeouts.Execution,
		IdleTimeout:  cfg.Timeouts.Idle,
		ConnTimeout:  cfg.Timeouts.Connect,
		CloseOnEOF:   cfg.CloseOnEOF,
		CRLFOutbound: cfg.CRLFOutbound,
		MaxRate:      cfg.MaxRate,
		Log:          log,
	}

	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	if cfg.TeePath != "" {
		f, err := os.OpenFile(cfg.TeePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return opts, closeAll, fmt.Errorf("tee: %w", err)
		}
		opts.Tee = f
		closers = append(closers, f)
	}
	if cfg.HexDumpPath != "" {
		f, err := os.OpenFile(cfg.HexDumpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			closeAll()
			return opts, func() {}, fmt.Errorf("hexdump: %w", err)
		}
		opts.HexDump = f
		closers = append(closers, f)
	}

	return opts, closeAll, nil
}

// runConnect dials the configured transport, layers cfg.Wrap over it, and
// pumps bytes between it and the local stdio pair until EOF, a timeout,
// or cancellation.
func runConnect(ctx context.Context, cfg *netconfig.Config, log logger.Logger) error {
	conn, err := dispatch.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	peer, err := dispatch.WrapClient(ctx, cfg, conn)
	if err != nil {
		conn.Close()
		return err
	}

	opts, closeSinks, err := pumpOptions(cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	local := stream.NewPipe(os.Stdin, os.Stdout)
	_, err = transfer.Pump(ctx, peer, local, opts)
	return err
}

// runListen binds and serves, optionally wiring the additive status
// server and sqlite audit ledger described in SPEC_FULL.md §3.
func runListen(ctx context.Context, cfg *netconfig.Config, log logger.Logger) error {
	if cfg.ExecProgram != "" {
		printExecWarning(cfg.ExecProgram)
	}

	srv, err := dispatch.NewServer(cfg, log)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	defer srv.Close()

	reg := metrics.New()

	if cfg.AuditDB != "" {
		ledger, err := auditlog.Open(cfg.AuditDB, log)
		if err != nil {
			log.Entry(logger.WarnLevel, "audit-db: failed to open, continuing without it").ErrorAdd(true, err).Log()
		} else {
			defer ledger.CloseDB()
			srv.SetObserver(ledger)
		}
	}

	var status *statussrv.Server
	if cfg.StatusAddr != "" {
		status = statussrv.New(cfg.StatusAddr, srv, reg)
		go func() {
			if err := status.Serve(); err != nil {
				log.Entry(logger.WarnLevel, "status server stopped").ErrorAdd(true, err).Log()
			}
		}()
		defer status.Shutdown(context.Background())
	}

	log.Entry(logger.InfoLevel, "dispatch: listening").
		FieldAdd("addr", srv.Addr().String()).
		FieldAdd("transport", string(cfg.Transport)).
		Log()

	return srv.Serve(ctx)
}

// printExecWarning logs the "dangerous mode" security box spec.md §4.9
// and §7 require at startup whenever exec mode is configured, once.
func printExecWarning(program string) {
	console.ColorPrint.Printf("WARNING: exec mode is enabled (%s) — every accepted connection not refused by the ACL will run this program.\n", program)
}

// runScan runs the port scanner and prints results sorted by port.
func runScan(ctx context.Context, cfg *netconfig.Config, log logger.Logger) error {
	opts := scanner.Options{
		Timeout:         cfg.Timeouts.Connect,
		Concurrency:     cfg.Scan.Concurrency,
		Randomize:       cfg.Scan.Randomize,
		InterProbeDelay: cfg.Scan.InterProbeDelay,
		PreferIOUring:   cfg.Scan.PreferIOUring,
		OnOpen: func(port int) {
			fmt.Printf("%d open\n", port)
		},
	}

	results, err := scanner.Scan(ctx, cfg.Host, cfg.Scan.Ports, opts)
	if err != nil {
		return err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Port < results[j].Port })

	anyOpen := false
	for _, r := range results {
		state := "closed"
		if r.Open {
			state = "open"
			anyOpen = true
		}
		log.Entry(logger.InfoLevel, "scan result").
			FieldAdd("port", fmt.Sprint(r.Port)).
			FieldAdd("state", state).
			Log()
	}

	if cfg.Scan.FailIfNoneOpen && !anyOpen {
		return errScanNoneOpen
	}
	return nil
}

// runRendezvous establishes the NAT-traversal tunnel through the relay,
// performs the SRP handshake with the role the relay assigned, and pumps
// bytes between the authenticated tunnel and local stdio.
func runRendezvous(ctx context.Context, cfg *netconfig.Config, log logger.Logger) error {
	sess, err := rendezvous.Dial(ctx, cfg.Rendezvous.Relay, cfg.Rendezvous.Secret, cfg.Rendezvous.Listen, cfg.Timeouts.Connect)
	if err != nil {
		return err
	}
	defer sess.Conn.Close()

	if sess.Role == rendezvous.RoleUndetermined {
		return rendezvous.ErrInvalidHandshake
	}

	pw := rendezvous.DerivePassword(cfg.Rendezvous.Secret)
	peer, err := stream.NewSRP(ctx, sess.Conn, stream.SRPRole(sess.Role), pw[:], cfg.Timeouts.Connect)
	if err != nil {
		return err
	}

	opts, closeSinks, err := pumpOptions(cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	local := stream.NewPipe(os.Stdin, os.Stdout)
	_, err = transfer.Pump(ctx, peer, local, opts)
	return err
}
