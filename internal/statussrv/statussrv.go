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

// Package statussrv is the optional --status-addr introspection endpoint
// (SPEC_FULL.md §3.2): a small gin.Engine, the teacher's own HTTP
// framework of choice (github.com/gin-gonic/gin, also used by
// logger.Entry.SetGinContext), exposing the dispatch server's session
// state and the prometheus registry without touching the data plane.
package statussrv

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sabouaram/netbridge/internal/dispatch"
	"github.com/sabouaram/netbridge/internal/metrics"
	"github.com/sabouaram/netbridge/internal/scanner"
)

// SessionSource is the subset of dispatch.Server the status endpoint
// reads; an interface keeps this package decoupled from dispatch's
// internals beyond the three accessors it actually needs.
type SessionSource interface {
	State() dispatch.State
	ActiveSessions() int
}

// Server serves GET /sessions, GET /scan and GET /metrics on addr until
// Shutdown is called.
type Server struct {
	http *http.Server

	mu       sync.RWMutex
	lastScan []scanner.Result
}

// New builds a status server bound to addr. src reports live dispatch
// state; reg may be nil (metrics.Registry's own nil receiver methods make
// a nil *Registry safe, and /metrics renders nothing useful for it beyond
// the Go runtime collectors gin's default registry always carries).
func New(addr string, src SessionSource, reg *metrics.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{}

	r.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"state":           src.State().String(),
			"active_sessions": src.ActiveSessions(),
		})
	})

	r.GET("/scan", func(c *gin.Context) {
		s.mu.RLock()
		results := s.lastScan
		s.mu.RUnlock()
		c.JSON(http.StatusOK, gin.H{"results": results})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{})))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetLastScan records the most recent scan results for GET /scan to
// report; dispatch's scan mode calls this after Scan returns.
func (s *Server) SetLastScan(results []scanner.Result) {
	s.mu.Lock()
	s.lastScan = results
	s.mu.Unlock()
}

// Serve blocks accepting connections until Shutdown is called; it never
// returns a non-nil error for a clean shutdown (mirrors net/http.Server's
// own ErrServerClosed convention).
func (s *Server) Serve() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
