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
	"errors"

	"github.com/sabouaram/netbridge/internal/dispatch"
	"github.com/sabouaram/netbridge/internal/rendezvous"
	"github.com/sabouaram/netbridge/internal/scanner"
	"github.com/sabouaram/netbridge/internal/srptun"
)

// Exit codes, one per spec.md §6 failure category.
const (
	exitSuccess      = 0
	exitUsage        = 1
	exitNetwork      = 2
	exitHandshake    = 3
	exitTimeout      = 4
	exitPermission   = 5
	exitScanNoneOpen = 6
	exitInternal     = 7
)

// exitCodeFor classifies a returned error into the distinct non-zero code
// its category names in spec.md §6, falling back to exitInternal for
// anything this command doesn't specifically recognize.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, errUsage):
		return exitUsage
	case errors.Is(err, errScanNoneOpen):
		return exitScanNoneOpen
	case errors.Is(err, dispatch.ErrExecRequiresAllow):
		return exitUsage
	case errors.Is(err, dispatch.ErrAccessDenied):
		return exitPermission
	case errors.Is(err, dispatch.ErrPrivilegeDropFailed), errors.Is(err, dispatch.ErrUserNotFound):
		return exitPermission
	case errors.Is(err, dispatch.ErrBindFailed), errors.Is(err, dispatch.ErrWorldWritableSocket),
		errors.Is(err, dispatch.ErrTooManyFileDescriptors):
		return exitNetwork
	case errors.Is(err, rendezvous.ErrInvalidHandshake),
		errors.Is(err, srptun.ErrHandshakeFailed), errors.Is(err, srptun.ErrAuthFailed):
		return exitHandshake
	case errors.Is(err, srptun.ErrHandshakeTimeout):
		return exitTimeout
	case errors.Is(err, scanner.ErrInvalidPortRange), errors.Is(err, scanner.ErrNoPorts):
		return exitUsage
	default:
		return exitInternal
	}
}
