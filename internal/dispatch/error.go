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

import "github.com/sabouaram/netbridge/errors"

const (
	ErrorBindFailed errors.CodeError = iota + errors.MinPkgDispatch
	ErrorAccessDenied
	ErrorExecRequiresAllow
	ErrorPrivilegeDropFailed
	ErrorUserNotFound
	ErrorTooManyFileDescriptors
	ErrorWorldWritableSocket
)

func init() {
	errors.RegisterIdFctMessage(ErrorBindFailed, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case errors.UnknownError:
		return ""
	case ErrorBindFailed:
		return "dispatch: bind failed"
	case ErrorAccessDenied:
		return "dispatch: access denied"
	case ErrorExecRequiresAllow:
		return "dispatch: exec mode requires a non-empty allow list"
	case ErrorPrivilegeDropFailed:
		return "dispatch: privilege drop failed"
	case ErrorUserNotFound:
		return "dispatch: drop-user not found"
	case ErrorTooManyFileDescriptors:
		return "dispatch: too many file descriptors"
	case ErrorWorldWritableSocket:
		return "dispatch: refusing world-writable unix socket path"
	}

	return ""
}

var (
	ErrBindFailed             = ErrorBindFailed.Error(nil)
	ErrAccessDenied           = ErrorAccessDenied.Error(nil)
	ErrExecRequiresAllow      = ErrorExecRequiresAllow.Error(nil)
	ErrPrivilegeDropFailed    = ErrorPrivilegeDropFailed.Error(nil)
	ErrUserNotFound           = ErrorUserNotFound.Error(nil)
	ErrTooManyFileDescriptors = ErrorTooManyFileDescriptors.Error(nil)
	ErrWorldWritableSocket    = ErrorWorldWritableSocket.Error(nil)
)
