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

package netconfig

import "github.com/sabouaram/netbridge/errors"

const (
	ErrorValidatorError errors.CodeError = iota + errors.MinPkgNetConfig
	ErrorConflictingOptions
	ErrorInvalidCIDR
	ErrorMissingValue
	ErrorPathTraversal
)

func init() {
	errors.RegisterIdFctMessage(ErrorValidatorError, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case errors.UnknownError:
		return ""
	case ErrorValidatorError:
		return "netconfig: validation failed"
	case ErrorConflictingOptions:
		return "netconfig: conflicting options"
	case ErrorInvalidCIDR:
		return "netconfig: invalid cidr entry"
	case ErrorMissingValue:
		return "netconfig: missing required value"
	case ErrorPathTraversal:
		return "netconfig: path traversal rejected"
	}

	return ""
}

var (
	ErrConflictingOptions = ErrorConflictingOptions.Error(nil)
	ErrMissingValue       = ErrorMissingValue.Error(nil)
	ErrPathTraversal      = ErrorPathTraversal.Error(nil)
)
