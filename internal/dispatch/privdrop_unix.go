//go:build !windows

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
	"fmt"
	"os/user"
	"strconv"
	"syscall"
)

// dropPrivileges performs setgroups(0), setgid, setuid to the named
// unprivileged user, in that strict order, aborting on the first failure
// so no partial privilege drop is ever observed by later code.
func dropPrivileges(username string) error {
	if username == "" {
		return nil
	}

	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserNotFound, err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("%w: invalid uid %q", ErrPrivilegeDropFailed, u.Uid)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("%w: invalid gid %q", ErrPrivilegeDropFailed, u.Gid)
	}

	if err := syscall.Setgroups(nil); err != nil {
		return fmt.Errorf("%w: setgroups: %v", ErrPrivilegeDropFailed, err)
	}
	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("%w: setgid: %v", ErrPrivilegeDropFailed, err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("%w: setuid: %v", ErrPrivilegeDropFailed, err)
	}

	return nil
}
