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

// Package pathsafe guards the tee/hex-dump and file-transfer output paths
// against traversal outside an intended base directory.
package pathsafe

import (
	"path/filepath"
	"strings"
)

// Resolve joins base and candidate, cleans the result, and rejects it if it
// escapes base. An empty base disables the check (used for CLI-specified
// absolute tee/hex-dump paths, which are operator-trusted).
func Resolve(base, candidate string) (string, error) {
	if base == "" {
		return filepath.Clean(candidate), nil
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", ErrPathTraversal
	}

	joined := filepath.Join(absBase, candidate)
	cleaned := filepath.Clean(joined)

	rel, err := filepath.Rel(absBase, cleaned)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}

	return cleaned, nil
}
