// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// clearBytes securely zeros a byte slice.
func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ClearBytes is the exported form of clearBytes, for callers outside the
// package (notably cmd/luks1) that hold passphrase or key buffers they
// need to zero before releasing.
func ClearBytes(b []byte) {
	clearBytes(b)
}

// fixedArrayToString cuts a fixed-size header field at its first NUL and
// trims trailing spaces, yielding its Go string value.
func fixedArrayToString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimRight(b, " "))
}

// isPowerOf2 reports whether n is a positive power of two.
func isPowerOf2(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// canonicalUUID validates the header's UUID field and reduces it to its
// 32-character hex form, stripped of hyphens, matching the "luksuuid/"
// virtual device alias form.
func canonicalUUID(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: invalid uuid %q: %v", ErrHeaderInvalid, raw, err)
	}
	return hex.EncodeToString(id[:]), nil
}

// normalizeUUIDQuery reduces a user-supplied "-u <uuid>" argument to the
// same comparable form canonicalUUID produces, without requiring it to be
// a strictly well-formed UUID (cryptsetup's lookup is forgiving about
// case and hyphens on the query side even though the header itself must
// parse cleanly).
func normalizeUUIDQuery(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
}

// MatchesUUID reports whether a volume's canonical UUID matches a
// user-supplied query, ignoring case and hyphens, as the "-u <uuid>" CLI
// form requires.
func MatchesUUID(canonical, query string) bool {
	return canonical == normalizeUUIDQuery(query)
}
