// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import "golang.org/x/term"

// Terminal abstracts passphrase entry so the CLI can be exercised in
// tests without a real TTY.
type Terminal interface {
	ReadPassword(fd int) ([]byte, error)
}

// realTerminal reads a passphrase from the given file descriptor with
// echo disabled.
type realTerminal struct{}

func (realTerminal) ReadPassword(fd int) ([]byte, error) {
	return term.ReadPassword(fd)
}
