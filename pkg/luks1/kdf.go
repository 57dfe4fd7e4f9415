// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/ripemd160"
)

// hashByName resolves a LUKS1 HashSpec string to a hash constructor.
// LUKS1 volumes predate LUKS2's argon2 KDF entirely; PBKDF2 with one of
// these digests is the only key-derivation function the format defines.
func hashByName(name string) (func() hash.Hash, error) {
	switch name {
	case "sha1":
		return sha1.New, nil
	case "sha256":
		return sha256.New, nil
	case "sha384":
		return sha512.New384, nil
	case "sha512":
		return sha512.New, nil
	case "ripemd160":
		return ripemd160.New, nil
	default:
		return nil, fmt.Errorf("%w: hash spec %q", ErrUnsupportedSuite, name)
	}
}

// deriveSlotKey derives the passphrase-side AF decryption key for a
// single key slot via PBKDF2.
func deriveSlotKey(passphrase []byte, slot KeySlot, keyBytes int, newHash func() hash.Hash) []byte {
	return pbkdf2.Key(passphrase, slot.Salt[:], int(slot.Iterations), keyBytes, newHash)
}

// deriveMKDigest derives the verification digest for a master key
// candidate via PBKDF2 against the volume's digest salt/iteration count,
// for comparison against Volume.MKDigest.
func deriveMKDigest(masterKey []byte, salt []byte, iterations int, newHash func() hash.Hash) []byte {
	const mkDigestSize = 20 // len(Phdr.MKDigest)
	return pbkdf2.Key(masterKey, salt, iterations, mkDigestSize, newHash)
}
