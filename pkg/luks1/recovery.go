// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"hash"
	"io"
)

// RecoverMasterKey tries every active key slot in v against passphrase,
// returning the recovered master key from the first slot whose
// PBKDF2-derived digest matches Volume.MKDigest. It reads key material
// from r at the offsets recorded in the header; r is typically the same
// backing device the header was read from.
//
// When every active slot decodes cleanly but none matches, it returns
// ErrIncorrectPassphrase. I/O and format failures abort the scan
// immediately, wrapped in a KeyslotError naming the slot.
func RecoverMasterKey(v *Volume, r io.ReaderAt, passphrase []byte) (*MasterKey, error) {
	// The reference implementation reads the passphrase as a C string and
	// feeds its strlen() to PBKDF2, so a passphrase with an embedded NUL
	// is silently truncated there. Existing LUKS1 images were formatted
	// against that behavior, so we reproduce it rather than use the full
	// buffer.
	if i := bytes.IndexByte(passphrase, 0); i >= 0 {
		passphrase = passphrase[:i]
	}

	newHash, err := hashByName(v.HashSpec)
	if err != nil {
		return nil, err
	}
	suite, err := NegotiateSuite(v.CipherName, v.CipherMode)
	if err != nil {
		return nil, err
	}

	tried := false
	for idx, slot := range v.KeySlots {
		if !slot.IsActive() {
			continue
		}
		tried = true

		mk, err := tryKeyslot(v, suite, r, idx, slot, passphrase, newHash)
		if err != nil {
			return nil, err
		}
		if mk != nil {
			return &MasterKey{Key: mk}, nil
		}
	}
	if !tried {
		return nil, ErrNoActiveKeyslot
	}
	return nil, ErrIncorrectPassphrase
}

// tryKeyslot attempts to recover the master key from a single key slot.
// It returns (nil, nil) — not an error — when the slot decodes fine but
// its digest doesn't match, since that's the expected outcome for every
// slot but the one unlocked by the caller's passphrase.
func tryKeyslot(v *Volume, suite *CipherSuite, r io.ReaderAt, idx int, slot KeySlot, passphrase []byte, newHash func() hash.Hash) ([]byte, error) {
	afKey := deriveSlotKey(passphrase, slot, int(v.KeyBytes), newHash)
	defer clearBytes(afKey)

	afCodec, err := newSectorCodec(suite, afKey)
	if err != nil {
		return nil, &KeyslotError{Keyslot: idx, Op: "build-af-cipher", Err: err}
	}

	striped := int64(v.KeyBytes) * int64(slot.Stripes)
	splitKey := make([]byte, striped)
	offset := int64(slot.KeyMaterialOffset) * sectorSize
	if _, err := r.ReadAt(splitKey, offset); err != nil {
		return nil, &KeyslotError{Keyslot: idx, Op: "read-key-material", Err: fmt.Errorf("%w: %v", ErrIO, err)}
	}
	defer clearBytes(splitKey)

	if err := decryptAFMaterial(afCodec, splitKey); err != nil {
		return nil, &KeyslotError{Keyslot: idx, Op: "decrypt-key-material", Err: err}
	}

	mk, err := AFMerge(splitKey, int(v.KeyBytes), int(slot.Stripes), newHash)
	if err != nil {
		return nil, &KeyslotError{Keyslot: idx, Op: "af-merge", Err: err}
	}

	digest := deriveMKDigest(mk, v.MKDigestSalt[:], int(v.MKDigestIter), newHash)
	if subtle.ConstantTimeCompare(digest, v.MKDigest[:]) != 1 {
		clearBytes(mk)
		return nil, nil
	}
	return mk, nil
}

// decryptAFMaterial decrypts the key slot's AF-split key material in
// place, sector by sector, treating it exactly like payload: LUKS1
// encrypts key material under the same cipher suite as the volume data,
// keyed by the passphrase-derived AF key instead of the master key, with
// the sector index counted from zero at the start of the key area.
func decryptAFMaterial(codec *sectorCodec, material []byte) error {
	for off := 0; off+sectorSize <= len(material); off += sectorSize {
		sector := uint64(off / sectorSize)
		if err := codec.DecryptSector(material[off:off+sectorSize], material[off:off+sectorSize], sector); err != nil {
			return err
		}
	}
	if rem := len(material) % sectorSize; rem != 0 {
		return ErrHeaderInvalid
	}
	return nil
}
