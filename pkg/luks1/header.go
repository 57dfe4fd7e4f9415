// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadHeader reads and validates the 592-byte LUKS1 header from the start
// of r, returning the decoded Volume. It performs no key derivation and
// touches no key material; it only parses and structurally validates the
// on-disk layout.
func ReadHeader(r io.Reader) (*Volume, error) {
	var hdr Phdr
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: short read", ErrNotLUKS)
		}
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return decodeHeader(&hdr)
}

// IsLUKS reports whether r begins with the LUKS1 magic and version,
// without otherwise validating the header.
func IsLUKS(r io.Reader) bool {
	var magic [luksMagicLen]byte
	var version uint16
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return false
	}
	if magic != luksMagic {
		return false
	}
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return false
	}
	return version == luksVersion1
}

func decodeHeader(hdr *Phdr) (*Volume, error) {
	if hdr.Magic != luksMagic {
		return nil, ErrNotLUKS
	}
	// Unknown versions (LUKS2 included) report ErrNotLUKS rather than a
	// fatal error so a caller probing a device can fall through to other
	// format handlers.
	if hdr.Version != luksVersion1 {
		return nil, fmt.Errorf("%w: version %d", ErrNotLUKS, hdr.Version)
	}

	uuid, err := canonicalUUID(fixedArrayToString(hdr.UUID[:]))
	if err != nil {
		return nil, err
	}

	v := &Volume{
		CipherName:    fixedArrayToString(hdr.CipherName[:]),
		CipherMode:    fixedArrayToString(hdr.CipherMode[:]),
		HashSpec:      fixedArrayToString(hdr.HashSpec[:]),
		PayloadOffset: hdr.PayloadOffset,
		KeyBytes:      hdr.KeyBytes,
		MKDigest:      hdr.MKDigest,
		MKDigestSalt:  hdr.MKDigestSalt,
		MKDigestIter:  hdr.MKDigestIter,
		UUID:          uuid,
		KeySlots:      hdr.KeySlots,
	}

	if err := validateVolume(v); err != nil {
		return nil, err
	}
	return v, nil
}

func validateVolume(v *Volume) error {
	if v.CipherName == "" {
		return fmt.Errorf("%w: empty cipher name", ErrHeaderInvalid)
	}
	if v.CipherMode == "" {
		return fmt.Errorf("%w: empty cipher mode", ErrHeaderInvalid)
	}
	if v.HashSpec == "" {
		return fmt.Errorf("%w: empty hash spec", ErrHeaderInvalid)
	}
	if v.KeyBytes == 0 || v.KeyBytes > maxKeyBytes {
		return fmt.Errorf("%w: key size %d out of range", ErrHeaderInvalid, v.KeyBytes)
	}
	if v.PayloadOffset == 0 {
		return fmt.Errorf("%w: zero payload offset", ErrHeaderInvalid)
	}
	if v.MKDigestIter == 0 {
		return fmt.Errorf("%w: zero master key digest iteration count", ErrHeaderInvalid)
	}
	anyActive := false
	for i, ks := range v.KeySlots {
		if !ks.IsActive() {
			continue
		}
		anyActive = true
		if ks.Iterations == 0 {
			return fmt.Errorf("%w: keyslot %d has zero iterations", ErrHeaderInvalid, i)
		}
		if ks.Stripes == 0 {
			return fmt.Errorf("%w: keyslot %d has zero stripes", ErrHeaderInvalid, i)
		}
	}
	if !anyActive {
		return ErrNoActiveKeyslot
	}
	return nil
}
