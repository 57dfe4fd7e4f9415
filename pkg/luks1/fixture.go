// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"bytes"
	"crypto/aes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// NewFixtureVolume assembles a complete in-memory LUKS1 volume image
// (aes-ecb, one active key slot, one payload sector) for use by this
// module's own integration tests and by downstream packages such as the
// CLI, which need a real device image to unlock rather than a mocked
// registry. It mirrors the aes-ecb layout cryptsetup itself would
// produce, keeping the tests that exercise it honest about the on-disk
// format rather than a synthetic shortcut.
func NewFixtureVolume(passphrase, plaintext []byte) ([]byte, error) {
	const (
		keyBytes       = 32 // aes-256
		stripes        = 16 // keyBytes*stripes == 512, one full sector
		keyMaterialOff = 8  // sectors
		payloadOff     = 16 // sectors
	)

	masterKey := make([]byte, keyBytes)
	if _, err := rand.Read(masterKey); err != nil {
		return nil, fmt.Errorf("fixture master key: %w", err)
	}

	mkSalt := make([]byte, 32)
	if _, err := rand.Read(mkSalt); err != nil {
		return nil, fmt.Errorf("fixture mk salt: %w", err)
	}
	const mkIter = 50
	mkDigest := deriveMKDigest(masterKey, mkSalt, mkIter, sha256.New)

	slotSalt := make([]byte, 32)
	if _, err := rand.Read(slotSalt); err != nil {
		return nil, fmt.Errorf("fixture slot salt: %w", err)
	}
	slot := KeySlot{
		Active:            keyslotActiveMarker,
		Iterations:        50,
		KeyMaterialOffset: keyMaterialOff,
		Stripes:           stripes,
	}
	copy(slot.Salt[:], slotSalt)

	afKey := deriveSlotKey(passphrase, slot, keyBytes, sha256.New)
	splitKey, err := afSplit(masterKey, stripes)
	if err != nil {
		return nil, err
	}
	encryptedSplit, err := fixtureEncryptECB(afKey, splitKey)
	if err != nil {
		return nil, err
	}

	var hdr Phdr
	hdr.Magic = luksMagic
	hdr.Version = luksVersion1
	copy(hdr.CipherName[:], "aes")
	copy(hdr.CipherMode[:], "ecb")
	copy(hdr.HashSpec[:], "sha256")
	hdr.PayloadOffset = payloadOff
	hdr.KeyBytes = keyBytes
	copy(hdr.MKDigest[:], mkDigest)
	copy(hdr.MKDigestSalt[:], mkSalt)
	hdr.MKDigestIter = mkIter
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("fixture uuid: %w", err)
	}
	copy(hdr.UUID[:], id.String())
	hdr.KeySlots[0] = slot
	for i := 1; i < numKeyslots; i++ {
		hdr.KeySlots[i].Active = keyslotInactiveMarker
	}

	var headerBuf bytes.Buffer
	if err := binary.Write(&headerBuf, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("fixture header encode: %w", err)
	}

	ciphertext, err := fixtureEncryptECB(masterKey, plaintext)
	if err != nil {
		return nil, err
	}

	deviceSize := payloadOff*sectorSize + len(ciphertext)
	buf := make([]byte, deviceSize)
	copy(buf, headerBuf.Bytes())
	copy(buf[keyMaterialOff*sectorSize:], encryptedSplit)
	copy(buf[payloadOff*sectorSize:], ciphertext)
	return buf, nil
}

// afSplit is the inverse of AFMerge: it spreads key across stripes
// blocks of anti-forensic chaff such that AFMerge recovers it. Real
// LUKS1 volumes are split once at format time by cryptsetup; this
// package only ever merges, so the forward direction exists solely to
// let fixtures round-trip through the same diffuse/xorBytes machinery
// AFMerge uses.
func afSplit(key []byte, stripes int) ([]byte, error) {
	keysize := len(key)
	d := make([]byte, keysize)
	out := make([]byte, 0, keysize*stripes)

	for i := 0; i < stripes-1; i++ {
		s := make([]byte, keysize)
		if _, err := rand.Read(s); err != nil {
			return nil, fmt.Errorf("af split chaff: %w", err)
		}
		out = append(out, s...)
		xorBytes(d, s, d)
		diffuse(d, sha256.New())
	}
	last := make([]byte, keysize)
	xorBytes(d, key, last)
	out = append(out, last...)
	return out, nil
}

func fixtureEncryptECB(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	bs := block.BlockSize()
	for off := 0; off+bs <= len(data); off += bs {
		block.Encrypt(out[off:off+bs], data[off:off+bs])
	}
	return out, nil
}
