// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// ivGenerator produces the per-sector IV fed to a mode codec. Sector
// indices are counted from the start of the encrypted payload, as
// dm-crypt counts them, not from the start of the device.
type ivGenerator interface {
	SectorIV(sector uint64) ([]byte, error)
}

func newIVGenerator(suite *CipherSuite, masterKey []byte) (ivGenerator, error) {
	switch suite.IV {
	case ivNull:
		return nullIV{size: suite.blockSize}, nil
	case ivPlain:
		return plainIV{size: suite.blockSize}, nil
	case ivPlain64:
		return plain64IV{size: suite.blockSize}, nil
	case ivBenbi:
		return benbiIV{size: suite.blockSize, shift: benbiShift(suite.blockSize)}, nil
	case ivESSIV:
		return newESSIV(suite, masterKey)
	default:
		return nil, fmt.Errorf("%w: unknown iv generator", ErrUnsupportedSuite)
	}
}

// nullIV always returns a zero IV. It serves the "null" IV scheme of any
// chain mode and the bare "ecb" mode, whose decrypt path discards the IV.
type nullIV struct{ size int }

func (g nullIV) SectorIV(uint64) ([]byte, error) {
	return make([]byte, g.size), nil
}

// plainIV encodes the low 32 bits of the sector index, little-endian,
// zero-padded to the cipher's block size.
type plainIV struct{ size int }

func (g plainIV) SectorIV(sector uint64) ([]byte, error) {
	iv := make([]byte, g.size)
	binary.LittleEndian.PutUint32(iv, uint32(sector))
	return iv, nil
}

// plain64IV encodes the full 64-bit sector index, little-endian,
// zero-padded to the cipher's block size.
type plain64IV struct{ size int }

func (g plain64IV) SectorIV(sector uint64) ([]byte, error) {
	iv := make([]byte, g.size)
	binary.LittleEndian.PutUint64(iv, sector)
	return iv, nil
}

// benbiIV encodes a big-endian bit-offset derived from the sector index:
// the index is shifted left by log2(sectorSize/blockSize) bits and has
// its lowest bit forced to 1, matching dm-crypt's "big-endian bit
// offset" generator. The negotiator only accepts benbi for power-of-two
// block sizes, so the shift is always exact.
type benbiIV struct {
	size  int
	shift uint
}

func (g benbiIV) SectorIV(sector uint64) ([]byte, error) {
	iv := make([]byte, g.size)
	val := (sector << g.shift) | 1
	binary.BigEndian.PutUint64(iv[g.size-8:], val)
	return iv, nil
}

// essivIV derives its IV by encrypting the plain (little-endian sector
// index) IV through a single ECB block encryption under a key hashed
// from the master key, so the IV is unpredictable without the key even
// though the sector index itself is public.
type essivIV struct {
	size  int
	plain plainIV
	block cipher.Block
}

func newESSIV(suite *CipherSuite, masterKey []byte) (ivGenerator, error) {
	newHash, err := hashByName(suite.essivHash)
	if err != nil {
		return nil, err
	}
	h := newHash()
	h.Write(masterKey)
	essivKey := h.Sum(nil)

	block, err := suite.factory(essivKey)
	if err != nil {
		return nil, fmt.Errorf("%w: essiv key size %d unsupported by %s: %v", ErrUnsupportedSuite, len(essivKey), suite.CipherName, err)
	}
	return &essivIV{size: suite.blockSize, plain: plainIV{size: suite.blockSize}, block: block}, nil
}

func (g *essivIV) SectorIV(sector uint64) ([]byte, error) {
	plain, _ := g.plain.SectorIV(sector)
	out := make([]byte, g.size)
	g.block.Encrypt(out, plain)
	return out, nil
}
