// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"fmt"
	"strings"

	"github.com/aead/serpent"
	"golang.org/x/crypto/cast5"
	"golang.org/x/crypto/twofish"
)

// blockCipherFactory constructs a cipher.Block for a fixed-size key.
type blockCipherFactory func(key []byte) (cipher.Block, error)

var cipherFactories = map[string]blockCipherFactory{
	"aes":     func(key []byte) (cipher.Block, error) { return aes.NewCipher(key) },
	"twofish": func(key []byte) (cipher.Block, error) { return twofish.NewCipher(key) },
	"serpent": func(key []byte) (cipher.Block, error) { return serpent.NewCipher(key) },
	"cast5": func(key []byte) (cipher.Block, error) {
		if len(key) != 16 {
			return nil, fmt.Errorf("%w: cast5 requires a 16-byte key", ErrUnsupportedSuite)
		}
		return cast5.NewCipher(key)
	},
	"des3": func(key []byte) (cipher.Block, error) { return des.NewTripleDESCipher(key) },
}

// modeKind enumerates the sector-cipher modes LUKS1 headers can name.
type modeKind int

const (
	modeECB modeKind = iota
	modeCBC
	modePCBC
	modeXTS
	modeLRW
)

// ivKind enumerates the per-sector IV derivation schemes.
type ivKind int

const (
	ivNull ivKind = iota
	ivPlain
	ivPlain64
	ivBenbi
	ivESSIV
)

// CipherSuite is the parsed, validated result of negotiating a header's
// CipherName/CipherMode against the ciphers and modes this build
// supports.
type CipherSuite struct {
	CipherName string
	factory    blockCipherFactory
	blockSize  int

	Mode      modeKind
	IV        ivKind
	essivHash string // hash name for ivESSIV, e.g. "sha256"
}

// NegotiateSuite parses a LUKS1 CipherMode string such as
// "xts-plain64", "cbc-essiv:sha256", "cbc-plain", "lrw-plain", or a bare
// "ecb", and validates it against the named cipher's block size.
func NegotiateSuite(cipherName, cipherMode string) (*CipherSuite, error) {
	factory, ok := cipherFactories[cipherName]
	if !ok {
		return nil, fmt.Errorf("%w: cipher %q", ErrUnsupportedSuite, cipherName)
	}

	blockSize, err := probeBlockSize(cipherName)
	if err != nil {
		return nil, err
	}

	modeName, ivSpec, hasIV := strings.Cut(cipherMode, "-")
	suite := &CipherSuite{CipherName: cipherName, factory: factory, blockSize: blockSize}

	if cipherMode == "plain" {
		// Historical alias: a bare "plain" cipherMode means CBC chaining
		// with the plain (sector-index) IV, predating the "<chain>-<iv>"
		// naming convention.
		suite.Mode = modeCBC
		suite.IV = ivPlain
		return suite, nil
	}

	switch modeName {
	case "ecb":
		suite.Mode = modeECB
		suite.IV = ivNull
		return suite, nil
	case "cbc":
		suite.Mode = modeCBC
	case "pcbc":
		suite.Mode = modePCBC
	case "xts":
		suite.Mode = modeXTS
		if blockSize != 16 {
			return nil, fmt.Errorf("%w: xts requires a 16-byte block cipher", ErrUnsupportedSuite)
		}
	case "lrw":
		suite.Mode = modeLRW
		if blockSize != 16 {
			return nil, fmt.Errorf("%w: lrw requires a 16-byte block cipher", ErrUnsupportedSuite)
		}
	default:
		return nil, fmt.Errorf("%w: mode %q", ErrUnsupportedSuite, modeName)
	}

	if !hasIV {
		return nil, fmt.Errorf("%w: mode %q missing an IV generator", ErrUnsupportedSuite, modeName)
	}

	ivName, ivParam, _ := strings.Cut(ivSpec, ":")
	switch ivName {
	case "null":
		suite.IV = ivNull
	case "plain":
		suite.IV = ivPlain
	case "plain64":
		suite.IV = ivPlain64
	case "benbi":
		if suite.Mode == modeLRW {
			return nil, fmt.Errorf("%w: lrw does not support the benbi IV generator", ErrUnsupportedSuite)
		}
		if !isPowerOf2(blockSize) {
			return nil, fmt.Errorf("%w: benbi requires a power-of-two block size", ErrUnsupportedSuite)
		}
		suite.IV = ivBenbi
	case "essiv":
		suite.IV = ivESSIV
		if ivParam == "" {
			return nil, fmt.Errorf("%w: essiv missing hash parameter", ErrUnsupportedSuite)
		}
		if _, err := hashByName(ivParam); err != nil {
			return nil, err
		}
		suite.essivHash = ivParam
	default:
		return nil, fmt.Errorf("%w: iv generator %q", ErrUnsupportedSuite, ivName)
	}
	return suite, nil
}

// probeBlockSize reports the block size of a supported cipher without
// keying an instance, since cipher.Block exposes BlockSize() only on an
// instantiated cipher.
func probeBlockSize(cipherName string) (int, error) {
	switch cipherName {
	case "aes":
		return aes.BlockSize, nil
	case "twofish":
		return 16, nil
	case "serpent":
		return 16, nil
	case "cast5":
		return 8, nil
	case "des3":
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: cipher %q", ErrUnsupportedSuite, cipherName)
	}
}

// NewBlock constructs a keyed cipher.Block for the suite's cipher.
func (s *CipherSuite) NewBlock(key []byte) (cipher.Block, error) {
	return s.factory(key)
}

// benbiShift returns log2(sectorSize/blockSize), the bit-count the benbi
// IV generator shifts the sector index left by before encoding it.
func benbiShift(blockSize int) uint {
	shift := uint(0)
	for sz := blockSize; sz < sectorSize; sz <<= 1 {
		shift++
	}
	return shift
}
