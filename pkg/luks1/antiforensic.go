// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"encoding/binary"
	"fmt"
	"hash"
)

// AFMerge reconstructs the keysize-byte secret from its anti-forensic
// split representation: keysize*stripes bytes read from a key slot's
// key material area. It is the inverse of AFSplit, which cryptsetup
// uses at format time to spread the key across the slot so that partial
// overwrite of the slot renders the whole key unrecoverable.
func AFMerge(split []byte, keysize, stripes int, newHash func() hash.Hash) ([]byte, error) {
	if keysize <= 0 {
		return nil, fmt.Errorf("%w: non-positive keysize", ErrHeaderInvalid)
	}
	if stripes <= 0 {
		return nil, fmt.Errorf("%w: non-positive stripe count", ErrHeaderInvalid)
	}
	if len(split) != keysize*stripes {
		return nil, fmt.Errorf("%w: split material length %d, want %d", ErrHeaderInvalid, len(split), keysize*stripes)
	}

	d := make([]byte, keysize)
	for i := 0; i < stripes; i++ {
		chunk := split[i*keysize : (i+1)*keysize]
		xorBytes(d, chunk, d)
		if i != stripes-1 {
			diffuse(d, newHash())
		}
	}
	return d, nil
}

// diffuse applies the anti-forensic diffusion function to d in place:
// each digest-sized chunk is replaced by the hash of its big-endian
// chunk index followed by the chunk's current contents (the trailing
// partial chunk keeps only as many digest bytes as it is long). A
// chunk's replacement depends on nothing outside the chunk, so the
// buffer is rewritten as it is walked; the one scratch digest holds
// key-derivation intermediate state and is zeroed before return.
func diffuse(d []byte, h hash.Hash) {
	digestSize := h.Size()
	digest := make([]byte, 0, digestSize)
	defer clearBytes(digest[:cap(digest)])

	var idxBuf [4]byte
	for off, idx := 0, uint32(0); off < len(d); off, idx = off+digestSize, idx+1 {
		end := off + digestSize
		if end > len(d) {
			end = len(d)
		}
		binary.BigEndian.PutUint32(idxBuf[:], idx)
		h.Reset()
		h.Write(idxBuf[:])
		h.Write(d[off:end])
		digest = h.Sum(digest[:0])
		copy(d[off:end], digest)
	}
}

// xorBytes XORs a with b into dst, bounded by dst's length. dst may
// alias a, which is how the stripe accumulation above uses it.
func xorBytes(a, b, dst []byte) {
	for i, v := range a[:len(dst)] {
		dst[i] = v ^ b[i]
	}
}
