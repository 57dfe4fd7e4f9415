// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"unsafe"
)

func TestPhdrStructSize(t *testing.T) {
	// The on-disk LUKS1 header is exactly 592 bytes; Go struct padding
	// must not be allowed to change that.
	const wantSize = 6 + 2 + 32 + 32 + 32 + 4 + 4 + 20 + 32 + 4 + 40 + 8*(4+4+32+4+4)
	if got := int(unsafe.Sizeof(Phdr{})); got != wantSize {
		t.Fatalf("unsafe.Sizeof(Phdr{}) = %d, want %d", got, wantSize)
	}
}

func validHeaderBytes() Phdr {
	var hdr Phdr
	hdr.Magic = luksMagic
	hdr.Version = 1
	copy(hdr.CipherName[:], "aes")
	copy(hdr.CipherMode[:], "xts-plain64")
	copy(hdr.HashSpec[:], "sha256")
	hdr.PayloadOffset = 4096
	hdr.KeyBytes = 32
	hdr.MKDigestIter = 1000
	copy(hdr.UUID[:], "12345678-1234-1234-1234-123456789012")
	hdr.KeySlots[0].Active = keyslotActiveMarker
	hdr.KeySlots[0].Iterations = 1000
	hdr.KeySlots[0].Stripes = 10
	hdr.KeySlots[0].KeyMaterialOffset = 8
	for i := 1; i < numKeyslots; i++ {
		hdr.KeySlots[i].Active = keyslotInactiveMarker
	}
	return hdr
}

func encodeHeader(t *testing.T, hdr Phdr) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, &hdr); err != nil {
		t.Fatalf("encoding fixture header: %v", err)
	}
	return buf.Bytes()
}

func TestReadHeaderValid(t *testing.T) {
	raw := encodeHeader(t, validHeaderBytes())
	vol, err := ReadHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if vol.CipherName != "aes" {
		t.Errorf("CipherName = %q, want aes", vol.CipherName)
	}
	if vol.CipherMode != "xts-plain64" {
		t.Errorf("CipherMode = %q, want xts-plain64", vol.CipherMode)
	}
	if vol.UUID != "12345678123412341234123456789012" {
		t.Errorf("UUID = %q, want canonical hyphen-stripped form", vol.UUID)
	}
	if !vol.KeySlots[0].IsActive() {
		t.Errorf("expected keyslot 0 active")
	}
	for i := 1; i < numKeyslots; i++ {
		if vol.KeySlots[i].IsActive() {
			t.Errorf("keyslot %d unexpectedly active", i)
		}
	}
}

func TestReadHeaderBadMagic(t *testing.T) {
	hdr := validHeaderBytes()
	hdr.Magic[0] = 'X'
	raw := encodeHeader(t, hdr)
	_, err := ReadHeader(bytes.NewReader(raw))
	if !errors.Is(err, ErrNotLUKS) {
		t.Fatalf("err = %v, want wrapping ErrNotLUKS", err)
	}
}

func TestReadHeaderBadVersion(t *testing.T) {
	hdr := validHeaderBytes()
	hdr.Version = 2
	raw := encodeHeader(t, hdr)
	// A LUKS2 header is still "not LUKS1": callers probing a device must
	// be able to fall through to another handler.
	_, err := ReadHeader(bytes.NewReader(raw))
	if !errors.Is(err, ErrNotLUKS) {
		t.Fatalf("err = %v, want wrapping ErrNotLUKS", err)
	}
}

func TestReadHeaderNoActiveKeyslots(t *testing.T) {
	hdr := validHeaderBytes()
	hdr.KeySlots[0].Active = keyslotInactiveMarker
	raw := encodeHeader(t, hdr)
	if _, err := ReadHeader(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected error for header with no active keyslots")
	}
}

func TestReadHeaderTruncated(t *testing.T) {
	raw := encodeHeader(t, validHeaderBytes())
	if _, err := ReadHeader(bytes.NewReader(raw[:100])); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestIsLUKS(t *testing.T) {
	raw := encodeHeader(t, validHeaderBytes())
	if !IsLUKS(bytes.NewReader(raw)) {
		t.Error("IsLUKS = false for a valid header")
	}
	if IsLUKS(bytes.NewReader([]byte("not a luks header at all"))) {
		t.Error("IsLUKS = true for garbage")
	}
}
