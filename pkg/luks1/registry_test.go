// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"bytes"
	"errors"
	"testing"
)

func TestRegistryIdempotentUnlock(t *testing.T) {
	passphrase := []byte("correct horse battery staple")
	plaintext := bytes.Repeat([]byte("A"), sectorSize)
	raw := buildFixtureDevice(t, passphrase, plaintext)

	reg := NewRegistry()
	first, err := reg.unlockDevice("fixture", fakeDevice{bytes.NewReader(raw)}, passphrase)
	if err != nil {
		t.Fatalf("first unlockDevice: %v", err)
	}

	second, err := reg.unlockDevice("fixture", fakeDevice{bytes.NewReader(raw)}, passphrase)
	if err != nil {
		t.Fatalf("second unlockDevice: %v", err)
	}

	if first != second {
		t.Fatalf("repeat unlock of the same device identity created a second volume: %s vs %s", first.Name, second.Name)
	}
	if len(reg.All()) != 1 {
		t.Fatalf("registry has %d volumes, want 1 after idempotent unlock", len(reg.All()))
	}
	if first.Name != "luks0" {
		t.Fatalf("first ordinal name = %q, want luks0", first.Name)
	}
}

func TestRegistryOrdinalsIncrementAcrossDevices(t *testing.T) {
	passphrase := []byte("correct horse battery staple")
	raw1 := buildFixtureDevice(t, passphrase, bytes.Repeat([]byte("A"), sectorSize))
	raw2 := buildFixtureDevice(t, passphrase, bytes.Repeat([]byte("B"), sectorSize))

	reg := NewRegistry()
	v1, err := reg.unlockDevice("device-1", fakeDevice{bytes.NewReader(raw1)}, passphrase)
	if err != nil {
		t.Fatalf("unlock device-1: %v", err)
	}
	v2, err := reg.unlockDevice("device-2", fakeDevice{bytes.NewReader(raw2)}, passphrase)
	if err != nil {
		t.Fatalf("unlock device-2: %v", err)
	}

	if v1.Name != "luks0" || v2.Name != "luks1" {
		t.Fatalf("ordinals = %s, %s, want luks0, luks1", v1.Name, v2.Name)
	}

	if _, err := reg.Lookup("luksuuid/" + v1.UUID); err != nil {
		t.Errorf("Lookup by luksuuid alias failed: %v", err)
	}
}

func TestRegistryLockRemovesVolume(t *testing.T) {
	passphrase := []byte("correct horse battery staple")
	raw := buildFixtureDevice(t, passphrase, bytes.Repeat([]byte("A"), sectorSize))

	reg := NewRegistry()
	uv, err := reg.unlockDevice("fixture", fakeDevice{bytes.NewReader(raw)}, passphrase)
	if err != nil {
		t.Fatalf("unlockDevice: %v", err)
	}

	if err := reg.Lock(uv.Name); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := reg.Lookup(uv.Name); err == nil {
		t.Fatalf("expected Lookup to fail after Lock")
	}
	if len(reg.All()) != 0 {
		t.Fatalf("registry has %d volumes after Lock, want 0", len(reg.All()))
	}
}

// TestWriteSectorsNotImplemented checks that a write request is refused
// regardless of the volume's negotiated mode.
func TestWriteSectorsNotImplemented(t *testing.T) {
	passphrase := []byte("correct horse battery staple")
	raw := buildFixtureDevice(t, passphrase, bytes.Repeat([]byte("A"), sectorSize))

	reg := NewRegistry()
	uv, err := reg.unlockDevice("fixture", fakeDevice{bytes.NewReader(raw)}, passphrase)
	if err != nil {
		t.Fatalf("unlockDevice: %v", err)
	}

	err = uv.WriteSectors(bytes.Repeat([]byte("X"), sectorSize), 0, 1)
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("WriteSectors error = %v, want wrapping ErrNotImplemented", err)
	}
}
