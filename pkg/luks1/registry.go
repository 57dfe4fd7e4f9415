// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// UnlockedVolume is a registered, unlocked LUKS1 volume: everything the
// read path needs to translate a payload-relative sector read into a
// decrypted buffer.
type UnlockedVolume struct {
	Name   string // "luks<ordinal>"
	UUID   string
	Device BackingDevice

	volume *Volume
	codec  *sectorCodec
	key    *MasterKey

	backingIdentity string // backing-device identity (the path given to Unlock) used for unlock idempotency
}

// Close locks the volume: it zeroes the recovered master key. It does
// not close the backing device, since the registry may still be holding
// it open for another purpose.
func (u *UnlockedVolume) Close() error {
	u.key.Clear()
	u.codec = nil
	return nil
}

// ReadSectors decrypts count sectors starting at the payload-relative
// sector index into dst, which must be count*512 bytes.
func (u *UnlockedVolume) ReadSectors(dst []byte, sector uint64, count int) error {
	if u.codec == nil {
		return ErrNotUnlocked
	}
	if len(dst) != count*sectorSize {
		return fmt.Errorf("%w: destination buffer must be %d bytes", ErrHeaderInvalid, count*sectorSize)
	}

	payloadStart := int64(u.volume.PayloadOffset) * sectorSize
	buf := make([]byte, sectorSize)
	for i := 0; i < count; i++ {
		absOffset := payloadStart + int64(sector+uint64(i))*sectorSize
		if _, err := u.Device.ReadAt(buf, absOffset); err != nil {
			return &VolumeError{Volume: u.Name, Op: "read", Err: fmt.Errorf("%w: %v", ErrIO, err)}
		}
		if err := u.codec.DecryptSector(dst[i*sectorSize:(i+1)*sectorSize], buf, sector+uint64(i)); err != nil {
			return &VolumeError{Volume: u.Name, Op: "decrypt", Err: err}
		}
	}
	return nil
}

// WriteSectors always fails: this package is a read-only driver, so
// every mode codec is reachable only through DecryptSector; there is no
// corresponding encrypt path to call here.
func (u *UnlockedVolume) WriteSectors(src []byte, sector uint64, count int) error {
	return &VolumeError{Volume: u.Name, Op: "write", Err: ErrNotImplemented}
}

// Registry tracks unlocked volumes by both their assigned ordinal name
// ("luks0", "luks1", ...) and their header UUID, so the same backing
// device can't be unlocked twice under two different names and a UUID
// lookup never has to scan the ordinal list.
type Registry struct {
	mu       sync.Mutex
	byName   map[string]*UnlockedVolume
	byUUID   map[string]*UnlockedVolume
	byDevice map[string]*UnlockedVolume
	next     int
}

// NewRegistry constructs an empty virtual-device registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]*UnlockedVolume),
		byUUID:   make(map[string]*UnlockedVolume),
		byDevice: make(map[string]*UnlockedVolume),
	}
}

// Unlock opens path, reads its header, recovers the master key with
// passphrase, and registers the resulting volume. If path is already
// registered (by device identity, i.e. the same file path string — a
// bootloader environment has no inode/dev numbers to compare), the
// existing UnlockedVolume is returned unchanged and passphrase is not
// re-checked, matching cryptsetup's idempotent luksOpen behavior.
func (reg *Registry) Unlock(path string, passphrase []byte) (*UnlockedVolume, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if existing, ok := reg.byDevice[path]; ok {
		return existing, nil
	}

	f, err := OpenBackingDevice(path)
	if err != nil {
		return nil, err
	}

	uv, err := reg.unlockDevice(path, f, passphrase)
	if err != nil {
		f.Close()
		return nil, err
	}
	return uv, nil
}

// unlockDevice performs the header read, key recovery, and codec setup
// against an already-open backing device. It is split out from Unlock so
// tests can exercise the full recovery and codec-construction path
// against an in-memory fake without touching the filesystem.
func (reg *Registry) unlockDevice(identity string, dev BackingDevice, passphrase []byte) (*UnlockedVolume, error) {
	if existing, ok := reg.byDevice[identity]; ok {
		return existing, nil
	}

	vol, err := ReadHeader(io.NewSectionReader(dev, 0, 1<<20))
	if err != nil {
		return nil, err
	}

	mk, err := RecoverMasterKey(vol, dev, passphrase)
	if err != nil {
		return nil, err
	}

	suite, err := NegotiateSuite(vol.CipherName, vol.CipherMode)
	if err != nil {
		mk.Clear()
		return nil, err
	}
	codec, err := newSectorCodec(suite, mk.Key)
	if err != nil {
		mk.Clear()
		return nil, err
	}

	name := fmt.Sprintf("luks%d", reg.next)
	reg.next++

	uv := &UnlockedVolume{
		Name:            name,
		UUID:            vol.UUID,
		Device:          dev,
		volume:          vol,
		codec:           codec,
		key:             mk,
		backingIdentity: identity,
	}
	reg.byName[name] = uv
	reg.byUUID[vol.UUID] = uv
	reg.byDevice[identity] = uv
	return uv, nil
}

// luksUUIDPrefix is the virtual-device alias prefix: "luksuuid/<uuid>"
// resolves the same volume as its ordinal "luks<n>" name.
const luksUUIDPrefix = "luksuuid/"

// Lookup resolves a registered volume by its ordinal name ("luks0") or by
// its "luksuuid/<uuid>" alias.
func (reg *Registry) Lookup(name string) (*UnlockedVolume, error) {
	if rest, ok := strings.CutPrefix(name, luksUUIDPrefix); ok {
		return reg.ByUUID(rest)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	uv, ok := reg.byName[name]
	if !ok {
		return nil, &VolumeError{Volume: name, Op: "lookup", Err: ErrNotFound}
	}
	return uv, nil
}

// ByUUID resolves a registered volume by its header UUID, as used by the
// "unlock -u <uuid>" CLI form.
func (reg *Registry) ByUUID(query string) (*UnlockedVolume, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	uv, ok := reg.byUUID[normalizeUUIDQuery(query)]
	if !ok {
		return nil, &VolumeError{Volume: query, Op: "lookup", Err: ErrNotFound}
	}
	return uv, nil
}

// All returns every currently registered volume, in no particular order.
func (reg *Registry) All() []*UnlockedVolume {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*UnlockedVolume, 0, len(reg.byName))
	for _, uv := range reg.byName {
		out = append(out, uv)
	}
	return out
}

// Lock removes a volume from the registry and zeroes its master key.
func (reg *Registry) Lock(name string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	uv, ok := reg.byName[name]
	if !ok {
		return &VolumeError{Volume: name, Op: "lock", Err: ErrNotFound}
	}
	uv.Close()
	delete(reg.byName, name)
	delete(reg.byUUID, uv.UUID)
	delete(reg.byDevice, uv.backingIdentity)
	return uv.Device.Close()
}
