// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// BackingDevice is the minimal capability this package needs from a
// block device or file holding a LUKS1 volume: positioned reads and
// Close. *os.File satisfies it directly.
type BackingDevice interface {
	ReadAt(p []byte, off int64) (int, error)
	Close() error
}

// OpenBackingDevice opens path for read-only access, the only access
// mode a bootloader device layer needs.
func OpenBackingDevice(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsPermission(err) {
			return nil, &DeviceError{Device: path, Op: "open", Err: ErrPermissionDenied}
		}
		return nil, &DeviceError{Device: path, Op: "open", Err: err}
	}
	return f, nil
}

// DeviceSize returns the size in bytes of the backing device at f. For a
// regular file this is its length; for a block device it queries the
// kernel directly, since stat's size on a block special file is usually
// zero.
func DeviceSize(f *os.File) (int64, error) {
	stat, err := f.Stat()
	if err != nil {
		return 0, &DeviceError{Device: f.Name(), Op: "stat", Err: err}
	}
	if stat.Mode()&os.ModeDevice == 0 {
		return stat.Size(), nil
	}

	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, &DeviceError{Device: f.Name(), Op: "ioctl BLKGETSIZE64", Err: fmt.Errorf("%w: %v", ErrIO, errno)}
	}
	return int64(size), nil
}
