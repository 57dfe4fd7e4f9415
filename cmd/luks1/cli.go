// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jeremyhahn/go-luks1/pkg/luks1"
)

const usage = `
USAGE:
    luks1 <command> [options]

COMMANDS:
    unlock <device>            Unlock a LUKS1 volume, prompting for a passphrase
    unlock -u <uuid> <dev...>  Unlock the candidate whose header UUID matches
    unlock -a <dev...>         Unlock every listed device, skipping failures
    info <device>              Show header information without unlocking
    read <name> <sector> <n>   Hex-dump n decrypted sectors from an unlocked volume
    help                       Show this help message
    version                    Show version information
`

// CLI holds everything the command dispatch needs, injected so tests can
// swap in fakes for the terminal and the registry's backing devices.
type CLI struct {
	Args     []string
	Stdout   io.Writer
	Stderr   io.Writer
	Terminal Terminal
	Registry *luks1.Registry
	ExitFunc func(int)
	stdinFd  int
}

// NewCLI builds a CLI wired to the real terminal, stdio, and os.Exit.
func NewCLI() *CLI {
	return &CLI{
		Args:     os.Args,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Terminal: realTerminal{},
		Registry: luks1.NewRegistry(),
		ExitFunc: os.Exit,
		stdinFd:  int(os.Stdin.Fd()),
	}
}

// Run dispatches on Args[1] and returns a process exit code.
func (c *CLI) Run() int {
	if len(c.Args) < 2 {
		fmt.Fprint(c.Stdout, usage)
		return 1
	}

	switch c.Args[1] {
	case "unlock":
		return c.cmdUnlock(c.Args[2:])
	case "info":
		return c.cmdInfo(c.Args[2:])
	case "read":
		return c.cmdRead(c.Args[2:])
	case "version":
		fmt.Fprintln(c.Stdout, Version)
		return 0
	case "help":
		fmt.Fprint(c.Stdout, usage)
		return 0
	default:
		fmt.Fprintf(c.Stderr, "unknown command %q\n", c.Args[1])
		fmt.Fprint(c.Stdout, usage)
		return 1
	}
}

func (c *CLI) cmdUnlock(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.Stderr, "unlock: missing device, uuid (-u), or -a")
		return 1
	}

	switch args[0] {
	case "-u":
		if len(args) < 2 {
			fmt.Fprintln(c.Stderr, "unlock -u: missing uuid")
			return 1
		}
		return c.unlockByUUID(args[1], args[2:])
	case "-a":
		if len(args) < 2 {
			fmt.Fprintln(c.Stderr, "unlock -a: no devices given; pass device paths as trailing arguments")
			return 1
		}
		return c.cmdUnlockAll(args[1:])
	default:
		return c.unlockOne(args[0])
	}
}

// unlockByUUID implements "unlock -u <uuid>": it first checks whether a
// device matching uuid is already registered, then scans the trailing
// device-path arguments (device enumeration belongs to the host
// bootloader, so the CLI takes candidates as arguments) for the first
// whose header UUID matches, case-insensitively and ignoring hyphens.
func (c *CLI) unlockByUUID(want string, devices []string) int {
	if uv, err := c.Registry.ByUUID(want); err == nil {
		fmt.Fprintf(c.Stdout, "already unlocked as %s\n", uv.Name)
		return 0
	}

	for _, dev := range devices {
		f, err := luks1.OpenBackingDevice(dev)
		if err != nil {
			continue
		}
		vol, err := luks1.ReadHeader(f)
		f.Close()
		if err != nil {
			continue
		}
		if luks1.MatchesUUID(vol.UUID, want) {
			return c.unlockOne(dev)
		}
	}
	fmt.Fprintf(c.Stderr, "unlock -u: no device among %d candidates matches uuid %s\n", len(devices), want)
	return 1
}

// cmdUnlockAll unlocks every device in devices, logging and skipping any
// that fail rather than aborting the batch. Per-device failures don't fail
// the command as a whole: it only reports failure if every device failed.
func (c *CLI) cmdUnlockAll(devices []string) int {
	unlocked := 0
	for _, dev := range devices {
		if rc := c.unlockOne(dev); rc != 0 {
			fmt.Fprintf(c.Stderr, "unlock -a: skipping %s after failure\n", dev)
			continue
		}
		unlocked++
	}
	if unlocked == 0 {
		return 1
	}
	return 0
}

func (c *CLI) unlockOne(device string) int {
	passphrase, err := c.promptPassphrase(fmt.Sprintf("Enter passphrase for %s: ", device))
	if err != nil {
		fmt.Fprintf(c.Stderr, "unlock: reading passphrase: %v\n", err)
		return 1
	}
	defer luks1.ClearBytes(passphrase)

	uv, err := c.Registry.Unlock(device, passphrase)
	if err != nil {
		fmt.Fprintf(c.Stderr, "unlock: %v\n", err)
		return 1
	}
	fmt.Fprintf(c.Stdout, "unlocked %s as %s (uuid %s)\n", device, uv.Name, uv.UUID)
	return 0
}

func (c *CLI) cmdInfo(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.Stderr, "info: missing device")
		return 1
	}
	f, err := luks1.OpenBackingDevice(args[0])
	if err != nil {
		fmt.Fprintf(c.Stderr, "info: %v\n", err)
		return 1
	}
	defer f.Close()

	vol, err := luks1.ReadHeader(f)
	if err != nil {
		fmt.Fprintf(c.Stderr, "info: %v\n", err)
		return 1
	}

	fmt.Fprintf(c.Stdout, "cipher:       %s\n", vol.CipherName)
	fmt.Fprintf(c.Stdout, "mode:         %s\n", vol.CipherMode)
	fmt.Fprintf(c.Stdout, "hash:         %s\n", vol.HashSpec)
	fmt.Fprintf(c.Stdout, "uuid:         %s\n", vol.UUID)
	fmt.Fprintf(c.Stdout, "payload off:  %d sectors\n", vol.PayloadOffset)
	active := 0
	for _, ks := range vol.KeySlots {
		if ks.IsActive() {
			active++
		}
	}
	fmt.Fprintf(c.Stdout, "active slots: %d/8\n", active)
	return 0
}

func (c *CLI) cmdRead(args []string) int {
	if len(args) < 3 {
		fmt.Fprintln(c.Stderr, "read: usage: read <name> <sector> <count>")
		return 1
	}
	uv, err := c.Registry.Lookup(args[0])
	if err != nil {
		fmt.Fprintf(c.Stderr, "read: %v\n", err)
		return 1
	}
	sector, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(c.Stderr, "read: invalid sector %q\n", args[1])
		return 1
	}
	count, err := strconv.Atoi(args[2])
	if err != nil || count <= 0 {
		fmt.Fprintf(c.Stderr, "read: invalid count %q\n", args[2])
		return 1
	}

	buf := make([]byte, count*512)
	if err := uv.ReadSectors(buf, sector, count); err != nil {
		fmt.Fprintf(c.Stderr, "read: %v\n", err)
		return 1
	}
	fmt.Fprintln(c.Stdout, hex.EncodeToString(buf))
	return 0
}

func (c *CLI) promptPassphrase(prompt string) ([]byte, error) {
	fmt.Fprint(c.Stdout, prompt)
	pass, err := c.Terminal.ReadPassword(c.stdinFd)
	fmt.Fprintln(c.Stdout)
	return pass, err
}
