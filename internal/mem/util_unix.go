//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package mem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func lockMemoryPlatform() (ProtectionLevel, error) {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		// EPERM (no CAP_IPC_LOCK / rlimit headroom) and ENOSYS are
		// survivable: enclave pages still get their own mlock.
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOSYS) {
			return ProtectionPartial, nil
		}
		return ProtectionNone, fmt.Errorf("mlockall: %w", err)
	}
	return ProtectionFull, nil
}

func unlockMemoryPlatform() error {
	if err := unix.Munlockall(); err != nil {
		return fmt.Errorf("munlockall: %w", err)
	}
	return nil
}
