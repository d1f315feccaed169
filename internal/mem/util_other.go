//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// No platform support, rely on memguard enclaves only
	return ProtectionNone, nil
}

func unlockMemoryPlatform() error {
	return nil
}
