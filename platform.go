//go:build linux && amd64

package kvm

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Supported returns true if KVM is available and accessible at DefaultDevice.
// A missing device is reported as unsupported without an error.
func Supported() (bool, error) {
	k, err := Open(DefaultDevice)
	if err != nil {
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ENXIO) {
			return false, nil
		}
		return false, err
	}
	return true, k.Close()
}
