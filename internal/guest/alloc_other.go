//go:build !unix

package guest

import "errors"

// Allocate is unavailable without mmap.
func Allocate(layout Layout) (*Memory, error) {
	return nil, errors.New("guest: memory allocation not supported on this platform")
}
