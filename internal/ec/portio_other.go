//go:build !linux && !windows

package ec

import "errors"

func openPortBus() (PortBus, error) {
	return nil, errors.New("raw port I/O is not supported on this platform")
}
