//go:build linux

package ec

import (
	"fmt"
	"os"
)

const devPortPath = "/dev/port"

// devPortBus drives port I/O through /dev/port, where the byte at offset N
// is I/O port N. Requires root or CAP_SYS_RAWIO.
type devPortBus struct {
	f *os.File
}

func openPortBus() (PortBus, error) {
	f, err := os.OpenFile(devPortPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devPortPath, err)
	}
	return &devPortBus{f: f}, nil
}

func (b *devPortBus) In(port uint16) (byte, error) {
	var buf [1]byte
	if _, err := b.f.ReadAt(buf[:], int64(port)); err != nil {
		return 0, fmt.Errorf("read port 0x%02X: %w", port, err)
	}
	return buf[0], nil
}

func (b *devPortBus) Out(port uint16, value byte) error {
	if _, err := b.f.WriteAt([]byte{value}, int64(port)); err != nil {
		return fmt.Errorf("write port 0x%02X: %w", port, err)
	}
	return nil
}

func (b *devPortBus) Close() error {
	return b.f.Close()
}
