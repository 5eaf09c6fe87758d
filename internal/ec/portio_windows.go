//go:build windows

package ec

import (
	"fmt"
	"syscall"
)

const inpoutDLL = "inpoutx64.dll"

// inpoutBus drives port I/O through the InpOutx64 driver. The DLL is not
// bundled; it must sit next to the binary or on PATH, and its kernel driver
// must be installed.
type inpoutBus struct {
	dll   *syscall.LazyDLL
	inp32 *syscall.LazyProc
	out32 *syscall.LazyProc
}

func openPortBus() (PortBus, error) {
	dll := syscall.NewLazyDLL(inpoutDLL)
	if err := dll.Load(); err != nil {
		return nil, fmt.Errorf("load %s: %w", inpoutDLL, err)
	}
	inp32 := dll.NewProc("Inp32")
	out32 := dll.NewProc("Out32")
	if err := inp32.Find(); err != nil {
		return nil, fmt.Errorf("%s: %w", inpoutDLL, err)
	}
	if err := out32.Find(); err != nil {
		return nil, fmt.Errorf("%s: %w", inpoutDLL, err)
	}
	return &inpoutBus{dll: dll, inp32: inp32, out32: out32}, nil
}

// Inp32 and Out32 report nothing per call; a loaded driver either works or
// fails at load time.
func (b *inpoutBus) In(port uint16) (byte, error) {
	v, _, _ := b.inp32.Call(uintptr(port))
	return byte(v), nil
}

func (b *inpoutBus) Out(port uint16, value byte) error {
	b.out32.Call(uintptr(port), uintptr(value))
	return nil
}

func (b *inpoutBus) Close() error { return nil }
