package ec

// PortBus is raw access to x86 I/O ports. Implementations are per platform
// and all of them require elevated privileges.
type PortBus interface {
	In(port uint16) (byte, error)
	Out(port uint16, value byte) error
	Close() error
}
