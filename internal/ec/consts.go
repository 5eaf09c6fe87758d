package ec

import "time"

// EC access goes through the keyboard-controller-style (KCS) handshake on
// two fixed I/O ports. These addresses and command bytes are the wire
// contract with the ThinkPad EC firmware and must not be changed.
const (
	dataPort   = 0x62 // EC data
	statusPort = 0x66 // EC status on read, KCS command on write

	statusOBF = 0x01 // output buffer full: EC has a byte for us
	statusIBF = 0x02 // input buffer full: EC still digesting our byte

	cmdRead  = 0x80 // KCS read-register command
	cmdWrite = 0x81 // KCS write-register command
)

// ThinkPad EC register map.
const (
	regFanStatus  = 0x2F // fan level; bit 0x40 full speed, bit 0x80 automatic
	regFanSelect  = 0x31 // fan selector on dual-fan models; unused, fan 0 only
	regFanRPMLow  = 0x84 // tach low byte, must be read before the high byte
	regFanRPMHigh = 0x85 // tach high byte
	regTempBase   = 0x78 // temperature sensors 0-7 at 0x78..0x7F
)

// SensorCount is the number of temperature sensor registers the EC maps.
const SensorCount = 8

// tempUnavailable is the EC's marker for an absent or erroring sensor.
const tempUnavailable = 0x80

// kcsRetryDelay is the settle time between status polls.
const kcsRetryDelay = time.Millisecond
