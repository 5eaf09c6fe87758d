package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type levelKind uint8

const (
	kindManual levelKind = iota
	kindFull
	kindAutomatic
)

// EC encodings for the non-manual levels. Manual levels encode as their own
// value (0-7).
const (
	ecLevelFull byte = 0x40
	ecLevelAuto byte = 0x80
)

// FanLevel is a fan speed command: a manual level 0-7, full speed, or
// automatic (firmware-managed) control. The zero value is manual level 0.
type FanLevel struct {
	kind  levelKind
	level uint8
}

var (
	// Automatic hands fan control back to the EC firmware.
	Automatic = FanLevel{kind: kindAutomatic}

	// FullSpeed runs the fan unregulated at maximum duty.
	FullSpeed = FanLevel{kind: kindFull}
)

// ManualLevel returns the level forcing manual fan speed n.
func ManualLevel(n int) (FanLevel, error) {
	if n < 0 || n > 7 {
		return FanLevel{}, fmt.Errorf("manual fan level %d out of range 0-7", n)
	}
	return FanLevel{kind: kindManual, level: uint8(n)}, nil
}

// LevelFromConfig maps a fan_curve level integer to a FanLevel. Curves
// accept manual levels 0-7 and the automatic sentinel 0x80 only.
func LevelFromConfig(n int) (FanLevel, error) {
	if n == int(ecLevelAuto) {
		return Automatic, nil
	}
	if n < 0 || n > 7 {
		return FanLevel{}, fmt.Errorf("fan level %d invalid: allowed values are 0-7 and 0x80 (automatic)", n)
	}
	return FanLevel{kind: kindManual, level: uint8(n)}, nil
}

// LevelFromECByte decodes a fan status register value. The automatic bit
// takes precedence over the full bit, matching firmware behavior.
func LevelFromECByte(b byte) FanLevel {
	switch {
	case b&ecLevelAuto != 0:
		return Automatic
	case b&ecLevelFull != 0:
		return FullSpeed
	default:
		return FanLevel{kind: kindManual, level: b & 0x07}
	}
}

// ParseFanLevel parses the CLI string forms: "0".."7", "full", "auto".
func ParseFanLevel(s string) (FanLevel, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "auto", "automatic":
		return Automatic, nil
	case "full":
		return FullSpeed, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return FanLevel{}, fmt.Errorf("invalid fan level %q", s)
	}
	return ManualLevel(n)
}

// ECByte returns the value written to the fan status register for this
// level.
func (l FanLevel) ECByte() byte {
	switch l.kind {
	case kindAutomatic:
		return ecLevelAuto
	case kindFull:
		return ecLevelFull
	default:
		return l.level
	}
}

func (l FanLevel) IsAutomatic() bool { return l.kind == kindAutomatic }

func (l FanLevel) IsFull() bool { return l.kind == kindFull }

// Manual returns the manual speed and true when the level is a manual one.
func (l FanLevel) Manual() (int, bool) {
	if l.kind != kindManual {
		return 0, false
	}
	return int(l.level), true
}

// MetricValue flattens the level for gauge reporting: manual levels map to
// themselves, full to 8, automatic to -1.
func (l FanLevel) MetricValue() float64 {
	switch l.kind {
	case kindAutomatic:
		return -1
	case kindFull:
		return 8
	default:
		return float64(l.level)
	}
}

func (l FanLevel) String() string {
	switch l.kind {
	case kindAutomatic:
		return "auto"
	case kindFull:
		return "full"
	default:
		return strconv.Itoa(int(l.level))
	}
}

func (l FanLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *FanLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFanLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
