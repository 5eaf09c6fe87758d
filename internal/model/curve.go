package model

import (
	"errors"
	"fmt"
	"strings"
)

// CurvePoint maps a temperature threshold to the fan level commanded at and
// above it, until the next threshold takes over.
type CurvePoint struct {
	Threshold int      `json:"threshold"`
	Level     FanLevel `json:"level"`
}

// FanCurve is an ordered temperature-to-level mapping, non-decreasing by
// threshold. Built once from configuration and never mutated; safe to share
// read-only across goroutines.
type FanCurve struct {
	points []CurvePoint
}

// DefaultCurvePairs is the curve applied when the config omits fan_curve.
var DefaultCurvePairs = [][]int{
	{0, 0},
	{50, 1},
	{55, 2},
	{65, 3},
	{75, 5},
	{85, 7},
}

// NewFanCurve builds and validates a curve from [temperature, level] config
// pairs. Thresholds must be sorted ascending (equal thresholds are allowed;
// the later entry wins at evaluation time).
func NewFanCurve(pairs [][]int) (FanCurve, error) {
	if len(pairs) == 0 {
		return FanCurve{}, errors.New("fan curve is empty")
	}
	points := make([]CurvePoint, 0, len(pairs))
	for i, pair := range pairs {
		if len(pair) != 2 {
			return FanCurve{}, fmt.Errorf("fan curve entry %d: want [temperature, level], got %d values", i, len(pair))
		}
		level, err := LevelFromConfig(pair[1])
		if err != nil {
			return FanCurve{}, fmt.Errorf("fan curve entry %d: %w", i, err)
		}
		if i > 0 && pair[0] < points[i-1].Threshold {
			return FanCurve{}, fmt.Errorf("fan curve entry %d: threshold %d below previous threshold %d, curve must be sorted ascending", i, pair[0], points[i-1].Threshold)
		}
		points = append(points, CurvePoint{Threshold: pair[0], Level: level})
	}
	return FanCurve{points: points}, nil
}

// DefaultCurve returns the built-in curve.
func DefaultCurve() FanCurve {
	curve, err := NewFanCurve(DefaultCurvePairs)
	if err != nil {
		panic(fmt.Sprintf("invalid default fan curve: %v", err))
	}
	return curve
}

// LevelFor returns the level of the point with the greatest threshold at or
// below temp. Below every threshold the first point's level applies. Equal
// thresholds resolve to the later entry.
func (c FanCurve) LevelFor(temp int) FanLevel {
	if len(c.points) == 0 {
		return FanLevel{}
	}
	target := c.points[0].Level
	for _, p := range c.points {
		if temp < p.Threshold {
			break
		}
		target = p.Level
	}
	return target
}

func (c FanCurve) Len() int { return len(c.points) }

// Points returns a copy of the curve points.
func (c FanCurve) Points() []CurvePoint {
	out := make([]CurvePoint, len(c.points))
	copy(out, c.points)
	return out
}

func (c FanCurve) String() string {
	parts := make([]string, 0, len(c.points))
	for _, p := range c.points {
		parts = append(parts, fmt.Sprintf("%d:%s", p.Threshold, p.Level))
	}
	return strings.Join(parts, " ")
}
