package models

import (
	"errors"
	"fmt"
)

var ErrUnknownControl = errors.New("unknown control")

// Control names as used on the decision service wire format.
const (
	ControlUp    = "up"
	ControlRight = "right"
	ControlDown  = "down"
	ControlLeft  = "left"
	ControlBrake = "brake"
	ControlBoost = "boost"
)

// ControlNames lists every control the physics provider understands.
var ControlNames = []string{ControlUp, ControlRight, ControlDown, ControlLeft, ControlBrake, ControlBoost}

// Controls is the control-input record consumed by the physics provider.
type Controls struct {
	Up    bool `json:"up"`
	Right bool `json:"right"`
	Down  bool `json:"down"`
	Left  bool `json:"left"`
	Brake bool `json:"brake"`
	Boost bool `json:"boost"`
}

// Get returns the value of the named control.
func (c Controls) Get(name string) (bool, error) {
	switch name {
	case ControlUp:
		return c.Up, nil
	case ControlRight:
		return c.Right, nil
	case ControlDown:
		return c.Down, nil
	case ControlLeft:
		return c.Left, nil
	case ControlBrake:
		return c.Brake, nil
	case ControlBoost:
		return c.Boost, nil
	}

	return false, fmt.Errorf("%w: %q", ErrUnknownControl, name)
}

// Set updates the named control.
func (c *Controls) Set(name string, value bool) error {
	switch name {
	case ControlUp:
		c.Up = value
	case ControlRight:
		c.Right = value
	case ControlDown:
		c.Down = value
	case ControlLeft:
		c.Left = value
	case ControlBrake:
		c.Brake = value
	case ControlBoost:
		c.Boost = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownControl, name)
	}

	return nil
}

// Neutral returns a control record with every input released.
func Neutral() Controls {
	return Controls{}
}

// Bits packs the controls into a bitfield, one bit per entry of ControlNames.
func (c Controls) Bits() uint8 {
	var bits uint8

	for i, name := range ControlNames {
		if v, _ := c.Get(name); v {
			bits |= 1 << i
		}
	}

	return bits
}

// ControlsFromBits is the inverse of Controls.Bits.
func ControlsFromBits(bits uint8) Controls {
	c := Controls{}

	for i, name := range ControlNames {
		_ = c.Set(name, bits&(1<<i) != 0)
	}

	return c
}
