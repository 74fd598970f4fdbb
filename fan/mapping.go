package fan

// Registers of the fan controller.
const (
	RegisterPower     = 0x01
	RegisterDirection = 0x02
	RegisterSpeed     = 0x03
)

// Direction is the rotation direction exposed to consumers.
type Direction int

const (
	// Clockwise is also reported for the device's neutral modes.
	Clockwise Direction = 0
	// CounterClockwise is the device's reverse mode.
	CounterClockwise Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	if d == CounterClockwise {
		return "counter-clockwise"
	}
	return "clockwise"
}

// native direction codes
const (
	nativeDirectionOff     = 0
	nativeDirectionReverse = 2
	nativeDirectionAuto    = 5
)

// DirectionFromNative maps a device direction code. Unknown codes map to
// Clockwise.
func DirectionFromNative(code byte) Direction {
	switch code {
	case nativeDirectionReverse:
		return CounterClockwise
	case nativeDirectionOff, nativeDirectionAuto:
		return Clockwise
	}
	return Clockwise
}

// Native returns the device code for d. Unknown directions map to 0.
func (d Direction) Native() byte {
	if d == CounterClockwise {
		return nativeDirectionReverse
	}
	return nativeDirectionOff
}

// SpeedToTier maps a speed percentage to one of the device's three tiers.
func SpeedToTier(percent int) byte {
	switch {
	case percent <= 30:
		return 1
	case percent < 70:
		return 2
	default:
		return 3
	}
}

// TierToSpeed maps a device speed tier to a percentage. Unknown tiers map
// to 0.
func TierToSpeed(tier byte) int {
	switch tier {
	case 1:
		return 5
	case 2:
		return 50
	case 3:
		return 100
	}
	return 0
}
