package sts_cal

// STS3215 registers used during calibration, named as in the feetech-servo model table
const (
	REG_MIN_ANGLE           = "min_position_limit" // 0x09, EEPROM
	REG_MAX_ANGLE           = "max_position_limit" // 0x0B, EEPROM
	REG_POSITION_CORRECTION = "homing_offset"      // 0x1F, EEPROM, sign-magnitude
	REG_OPERATION_MODE      = "operating_mode"     // 0x21
	REG_TORQUE_ENABLE       = "torque_enable"      // 0x28
	REG_TARGET_POSITION     = "goal_position"      // 0x2A
	REG_GOAL_SPEED          = "goal_velocity"      // 0x2E, bit 15 is direction
	REG_EEPROM_LOCK         = "lock"               // 0x37
	REG_PRESENT_POSITION    = "present_position"   // 0x38
	REG_PRESENT_CURRENT     = "present_current"    // 0x45
)

// servoModel is the feetech-servo model whose register map the client uses
const servoModel = "sts3215"

// Operation modes
const (
	ModePosition   uint8 = 0
	ModeContinuous uint8 = 1
)

const (
	// EncoderResolution is one full revolution of the 12-bit absolute encoder.
	EncoderResolution = 4096
	// EncoderMidpoint is the center of the encoder range.
	EncoderMidpoint = 2048
)

// Direction is the rotation sense of a speed command.
type Direction int

const (
	Forward  Direction = 1
	Backward Direction = -1
)

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	return -d
}

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "unknown"
	}
}

// StatusSample is one live reading of the servo.
type StatusSample struct {
	Position   uint16
	CurrentRaw uint16
}

// CurrentMilliamps converts the raw current reading using the fixed STS sense scale.
func (s StatusSample) CurrentMilliamps() float64 {
	return float64(s.CurrentRaw) * 6.5 / 100
}

// encodeU16 returns value as two little-endian bytes
func encodeU16(value uint16) []byte {
	return []byte{byte(value & 0xFF), byte((value >> 8) & 0xFF)}
}

func decodeU16(data []byte) uint16 {
	return uint16(data[0]) | uint16(data[1])<<8
}
