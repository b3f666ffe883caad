package sts_cal

import (
	"fmt"

	feetech "github.com/hipsterbrown/feetech-servo"
)

const (
	offsetSignBit   = 0x800
	offsetMagnitude = 0x7FF
)

// CalibrationRange is the measured travel of a servo in encoder units.
// MaxAngle is always greater than MinAngle; a range crossing the encoder zero
// has a full revolution added to MaxAngle.
type CalibrationRange struct {
	MinAngle int `json:"min_angle"`
	MaxAngle int `json:"max_angle"`
	Offset   int `json:"offset"`
}

// Center returns the distance from MinAngle to the middle of the range.
func (r CalibrationRange) Center() int {
	return (r.MaxAngle - r.MinAngle) / 2
}

// EncodedOffset returns the offset in the 12-bit sign-magnitude form stored by the servo.
func (r CalibrationRange) EncodedOffset() uint16 {
	return EncodeOffset(r.Offset)
}

func (r CalibrationRange) String() string {
	return fmt.Sprintf("range[%d-%d] offset %d (0x%03X)", r.MinAngle, r.MaxAngle, r.Offset, r.EncodedOffset())
}

// MotorCalibration maps the range onto the feetech-servo calibration model.
func (r CalibrationRange) MotorCalibration(id int) *feetech.MotorCalibration {
	return &feetech.MotorCalibration{
		ID:           id,
		DriveMode:    0,
		HomingOffset: r.Offset,
		RangeMin:     r.MinAngle,
		RangeMax:     r.MaxAngle,
		NormMode:     feetech.NormModeDegrees,
	}
}

// ComputeRange derives the calibrated range from the two end-stop boundaries.
// The offset lies in [-2048, 4095] and is not folded back into one revolution;
// EncodeOffset keeps only its low 11 bits.
func ComputeRange(forwardBoundary, backwardBoundary int) CalibrationRange {
	minAngle := backwardBoundary
	maxAngle := forwardBoundary
	if maxAngle <= minAngle {
		maxAngle += EncoderResolution
	}

	centerDistance := (maxAngle - minAngle) / 2

	return CalibrationRange{
		MinAngle: minAngle,
		MaxAngle: maxAngle,
		Offset:   minAngle + centerDistance - EncoderMidpoint,
	}
}

// EncodeOffset converts a signed offset to 12-bit sign-magnitude: bit 11 is the
// sign and bits 0-10 the magnitude.
func EncodeOffset(offset int) uint16 {
	if offset < 0 {
		return uint16(-offset)&offsetMagnitude | offsetSignBit
	}
	return uint16(offset) & offsetMagnitude
}

// DecodeOffset is the inverse of EncodeOffset. A set sign bit with zero
// magnitude decodes to -2048.
func DecodeOffset(encoded uint16) int {
	magnitude := int(encoded & offsetMagnitude)
	if encoded&offsetSignBit == 0 {
		return magnitude
	}
	if magnitude == 0 {
		return -EncoderMidpoint
	}
	return -magnitude
}
