package sts_cal

import "context"

// RegisterClient is the bus-level view of a single servo used by the calibration procedure.
// Every failure is reported as a *CommunicationError.
type RegisterClient interface {
	ReadStatus(ctx context.Context, id int) (StatusSample, error)
	// SetSpeed commands continuous rotation; speed 0 halts.
	SetSpeed(ctx context.Context, id int, speed uint16, dir Direction) error
	SetMode(ctx context.Context, id int, mode uint8) error
	// WriteRegister writes data to a named register; len(data) must match its size.
	WriteRegister(ctx context.Context, id int, register string, data []byte) error
	// EnableReadout and DisableReadout bracket a calibration. While any servo on
	// the bus has readout disabled, no background polling touches the bus.
	EnableReadout(ctx context.Context, id int) error
	DisableReadout(ctx context.Context, id int) error
}
