package sts_cal

import (
	"context"
	"time"

	"go.viam.com/rdk/logging"
)

// EepromWriter persists a calibration range to the servo's non-volatile memory.
// Writes are not transactional: a failure part way through leaves earlier
// registers written.
type EepromWriter struct {
	client RegisterClient
	cfg    *Config
	logger logging.Logger
}

// NewEepromWriter creates a writer using the write-cycle timings in cfg
func NewEepromWriter(client RegisterClient, cfg *Config, logger logging.Logger) *EepromWriter {
	return &EepromWriter{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Persist unlocks the EEPROM, switches to position mode, writes the offset and
// limits, and locks the EEPROM again.
func (w *EepromWriter) Persist(ctx context.Context, id int, r CalibrationRange) error {
	steps := []struct {
		name     string
		register string
		data     []byte
	}{
		{"unlock eeprom", REG_EEPROM_LOCK, []byte{0}},
		{"switch to position mode", REG_OPERATION_MODE, []byte{ModePosition}},
		{"write position correction", REG_POSITION_CORRECTION, encodeU16(r.EncodedOffset())},
		{"write min angle", REG_MIN_ANGLE, encodeU16(uint16(r.MinAngle))},
		{"write max angle", REG_MAX_ANGLE, encodeU16(uint16(r.MaxAngle))},
		{"lock eeprom", REG_EEPROM_LOCK, []byte{1}},
	}

	for i, step := range steps {
		if i > 0 {
			time.Sleep(w.cfg.EEPROMWriteDelay)
		}
		if err := w.client.WriteRegister(ctx, id, step.register, step.data); err != nil {
			return err
		}
		w.logger.Debugf("servo %d: %s (%s <- % X)", id, step.name, step.register, step.data)
	}

	w.logger.Info("Successfully wrote calibration data to EEPROM")
	w.logger.Infof("Offset: %d, Min Angle: %d, Max Angle: %d", r.Offset, r.MinAngle, r.MaxAngle)
	return nil
}

// Park re-centers the servo, restores periodic readout and releases torque.
// Only the torque release is best-effort: the calibration is already stored.
func (w *EepromWriter) Park(ctx context.Context, id int) error {
	time.Sleep(w.cfg.SettleDelay)

	w.logger.Infof("Moving servo to middle %d", EncoderMidpoint)
	if err := w.client.WriteRegister(ctx, id, REG_TARGET_POSITION, encodeU16(EncoderMidpoint)); err != nil {
		return err
	}
	time.Sleep(w.cfg.RecenterWait)

	if err := w.client.EnableReadout(ctx, id); err != nil {
		return err
	}

	w.releaseTorque(ctx, id)
	return nil
}

// releaseTorque logs failures instead of returning them
func (w *EepromWriter) releaseTorque(ctx context.Context, id int) {
	if err := w.client.WriteRegister(ctx, id, REG_TORQUE_ENABLE, []byte{0}); err != nil {
		w.logger.Warnf("Failed to disable torque for servo %d: %v", id, err)
		return
	}
	w.logger.Info("Torque disabled successfully")
}
