package sts_cal

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// Result describes a finished or interrupted calibration run
type Result struct {
	ServoID   int              `json:"servo_id"`
	Forward   SweepResult      `json:"forward"`
	Backward  SweepResult      `json:"backward"`
	Range     CalibrationRange `json:"range"`
	Cancelled bool             `json:"cancelled"`
}

// Calibrator runs the two-sweep end-stop calibration for one servo
type Calibrator struct {
	client  RegisterClient
	cfg     *Config
	logger  logging.Logger
	sweeper *StallSweeper
	writer  *EepromWriter
}

// NewCalibrator wires a sweeper and EEPROM writer around client
func NewCalibrator(client RegisterClient, cfg *Config, logger logging.Logger) *Calibrator {
	return &Calibrator{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		sweeper: NewStallSweeper(client, cfg, logger),
		writer:  NewEepromWriter(client, cfg, logger),
	}
}

// Run calibrates servo id.
//
// Cancelling ctx stops the servo, leaves the EEPROM untouched, restores readout
// and returns a Result with Cancelled set and a nil error. Any bus failure stops
// the servo on a best-effort basis and is returned.
func (c *Calibrator) Run(ctx context.Context, id int) (*Result, error) {
	c.logger.Infof("Starting servo calibration for ID: %d", id)
	result := &Result{ServoID: id}

	if err := c.client.DisableReadout(ctx, id); err != nil {
		return nil, err
	}
	if err := c.client.SetMode(ctx, id, ModeContinuous); err != nil {
		return c.abort(ctx, id, result, err)
	}

	forward, err := c.sweeper.Sweep(ctx, id, Forward)
	if err != nil {
		return c.abort(ctx, id, result, err)
	}
	result.Forward = forward

	c.logger.Info("Changing direction for next calibration pass...")
	if !utils.SelectContextOrWait(ctx, c.cfg.ReversePause) {
		return c.abort(ctx, id, result, ErrCancelled)
	}

	backward, err := c.sweeper.Sweep(ctx, id, Backward)
	if err != nil {
		return c.abort(ctx, id, result, err)
	}
	result.Backward = backward

	if err := c.settle(ctx, id); err != nil {
		return c.abort(ctx, id, result, err)
	}
	if ctx.Err() != nil {
		return c.abort(ctx, id, result, ErrCancelled)
	}

	result.Range = ComputeRange(forward.BoundaryPosition, backward.BoundaryPosition)
	c.logger.Infof("Computed %s", result.Range)

	if err := c.writer.Persist(ctx, id, result.Range); err != nil {
		return c.abort(ctx, id, result, err)
	}
	if err := c.writer.Park(ctx, id); err != nil {
		return c.abort(ctx, id, result, err)
	}

	c.logger.Info("Calibration and positioning complete")
	return result, nil
}

// settle gives the servo a short forward motion before it is stopped for good
func (c *Calibrator) settle(ctx context.Context, id int) error {
	if err := c.client.SetSpeed(ctx, id, c.cfg.CalibrationSpeed, Forward); err != nil {
		return err
	}
	time.Sleep(c.cfg.SettleDelay)
	return c.client.SetSpeed(ctx, id, 0, Forward)
}

func (c *Calibrator) abort(ctx context.Context, id int, result *Result, cause error) (*Result, error) {
	cleanupCtx := context.WithoutCancel(ctx)

	if errors.Is(cause, ErrCancelled) {
		if err := c.client.SetSpeed(cleanupCtx, id, 0, Forward); err != nil {
			return nil, err
		}
		if err := c.client.EnableReadout(cleanupCtx, id); err != nil {
			return nil, err
		}
		c.logger.Info("Calibration was interrupted, servo stopped and EEPROM left untouched")
		result.Cancelled = true
		return result, nil
	}

	if err := c.client.SetSpeed(cleanupCtx, id, 0, Forward); err != nil {
		c.logger.Warnf("Failed to stop servo %d after error: %v", id, err)
	}
	return nil, errors.Wrapf(cause, "calibration of servo %d failed", id)
}
