package sts_cal

import (
	"context"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// SweepResult is the outcome of one directional sweep
type SweepResult struct {
	Direction Direction `json:"direction"`
	// BoundaryPosition is the encoder reading at the pinpointed stall
	BoundaryPosition int `json:"boundary_position"`
	// ClearPosition is where the servo rests after backing off the stop
	ClearPosition int `json:"clear_position"`
}

// StallSweeper drives a servo into one end-stop and locates the stall boundary
type StallSweeper struct {
	client RegisterClient
	cfg    *Config
	logger logging.Logger
}

// NewStallSweeper creates a sweeper using the timings and thresholds in cfg
func NewStallSweeper(client RegisterClient, cfg *Config, logger logging.Logger) *StallSweeper {
	return &StallSweeper{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Sweep finds the end-stop in the given direction.
//
// The servo runs at calibration speed until the drive current exceeds the stall
// threshold, backs off, then re-approaches at fine speed until the current exceeds
// twice the threshold. Cancellation of ctx is observed at every poll; the servo is
// stopped and ErrCancelled returned.
func (s *StallSweeper) Sweep(ctx context.Context, id int, dir Direction) (SweepResult, error) {
	s.logger.Infof("Starting %s sweep for servo %d", dir, id)

	if err := s.client.SetSpeed(ctx, id, s.cfg.CalibrationSpeed, dir); err != nil {
		return SweepResult{}, err
	}

	coarse, err := s.waitForCurrent(ctx, id, dir, s.cfg.StallThresholdMA)
	if err != nil {
		return SweepResult{}, err
	}
	s.logger.Infof("Current threshold reached at position %d (%.1f mA)", coarse.Position, coarse.CurrentMilliamps())

	if err := s.client.SetSpeed(ctx, id, 0, dir); err != nil {
		return SweepResult{}, err
	}
	time.Sleep(s.cfg.SettleDelay)

	s.logger.Info("Backing off")
	if err := s.backoff(ctx, id, dir); err != nil {
		return SweepResult{}, err
	}
	s.logger.Info("Backing off complete")

	if err := s.client.SetSpeed(ctx, id, s.cfg.FineSpeed, dir); err != nil {
		return SweepResult{}, err
	}
	if _, err := s.waitForCurrent(ctx, id, dir, 2*s.cfg.StallThresholdMA); err != nil {
		return SweepResult{}, err
	}

	if err := s.client.SetSpeed(ctx, id, 0, dir); err != nil {
		return SweepResult{}, err
	}
	time.Sleep(s.cfg.SettleDelay)

	boundary, err := s.client.ReadStatus(ctx, id)
	if err != nil {
		return SweepResult{}, err
	}
	s.logger.Infof("Exact threshold position found: %d", boundary.Position)

	if err := s.backoff(ctx, id, dir); err != nil {
		return SweepResult{}, err
	}

	rest, err := s.client.ReadStatus(ctx, id)
	if err != nil {
		return SweepResult{}, err
	}
	s.logger.Infof("%s sweep complete: boundary %d, resting at %d", dir, boundary.Position, rest.Position)

	return SweepResult{
		Direction:        dir,
		BoundaryPosition: int(boundary.Position),
		ClearPosition:    int(rest.Position),
	}, nil
}

// waitForCurrent polls until the current is strictly above threshold
func (s *StallSweeper) waitForCurrent(ctx context.Context, id int, dir Direction, threshold float64) (StatusSample, error) {
	var deadline time.Time
	if s.cfg.StallTimeout > 0 {
		deadline = time.Now().Add(s.cfg.StallTimeout)
	}

	for {
		if ctx.Err() != nil {
			s.logger.Info("Calibration interrupted. Stopping servo...")
			return StatusSample{}, s.halt(ctx, id, ErrCancelled)
		}

		sample, err := s.client.ReadStatus(ctx, id)
		if err != nil {
			return StatusSample{}, err
		}

		current := sample.CurrentMilliamps()
		s.logger.Debugf("servo %d %s: position=%d current=%.1fmA", id, dir, sample.Position, current)
		if current > threshold {
			return sample, nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			s.logger.Warnf("No stall above %.0f mA within %v, stopping servo", threshold, s.cfg.StallTimeout)
			return StatusSample{}, s.halt(ctx, id, ErrStallTimeout)
		}

		utils.SelectContextOrWait(ctx, s.cfg.PollInterval)
	}
}

// backoff pulses the servo away from the stop and lets it settle
func (s *StallSweeper) backoff(ctx context.Context, id int, dir Direction) error {
	if err := s.client.SetSpeed(ctx, id, s.cfg.CalibrationSpeed, dir.Reverse()); err != nil {
		return err
	}
	time.Sleep(s.cfg.BackoffPulse)

	if err := s.client.SetSpeed(ctx, id, 0, dir.Reverse()); err != nil {
		return err
	}
	time.Sleep(s.cfg.SettleDelay)
	return nil
}

// halt commands zero speed even when ctx is already cancelled, then returns cause
func (s *StallSweeper) halt(ctx context.Context, id int, cause error) error {
	if err := s.client.SetSpeed(context.WithoutCancel(ctx), id, 0, Forward); err != nil {
		return err
	}
	return cause
}
