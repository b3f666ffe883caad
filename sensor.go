// sensor.go - end-stop calibration exposed as a sensor component
package sts_cal

import (
	"context"
	"fmt"
	"sync"
	"time"

	feetech "github.com/hipsterbrown/feetech-servo"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/utils"
)

var EndstopCalibrationModel = resource.NewModel("devrel", "sts", "endstop-calibration")

func init() {
	resource.RegisterComponent(sensor.API, EndstopCalibrationModel,
		resource.Registration[sensor.Sensor, *SensorConfig]{
			Constructor: newCalibrationSensor,
		},
	)
}

// CalibrationState is the state of the sensor's calibration workflow
type CalibrationState int

const (
	StateIdle CalibrationState = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateError
)

func (s CalibrationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// SensorConfig configures the calibration sensor
type SensorConfig struct {
	Port     string `json:"port,omitempty"`
	Baudrate int    `json:"baudrate,omitempty"`
	ServoID  int    `json:"servo_id"`

	// StallTimeoutMs bounds the wait for stall current; 0 waits forever
	StallTimeoutMs int `json:"stall_timeout_ms,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *SensorConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, fmt.Errorf("%s: must specify port for serial communication", path)
	}
	if cfg.ServoID < 0 || cfg.ServoID > feetech.MaxID {
		return nil, nil, fmt.Errorf("%s: servo_id must be 0-%d, got %d", path, feetech.MaxID, cfg.ServoID)
	}
	if cfg.StallTimeoutMs < 0 {
		return nil, nil, fmt.Errorf("%s: stall_timeout_ms cannot be negative", path)
	}
	return nil, nil, nil
}

func (cfg *SensorConfig) calibrationConfig() (*Config, error) {
	calCfg := &Config{
		Port:         cfg.Port,
		Baudrate:     cfg.Baudrate,
		StallTimeout: time.Duration(cfg.StallTimeoutMs) * time.Millisecond,
	}
	if err := calCfg.Validate("sensor"); err != nil {
		return nil, err
	}
	return calCfg, nil
}

// sampleSource reports the latest periodic readout of a servo
type sampleSource interface {
	LastSample(id int) (StatusSample, time.Time, bool)
}

type calibrationSensor struct {
	resource.Named
	resource.AlwaysRebuild

	logger     logging.Logger
	servoID    int
	client     RegisterClient
	calibrator *Calibrator
	samples    sampleSource
	closer     func() error

	mu         sync.Mutex
	state      CalibrationState
	errorMsg   string
	lastResult *Result
	workers    *utils.StoppableWorkers
}

func newCalibrationSensor(
	ctx context.Context,
	deps resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*SensorConfig](rawConf)
	if err != nil {
		return nil, err
	}

	calCfg, err := conf.calibrationConfig()
	if err != nil {
		return nil, err
	}

	client, err := globalBusRegistry.Acquire(calCfg, logger)
	if err != nil {
		return nil, err
	}
	client.Watch(conf.ServoID)

	cs := newSensorWithClient(rawConf.ResourceName(), conf.ServoID, client, calCfg, logger)
	cs.samples = client
	cs.closer = func() error {
		// the bus may stay open for other servos
		client.Unwatch(conf.ServoID)
		return globalBusRegistry.Release(calCfg.Port)
	}

	logger.Infof("Endstop calibration sensor initialized for servo %d on %s", conf.ServoID, conf.Port)
	return cs, nil
}

func newSensorWithClient(name resource.Name, servoID int, client RegisterClient, cfg *Config, logger logging.Logger) *calibrationSensor {
	return &calibrationSensor{
		Named:      name.AsNamed(),
		logger:     logger,
		servoID:    servoID,
		client:     client,
		calibrator: NewCalibrator(client, cfg, logger),
		closer:     func() error { return nil },
		state:      StateIdle,
	}
}

// Readings returns the workflow state, the last result and the latest readout sample
func (cs *calibrationSensor) Readings(ctx context.Context, extra map[string]any) (map[string]any, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.readingsLocked(), nil
}

func (cs *calibrationSensor) readingsLocked() map[string]any {
	readings := map[string]any{
		"calibration_state": cs.state.String(),
		"servo_id":          cs.servoID,
	}
	if cs.state == StateError {
		readings["error"] = cs.errorMsg
	}

	if cs.lastResult != nil && cs.state == StateCompleted {
		r := cs.lastResult.Range
		readings["min_angle"] = r.MinAngle
		readings["max_angle"] = r.MaxAngle
		readings["offset"] = r.Offset
		readings["encoded_offset"] = int(r.EncodedOffset())
		readings["forward_boundary"] = cs.lastResult.Forward.BoundaryPosition
		readings["backward_boundary"] = cs.lastResult.Backward.BoundaryPosition
	}

	if cs.samples != nil {
		if sample, at, ok := cs.samples.LastSample(cs.servoID); ok {
			readings["position"] = int(sample.Position)
			readings["current_ma"] = sample.CurrentMilliamps()
			readings["sample_age_seconds"] = time.Since(at).Seconds()
		}
	}

	return readings
}

// DoCommand handles calibration workflow commands
func (cs *calibrationSensor) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("command must be a string")
	}

	switch command {
	case "calibrate":
		return cs.startCalibration()
	case "abort":
		return cs.abortCalibration()
	case "status":
		return cs.Readings(ctx, nil)
	case "motor_calibration":
		return cs.motorCalibration()
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

func (cs *calibrationSensor) startCalibration() (map[string]any, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.state == StateRunning {
		return map[string]any{"success": false}, fmt.Errorf("calibration already in progress")
	}

	cs.state = StateRunning
	cs.errorMsg = ""
	cs.lastResult = nil
	cs.workers = utils.NewBackgroundStoppableWorkers(func(ctx context.Context) {
		result, err := cs.calibrator.Run(ctx, cs.servoID)
		cs.finish(result, err)
	})

	return map[string]any{
		"success": true,
		"state":   StateRunning.String(),
	}, nil
}

func (cs *calibrationSensor) finish(result *Result, err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch {
	case err != nil:
		cs.state = StateError
		cs.errorMsg = err.Error()
		cs.logger.Errorf("Calibration of servo %d failed: %v", cs.servoID, err)
		// a failed run keeps its hold on the bus; give polling back to the other servos
		if err := cs.client.EnableReadout(context.Background(), cs.servoID); err != nil {
			cs.logger.Warnf("Failed to resume readout for servo %d: %v", cs.servoID, err)
		}
	case result.Cancelled:
		cs.state = StateCancelled
	default:
		cs.state = StateCompleted
		cs.lastResult = result
	}
}

// abortCalibration cancels a running calibration and waits for the servo to stop
func (cs *calibrationSensor) abortCalibration() (map[string]any, error) {
	cs.mu.Lock()
	workers := cs.workers
	running := cs.state == StateRunning
	cs.mu.Unlock()

	if !running || workers == nil {
		return map[string]any{"success": false}, fmt.Errorf("no calibration in progress")
	}

	workers.Stop()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	return map[string]any{
		"success": true,
		"state":   cs.state.String(),
	}, nil
}

func (cs *calibrationSensor) motorCalibration() (map[string]any, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.lastResult == nil {
		return nil, fmt.Errorf("no completed calibration (state: %s)", cs.state.String())
	}
	mc := cs.lastResult.Range.MotorCalibration(cs.servoID)
	return map[string]any{
		"id":            mc.ID,
		"drive_mode":    mc.DriveMode,
		"homing_offset": mc.HomingOffset,
		"range_min":     mc.RangeMin,
		"range_max":     mc.RangeMax,
		"norm_mode":     mc.NormMode,
	}, nil
}

// Close stops any running calibration and releases the serial port
func (cs *calibrationSensor) Close(ctx context.Context) error {
	cs.mu.Lock()
	workers := cs.workers
	cs.mu.Unlock()

	if workers != nil {
		workers.Stop()
	}
	return cs.closer()
}
