package sts_cal

import (
	"context"
	"testing"
	"time"

	feetech "github.com/hipsterbrown/feetech-servo"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

type staticSamples struct {
	sample StatusSample
	at     time.Time
}

func (s staticSamples) LastSample(id int) (StatusSample, time.Time, bool) {
	return s.sample, s.at, true
}

func newTestSensor(t *testing.T, client *fakeClient) *calibrationSensor {
	t.Helper()
	cs := newSensorWithClient(resource.NewName(sensor.API, "cal"), 3, client, fastConfig(), logging.NewTestLogger(t))
	t.Cleanup(func() { cs.Close(context.Background()) })
	return cs
}

func waitForState(t *testing.T, cs *calibrationSensor, want CalibrationState) {
	t.Helper()
	require.Eventually(t, func() bool {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return cs.state == want
	}, 5*time.Second, time.Millisecond)
}

func TestSensorConfigValidate(t *testing.T) {
	_, _, err := (&SensorConfig{Port: "/dev/ttyUSB0", ServoID: 1}).Validate("path")
	assert.NoError(t, err)

	_, _, err = (&SensorConfig{ServoID: 1}).Validate("path")
	assert.ErrorContains(t, err, "port")

	_, _, err = (&SensorConfig{Port: "/dev/ttyUSB0", ServoID: feetech.MaxID}).Validate("path")
	assert.NoError(t, err)

	_, _, err = (&SensorConfig{Port: "/dev/ttyUSB0", ServoID: feetech.BroadcastID}).Validate("path")
	assert.ErrorContains(t, err, "servo_id")

	_, _, err = (&SensorConfig{Port: "/dev/ttyUSB0", StallTimeoutMs: -1}).Validate("path")
	assert.ErrorContains(t, err, "stall_timeout_ms")
}

func TestSensorConfigCalibrationConfig(t *testing.T) {
	cfg, err := (&SensorConfig{Port: "/dev/ttyACM0", StallTimeoutMs: 1500}).calibrationConfig()
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.Port)
	assert.Equal(t, DefaultBaudrate, cfg.Baudrate)
	assert.Equal(t, 1500*time.Millisecond, cfg.StallTimeout)
}

func TestSensorCalibrate(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(twoSweepScript(3200, 400)...)
	cs := newTestSensor(t, client)

	readings, err := cs.Readings(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "idle", readings["calibration_state"])

	_, err = cs.DoCommand(ctx, map[string]any{"command": "motor_calibration"})
	assert.Error(t, err)

	resp, err := cs.DoCommand(ctx, map[string]any{"command": "calibrate"})
	require.NoError(t, err)
	assert.Equal(t, true, resp["success"])

	waitForState(t, cs, StateCompleted)

	readings, err = cs.DoCommand(ctx, map[string]any{"command": "status"})
	require.NoError(t, err)
	assert.Equal(t, "completed", readings["calibration_state"])
	assert.Equal(t, 3, readings["servo_id"])
	assert.Equal(t, 400, readings["min_angle"])
	assert.Equal(t, 3200, readings["max_angle"])
	assert.Equal(t, -248, readings["offset"])
	assert.Equal(t, 0x8F8, readings["encoded_offset"])
	assert.Equal(t, 3200, readings["forward_boundary"])
	assert.Equal(t, 400, readings["backward_boundary"])

	mc, err := cs.DoCommand(ctx, map[string]any{"command": "motor_calibration"})
	require.NoError(t, err)
	assert.Equal(t, 3, mc["id"])
	assert.Equal(t, -248, mc["homing_offset"])
	assert.Equal(t, 400, mc["range_min"])
	assert.Equal(t, 3200, mc["range_max"])
}

func TestSensorAbort(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(StatusSample{Position: 1000, CurrentRaw: rawForMilliamps(100)})
	cs := newTestSensor(t, client)

	_, err := cs.DoCommand(ctx, map[string]any{"command": "abort"})
	assert.ErrorContains(t, err, "no calibration in progress")

	_, err = cs.DoCommand(ctx, map[string]any{"command": "calibrate"})
	require.NoError(t, err)

	_, err = cs.DoCommand(ctx, map[string]any{"command": "calibrate"})
	assert.ErrorContains(t, err, "already in progress")

	require.Eventually(t, func() bool { return client.readCount() > 2 }, 5*time.Second, time.Millisecond)

	resp, err := cs.DoCommand(ctx, map[string]any{"command": "abort"})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", resp["state"])
	assert.Empty(t, client.writes())
	assert.Equal(t, call{Op: "readout_on"}, client.lastCall())
}

func TestSensorReportsFailure(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(twoSweepScript(3200, 400)...)
	client.readErrAt = 3
	cs := newTestSensor(t, client)

	_, err := cs.DoCommand(ctx, map[string]any{"command": "calibrate"})
	require.NoError(t, err)
	waitForState(t, cs, StateError)

	readings, err := cs.Readings(ctx, nil)
	require.NoError(t, err)
	assert.Contains(t, readings["error"], "calibration of servo 3 failed")
	assert.NotContains(t, readings, "min_angle")
	assert.Equal(t, call{Op: "readout_on"}, client.lastCall())
}

func TestSensorFailureReleasesBusHold(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	bus := newFakeBus()
	client := newSTSClient(bus, bus.servo, fastConfig(), logger)
	t.Cleanup(func() { client.Close() })

	client.Watch(3)
	client.Watch(4)
	bus.servoFor(3).readErr = errors.New("no response")

	cs := newSensorWithClient(resource.NewName(sensor.API, "cal"), 3, client, fastConfig(), logger)
	t.Cleanup(func() { cs.Close(ctx) })

	_, err := cs.DoCommand(ctx, map[string]any{"command": "calibrate"})
	require.NoError(t, err)
	waitForState(t, cs, StateError)

	assert.False(t, client.readout.held())
	other := bus.servoFor(4)
	polled := other.readCount()
	require.Eventually(t, func() bool { return other.readCount() > polled }, time.Second, time.Millisecond)
}

func TestSensorReadingsIncludeLiveSample(t *testing.T) {
	cs := newTestSensor(t, newFakeClient())
	cs.samples = staticSamples{
		sample: StatusSample{Position: 2048, CurrentRaw: 1000},
		at:     time.Now(),
	}

	readings, err := cs.Readings(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2048, readings["position"])
	assert.InDelta(t, 65.0, readings["current_ma"], 1e-9)
	assert.Contains(t, readings, "sample_age_seconds")
}

func TestSensorUnknownCommand(t *testing.T) {
	cs := newTestSensor(t, newFakeClient())

	_, err := cs.DoCommand(context.Background(), map[string]any{"command": "dance"})
	assert.ErrorContains(t, err, "unknown command")

	_, err = cs.DoCommand(context.Background(), map[string]any{"command": 42})
	assert.Error(t, err)
}
