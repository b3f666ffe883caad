package sts_cal

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	feetech "github.com/hipsterbrown/feetech-servo"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

const speedSignBit = 0x8000

// busServo is the part of *feetech.Servo the client drives
type busServo interface {
	Ping() (int, error)
	ReadRegisterByName(name string) ([]byte, error)
	WriteRegisterByName(name string, data []byte) error
}

// STSClient is a RegisterClient for STS servos on a feetech-servo bus.
// Requests are serialized and always run to completion once sent.
type STSClient struct {
	mu       sync.Mutex
	bus      io.Closer
	newServo func(id int) busServo
	servos   map[int]busServo
	logger   logging.Logger
	readout  *readout
}

// OpenSTSClient opens cfg.Port and starts the background readout worker
func OpenSTSClient(cfg *Config, logger logging.Logger) (*STSClient, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		Baudrate: cfg.Baudrate,
		Protocol: feetech.ProtocolV0,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open servo bus on %s", cfg.Port)
	}

	client := newSTSClient(bus, func(id int) busServo {
		servo := bus.Servo(id)
		servo.Model = servoModel
		return servo
	}, cfg, logger)
	logger.Infof("Connected to servo bus on %s at %d baud", cfg.Port, cfg.Baudrate)
	return client, nil
}

func newSTSClient(bus io.Closer, newServo func(id int) busServo, cfg *Config, logger logging.Logger) *STSClient {
	c := &STSClient{
		bus:      bus,
		newServo: newServo,
		servos:   make(map[int]busServo),
		logger:   logger,
	}
	c.readout = newReadout(c, cfg.ReadoutInterval, logger)
	return c
}

// Close stops the readout worker and closes the bus
func (c *STSClient) Close() error {
	c.readout.stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bus.Close()
}

// servo returns the cached handle for id; callers hold c.mu
func (c *STSClient) servo(id int) busServo {
	s, ok := c.servos[id]
	if !ok {
		s = c.newServo(id)
		c.servos[id] = s
	}
	return s
}

// ReadStatus reads present position and present current
func (c *STSClient) ReadStatus(ctx context.Context, id int) (StatusSample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	position, err := c.read(id, REG_PRESENT_POSITION)
	if err != nil {
		return StatusSample{}, commError("read status", id, err)
	}
	current, err := c.read(id, REG_PRESENT_CURRENT)
	if err != nil {
		return StatusSample{}, commError("read status", id, err)
	}

	return StatusSample{
		Position:   decodeU16(position) & 0x0FFF,
		CurrentRaw: decodeU16(current) & 0x7FFF,
	}, nil
}

// SetSpeed writes the goal speed; bit 15 selects backward rotation
func (c *STSClient) SetSpeed(ctx context.Context, id int, speed uint16, dir Direction) error {
	value := speed &^ speedSignBit
	if dir == Backward {
		value |= speedSignBit
	}
	if err := c.write(id, REG_GOAL_SPEED, encodeU16(value)); err != nil {
		return commError(fmt.Sprintf("set speed %d %s", speed, dir), id, err)
	}
	return nil
}

// SetMode writes the operation mode register
func (c *STSClient) SetMode(ctx context.Context, id int, mode uint8) error {
	if err := c.write(id, REG_OPERATION_MODE, []byte{mode}); err != nil {
		return commError(fmt.Sprintf("set mode %d", mode), id, err)
	}
	return nil
}

// WriteRegister writes raw bytes to a named register
func (c *STSClient) WriteRegister(ctx context.Context, id int, register string, data []byte) error {
	if err := c.write(id, register, data); err != nil {
		return commError("write "+register, id, err)
	}
	return nil
}

// Ping checks that servo id answers on the bus and returns its model number
func (c *STSClient) Ping(ctx context.Context, id int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	model, err := c.servo(id).Ping()
	if err != nil {
		return 0, commError("ping", id, err)
	}
	return model, nil
}

// ReadStoredRange reads back the angle limits and position correction held in EEPROM
func (c *STSClient) ReadStoredRange(ctx context.Context, id int) (CalibrationRange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := make(map[string]uint16, 3)
	for _, register := range []string{REG_MIN_ANGLE, REG_MAX_ANGLE, REG_POSITION_CORRECTION} {
		data, err := c.read(id, register)
		if err != nil {
			return CalibrationRange{}, commError("read stored range", id, err)
		}
		values[register] = decodeU16(data)
	}
	return CalibrationRange{
		MinAngle: int(values[REG_MIN_ANGLE]),
		MaxAngle: int(values[REG_MAX_ANGLE]),
		Offset:   DecodeOffset(values[REG_POSITION_CORRECTION]),
	}, nil
}

// EnableReadout ends the exclusive hold taken by DisableReadout
func (c *STSClient) EnableReadout(ctx context.Context, id int) error {
	c.readout.release(id)
	return nil
}

// DisableReadout pauses all periodic polling on the bus until id is re-enabled
func (c *STSClient) DisableReadout(ctx context.Context, id int) error {
	c.readout.hold(id)
	return nil
}

// Watch adds id to the servos polled in the background
func (c *STSClient) Watch(id int) {
	c.readout.watch(id)
}

// Unwatch stops background polling of id and drops its last sample
func (c *STSClient) Unwatch(id int) {
	c.readout.unwatch(id)
}

// LastSample returns the most recent periodic readout of id
func (c *STSClient) LastSample(id int) (StatusSample, time.Time, bool) {
	return c.readout.last(id)
}

func (c *STSClient) read(id int, register string) ([]byte, error) {
	data, err := c.servo(id).ReadRegisterByName(register)
	if err != nil {
		return nil, err
	}
	if len(data) < 2 {
		return nil, errors.Errorf("short read of %s: %d bytes", register, len(data))
	}
	c.logger.Debugf("servo %d: %s -> % X", id, register, data)
	return data, nil
}

func (c *STSClient) write(id int, register string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debugf("servo %d: %s <- % X", id, register, data)
	return c.servo(id).WriteRegisterByName(register, data)
}
