package sts_cal

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Default calibration parameters, found empirically on STS3215 servos
const (
	DefaultBaudrate         = 1000000
	DefaultTimeout          = 100 * time.Millisecond
	DefaultCalibrationSpeed = 250
	DefaultFineSpeed        = 10
	DefaultStallThresholdMA = 500.0
	DefaultPollInterval     = 10 * time.Millisecond
	DefaultSettleDelay      = 100 * time.Millisecond
	DefaultBackoffPulse     = 100 * time.Millisecond
	DefaultReversePause     = 500 * time.Millisecond
	DefaultEEPROMWriteDelay = 10 * time.Millisecond
	DefaultRecenterWait     = time.Second
	DefaultReadoutInterval  = 50 * time.Millisecond
)

// Config holds the serial settings and timing of a calibration run
type Config struct {
	Port     string
	Baudrate int
	Timeout  time.Duration

	CalibrationSpeed uint16
	FineSpeed        uint16
	StallThresholdMA float64

	PollInterval     time.Duration
	SettleDelay      time.Duration
	BackoffPulse     time.Duration
	ReversePause     time.Duration
	EEPROMWriteDelay time.Duration
	RecenterWait     time.Duration
	ReadoutInterval  time.Duration

	// StallTimeout bounds each wait for stall current. Zero waits forever.
	StallTimeout time.Duration
}

// fileConfig is the JSON form of Config; durations are whole milliseconds
type fileConfig struct {
	Port      string `json:"port,omitempty"`
	Baudrate  int    `json:"baudrate,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`

	CalibrationSpeed uint16  `json:"calibration_speed,omitempty"`
	FineSpeed        uint16  `json:"fine_speed,omitempty"`
	StallThresholdMA float64 `json:"stall_threshold_ma,omitempty"`

	PollIntervalMs     int `json:"poll_interval_ms,omitempty"`
	SettleDelayMs      int `json:"settle_delay_ms,omitempty"`
	BackoffPulseMs     int `json:"backoff_pulse_ms,omitempty"`
	ReversePauseMs     int `json:"reverse_pause_ms,omitempty"`
	EEPROMWriteDelayMs int `json:"eeprom_write_delay_ms,omitempty"`
	RecenterWaitMs     int `json:"recenter_wait_ms,omitempty"`
	ReadoutIntervalMs  int `json:"readout_interval_ms,omitempty"`
	StallTimeoutMs     int `json:"stall_timeout_ms,omitempty"`
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (fc *fileConfig) config() *Config {
	return &Config{
		Port:             fc.Port,
		Baudrate:         fc.Baudrate,
		Timeout:          millis(fc.TimeoutMs),
		CalibrationSpeed: fc.CalibrationSpeed,
		FineSpeed:        fc.FineSpeed,
		StallThresholdMA: fc.StallThresholdMA,
		PollInterval:     millis(fc.PollIntervalMs),
		SettleDelay:      millis(fc.SettleDelayMs),
		BackoffPulse:     millis(fc.BackoffPulseMs),
		ReversePause:     millis(fc.ReversePauseMs),
		EEPROMWriteDelay: millis(fc.EEPROMWriteDelayMs),
		RecenterWait:     millis(fc.RecenterWaitMs),
		ReadoutInterval:  millis(fc.ReadoutIntervalMs),
		StallTimeout:     millis(fc.StallTimeoutMs),
	}
}

// DefaultConfig returns a config with every default applied
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Validate("")
	return cfg
}

// Validate fills in defaults and rejects impossible values
func (cfg *Config) Validate(path string) error {
	if cfg.Baudrate < 0 {
		return errors.Errorf("%s: baudrate must be positive, got %d", path, cfg.Baudrate)
	}
	if cfg.StallThresholdMA < 0 {
		return errors.Errorf("%s: stall_threshold_ma must be positive, got %v", path, cfg.StallThresholdMA)
	}
	for name, d := range map[string]time.Duration{
		"timeout":            cfg.Timeout,
		"poll_interval":      cfg.PollInterval,
		"settle_delay":       cfg.SettleDelay,
		"backoff_pulse":      cfg.BackoffPulse,
		"reverse_pause":      cfg.ReversePause,
		"eeprom_write_delay": cfg.EEPROMWriteDelay,
		"recenter_wait":      cfg.RecenterWait,
		"readout_interval":   cfg.ReadoutInterval,
		"stall_timeout":      cfg.StallTimeout,
	} {
		if d < 0 {
			return errors.Errorf("%s: %s cannot be negative, got %v", path, name, d)
		}
	}

	if cfg.Baudrate == 0 {
		cfg.Baudrate = DefaultBaudrate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CalibrationSpeed == 0 {
		cfg.CalibrationSpeed = DefaultCalibrationSpeed
	}
	if cfg.FineSpeed == 0 {
		cfg.FineSpeed = DefaultFineSpeed
	}
	if cfg.StallThresholdMA == 0 {
		cfg.StallThresholdMA = DefaultStallThresholdMA
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.BackoffPulse == 0 {
		cfg.BackoffPulse = DefaultBackoffPulse
	}
	if cfg.ReversePause == 0 {
		cfg.ReversePause = DefaultReversePause
	}
	if cfg.EEPROMWriteDelay == 0 {
		cfg.EEPROMWriteDelay = DefaultEEPROMWriteDelay
	}
	if cfg.RecenterWait == 0 {
		cfg.RecenterWait = DefaultRecenterWait
	}
	if cfg.ReadoutInterval == 0 {
		cfg.ReadoutInterval = DefaultReadoutInterval
	}

	return nil
}

// LoadConfig reads a JSON config file and validates it
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, errors.Wrap(err, "failed to parse config JSON")
	}

	cfg := fc.config()
	if err := cfg.Validate(filePath); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseServoID parses the single positional servo id argument.
// Any failure wraps ErrInvalidInput.
func ParseServoID(args []string) (int, error) {
	if len(args) == 0 {
		return 0, errors.Wrap(ErrInvalidInput, "servo ID must be specified as a command-line argument")
	}
	id, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidInput, "invalid servo ID %q", args[0])
	}
	return int(id), nil
}
