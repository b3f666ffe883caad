// Command calibrate finds the mechanical end-stops of one STS servo and stores
// the centered range in its EEPROM.
//
//	calibrate [--port /dev/ttyUSB0] [--config cal.json] [--debug] <servo-id>
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.viam.com/rdk/logging"
	stsCal "sts_cal"
)

func main() {
	logger := logging.NewLogger("sts-calibrate")
	if err := realMain(os.Args[1:], logger); err != nil {
		logger.Errorf("Calibration failed: %v", err)
		os.Exit(1)
	}
}

func realMain(args []string, logger logging.Logger) error {
	flags := flag.NewFlagSet("calibrate", flag.ContinueOnError)
	configPath := flags.String("config", "", "JSON config file with port and timing overrides")
	port := flags.String("port", "", "Serial port (auto-detected when empty)")
	baud := flags.Int("baud", 0, "Baudrate (default 1000000)")
	debug := flags.Bool("debug", false, "Log every status sample and packet")
	if err := flags.Parse(args); err != nil {
		return err
	}

	servoID, err := stsCal.ParseServoID(flags.Args())
	if err != nil {
		return err
	}
	if *debug {
		logger.SetLevel(logging.DEBUG)
	}

	cfg := stsCal.DefaultConfig()
	if *configPath != "" {
		if cfg, err = stsCal.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *baud != 0 {
		cfg.Baudrate = *baud
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	stopLog := context.AfterFunc(ctx, func() {
		logger.Info("Interrupt signal received. Stopping calibration...")
	})
	defer stopLog()

	if cfg.Port == "" {
		if cfg.Port, err = stsCal.FindServoPort(ctx, servoID, cfg.Baudrate, logger); err != nil {
			return err
		}
	}

	logger.Infof("Starting calibration for servo ID: %d", servoID)

	client, err := stsCal.OpenSTSClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := stsCal.NewCalibrator(client, cfg, logger).Run(ctx, servoID)
	if err != nil {
		return err
	}
	if result.Cancelled {
		logger.Info("Calibration was interrupted. Servo stopped, no calibration data written.")
		return nil
	}

	logger.Infof("Calibration complete. Offset: %d, Min Angle: %d, Max Angle: %d",
		result.Range.Offset, result.Range.MinAngle, result.Range.MaxAngle)
	return nil
}
