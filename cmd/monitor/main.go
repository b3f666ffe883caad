// Command monitor prints the live status and stored calibration of one STS servo.
// Move the horn by hand to check the range written by calibrate.
//
//	monitor [--port /dev/ttyUSB0] [--interval 500ms] [--release] <servo-id>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
	stsCal "sts_cal"
)

func main() {
	logger := logging.NewLogger("sts-monitor")
	if err := realMain(os.Args[1:], logger); err != nil {
		logger.Errorf("Monitor failed: %v", err)
		os.Exit(1)
	}
}

func realMain(args []string, logger logging.Logger) error {
	flags := flag.NewFlagSet("monitor", flag.ContinueOnError)
	port := flags.String("port", "", "Serial port (auto-detected when empty)")
	baud := flags.Int("baud", 0, "Baudrate (default 1000000)")
	interval := flags.Duration("interval", 500*time.Millisecond, "Time between readings")
	release := flags.Bool("release", false, "Disable torque first so the servo can be turned by hand")
	if err := flags.Parse(args); err != nil {
		return err
	}

	servoID, err := stsCal.ParseServoID(flags.Args())
	if err != nil {
		return err
	}

	cfg := stsCal.DefaultConfig()
	cfg.Port = *port
	if *baud != 0 {
		cfg.Baudrate = *baud
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Port == "" {
		if cfg.Port, err = stsCal.FindServoPort(ctx, servoID, cfg.Baudrate, logger); err != nil {
			return err
		}
	}

	client, err := stsCal.OpenSTSClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	model, err := client.Ping(ctx, servoID)
	if err != nil {
		return err
	}
	logger.Infof("Servo %d answered, model number %d", servoID, model)

	stored, err := client.ReadStoredRange(ctx, servoID)
	if err != nil {
		return err
	}
	logger.Infof("Stored calibration: %s", stored)

	if *release {
		if err := client.WriteRegister(ctx, servoID, stsCal.REG_TORQUE_ENABLE, []byte{0}); err != nil {
			return err
		}
		logger.Info("Torque disabled, the servo can be turned by hand")
	}

	logger.Info("Press Ctrl+C to exit")
	for utils.SelectContextOrWait(ctx, *interval) {
		sample, err := client.ReadStatus(ctx, servoID)
		if err != nil {
			logger.Warnf("Status read failed: %v", err)
			continue
		}
		fmt.Printf("position %4d  current %7.1f mA\n", sample.Position, sample.CurrentMilliamps())
	}
	return nil
}
