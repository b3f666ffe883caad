// discovery.go
package sts_cal

import (
	"context"
	"strings"
	"time"

	feetech "github.com/hipsterbrown/feetech-servo"
	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"
)

const pingTimeout = 500 * time.Millisecond

// FindServoPort scans USB serial ports and returns the first one where servo id answers a ping
func FindServoPort(ctx context.Context, id, baudrate int, logger logging.Logger) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	allPorts := enumerateSerialPorts()
	logger.Debugf("Found %d total serial ports", len(allPorts))

	candidates := filterCandidatePorts(allPorts)
	logger.Debugf("Filtered to %d candidate ports", len(candidates))

	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if pingOnPort(portPath, id, baudrate, logger) {
			logger.Infof("Found servo %d on %s", id, portPath)
			return portPath, nil
		}
	}

	return "", errors.Errorf("servo %d not found on any of %d candidate ports", id, len(candidates))
}

// pingOnPort opens portPath briefly and pings servo id
func pingOnPort(portPath string, id, baudrate int, logger logging.Logger) bool {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     portPath,
		Baudrate: baudrate,
		Protocol: feetech.ProtocolV0,
		Timeout:  pingTimeout,
	})
	if err != nil {
		logger.Debugf("Failed to open port %s: %v", portPath, err)
		return false
	}
	defer bus.Close()

	if _, err := bus.Servo(id).Ping(); err != nil {
		logger.Debugf("No response from servo %d on %s: %v", id, portPath, err)
		return false
	}
	return true
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

var candidatePrefixes = []string{
	"/dev/ttyUSB", "/dev/ttyACM",
	"/dev/tty.usbmodem", "/dev/tty.usbserial", "/dev/cu.usbmodem", "/dev/cu.usbserial",
	"COM",
}

func isCandidatePort(port string) bool {
	for _, prefix := range candidatePrefixes {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	return false
}

// enumerateSerialPorts returns a list of all serial ports on the system
func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
