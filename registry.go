package sts_cal

import (
	"fmt"
	"sync"

	"go.viam.com/rdk/logging"
)

// busOpener opens the STS client for a port
type busOpener func(cfg *Config, logger logging.Logger) (*STSClient, error)

type busEntry struct {
	client   *STSClient
	baudrate int
	refCount int
}

// BusRegistry shares one STSClient per serial port between components.
// Several servos on one bus each get a calibration sensor but only one open port.
type BusRegistry struct {
	mu      sync.Mutex
	entries map[string]*busEntry // port path -> entry
	open    busOpener
}

// NewBusRegistry returns an empty registry opening ports with OpenSTSClient
func NewBusRegistry() *BusRegistry {
	return newBusRegistry(OpenSTSClient)
}

func newBusRegistry(open busOpener) *BusRegistry {
	return &BusRegistry{
		entries: make(map[string]*busEntry),
		open:    open,
	}
}

var globalBusRegistry = NewBusRegistry()

// Acquire returns the shared client for cfg.Port, opening it on first use.
// Every successful Acquire must be paired with a Release.
func (r *BusRegistry) Acquire(cfg *Config, logger logging.Logger) (*STSClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[cfg.Port]; exists {
		if entry.baudrate != cfg.Baudrate {
			return nil, fmt.Errorf("conflict: port %s already open at %d baud (refCount: %d)",
				cfg.Port, entry.baudrate, entry.refCount)
		}
		entry.refCount++
		return entry.client, nil
	}

	client, err := r.open(cfg, logger)
	if err != nil {
		return nil, err
	}
	r.entries[cfg.Port] = &busEntry{
		client:   client,
		baudrate: cfg.Baudrate,
		refCount: 1,
	}
	logger.Debugf("Opened shared servo bus for port %s", cfg.Port)
	return client, nil
}

// Release drops one reference to portPath and closes the client with the last one
func (r *BusRegistry) Release(portPath string) error {
	r.mu.Lock()
	entry, exists := r.entries[portPath]
	if !exists {
		r.mu.Unlock()
		return nil
	}
	entry.refCount--
	if entry.refCount > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, portPath)
	r.mu.Unlock()

	return entry.client.Close()
}

// Status reports the reference count of portPath and whether it is open
func (r *BusRegistry) Status(portPath string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[portPath]
	if !exists {
		return 0, false
	}
	return entry.refCount, true
}
