package sts_cal

import (
	"context"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

type readoutSample struct {
	sample StatusSample
	at     time.Time
}

// readout periodically polls the status of watched servos in the background.
// A calibration takes a hold on the bus and no servo is polled until every
// hold is released, so manual polling never competes for the bus.
type readout struct {
	client   RegisterClient
	interval time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	watched map[int]bool
	holds   map[int]bool
	samples map[int]readoutSample

	workers *utils.StoppableWorkers
}

func newReadout(client RegisterClient, interval time.Duration, logger logging.Logger) *readout {
	r := &readout{
		client:   client,
		interval: interval,
		logger:   logger,
		watched:  make(map[int]bool),
		holds:    make(map[int]bool),
		samples:  make(map[int]readoutSample),
	}
	r.workers = utils.NewBackgroundStoppableWorkers(r.run)
	return r
}

func (r *readout) run(ctx context.Context) {
	for utils.SelectContextOrWait(ctx, r.interval) {
		for _, id := range r.pollable() {
			sample, err := r.client.ReadStatus(ctx, id)
			if err != nil {
				r.logger.Debugf("readout of servo %d failed: %v", id, err)
				continue
			}
			r.mu.Lock()
			// a hold may have been taken while the request was in flight
			if r.watched[id] && len(r.holds) == 0 {
				r.samples[id] = readoutSample{sample: sample, at: time.Now()}
			}
			r.mu.Unlock()
		}
	}
}

// pollable returns the watched ids, or none while the bus is held
func (r *readout) pollable() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.holds) > 0 {
		return nil
	}
	ids := make([]int, 0, len(r.watched))
	for id := range r.watched {
		ids = append(ids, id)
	}
	return ids
}

func (r *readout) watch(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watched[id] = true
}

func (r *readout) unwatch(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watched, id)
	delete(r.samples, id)
}

func (r *readout) hold(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holds[id] = true
}

func (r *readout) release(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.holds, id)
}

func (r *readout) held() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holds) > 0
}

func (r *readout) last(id int) (StatusSample, time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.samples[id]
	return s.sample, s.at, ok
}

func (r *readout) stop() {
	r.workers.Stop()
}
