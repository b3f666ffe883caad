package sts_cal

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type call struct {
	Op    string
	Speed uint16
	Dir   Direction
	Mode  uint8
	Reg   string
	Data  []byte
}

// fakeClient replays a scripted sequence of status samples and records every command
type fakeClient struct {
	mu sync.Mutex

	script []StatusSample
	reads  int
	calls  []call

	// onRead runs after read n has been served
	onRead func(n int)

	readErrAt    int
	failWrites   map[string]error
	failSetSpeed error
}

func newFakeClient(script ...StatusSample) *fakeClient {
	return &fakeClient{
		script:     script,
		readErrAt:  -1,
		failWrites: map[string]error{},
	}
}

func (f *fakeClient) ReadStatus(ctx context.Context, id int) (StatusSample, error) {
	f.mu.Lock()
	n := f.reads
	f.reads++
	f.calls = append(f.calls, call{Op: "read"})
	var sample StatusSample
	if len(f.script) > 0 {
		sample = f.script[min(n, len(f.script)-1)]
	}
	hook := f.onRead
	fail := n == f.readErrAt
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if fail {
		return StatusSample{}, commError("read status", id, errors.New("no response"))
	}
	return sample, nil
}

func (f *fakeClient) SetSpeed(ctx context.Context, id int, speed uint16, dir Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Op: "speed", Speed: speed, Dir: dir})
	if f.failSetSpeed != nil {
		return commError("set speed", id, f.failSetSpeed)
	}
	return nil
}

func (f *fakeClient) SetMode(ctx context.Context, id int, mode uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Op: "mode", Mode: mode})
	return nil
}

func (f *fakeClient) WriteRegister(ctx context.Context, id int, register string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Op: "write", Reg: register, Data: append([]byte(nil), data...)})
	if err := f.failWrites[register]; err != nil {
		return commError("write "+register, id, err)
	}
	return nil
}

func (f *fakeClient) EnableReadout(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Op: "readout_on"})
	return nil
}

func (f *fakeClient) DisableReadout(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Op: "readout_off"})
	return nil
}

func (f *fakeClient) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeClient) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeClient) writes() []call {
	var out []call
	for _, c := range f.recorded() {
		if c.Op == "write" {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeClient) lastCall() call {
	calls := f.recorded()
	return calls[len(calls)-1]
}

// rawForMilliamps returns the smallest raw reading at or above ma
func rawForMilliamps(ma float64) uint16 {
	return uint16(math.Ceil(ma * 100 / 6.5))
}

// sweepScript plays one sweep: free running, coarse stall, fine approach, then the two position reads
func sweepScript(boundary, rest uint16) []StatusSample {
	return []StatusSample{
		{Position: boundary - 300, CurrentRaw: rawForMilliamps(120)},
		{Position: boundary - 150, CurrentRaw: rawForMilliamps(499)},
		{Position: boundary - 10, CurrentRaw: rawForMilliamps(620)},
		{Position: boundary - 4, CurrentRaw: rawForMilliamps(640)},
		{Position: boundary - 1, CurrentRaw: rawForMilliamps(990)},
		{Position: boundary, CurrentRaw: rawForMilliamps(1100)},
		{Position: boundary, CurrentRaw: 0},
		{Position: rest, CurrentRaw: 0},
	}
}

// sweepReads is the number of status reads one sweepScript takes
const sweepReads = 8

func fastConfig() *Config {
	cfg := &Config{
		PollInterval:     time.Microsecond,
		SettleDelay:      time.Microsecond,
		BackoffPulse:     time.Microsecond,
		ReversePause:     time.Microsecond,
		EEPROMWriteDelay: time.Microsecond,
		RecenterWait:     time.Microsecond,
		ReadoutInterval:  time.Millisecond,
	}
	cfg.Validate("test")
	return cfg
}
