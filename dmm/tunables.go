package dmm

import (
	"fmt"
	"sync"
	"time"
)

// Tunables are the runtime knobs shared between the operator and the engine
// goroutine. The engine reads them on every loop iteration.
type Tunables struct {
	mu           sync.Mutex
	debug        bool
	pollInterval time.Duration
}

func newTunables(debug bool, pollInterval time.Duration) *Tunables {
	return &Tunables{debug: debug, pollInterval: pollInterval}
}

// Debug reports whether hot path logging is enabled.
func (t *Tunables) Debug() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.debug
}

// SetDebug enables or disables hot path logging.
func (t *Tunables) SetDebug(enabled bool) {
	t.mu.Lock()
	t.debug = enabled
	t.mu.Unlock()
}

// PollInterval returns the readiness wait bound and inter-iteration delay.
func (t *Tunables) PollInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.pollInterval
}

// SetPollInterval changes the poll interval, taking effect on the next loop
// iteration.
func (t *Tunables) SetPollInterval(d time.Duration) error {
	if d < MinPollInterval || d > MaxPollInterval {
		return fmt.Errorf("dmm: poll interval %v out of range [%v, %v]", d, MinPollInterval, MaxPollInterval)
	}

	t.mu.Lock()
	t.pollInterval = d
	t.mu.Unlock()

	return nil
}

func (t *Tunables) snapshot() (debug bool, pollInterval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.debug, t.pollInterval
}
