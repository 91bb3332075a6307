package session

import (
	"sync"
	"time"
)

// Debounce is a restartable one-shot timer. Each Arm supersedes the previous
// one; a firing callback must Claim its token before acting, so a timer that
// was re-armed or cancelled while its callback was in flight does nothing.
type Debounce struct {
	timeout time.Duration
	mu      sync.Mutex
	timer   *time.Timer
	token   uint64
	armed   bool
}

func NewDebounce(timeout time.Duration) *Debounce {
	if timeout <= 0 {
		timeout = 2500 * time.Millisecond
	}
	return &Debounce{timeout: timeout}
}

// Arm schedules fire after the default timeout.
func (d *Debounce) Arm(fire func(token uint64)) {
	d.ArmAfter(d.timeout, fire)
}

func (d *Debounce) ArmAfter(delay time.Duration, fire func(token uint64)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.token++
	d.armed = true
	token := d.token
	d.timer = time.AfterFunc(delay, func() { fire(token) })
}

// Cancel disarms the timer. Safe to call when nothing is armed.
func (d *Debounce) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.armed = false
}

// Pending reports whether an armed timer has not been claimed or cancelled.
func (d *Debounce) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Claim disarms the timer if token is the current arming.
func (d *Debounce) Claim(token uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.armed || token != d.token {
		return false
	}
	d.armed = false
	d.timer = nil
	return true
}
