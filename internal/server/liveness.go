package server

import (
	"sync"
	"time"
)

// liveness keeps one ping timer and one expire timer for a connection. Arming
// a timer replaces the outstanding one; a generation counter turns fires of
// replaced timers into no-ops. The expire callback runs at most once.
type liveness struct {
	pingEvery   time.Duration
	expireAfter time.Duration
	onPing      func() error
	onExpire    func()

	mu          sync.Mutex
	pingTimer   *time.Timer
	expireTimer *time.Timer
	pingGen     uint64
	expireGen   uint64
	stopped     bool
}

func newLiveness(pingEvery, expireAfter time.Duration, onPing func() error, onExpire func()) *liveness {
	return &liveness{
		pingEvery:   pingEvery,
		expireAfter: expireAfter,
		onPing:      onPing,
		onExpire:    onExpire,
	}
}

// start arms both timers.
func (l *liveness) start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.armPing()
	l.armExpire()
}

// touch records inbound activity by re-arming the expire timer.
func (l *liveness) touch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.armExpire()
}

// stop cancels both timers. Pending fires become no-ops.
func (l *liveness) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.halt()
}

// armPing must be called with mu held.
func (l *liveness) armPing() {
	if l.pingTimer != nil {
		l.pingTimer.Stop()
	}
	l.pingGen++
	gen := l.pingGen
	l.pingTimer = time.AfterFunc(l.pingEvery, func() { l.firePing(gen) })
}

// armExpire must be called with mu held.
func (l *liveness) armExpire() {
	if l.expireTimer != nil {
		l.expireTimer.Stop()
	}
	l.expireGen++
	gen := l.expireGen
	l.expireTimer = time.AfterFunc(l.expireAfter, func() { l.fireExpire(gen) })
}

func (l *liveness) firePing(gen uint64) {
	l.mu.Lock()
	if l.stopped || gen != l.pingGen {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if err := l.onPing(); err != nil {
		// A failed ping is a transport error: shut down now.
		l.expire()
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped && gen == l.pingGen {
		l.armPing()
	}
}

func (l *liveness) fireExpire(gen uint64) {
	l.mu.Lock()
	if gen != l.expireGen {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	l.expire()
}

// expire halts the timers and runs onExpire, once.
func (l *liveness) expire() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.halt()
	l.mu.Unlock()

	l.onExpire()
}

// halt must be called with mu held.
func (l *liveness) halt() {
	l.stopped = true
	if l.pingTimer != nil {
		l.pingTimer.Stop()
	}
	if l.expireTimer != nil {
		l.expireTimer.Stop()
	}
}
