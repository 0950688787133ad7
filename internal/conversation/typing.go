package conversation

import (
	"sync"
	"time"
)

// typingThrottle debounces typing presence. One start event is emitted per
// sliding idle window; the matching stop fires on window expiry or an
// explicit stop, never twice.
type typingThrottle struct {
	mu     sync.Mutex
	active bool
	gen    uint64
	timer  *time.Timer
	idle   time.Duration
	emit   func(started bool)
}

func newTypingThrottle(idle time.Duration, emit func(started bool)) *typingThrottle {
	return &typingThrottle{idle: idle, emit: emit}
}

// notifyTyping emits a start event if none is outstanding, otherwise just
// slides the inactivity window.
func (t *typingThrottle) notifyTyping() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active {
		t.reschedule()
		return
	}

	t.active = true
	t.reschedule()
	t.emit(true)
}

// notifyStoppedTyping cancels the pending auto-stop and emits a stop event,
// but only if a start is outstanding.
func (t *typingThrottle) notifyStoppedTyping() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return
	}
	t.cancel()
	t.emit(false)
}

// shutdown cancels the timer, emitting a final stop if one is owed.
func (t *typingThrottle) shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return
	}
	t.cancel()
	t.emit(false)
}

// reschedule arms a fresh idle timer, invalidating any previous one via the
// generation counter. Callers must hold t.mu.
func (t *typingThrottle) reschedule() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.idle, func() { t.expire(gen) })
}

// cancel stops the pending timer and clears the outstanding start. Callers
// must hold t.mu.
func (t *typingThrottle) cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.active = false
}

func (t *typingThrottle) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A stale timer that lost the race to a reschedule or cancel.
	if !t.active || gen != t.gen {
		return
	}
	t.active = false
	t.timer = nil
	t.emit(false)
}
