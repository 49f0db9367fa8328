package ratelimit

import "time"

// FixedWindow is a fixed-window message counter using a provided Clock.
//
// The window restarts once more than the window length has elapsed since the
// window began; inside one window, Allow reports false for every message
// beyond the ceiling. A ceiling <= 0 disables the limiter.
//
// FixedWindow is intentionally not safe for concurrent use: each connection
// owns one and consults it from its read loop only.
type FixedWindow struct {
	clock   Clock
	ceiling int
	window  time.Duration

	start time.Time
	count int
}

func NewFixedWindow(clock Clock, ceiling int, window time.Duration) *FixedWindow {
	if clock == nil {
		clock = RealClock{}
	}
	return &FixedWindow{
		clock:   clock,
		ceiling: ceiling,
		window:  window,
		start:   clock.Now(),
	}
}

// Allow records one message and reports whether it fits the current window.
func (w *FixedWindow) Allow() bool {
	if w.ceiling <= 0 {
		return true
	}

	now := w.clock.Now()
	if now.Sub(w.start) > w.window || now.Before(w.start) {
		w.start = now
		w.count = 0
	}

	w.count++
	return w.count <= w.ceiling
}
