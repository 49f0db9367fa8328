package ratelimit

import "sync"

// IPQuota caps the number of concurrently open connections per remote IP.
//
// Unlike the hub's core state, the quota is consulted from per-connection
// handler goroutines before the event loop is involved, so it carries its own
// mutex. A ceiling <= 0 disables the quota.
type IPQuota struct {
	mu      sync.Mutex
	ceiling int
	open    map[string]int
}

func NewIPQuota(ceiling int) *IPQuota {
	return &IPQuota{
		ceiling: ceiling,
		open:    make(map[string]int),
	}
}

// Acquire reserves a connection slot for ip. It reports false when the IP
// already has the ceiling number of connections open.
func (q *IPQuota) Acquire(ip string) bool {
	if q.ceiling <= 0 {
		return true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.open[ip] >= q.ceiling {
		return false
	}
	q.open[ip]++
	return true
}

// Release returns a slot taken by a successful Acquire. Callers must pair
// each Acquire with exactly one Release. The count floors at zero and the
// map entry is removed once no connections remain for the IP.
func (q *IPQuota) Release(ip string) {
	if q.ceiling <= 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.open[ip] <= 1 {
		delete(q.open, ip)
		return
	}
	q.open[ip]--
}

// Open returns the number of currently reserved slots for ip.
func (q *IPQuota) Open(ip string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.open[ip]
}
