package stream

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	errPerIPLimit = errors.New("too many streams from this address")
	errTotalLimit = errors.New("server stream capacity reached")
)

// connLimiter caps concurrent stream connections per client address and in
// total.
type connLimiter struct {
	mu       sync.Mutex
	perIP    map[string]int
	total    int
	maxPerIP int
	maxTotal int
}

func newConnLimiter(maxPerIP, maxTotal int) *connLimiter {
	if maxTotal <= 0 {
		maxTotal = 1000
	}
	return &connLimiter{
		perIP:    make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
	}
}

// admit reserves a slot for ip. The returned release func frees it and may
// be called more than once.
func (l *connLimiter) admit(ip string) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.total >= l.maxTotal:
		return nil, errTotalLimit
	case l.perIP[ip] >= l.maxPerIP:
		return nil, errPerIPLimit
	}
	l.perIP[ip]++
	l.total++

	var once sync.Once
	return func() { once.Do(func() { l.free(ip) }) }, nil
}

func (l *connLimiter) free(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total--
	if l.perIP[ip]--; l.perIP[ip] <= 0 {
		delete(l.perIP, ip)
	}
}

// held returns the slots held by ip and in total.
func (l *connLimiter) held(ip string) (forIP, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip], l.total
}
