package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiters hands out one token bucket per tab.
type limiters struct {
	mu     sync.Mutex
	bucket map[string]*rate.Limiter
	rate   rate.Limit
	burst  int
}

func newLimiters(perSecond float64, burst int) *limiters {
	return &limiters{
		bucket: make(map[string]*rate.Limiter),
		rate:   limitOf(perSecond),
		burst:  max(burst, 1),
	}
}

func limitOf(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

func (l *limiters) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.bucket[key]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.bucket[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (l *limiters) forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.bucket, key)
}

// update changes the limit for new and existing buckets.
func (l *limiters) update(perSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate = limitOf(perSecond)
	l.burst = max(burst, 1)
	for _, lim := range l.bucket {
		lim.SetLimit(l.rate)
		lim.SetBurst(l.burst)
	}
}
