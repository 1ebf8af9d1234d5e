package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.rps
	if rps <= 0 {
		rps = 50
	}
	burst := p.burst
	if burst <= 0 {
		burst = 100
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}
