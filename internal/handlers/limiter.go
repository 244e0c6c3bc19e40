package handlers

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// guildLimiter rate limits /play per guild. A zero rate disables it.
type guildLimiter struct {
	perMinute int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newGuildLimiter(perMinute int) *guildLimiter {
	return &guildLimiter{perMinute: perMinute, limiters: make(map[string]*rate.Limiter)}
}

func (g *guildLimiter) Allow(guildID string) bool {
	if g.perMinute <= 0 {
		return true
	}
	g.mu.Lock()
	l, ok := g.limiters[guildID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(g.perMinute)), g.perMinute)
		g.limiters[guildID] = l
	}
	g.mu.Unlock()
	return l.Allow()
}
