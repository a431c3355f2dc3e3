package adapter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// chatLimiter hands out one token bucket per chat.
type chatLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	chats map[int64]*rate.Limiter
}

func newChatLimiter(perSec float64, burst int) *chatLimiter {
	l := &chatLimiter{chats: map[int64]*rate.Limiter{}}
	l.SetRate(perSec, burst)
	return l
}

// SetRate updates every existing bucket. perSec <= 0 disables limiting.
func (l *chatLimiter) SetRate(perSec float64, burst int) {
	if burst <= 0 {
		burst = 1
	}
	lim := rate.Inf
	if perSec > 0 {
		lim = rate.Limit(perSec)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit, l.burst = lim, burst
	for _, rl := range l.chats {
		rl.SetLimit(lim)
		rl.SetBurst(burst)
	}
}

func (l *chatLimiter) get(chatID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl, ok := l.chats[chatID]
	if !ok {
		rl = rate.NewLimiter(l.limit, l.burst)
		l.chats[chatID] = rl
	}
	return rl
}

// Wait blocks until chatID may send, or ctx ends.
func (l *chatLimiter) Wait(ctx context.Context, chatID int64) error {
	return l.get(chatID).Wait(ctx)
}
