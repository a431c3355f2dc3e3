package adapter

import (
	"context"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
)

type adminKey struct{ chat, user int64 }

type adminEntry struct {
	admin bool
	at    time.Time
}

// adminCache remembers getChatMember answers for ttl.
type adminCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[adminKey]adminEntry
}

func newAdminCache(ttl time.Duration) *adminCache {
	return &adminCache{ttl: ttl, entries: map[adminKey]adminEntry{}}
}

func (c *adminCache) get(k adminKey, now time.Time) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok || now.Sub(e.at) > c.ttl {
		return false, false
	}
	return e.admin, true
}

func (c *adminCache) put(k adminKey, admin bool, now time.Time) {
	c.mu.Lock()
	c.entries[k] = adminEntry{admin: admin, at: now}
	c.mu.Unlock()
}

// IsChatAdmin reports whether userID is the creator or an administrator of
// chatID. In a private chat the other party counts as admin.
func (a *Adapter) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if chatID == userID {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k := adminKey{chat: chatID, user: userID}
	now := time.Now()
	if admin, ok := a.admins.get(k, now); ok {
		return admin, nil
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, mapError(err)
	}
	admin := m.Role == tele.Creator || m.Role == tele.Administrator
	a.admins.put(k, admin, now)
	return admin, nil
}
