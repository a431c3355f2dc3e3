package refresher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"schedbot/internal/observability/metrics"
	"schedbot/internal/schedule"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// ErrNotSetUp means the guild has no schedule messages yet.
var ErrNotSetUp = errors.New("schedule messages are not set up")

// Refresh re-renders one guild under its lock.
func (r *Refresher) Refresh(ctx context.Context, guildID int64) error {
	unlock, err := r.locks.Lock(ctx, guildID)
	if err != nil {
		return err
	}
	defer unlock()
	return r.RefreshLocked(ctx, guildID)
}

// RefreshLocked is Refresh for callers already holding the guild lock.
func (r *Refresher) RefreshLocked(ctx context.Context, guildID int64) error {
	start := time.Now()
	result, err := r.refresh(ctx, guildID)
	r.metrics.ObserveRefresh(result, time.Since(start))
	return err
}

// Pages renders the schedule of g into len(g.MessageIDs) message texts.
func (r *Refresher) Pages(g schedule.GuildConfig, events []schedule.Event, now time.Time) ([]string, error) {
	ren := r.Renderer()
	groups, err := schedule.Paginate(ren.Render(g, events, now), len(g.MessageIDs), ren.Markup)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(groups))
	for i, grp := range groups {
		out[i] = schedule.Join(grp)
	}
	return out, nil
}

func (r *Refresher) refresh(ctx context.Context, guildID int64) (string, error) {
	g, err := r.store.GetGuild(ctx, guildID)
	if err != nil {
		return metrics.RefreshError, fmt.Errorf("load guild: %w", err)
	}
	if len(g.MessageIDs) == 0 {
		return metrics.RefreshSkipped, ErrNotSetUp
	}
	events, err := r.store.ListEvents(ctx, guildID)
	if err != nil {
		return metrics.RefreshError, fmt.Errorf("load events: %w", err)
	}
	pages, err := r.Pages(g, events, r.now())
	if err != nil {
		return metrics.RefreshError, err
	}

	opt := &kit.SendOptions{ParseMode: r.Renderer().Markup.ParseMode(), DisablePreview: true}
	log := r.log.With(logx.Guild(guildID))
	edited, total := 0, 0
	var goneErr error
	for i, id := range g.MessageIDs {
		text := pages[i]
		total += utf8.RuneCountInString(text)
		r.metrics.ScheduleLength(strconv.Itoa(i), utf8.RuneCountInString(text))
		ref := kit.MessageRef{ChatID: g.ChatID, ThreadID: g.ThreadID, MessageID: id}
		err := r.adapter.EditText(ctx, ref, text, opt)
		switch {
		case err == nil:
			edited++
		case errors.Is(err, kit.ErrNotModified):
		case errors.Is(err, kit.ErrMessageGone):
			goneErr = fmt.Errorf("slot %d (message %d): %w", i, id, err)
		default:
			return metrics.RefreshError, fmt.Errorf("edit slot %d: %w", i, err)
		}
	}

	if goneErr != nil {
		r.markGone(ctx, g)
		return metrics.RefreshGone, goneErr
	}
	r.clearGone(guildID)
	log.Debug("schedule refreshed", logx.Int("slots", len(pages)), logx.Int("edited", edited), logx.Int("chars", total))
	if edited == 0 {
		return metrics.RefreshNotModified, nil
	}
	return metrics.RefreshOK, nil
}

// markGone flags the guild for a new /setup and tells the chat once.
func (r *Refresher) markGone(ctx context.Context, g schedule.GuildConfig) {
	r.goneMu.Lock()
	already := r.gone[g.GuildID]
	r.gone[g.GuildID] = true
	r.goneMu.Unlock()
	if already {
		return
	}
	r.log.Warn("schedule message missing, guild needs /setup", logx.Guild(g.GuildID), logx.Int64("chat_id", g.ChatID))
	_, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: g.ChatID, ThreadID: g.ThreadID},
		"⚠️ A schedule message was deleted. An admin should run /setup to post a new schedule.", nil)
	if err != nil {
		r.log.Debug("gone notice not sent", logx.Guild(g.GuildID), logx.Err(err))
	}
}

func (r *Refresher) clearGone(guildID int64) {
	r.goneMu.Lock()
	delete(r.gone, guildID)
	r.goneMu.Unlock()
}
