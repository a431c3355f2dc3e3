// Package system holds operational commands: liveness, process status and
// the scheduler's job table.
package system

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"schedbot/internal/refresher"
	rtsup "schedbot/internal/runtime/supervisor"
	"schedbot/internal/storage"
	"schedbot/internal/task/scheduler"
	"schedbot/internal/transport/telegram/router"
	"schedbot/pkg/tgui"
)

type Deps struct {
	Store     storage.Store
	Refresher interface{ LastPass() refresher.PassSummary }
	Scheduler interface{ Jobs() []scheduler.Info }
	// Tasks lists supervised background loops; optional.
	Tasks func() []rtsup.TaskStats
	Now   func() time.Time
}

type Plugin struct {
	d         Deps
	startedAt time.Time
}

func New(d Deps) (*Plugin, error) {
	if d.Store == nil || d.Refresher == nil || d.Scheduler == nil {
		return nil, errors.New("system: store, refresher and scheduler are required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Plugin{d: d, startedAt: d.Now()}, nil
}

func (p *Plugin) Commands() []router.Command {
	owner := []router.Validator{router.OwnerOnly()}
	return []router.Command{
		{
			Route:       "ping",
			Description: "check that the bot answers",
			Usage:       "/ping",
			Access:      router.AccessEveryone,
			Hidden:      true,
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.ReplyPlain(ctx, "pong")
			},
		},
		{
			Route:       "status",
			Aliases:     []string{"health"},
			Description: "process, refresh and task status",
			Usage:       "/status",
			Access:      router.AccessOwnerOnly,
			Validators:  owner,
			Handle:      p.handleStatus,
		},
		{
			Route:       "jobs",
			Description: "list scheduled jobs",
			Usage:       "/jobs",
			Access:      router.AccessOwnerOnly,
			Validators:  owner,
			Handle:      p.handleJobs,
		},
	}
}

func (p *Plugin) handleStatus(ctx context.Context, req *router.Request) error {
	now := p.d.Now()
	guilds, err := p.d.Store.ListGuilds(ctx, false)
	if err != nil {
		return fmt.Errorf("list guilds: %w", err)
	}
	enabled := 0
	for _, g := range guilds {
		if g.Enabled {
			enabled++
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	last := p.d.Refresher.LastPass()
	status := "Running"
	if last.Failed > 0 {
		status = "Degraded"
	}

	var b strings.Builder
	b.WriteString("🏥 <b>Bot status</b>: " + status)
	fmt.Fprintf(&b, "\nUptime: %s", since(now, p.startedAt))
	fmt.Fprintf(&b, "\nSchedules: %d (%d enabled)", len(guilds), enabled)

	b.WriteString("\n\n🔄 <b>Last refresh</b>")
	if last.At.IsZero() {
		b.WriteString("\n• not run yet")
	} else {
		fmt.Fprintf(&b, "\n• %s, took %s", humanize.RelTime(last.At, now, "ago", "from now"), last.Duration.Round(time.Millisecond))
		fmt.Fprintf(&b, "\n• %d ok, %d failed, %d skipped", last.OK, last.Failed, last.Skipped)
	}

	b.WriteString("\n\n💾 <b>Memory</b>")
	fmt.Fprintf(&b, "\n• heap %s, sys %s, gc %d", humanize.IBytes(m.HeapInuse), humanize.IBytes(m.Sys), m.NumGC)

	b.WriteString("\n\n🤖 <b>Runtime</b>")
	fmt.Fprintf(&b, "\n• %s, %d goroutines, %d CPUs", runtime.Version(), runtime.NumGoroutine(), runtime.NumCPU())
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		fmt.Fprintf(&b, "\n• build %s", tgui.Esc(bi.Main.Version))
	}

	if p.d.Tasks != nil {
		b.WriteString("\n\n🧵 <b>Tasks</b>")
		for _, t := range p.d.Tasks() {
			icon := "✅"
			if !t.Running {
				icon = "⛔"
			}
			line := fmt.Sprintf("\n• %s %s", icon, tgui.Code(t.Name))
			if t.Restarts > 0 {
				line += fmt.Sprintf(", %d restarts", t.Restarts)
			}
			if t.LastErr != "" {
				line += ": " + tgui.Esc(tgui.TruncRunes(t.LastErr, 80)).String()
			}
			b.WriteString(line)
		}
	}
	return req.Reply(ctx, b.String())
}

func (p *Plugin) handleJobs(ctx context.Context, req *router.Request) error {
	jobs := p.d.Scheduler.Jobs()
	if len(jobs) == 0 {
		return req.Reply(ctx, "No scheduled jobs.")
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	now := p.d.Now()
	var b strings.Builder
	b.WriteString("⏱ <b>Scheduled jobs</b>")
	for _, j := range jobs {
		next := "-"
		if !j.Next.IsZero() {
			next = humanize.RelTime(j.Next, now, "ago", "from now")
		}
		fmt.Fprintf(&b, "\n• %s <code>%s</code> next %s", tgui.Code(j.Name), tgui.Esc(j.Spec), next)
		if j.Timeout > 0 {
			fmt.Fprintf(&b, ", timeout %s", j.Timeout)
		}
	}
	return req.Reply(ctx, b.String())
}

// since formats an uptime like "3h12m".
func since(now, start time.Time) string {
	d := now.Sub(start)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
}
