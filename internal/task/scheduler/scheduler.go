package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "schedbot/pkg/logx"
)

// Job is a scheduled unit of work. Its context carries the job timeout.
type Job func(ctx context.Context) error

type jobDef struct {
	name    string
	spec    Spec
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	jitter  time.Duration
}

// Info describes a registered job.
type Info struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

// Service runs named jobs. Jobs are upserted by name, a run still in
// progress causes the next trigger to be skipped, and panics are recovered.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	runCtx atomic.Value // context.Context
	cancel context.CancelFunc
	defs   map[string]*jobDef
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		log: log.With(logx.Component("scheduler")),
		loc: loc,
		// SecondOptional allows both 5-field and 6-field cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*jobDef{},
	}
}

// Validate reports whether raw would be accepted by Schedule.
func (s *Service) Validate(raw string) error {
	sp, err := ParseSpec(raw)
	if err != nil {
		return err
	}
	if sp.Cron != "" {
		if _, err := s.parser.Parse(sp.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", sp.Cron, err)
		}
	}
	return nil
}

// Start begins triggering. Jobs registered before Start are added now.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx.Store(runCtx)
	s.cancel = cancel
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

func (s *Service) startLocked() {
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		if err := s.addLocked(d); err != nil {
			s.log.Error("job register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop stops triggering and waits for running jobs until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancel
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped")
}

// SetLocation restarts the runner in loc when it changed.
func (s *Service) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc.String() == loc.String() {
		return
	}
	s.loc = loc
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.startLocked()
	s.log.Info("scheduler timezone changed", logx.String("tz", loc.String()))
}

// Schedule registers job under name, replacing a job of the same name.
func (s *Service) Schedule(name, raw string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	sp, err := ParseSpec(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &jobDef{name: name, spec: sp, timeout: timeout, job: job}
	if s.c != nil {
		if err := s.addLocked(d); err != nil {
			return err
		}
	}
	s.defs[name] = d
	s.log.Debug("job registered",
		logx.String("name", name),
		logx.String("spec", sp.String()),
		logx.Duration("timeout", timeout),
		logx.Duration("first_jitter", d.jitter),
	)
	return nil
}

// Remove unregisters name. It reports whether a job was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) addLocked(d *jobDef) error {
	run := cron.FuncJob(func() { s.run(d) })
	if d.spec.Every > 0 {
		sched, jitter := jitteredEvery(d.spec.Every, time.Now().In(s.loc), randN)
		d.jitter = jitter
		d.entryID = s.c.Schedule(sched, run)
		return nil
	}
	id, err := s.c.AddJob(d.spec.Cron, run)
	if err != nil {
		return fmt.Errorf("invalid cron %q: %w", d.spec.Cron, err)
	}
	d.entryID = id
	return nil
}

func (s *Service) run(d *jobDef) {
	parent, _ := s.runCtx.Load().(context.Context)
	if parent == nil || parent.Err() != nil {
		return
	}
	ctx := parent
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, d.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := d.job(ctx); err != nil {
		s.log.Warn("job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("job done", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
}

// Jobs returns registered jobs sorted by name.
func (s *Service) Jobs() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.defs))
	for _, d := range s.defs {
		info := Info{Name: d.name, Spec: d.spec.String(), Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
