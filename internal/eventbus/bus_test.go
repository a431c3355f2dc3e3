package eventbus

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTopicFilter(t *testing.T) {
	t.Parallel()
	b := New()
	sched, unsub1 := b.Subscribe(4, TopicScheduleChanged)
	defer unsub1()
	all, unsub2 := b.Subscribe(4)
	defer unsub2()

	b.Publish(Event{Topic: "config.reloaded"})
	PublishScheduleChanged(b, 7, "add")

	select {
	case e := <-sched:
		sc, ok := e.Data.(ScheduleChanged)
		if !ok || sc.GuildID != 7 || sc.Reason != "add" || e.Time.IsZero() {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no schedule.changed delivered")
	}
	select {
	case e := <-sched:
		t.Fatalf("unexpected extra event %+v", e)
	default:
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", len(all))
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	var drops atomic.Int32
	b := New(OnDrop(func() { drops.Add(1) }))
	ch, unsub := b.Subscribe(1)
	for i := 0; i < 5; i++ {
		b.Publish(Event{Topic: "x"})
	}
	if len(ch) != 1 {
		t.Fatalf("buffer len = %d, want 1", len(ch))
	}
	if n := drops.Load(); n != 4 {
		t.Fatalf("drops = %d, want 4", n)
	}
	unsub()
	unsub()
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Topic: "x"})
	if _, ok := <-ch; !ok {
		t.Fatal("buffered event lost on close")
	}
}
