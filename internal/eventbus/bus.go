package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// TopicScheduleChanged is published after any mutation of a guild's
// events or schedule config. Data is a ScheduleChanged.
const TopicScheduleChanged = "schedule.changed"

// ScheduleChanged identifies the guild whose schedule needs a refresh.
type ScheduleChanged struct {
	GuildID int64
	Reason  string
}

// Event is an in-memory signal.
//
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Event struct {
	Topic string
	Time  time.Time
	Data  any
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events whose topic is in topics, or every event
	// when topics is empty.
	Subscribe(buffer int, topics ...string) (ch <-chan Event, unsubscribe func())
}

// Option configures a bus.
type Option func(*memBus)

// OnDrop registers fn to be called once per event a full subscriber misses.
func OnDrop(fn func()) Option {
	return func(b *memBus) { b.onDrop = fn }
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New(opts ...Option) Bus {
	b := &memBus{subs: map[uint64]*subscriber{}}
	for _, o := range opts {
		o(b)
	}
	return b
}

// PublishScheduleChanged is shorthand for the schedule.changed topic.
func PublishScheduleChanged(b Bus, guildID int64, reason string) {
	if b == nil {
		return
	}
	b.Publish(Event{Topic: TopicScheduleChanged, Data: ScheduleChanged{GuildID: guildID, Reason: reason}})
}

type subscriber struct {
	ch     chan Event
	topics map[string]bool
}

func (s *subscriber) wants(topic string) bool {
	return len(s.topics) == 0 || s.topics[topic]
}

type memBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	seq    atomic.Uint64
	onDrop func()
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Topic) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		// The channel may be closed by a concurrent unsubscribe.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				if b.onDrop != nil {
					b.onDrop()
				}
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		s.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			s.topics[t] = true
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}
