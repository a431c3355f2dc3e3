// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"sync"

	kit "schedbot/internal/transport"
)

// Sent is one recorded outgoing message or edit.
type Sent struct {
	Ref  kit.MessageRef
	Text string
	Opt  kit.SendOptions
}

// Fake records everything sent through it. Messages live in a map so
// edits and deletes behave like the real platform: editing a deleted
// message returns ErrMessageGone and identical edits return ErrNotModified.
type Fake struct {
	mu sync.Mutex

	nextID    int
	messages  map[kit.MessageRef]string
	sent      []Sent
	edits     []Sent
	deleted   []kit.MessageRef
	documents []kit.Document
	answers   map[string]string
	admins    map[int64]map[int64]bool

	// MaxLen makes EditText return ErrTooLong above this many bytes when > 0.
	MaxLen int
	// EditErr, when set, is returned by every EditText call.
	EditErr error
}

func New() *Fake {
	return &Fake{
		nextID:   100,
		messages: map[kit.MessageRef]string{},
		answers:  map[string]string{},
		admins:   map[int64]map[int64]bool{},
	}
}

func (f *Fake) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *Fake) Stop(ctx context.Context) error                         { return nil }

func key(ref kit.MessageRef) kit.MessageRef {
	return kit.MessageRef{ChatID: ref.ChatID, MessageID: ref.MessageID}
}

func (f *Fake) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}
	f.messages[key(ref)] = text
	s := Sent{Ref: ref, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	f.sent = append(f.sent, s)
	return ref, nil
}

func (f *Fake) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EditErr != nil {
		return f.EditErr
	}
	cur, ok := f.messages[key(ref)]
	if !ok {
		return kit.ErrMessageGone
	}
	if f.MaxLen > 0 && len(text) > f.MaxLen {
		return kit.ErrTooLong
	}
	if cur == text {
		return kit.ErrNotModified
	}
	f.messages[key(ref)] = text
	s := Sent{Ref: ref, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	f.edits = append(f.edits, s)
	return nil
}

func (f *Fake) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[key(ref)]; !ok {
		return kit.ErrMessageGone
	}
	delete(f.messages, key(ref))
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *Fake) SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.documents = append(f.documents, doc)
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}, nil
}

func (f *Fake) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[callbackID] = text
	return nil
}

func (f *Fake) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if chatID == userID {
		return true, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[chatID][userID], nil
}

// SetAdmin marks userID as an administrator of chatID.
func (f *Fake) SetAdmin(chatID, userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.admins[chatID] == nil {
		f.admins[chatID] = map[int64]bool{}
	}
	f.admins[chatID][userID] = true
}

// Put seeds an existing message, e.g. a schedule post from a previous run.
func (f *Fake) Put(ref kit.MessageRef, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[key(ref)] = text
}

// Forget drops a message as if a user deleted it.
func (f *Fake) Forget(ref kit.MessageRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, key(ref))
}

// Text returns the current text of a message.
func (f *Fake) Text(ref kit.MessageRef) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.messages[key(ref)]
	return t, ok
}

func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// LastSent returns the most recent SendText text, or "".
func (f *Fake) LastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Text
}

func (f *Fake) Edits() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.edits...)
}

func (f *Fake) Deleted() []kit.MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kit.MessageRef(nil), f.deleted...)
}

func (f *Fake) Documents() []kit.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kit.Document(nil), f.documents...)
}

// Answer returns the toast text sent for a callback id.
func (f *Fake) Answer(callbackID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.answers[callbackID]
	return t, ok
}

// Reset clears recorded traffic but keeps stored messages.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent, f.edits, f.deleted, f.documents = nil, nil, nil, nil
	f.answers = map[string]string{}
}

var _ kit.Adapter = (*Fake)(nil)
