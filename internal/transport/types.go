// Package transport holds the platform-neutral chat types shared by the
// router, the schedule commands and the refresher.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotModified means an edit carried the exact current content.
	ErrNotModified = errors.New("message is not modified")
	// ErrMessageGone means the target message no longer exists.
	ErrMessageGone = errors.New("message not found")
	// ErrTooLong means the text exceeds the platform message limit.
	ErrTooLong = errors.New("message text is too long")
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

type Callback struct {
	ID           string
	FromID       int64
	FromUsername string
	ChatID       int64
	ThreadID     int
	MessageID    int
	Data         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyMarkup is adapter specific (Telegram: *telebot.ReplyMarkup).
	ReplyMarkup any
}

// Document is a file upload.
type Document struct {
	FileName string
	MIME     string
	Caption  string
	Data     []byte
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// EditText replaces a message's text. It returns ErrNotModified,
	// ErrMessageGone or ErrTooLong where applicable.
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	SendDocument(ctx context.Context, to ChatTarget, doc Document) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// IsChatAdmin reports whether userID administers chatID.
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
