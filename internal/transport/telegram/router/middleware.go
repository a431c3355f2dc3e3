package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

const (
	// slowRequest promotes the "request ok" log line to INFO.
	slowRequest = 750 * time.Millisecond
	replyWait   = 10 * time.Second
	// Telegram cuts callback answers at 200 characters.
	maxAnswerRunes = 190
)

// Request outcomes as logged and observed.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

func outcome(err error) string {
	if err == nil {
		return ResultOK
	}
	if _, ok := IsRejection(err); ok {
		return ResultRejected
	}
	return ResultError
}

func loggerFor(req *Request, fallback logx.Logger) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error with the stack logged.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				loggerFor(req, log).Error("handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := loggerFor(req, log).With(logx.String("kind", string(req.Update.Kind)), logx.Duration("took", took))
			switch outcome(err) {
			case ResultRejected:
				reason, _ := IsRejection(err)
				l.Debug("request rejected", logx.String("reason", reason))
			case ResultError:
				l.Warn("request failed", logx.Err(err))
			default:
				if took >= slowRequest {
					l.Info("request ok (slow)")
				} else {
					l.Debug("request ok")
				}
			}
			return err
		}
	}
}

// MWReplyErrors tells the user a request failed. Rejection reasons are
// shown as written; other errors get a generic text. Callbacks are
// answered with a toast instead of a message.
func MWReplyErrors() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil {
				return nil
			}
			text := errorText(err)
			// ctx may already be done; the reply still goes out.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyWait)
			defer cancel()
			if cb := req.Update.Callback; cb != nil {
				_ = req.Adapter.AnswerCallback(rctx, cb.ID, tgui.TruncRunes(text, maxAnswerRunes))
				req.answered = true
			} else {
				_ = req.ReplyPlain(rctx, text)
			}
			return err
		}
	}
}

func errorText(err error) string {
	if reason, ok := IsRejection(err); ok {
		return "⚠️ " + reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "That took too long, please try again."
	}
	return "Something went wrong, please try again."
}

// CommandObserver receives the outcome of every handled request.
type CommandObserver interface {
	ObserveCommand(command, result string, d time.Duration)
}

// MWObserve reports ResultOK, ResultRejected or ResultError per request.
func MWObserve(obs CommandObserver) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if obs == nil {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			obs.ObserveCommand(req.Command, outcome(err), time.Since(start))
			return err
		}
	}
}
