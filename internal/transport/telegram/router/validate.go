package router

import (
	"context"
	"errors"
	"fmt"
)

// Verdict is the outcome of one validator.
type Verdict struct {
	OK     bool
	Reason string
}

// Pass accepts the request.
func Pass() Verdict { return Verdict{OK: true} }

// Fail rejects the request; reason is shown to the user verbatim.
func Fail(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// Validator inspects a request before its handler runs. Validators may
// stash loaded state on the request with Request.Set.
type Validator func(ctx context.Context, req *Request) Verdict

// Rejection is a user-facing refusal.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

// Reject builds a Rejection error.
func Reject(format string, args ...any) error {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is a Rejection and returns its reason.
func IsRejection(err error) (string, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason, true
	}
	return "", false
}

// Validate runs validators in order and returns the first failure.
func Validate(ctx context.Context, req *Request, validators ...Validator) error {
	for _, v := range validators {
		if v == nil {
			continue
		}
		if verdict := v(ctx, req); !verdict.OK {
			reason := verdict.Reason
			if reason == "" {
				reason = "Not allowed."
			}
			return &Rejection{Reason: reason}
		}
	}
	return nil
}

// MWValidate runs validators before the handler.
func MWValidate(validators ...Validator) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if len(validators) == 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			if err := Validate(ctx, req, validators...); err != nil {
				return err
			}
			return next(ctx, req)
		}
	}
}

// OwnerOnly passes for configured bot owners.
func OwnerOnly() Validator {
	return func(ctx context.Context, req *Request) Verdict {
		if req.IsOwner() {
			return Pass()
		}
		return Fail("Only the bot owner can do that.")
	}
}
