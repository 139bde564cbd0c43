// Package apperr defines the error taxonomy shared by the match, contestant,
// group and rescue packages and its mapping onto wire codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
)

// Kind classifies an error for propagation to callers.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
	KindValidation        Kind = "validation_error"
	KindAlreadyRunning    Kind = "already_running"
	KindAlreadyProcessed  Kind = "already_processed"
	KindInternal          Kind = "internal"
)

// Error is a classified application error. Reason is a stable machine
// readable tag (e.g. "match_not_found") and Message is user facing.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind and Reason so that the
// sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Reason == "" || e.Reason == t.Reason)
}

// New creates a classified error.
func New(kind Kind, reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, reason string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(reason, format string, args ...any) *Error {
	return New(KindNotFound, reason, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return New(KindInvalidTransition, "invalid_transition", format, args...)
}

func Conflict(reason, format string, args ...any) *Error {
	return New(KindConflict, reason, format, args...)
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, "validation_error", format, args...)
}

// Sentinels. Compare with errors.Is.
var (
	ErrMatchNotFound      = &Error{Kind: KindNotFound, Reason: "match_not_found", Message: "match not found"}
	ErrQuestionNotFound   = &Error{Kind: KindNotFound, Reason: "question_not_found", Message: "question not found"}
	ErrJudgeNotFound      = &Error{Kind: KindNotFound, Reason: "judge_not_found", Message: "judge not found"}
	ErrContestantNotFound = &Error{Kind: KindNotFound, Reason: "contestant_not_found", Message: "contestant not found"}
	ErrGroupNotFound      = &Error{Kind: KindNotFound, Reason: "group_not_found", Message: "group not found"}
	ErrRescueNotFound     = &Error{Kind: KindNotFound, Reason: "rescue_not_found", Message: "rescue not found"}
	ErrResultNotFound     = &Error{Kind: KindNotFound, Reason: "result_not_found", Message: "result not found"}
	ErrUserNotFound       = &Error{Kind: KindNotFound, Reason: "user_not_found", Message: "user not found"}
	ErrTimerNotFound      = &Error{Kind: KindNotFound, Reason: "timer_not_found", Message: "no timer for this match"}
	ErrAlreadyRunning     = &Error{Kind: KindAlreadyRunning, Reason: "already_running", Message: "timer is already running"}
	ErrAlreadyProcessed   = &Error{Kind: KindAlreadyProcessed, Reason: "already_processed", Message: "already processed"}
	ErrDuplicate          = &Error{Kind: KindConflict, Reason: "duplicate", Message: "record already exists"}
)

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the Reason of err, or "internal" for unclassified errors.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "internal"
}

// PublicMessage returns the text safe to show a client. Internal errors are
// collapsed to a generic message.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Error()
	}
	return "internal error"
}

// Code maps err onto a connect code.
func Code(err error) connect.Code {
	switch KindOf(err) {
	case KindNotFound:
		return connect.CodeNotFound
	case KindInvalidTransition:
		return connect.CodeFailedPrecondition
	case KindConflict:
		return connect.CodeAlreadyExists
	case KindValidation:
		return connect.CodeInvalidArgument
	case KindAlreadyRunning, KindAlreadyProcessed:
		return connect.CodeAborted
	default:
		return connect.CodeInternal
	}
}

// HTTPStatus maps err onto an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition, KindAlreadyRunning, KindAlreadyProcessed, KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
