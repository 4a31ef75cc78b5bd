package chat

import "errors"

var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrInvalidSelfDialog   = errors.New("cannot open a dialog with yourself")
	ErrDialogNotFound      = errors.New("dialog not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrNotParticipant      = errors.New("not a participant of the dialog")
	ErrUserNotFound        = errors.New("user not found")
	ErrForbidden           = errors.New("operation not allowed")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrBadRequest          = errors.New("bad request")
)

// Code returns the short machine-readable code sent to clients for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrInvalidSelfDialog):
		return "invalid_self_dialog"
	case errors.Is(err, ErrDialogNotFound):
		return "dialog_not_found"
	case errors.Is(err, ErrMessageNotFound):
		return "message_not_found"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	default:
		return "internal"
	}
}
