package session

import "time"

// Action tells the HTTP layer what to do with the session cookie.
type Action int

const (
	NoChange Action = iota
	SetCookie
	ClearCookie
)

func (a Action) String() string {
	switch a {
	case SetCookie:
		return "set"
	case ClearCookie:
		return "clear"
	default:
		return "no_change"
	}
}

// Directive is the result of finalizing a handle.
type Directive struct {
	Action Action
	// ID is the identifier to send when Action is SetCookie.
	ID string
	// MaxAge is the cookie lifetime when Action is SetCookie.
	MaxAge time.Duration
}
