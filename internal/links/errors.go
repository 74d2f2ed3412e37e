package links

import "errors"

var (
	ErrNotFound      = errors.New("short link not found")
	ErrKeyTaken      = errors.New("short key already in use")
	ErrInvalidWindow = errors.New("deactivation must be after activation")
	ErrForbidden     = errors.New("actor may not perform this operation")
	ErrGuest         = errors.New("guests may only create short links")
)
