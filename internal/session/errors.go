package session

import "errors"

// ErrInvalidState is returned when an operation is requested in a state that
// does not allow it. The rejection never changes the session state.
var ErrInvalidState = errors.New("invalid session state")
