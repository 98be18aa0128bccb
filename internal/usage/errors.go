package usage

import "errors"

// ErrLimitReached indicates the user has no credits left in the current window.
var ErrLimitReached = errors.New("limit reached")
