package fallback

import "errors"

var errNoPrimary = errors.New("fallback: no primary provider configured")
