package auth

import "errors"

// ErrInvalidToken is returned when a token fails validation.
var ErrInvalidToken = errors.New("invalid token")
