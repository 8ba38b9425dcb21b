package hub

import "errors"

// ErrNoPeer is returned when no browser peer is connected.
var ErrNoPeer = errors.New("no browser peer connected")
