package backing

import "errors"

// ErrBackingFailure wraps any failure surfaced by a Store implementation.
var ErrBackingFailure = errors.New("backing store failure")

// ErrNameExists is returned by Commit when a staged Create's name is
// already bound to a different, already-visible Object ID.
var ErrNameExists = errors.New("backing store: name already bound")
