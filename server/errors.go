package server

import "github.com/facebookgo/stackerr"

// Sentinel client errors, spec.md §7 "Client errors". Connection stays
// open; the caller replies CLIENT_ERROR <msg> (ASCII) or the matching
// binary status.
var (
	ErrMoreFieldsRequired = stackerr.New("bad command line format")
	ErrTooLargeItem       = stackerr.New("object too large for cache")
	ErrBadDataChunk       = stackerr.New("bad data chunk")
	ErrBadCommandLine     = stackerr.New("bad command line format")
	ErrInvalidDelta       = stackerr.New("invalid numeric delta argument")
	ErrKeyTooLong         = stackerr.New("key too long")
)

// unwrap peels a stackerr-wrapped error down to the underlying message,
// matching conn.go's use of unwrap before formatting CLIENT_ERROR /
// SERVER_ERROR lines (stackerr prefixes messages with file:line, which
// must not leak to clients).
func unwrap(err error) error {
	type causer interface{ Underlying() error }
	for {
		c, ok := err.(causer)
		if !ok {
			return err
		}
		under := c.Underlying()
		if under == nil {
			return err
		}
		err = under
	}
}
