package server

import (
	"strconv"

	"github.com/facebookgo/stackerr"
	"github.com/skipor/memcached/cache"
)

// MaxKeyLength is spec.md §3's key size ceiling.
const MaxKeyLength = 250

func checkKey(key []byte) error {
	if len(key) == 0 || len(key) > MaxKeyLength {
		return stackerr.Wrap(ErrKeyTooLong)
	}
	return nil
}

func parseUint(b []byte) (uint64, error) {
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, stackerr.Wrap(ErrBadCommandLine)
	}
	return n, nil
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, stackerr.Wrap(ErrBadCommandLine)
	}
	return n, nil
}

// parseStoreFields parses "<key> <flags> <exptime> <bytes> [<cas>]
// [noreply]" shared by set/add/replace/append/prepend/cas (spec.md §4.6).
func parseStoreFields(fields [][]byte, wantCAS bool) (meta cache.ItemMeta, casID uint64, noreply bool, err error) {
	fields, noreply = hasNoreply(fields)
	want := 4
	if wantCAS {
		want = 5
	}
	if len(fields) != want {
		err = stackerr.Wrap(ErrMoreFieldsRequired)
		return
	}
	if err = checkKey(fields[0]); err != nil {
		return
	}
	flags, ferr := parseUint(fields[1])
	if ferr != nil {
		err = ferr
		return
	}
	exptime, eerr := parseInt(fields[2])
	if eerr != nil {
		err = eerr
		return
	}
	nbytes, berr := parseInt(fields[3])
	if berr != nil || nbytes < 0 {
		err = stackerr.Wrap(ErrBadCommandLine)
		return
	}
	if wantCAS {
		casID, err = parseUint(fields[4])
		if err != nil {
			return
		}
	}
	meta = cache.ItemMeta{
		Key:     fields[0],
		Flags:   uint32(flags),
		Exptime: exptime,
		Bytes:   int(nbytes),
	}
	return
}

func hasNoreply(fields [][]byte) ([][]byte, bool) {
	if len(fields) == 0 {
		return fields, false
	}
	if string(fields[len(fields)-1]) == "noreply" {
		return fields[:len(fields)-1], true
	}
	return fields, false
}

// parseDeleteFields parses "<key> [noreply]".
func parseDeleteFields(fields [][]byte) (key []byte, noreply bool, err error) {
	fields, noreply = hasNoreply(fields)
	if len(fields) != 1 {
		err = stackerr.Wrap(ErrMoreFieldsRequired)
		return
	}
	key = fields[0]
	err = checkKey(key)
	return
}

// parseTouchFields parses "<key> <exptime> [noreply]".
func parseTouchFields(fields [][]byte) (key []byte, exptime int64, noreply bool, err error) {
	fields, noreply = hasNoreply(fields)
	if len(fields) != 2 {
		err = stackerr.Wrap(ErrMoreFieldsRequired)
		return
	}
	key = fields[0]
	if err = checkKey(key); err != nil {
		return
	}
	exptime, err = parseInt(fields[1])
	return
}

// parseGatFields parses "<exptime> <key>+".
func parseGatFields(fields [][]byte) (exptime int64, keys [][]byte, err error) {
	if len(fields) < 2 {
		err = stackerr.Wrap(ErrMoreFieldsRequired)
		return
	}
	exptime, err = parseInt(fields[0])
	if err != nil {
		return
	}
	keys = fields[1:]
	for _, k := range keys {
		if err = checkKey(k); err != nil {
			return
		}
	}
	return
}

// parseArithFields parses "<key> <delta> [noreply]".
func parseArithFields(fields [][]byte) (key []byte, delta uint64, noreply bool, err error) {
	fields, noreply = hasNoreply(fields)
	if len(fields) != 2 {
		err = stackerr.Wrap(ErrMoreFieldsRequired)
		return
	}
	key = fields[0]
	if err = checkKey(key); err != nil {
		return
	}
	delta, err = parseUint(fields[1])
	if err != nil {
		err = stackerr.Wrap(ErrInvalidDelta)
	}
	return
}
