// Package protocol implements the wire-level pieces of spec.md §4.6: the
// ASCII token vocabulary/response strings and the binary 24-byte header
// format, shared by the connection FSM in package server.
package protocol

// Separator terminates every ASCII line and follows every VALUE body.
const Separator = "\r\n"

// Command names recognized by the ASCII tokenizer, spec.md §1.
const (
	GetCmd      = "get"
	GetsCmd     = "gets"
	GatCmd      = "gat"
	GatsCmd     = "gats"
	SetCmd      = "set"
	AddCmd      = "add"
	ReplaceCmd  = "replace"
	AppendCmd   = "append"
	PrependCmd  = "prepend"
	CasCmd      = "cas"
	DeleteCmd   = "delete"
	IncrCmd     = "incr"
	DecrCmd     = "decr"
	TouchCmd    = "touch"
	FlushAllCmd = "flush_all"
	StatsCmd    = "stats"
	VersionCmd  = "version"
	VerbosityCmd = "verbosity"
	QuitCmd     = "quit"
	SlabsCmd    = "slabs"
	LruCrawlerCmd = "lru_crawler"
)

// Response lines, spec.md §4.6.
const (
	ValueResponse       = "VALUE"
	EndResponse         = "END"
	StoredResponse      = "STORED"
	NotStoredResponse   = "NOT_STORED"
	ExistsResponse      = "EXISTS"
	NotFoundResponse    = "NOT_FOUND"
	DeletedResponse     = "DELETED"
	TouchedResponse     = "TOUCHED"
	OkResponse          = "OK"
	VersionResponse     = "VERSION"
	ErrorResponse       = "ERROR"
	ClientErrorResponse = "CLIENT_ERROR"
	ServerErrorResponse = "SERVER_ERROR"
)

// NoreplyToken, trailing on a mutating command, suppresses its reply
// (spec.md §4.6 "Noreply").
const NoreplyToken = "noreply"

// Tokenize splits an ASCII command line on single spaces, in place
// (no allocation beyond the returned slice of subslices), mirroring the
// teacher's comment in conn.go ("No allocation.") about avoiding a copy
// when dispatching on the command name.
func Tokenize(line []byte) [][]byte {
	var fields [][]byte
	start := -1
	for i, b := range line {
		if b == ' ' {
			if start >= 0 {
				fields = append(fields, line[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, line[start:])
	}
	return fields
}

// HasNoreply reports whether the last token is the noreply marker, and
// returns the remaining fields with it stripped.
func HasNoreply(fields [][]byte) ([][]byte, bool) {
	if len(fields) == 0 {
		return fields, false
	}
	last := fields[len(fields)-1]
	if string(last) == NoreplyToken {
		return fields[:len(fields)-1], true
	}
	return fields, false
}
