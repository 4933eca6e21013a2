package server

import (
	"fmt"
	"strconv"

	"github.com/facebookgo/stackerr"
	"github.com/skipor/memcached/cache"
	"github.com/skipor/memcached/protocol"
	"github.com/skipor/memcached/slab"
)

// ServerVersion is reported by the `version` command.
const ServerVersion = "1.6.0"

// dispatchAscii implements spec.md §4.6's ASCII codec: READ a line, parse
// it, run the command, WRITE the reply. Adapted from the teacher's
// conn.loop/get/set trio, generalized from get/set/delete to the full
// command table.
func (c *conn) dispatchAscii() (quit bool, err error) {
	c.state = StateRead
	line, err := c.reader.readLine()
	if err != nil {
		return false, err
	}

	c.state = StateParseCmd
	fields := protocol.Tokenize(line)
	if len(fields) == 0 {
		return false, c.sendLine(protocol.ErrorResponse)
	}
	args := fields[1:]

	switch string(fields[0]) {
	case protocol.GetCmd:
		return false, c.asciiGet(args, false)
	case protocol.GetsCmd:
		return false, c.asciiGet(args, true)
	case protocol.GatCmd:
		return false, c.asciiGat(args, false)
	case protocol.GatsCmd:
		return false, c.asciiGat(args, true)
	case protocol.SetCmd:
		return false, c.asciiStore(args, protocol.SetCmd)
	case protocol.AddCmd:
		return false, c.asciiStore(args, protocol.AddCmd)
	case protocol.ReplaceCmd:
		return false, c.asciiStore(args, protocol.ReplaceCmd)
	case protocol.AppendCmd:
		return false, c.asciiStore(args, protocol.AppendCmd)
	case protocol.PrependCmd:
		return false, c.asciiStore(args, protocol.PrependCmd)
	case protocol.CasCmd:
		return false, c.asciiStore(args, protocol.CasCmd)
	case protocol.DeleteCmd:
		return false, c.asciiDelete(args)
	case protocol.TouchCmd:
		return false, c.asciiTouch(args)
	case protocol.IncrCmd:
		return false, c.asciiArith(args, true)
	case protocol.DecrCmd:
		return false, c.asciiArith(args, false)
	case protocol.FlushAllCmd:
		return false, c.asciiFlushAll(args)
	case protocol.StatsCmd:
		return false, c.asciiStats(args)
	case protocol.VersionCmd:
		return false, c.sendLine(protocol.VersionResponse + " " + ServerVersion)
	case protocol.VerbosityCmd:
		return false, c.sendLine(protocol.OkResponse)
	case protocol.SlabsCmd:
		return false, c.asciiSlabs(args)
	case protocol.LruCrawlerCmd:
		return false, c.asciiLruCrawler(args)
	case protocol.QuitCmd:
		return true, nil
	default:
		return false, c.sendLine(protocol.ErrorResponse)
	}
}

// asciiGet implements get/gets: one VALUE line (with CAS if withCAS) plus
// body per hit, terminated by END, per spec.md §4.6.
func (c *conn) asciiGet(args [][]byte, withCAS bool) error {
	if len(args) == 0 {
		return c.sendClientError(ErrMoreFieldsRequired)
	}
	for _, k := range args {
		if err := checkKey(k); err != nil {
			return c.sendClientError(err)
		}
	}
	c.state = StateWrite
	views := c.cache.Get(args...)
	for _, v := range views {
		c.writeValueLine(v, withCAS)
	}
	c.writer.WriteString(protocol.EndResponse)
	c.writer.WriteString(protocol.Separator)
	return c.flush()
}

// asciiGat implements gat/gats: get-and-touch, same VALUE/END framing.
func (c *conn) asciiGat(args [][]byte, withCAS bool) error {
	exptime, keys, err := parseGatFields(args)
	if err != nil {
		return c.sendClientError(err)
	}
	c.state = StateWrite
	views := c.cache.Gat(exptime, keys...)
	for _, v := range views {
		c.writeValueLine(v, withCAS)
	}
	c.writer.WriteString(protocol.EndResponse)
	c.writer.WriteString(protocol.Separator)
	return c.flush()
}

func (c *conn) writeValueLine(v cache.ItemView, withCAS bool) {
	if withCAS {
		fmt.Fprintf(c.writer, "%s %s %d %d %d\r\n", protocol.ValueResponse, v.Key, v.Flags, v.Bytes, v.CAS)
	} else {
		fmt.Fprintf(c.writer, "%s %s %d %d\r\n", protocol.ValueResponse, v.Key, v.Flags, v.Bytes)
	}
	v.Reader.WriteTo(c.writer)
	c.writer.WriteString(protocol.Separator)
	v.Reader.Close()
}

// asciiStore implements the set/add/replace/append/prepend/cas family
// (spec.md §4.6): PARSE_CMD already consumed the command line's fields
// except the data block, which NREAD reads here.
func (c *conn) asciiStore(args [][]byte, cmd string) error {
	meta, casID, noreply, err := parseStoreFields(args, cmd == protocol.CasCmd)
	if err != nil {
		return c.replyStoreErr(err, noreply)
	}

	if meta.Bytes > c.cfg.MaxItemSize {
		c.state = StateSwallow
		c.reader.discard(meta.Bytes + 2)
		return c.replyStoreErr(stackerr.Wrap(ErrTooLargeItem), noreply)
	}

	c.state = StateNread
	raw, err := c.reader.readExact(meta.Bytes + 2)
	if err != nil {
		return err
	}
	if raw[len(raw)-2] != '\r' || raw[len(raw)-1] != '\n' {
		return c.replyStoreErr(stackerr.Wrap(ErrBadDataChunk), noreply)
	}
	data := raw[:len(raw)-2]

	item := cache.Item{ItemMeta: meta, Data: data}
	var storeErr error
	switch cmd {
	case protocol.SetCmd:
		_, storeErr = c.cache.Set(item)
	case protocol.AddCmd:
		_, storeErr = c.cache.Add(item)
	case protocol.ReplaceCmd:
		_, storeErr = c.cache.Replace(item)
	case protocol.AppendCmd:
		_, storeErr = c.cache.Append(item)
	case protocol.PrependCmd:
		_, storeErr = c.cache.Prepend(item)
	case protocol.CasCmd:
		_, storeErr = c.cache.Cas(item, casID)
	}
	c.reader.putScratch(raw)

	c.state = StateWrite
	if noreply {
		return nil
	}
	return c.sendStoreResult(storeErr)
}

func (c *conn) replyStoreErr(err error, noreply bool) error {
	if noreply {
		return nil
	}
	return c.sendClientError(err)
}

func (c *conn) sendStoreResult(err error) error {
	switch err {
	case nil:
		return c.sendLine(protocol.StoredResponse)
	case cache.ErrNotStored:
		return c.sendLine(protocol.NotStoredResponse)
	case cache.ErrExists:
		return c.sendLine(protocol.ExistsResponse)
	case cache.ErrNotFound:
		return c.sendLine(protocol.NotFoundResponse)
	case cache.ErrTooLarge:
		return c.sendClientError(ErrTooLargeItem)
	default:
		c.serverError(err)
		return nil
	}
}

func (c *conn) asciiDelete(args [][]byte) error {
	key, noreply, err := parseDeleteFields(args)
	if err != nil {
		return c.replyStoreErr(err, noreply)
	}
	ok := c.cache.Delete(key)
	if noreply {
		return nil
	}
	if ok {
		return c.sendLine(protocol.DeletedResponse)
	}
	return c.sendLine(protocol.NotFoundResponse)
}

func (c *conn) asciiTouch(args [][]byte) error {
	key, exptime, noreply, err := parseTouchFields(args)
	if err != nil {
		return c.replyStoreErr(err, noreply)
	}
	ok := c.cache.Touch(key, exptime)
	if noreply {
		return nil
	}
	if ok {
		return c.sendLine(protocol.TouchedResponse)
	}
	return c.sendLine(protocol.NotFoundResponse)
}

func (c *conn) asciiArith(args [][]byte, incr bool) error {
	key, delta, noreply, err := parseArithFields(args)
	if err != nil {
		return c.replyStoreErr(err, noreply)
	}
	var (
		val uint64
		aerr error
	)
	if incr {
		val, aerr = c.cache.Incr(key, delta)
	} else {
		val, aerr = c.cache.Decr(key, delta)
	}
	if noreply {
		return nil
	}
	switch aerr {
	case nil:
		return c.sendLine(strconv.FormatUint(val, 10))
	case cache.ErrNotFound:
		return c.sendLine(protocol.NotFoundResponse)
	case cache.ErrNotNumeric:
		return c.sendClientError(aerr)
	default:
		c.serverError(aerr)
		return nil
	}
}

func (c *conn) asciiFlushAll(args [][]byte) error {
	_, noreply := protocol.HasNoreply(args)
	err := c.cache.FlushAll()
	if noreply {
		return nil
	}
	if err != nil {
		return c.sendClientError(err)
	}
	return c.sendLine(protocol.OkResponse)
}

// asciiStats writes the subset of spec.md §8's testable counters the
// `stats` command exposes.
func (c *conn) asciiStats(args [][]byte) error {
	s := c.cache.Stats()
	stat := func(name string, v interface{}) {
		fmt.Fprintf(c.writer, "STAT %s %v\r\n", name, v)
	}
	stat("cmd_get", s.Gets)
	stat("cmd_set", s.Sets)
	stat("get_hits", s.GetHits)
	stat("get_misses", s.GetMisses)
	stat("delete_hits", s.Deletes)
	stat("delete_misses", s.DeleteMisses)
	stat("cas_hits", s.CASHits)
	stat("cas_misses", s.CASMisses)
	stat("cas_badval", s.CASBadval)
	stat("evictions", s.Evictions)
	stat("expired_unfetched", s.Expired)
	stat("curr_items", s.Items)
	stat("limit_maxbytes", c.cache.MaxBytes())
	stat("slab_reassign_rescues", s.RebalanceRescues)
	stat("slab_reassign_evictions", s.RebalanceEvictions)
	stat("slab_reassign_busy_items", s.RebalanceBusyLoops)
	c.writer.WriteString(protocol.EndResponse)
	c.writer.WriteString(protocol.Separator)
	return c.flush()
}

// asciiSlabs implements the admin subcommand `slabs reassign <src> <dst>`
// (spec.md §4.1), driving the same rebalancer the background automover
// uses.
func (c *conn) asciiSlabs(args [][]byte) error {
	if len(args) != 3 || string(args[0]) != "reassign" {
		return c.sendClientError(ErrBadCommandLine)
	}
	src, err1 := parseInt(args[1])
	dst, err2 := parseInt(args[2])
	if err1 != nil || err2 != nil {
		return c.sendClientError(ErrBadCommandLine)
	}
	c.cache.Rebalance(int(src), int(dst), slab.RebalanceConfig{})
	return c.sendLine(protocol.OkResponse)
}

// asciiLruCrawler implements the admin subcommand `lru_crawler
// enable|disable` (spec.md §1), toggling the background maintainer's
// expired-item sweep at runtime.
func (c *conn) asciiLruCrawler(args [][]byte) error {
	if len(args) != 1 || c.maintainer == nil {
		return c.sendClientError(ErrBadCommandLine)
	}
	switch string(args[0]) {
	case "enable":
		c.maintainer.SetCrawlerEnabled(true)
	case "disable":
		c.maintainer.SetCrawlerEnabled(false)
	default:
		return c.sendClientError(ErrBadCommandLine)
	}
	return c.sendLine(protocol.OkResponse)
}
