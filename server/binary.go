package server

import (
	"bytes"
	"encoding/binary"

	"github.com/facebookgo/stackerr"
	"github.com/skipor/memcached/cache"
	"github.com/skipor/memcached/protocol"
)

// dispatchBinary implements spec.md §4.6's binary codec: fixed 24-byte
// header, then extras/key/value per the header's length fields. Quiet
// opcodes (suffix Q) suppress the success response but still report
// errors, per spec.md §1.
func (c *conn) dispatchBinary() (quit bool, err error) {
	c.state = StateRead
	hdrBuf, err := c.reader.readExact(protocol.HeaderSize)
	if err != nil {
		return false, err
	}
	hdr := protocol.DecodeHeader(hdrBuf)
	c.reader.putScratch(hdrBuf)
	if hdr.Magic != protocol.MagicRequest {
		return false, stackerr.New("bad binary request magic")
	}

	c.state = StateParseCmd
	body, err := c.reader.readExact(int(hdr.BodyLength))
	if err != nil {
		return false, err
	}
	defer c.reader.putScratch(body)
	extras := body[:hdr.ExtrasLength]
	key := body[hdr.ExtrasLength : int(hdr.ExtrasLength)+int(hdr.KeyLength)]
	value := body[int(hdr.ExtrasLength)+int(hdr.KeyLength):]

	c.state = StateNread
	switch hdr.Opcode {
	case protocol.OpGet, protocol.OpGetQ, protocol.OpGetK, protocol.OpGetKQ:
		return false, c.binaryGet(hdr, key)
	case protocol.OpSet, protocol.OpSetQ:
		return false, c.binaryStore(hdr, key, extras, value, "set")
	case protocol.OpAdd, protocol.OpAddQ:
		return false, c.binaryStore(hdr, key, extras, value, "add")
	case protocol.OpReplace, protocol.OpReplaceQ:
		return false, c.binaryStore(hdr, key, extras, value, "replace")
	case protocol.OpAppend, protocol.OpAppendQ:
		return false, c.binaryAppendPrepend(hdr, key, value, true)
	case protocol.OpPrepend, protocol.OpPrependQ:
		return false, c.binaryAppendPrepend(hdr, key, value, false)
	case protocol.OpDelete, protocol.OpDeleteQ:
		return false, c.binaryDelete(hdr, key)
	case protocol.OpIncrement, protocol.OpIncrementQ:
		return false, c.binaryArith(hdr, key, extras, true)
	case protocol.OpDecrement, protocol.OpDecrementQ:
		return false, c.binaryArith(hdr, key, extras, false)
	case protocol.OpTouch:
		return false, c.binaryTouch(hdr, key, extras)
	case protocol.OpGAT:
		return false, c.binaryGat(hdr, key, extras)
	case protocol.OpFlush, protocol.OpFlushQ:
		return false, c.binaryFlush(hdr)
	case protocol.OpNoop:
		return false, c.writeBinaryResponse(hdr.Opcode, protocol.StatusOK, nil, nil, nil, hdr.Opaque, 0)
	case protocol.OpVersion:
		return false, c.writeBinaryResponse(hdr.Opcode, protocol.StatusOK, nil, nil, []byte(ServerVersion), hdr.Opaque, 0)
	case protocol.OpQuit, protocol.OpQuitQ:
		if hdr.Opcode == protocol.OpQuit {
			c.writeBinaryResponse(hdr.Opcode, protocol.StatusOK, nil, nil, nil, hdr.Opaque, 0)
		}
		return true, nil
	default:
		return false, c.writeBinaryResponse(hdr.Opcode, protocol.StatusUnknownCommand, nil, nil, nil, hdr.Opaque, 0)
	}
}

func (c *conn) writeBinaryResponse(op protocol.Opcode, status protocol.Status, key, extras, value []byte, opaque uint32, cas uint64) error {
	header := make([]byte, protocol.HeaderSize)
	bodyLen := len(extras) + len(key) + len(value)
	protocol.EncodeResponseHeader(header, op, len(key), len(extras), status, bodyLen, opaque, cas)
	c.writer.Write(header)
	c.writer.Write(extras)
	c.writer.Write(key)
	c.writer.Write(value)
	return c.flush()
}

// binaryStatus maps a cache-layer error to the matching binary status
// code, spec.md §7.
func binaryStatus(err error) protocol.Status {
	switch err {
	case nil:
		return protocol.StatusOK
	case cache.ErrNotStored:
		return protocol.StatusItemNotStored
	case cache.ErrExists:
		return protocol.StatusKeyExists
	case cache.ErrNotFound:
		return protocol.StatusKeyNotFound
	case cache.ErrTooLarge:
		return protocol.StatusValueTooLarge
	case cache.ErrNotNumeric:
		return protocol.StatusNonNumeric
	default:
		return protocol.StatusOutOfMemory
	}
}

func (c *conn) binaryGet(hdr protocol.Header, key []byte) error {
	if err := checkKey(key); err != nil {
		return c.writeBinaryResponse(hdr.Opcode, protocol.StatusInvalidArgs, nil, nil, nil, hdr.Opaque, 0)
	}
	quiet := hdr.Opcode.IsQuiet()
	views := c.cache.Get(key)
	if len(views) == 0 {
		if quiet {
			return nil
		}
		return c.writeBinaryResponse(hdr.Opcode, protocol.StatusKeyNotFound, nil, nil, nil, hdr.Opaque, 0)
	}
	v := views[0]
	var buf bytes.Buffer
	v.Reader.WriteTo(&buf)
	v.Reader.Close()

	var respKey []byte
	if hdr.Opcode == protocol.OpGetK || hdr.Opcode == protocol.OpGetKQ {
		respKey = key
	}
	return c.writeBinaryResponse(hdr.Opcode, protocol.StatusOK, respKey, protocol.EncodeGetExtras(v.Flags), buf.Bytes(), hdr.Opaque, v.CAS)
}

func (c *conn) binaryStore(hdr protocol.Header, key, extras, value []byte, kind string) error {
	if err := checkKey(key); err != nil {
		return c.writeBinaryResponse(hdr.Opcode, protocol.StatusInvalidArgs, nil, nil, nil, hdr.Opaque, 0)
	}
	if len(extras) < 8 {
		return c.writeBinaryResponse(hdr.Opcode, protocol.StatusInvalidArgs, nil, nil, nil, hdr.Opaque, 0)
	}
	se := protocol.DecodeSetExtras(extras)
	if len(value) > c.cfg.MaxItemSize {
		return c.writeBinaryResponse(hdr.Opcode, protocol.StatusValueTooLarge, nil, nil, nil, hdr.Opaque, 0)
	}

	item := cache.Item{
		ItemMeta: cache.ItemMeta{Key: key, Flags: se.Flags, Exptime: int64(int32(se.Exptime)), Bytes: len(value)},
		Data:     value,
	}

	var (
		newCAS uint64
		err    error
	)
	switch {
	case kind == "replace" && hdr.CAS != 0:
		newCAS, err = c.cache.Cas(item, hdr.CAS)
	case kind == "set" && hdr.CAS != 0:
		newCAS, err = c.cache.Cas(item, hdr.CAS)
	case kind == "set":
		newCAS, err = c.cache.Set(item)
	case kind == "add":
		newCAS, err = c.cache.Add(item)
	case kind == "replace":
		newCAS, err = c.cache.Replace(item)
	}

	status := binaryStatus(err)
	if hdr.Opcode.IsQuiet() && status == protocol.StatusOK {
		return nil
	}
	return c.writeBinaryResponse(hdr.Opcode, status, nil, nil, nil, hdr.Opaque, newCAS)
}

func (c *conn) binaryAppendPrepend(hdr protocol.Header, key, value []byte, isAppend bool) error {
	if err := checkKey(key); err != nil {
		return c.writeBinaryResponse(hdr.Opcode, protocol.StatusInvalidArgs, nil, nil, nil, hdr.Opaque, 0)
	}
	item := cache.Item{ItemMeta: cache.ItemMeta{Key: key, Bytes: len(value)}, Data: value}
	var (
		newCAS uint64
		err    error
	)
	if isAppend {
		newCAS, err = c.cache.Append(item)
	} else {
		newCAS, err = c.cache.Prepend(item)
	}
	status := binaryStatus(err)
	if hdr.Opcode.IsQuiet() && status == protocol.StatusOK {
		return nil
	}
	return c.writeBinaryResponse(hdr.Opcode, status, nil, nil, nil, hdr.Opaque, newCAS)
}

func (c *conn) binaryDelete(hdr protocol.Header, key []byte) error {
	if err := checkKey(key); err != nil {
		return c.writeBinaryResponse(hdr.Opcode, protocol.StatusInvalidArgs, nil, nil, nil, hdr.Opaque, 0)
	}
	ok := c.cache.Delete(key)
	status := protocol.StatusOK
	if !ok {
		status = protocol.StatusKeyNotFound
	}
	if hdr.Opcode.IsQuiet() && status == protocol.StatusOK {
		return nil
	}
	return c.writeBinaryResponse(hdr.Opcode, status, nil, nil, nil, hdr.Opaque, 0)
}

func (c *conn) binaryArith(hdr protocol.Header, key, extras []byte, incr bool) error {
	if err := checkKey(key); err != nil || len(extras) < 20 {
		return c.writeBinaryResponse(hdr.Opcode, protocol.StatusInvalidArgs, nil, nil, nil, hdr.Opaque, 0)
	}
	ae := protocol.DecodeArithExtras(extras)

	var (
		val uint64
		err error
	)
	if incr {
		val, err = c.cache.Incr(key, ae.Delta)
	} else {
		val, err = c.cache.Decr(key, ae.Delta)
	}
	if err == cache.ErrNotFound && ae.Exptime != 0xffffffff {
		// Initialize-on-miss: only when the client supplied a real expiry
		// (0xffffffff means "fail instead of creating"), per spec.md §1.
		item := cache.Item{
			ItemMeta: cache.ItemMeta{Key: key, Bytes: len(itoaBytes(ae.Initial)), Exptime: int64(int32(ae.Exptime))},
			Data:     itoaBytes(ae.Initial),
		}
		if _, addErr := c.cache.Add(item); addErr == nil {
			val, err = ae.Initial, nil
		}
	}

	status := binaryStatus(err)
	if hdr.Opcode.IsQuiet() && status == protocol.StatusOK {
		return nil
	}
	if status != protocol.StatusOK {
		return c.writeBinaryResponse(hdr.Opcode, status, nil, nil, nil, hdr.Opaque, 0)
	}
	resp := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		resp[i] = byte(val)
		val >>= 8
	}
	return c.writeBinaryResponse(hdr.Opcode, status, nil, nil, resp, hdr.Opaque, 0)
}

func itoaBytes(v uint64) []byte {
	if v == 0 {
		return []byte("0")
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return buf[i:]
}

func (c *conn) binaryTouch(hdr protocol.Header, key, extras []byte) error {
	if err := checkKey(key); err != nil || len(extras) < 4 {
		return c.writeBinaryResponse(hdr.Opcode, protocol.StatusInvalidArgs, nil, nil, nil, hdr.Opaque, 0)
	}
	exptime := int64(int32(binary.BigEndian.Uint32(extras[0:4])))
	ok := c.cache.Touch(key, exptime)
	status := protocol.StatusOK
	if !ok {
		status = protocol.StatusKeyNotFound
	}
	return c.writeBinaryResponse(hdr.Opcode, status, nil, nil, nil, hdr.Opaque, 0)
}

func (c *conn) binaryGat(hdr protocol.Header, key, extras []byte) error {
	if err := checkKey(key); err != nil || len(extras) < 4 {
		return c.writeBinaryResponse(hdr.Opcode, protocol.StatusInvalidArgs, nil, nil, nil, hdr.Opaque, 0)
	}
	exptime := int64(int32(binary.BigEndian.Uint32(extras[0:4])))
	views := c.cache.Gat(exptime, key)
	if len(views) == 0 {
		return c.writeBinaryResponse(hdr.Opcode, protocol.StatusKeyNotFound, nil, nil, nil, hdr.Opaque, 0)
	}
	v := views[0]
	var buf bytes.Buffer
	v.Reader.WriteTo(&buf)
	v.Reader.Close()
	return c.writeBinaryResponse(hdr.Opcode, protocol.StatusOK, nil, protocol.EncodeGetExtras(v.Flags), buf.Bytes(), hdr.Opaque, v.CAS)
}

func (c *conn) binaryFlush(hdr protocol.Header) error {
	err := c.cache.FlushAll()
	status := protocol.StatusOK
	if err != nil {
		status = protocol.StatusInvalidArgs
	}
	if hdr.Opcode.IsQuiet() && status == protocol.StatusOK {
		return nil
	}
	return c.writeBinaryResponse(hdr.Opcode, status, nil, nil, nil, hdr.Opaque, 0)
}
