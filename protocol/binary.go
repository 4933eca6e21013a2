package protocol

import "encoding/binary"

// Magic bytes distinguishing request/response binary frames, spec.md §4.6.
const (
	MagicRequest  byte = 0x80
	MagicResponse byte = 0x81
)

// Opcode identifies the binary command, spec.md §1/§4.6. Only the subset
// of the full memcached opcode table that this server's command set
// needs is enumerated; quiet variants (suffix Q) suppress success
// responses but still emit errors.
type Opcode byte

const (
	OpGet       Opcode = 0x00
	OpSet       Opcode = 0x01
	OpAdd       Opcode = 0x02
	OpReplace   Opcode = 0x03
	OpDelete    Opcode = 0x04
	OpIncrement Opcode = 0x05
	OpDecrement Opcode = 0x06
	OpQuit      Opcode = 0x07
	OpFlush     Opcode = 0x08
	OpGetQ      Opcode = 0x09
	OpNoop      Opcode = 0x0a
	OpVersion   Opcode = 0x0b
	OpGetK      Opcode = 0x0c
	OpGetKQ     Opcode = 0x0d
	OpAppend    Opcode = 0x0e
	OpPrepend   Opcode = 0x0f
	OpTouch     Opcode = 0x1c
	OpGAT       Opcode = 0x1d
	OpSetQ      Opcode = 0x11
	OpAddQ      Opcode = 0x12
	OpReplaceQ  Opcode = 0x13
	OpDeleteQ   Opcode = 0x14
	OpIncrementQ Opcode = 0x15
	OpDecrementQ Opcode = 0x16
	OpQuitQ     Opcode = 0x17
	OpFlushQ    Opcode = 0x18
	OpAppendQ   Opcode = 0x19
	OpPrependQ  Opcode = 0x1a
)

// IsQuiet reports whether op is a "quiet" variant that suppresses success
// responses but still emits errors.
func (op Opcode) IsQuiet() bool {
	switch op {
	case OpGetQ, OpGetKQ, OpSetQ, OpAddQ, OpReplaceQ, OpDeleteQ, OpIncrementQ,
		OpDecrementQ, OpQuitQ, OpFlushQ, OpAppendQ, OpPrependQ:
		return true
	}
	return false
}

// Status is the 16-bit response status field, spec.md §4.6/§7.
type Status uint16

const (
	StatusOK             Status = 0x0000
	StatusKeyNotFound    Status = 0x0001
	StatusKeyExists      Status = 0x0002
	StatusValueTooLarge  Status = 0x0003
	StatusInvalidArgs    Status = 0x0004
	StatusItemNotStored  Status = 0x0005
	StatusNonNumeric     Status = 0x0006
	StatusUnknownCommand Status = 0x0081
	StatusOutOfMemory    Status = 0x0082
)

// HeaderSize is the fixed 24-byte binary request/response header length.
const HeaderSize = 24

// Header is the 24-byte binary protocol header, spec.md §4.6.
type Header struct {
	Magic        byte
	Opcode       Opcode
	KeyLength    uint16
	ExtrasLength uint8
	DataType     uint8
	Status       Status // request: reserved/vbucket id; response: status
	BodyLength   uint32
	Opaque       uint32
	CAS          uint64
}

// DecodeHeader parses a 24-byte buffer into a Header. Callers must
// validate Magic themselves; a bad magic byte is a fatal framing error
// per spec.md §7 ("protocol magic mismatch on binary... close connection").
func DecodeHeader(buf []byte) Header {
	_ = buf[HeaderSize-1]
	return Header{
		Magic:        buf[0],
		Opcode:       Opcode(buf[1]),
		KeyLength:    binary.BigEndian.Uint16(buf[2:4]),
		ExtrasLength: buf[4],
		DataType:     buf[5],
		Status:       Status(binary.BigEndian.Uint16(buf[6:8])),
		BodyLength:   binary.BigEndian.Uint32(buf[8:12]),
		Opaque:       binary.BigEndian.Uint32(buf[12:16]),
		CAS:          binary.BigEndian.Uint64(buf[16:24]),
	}
}

// EncodeResponseHeader writes a 24-byte response header (magic 0x81)
// into buf, which must be at least HeaderSize long.
func EncodeResponseHeader(buf []byte, opcode Opcode, keyLen, extrasLen int, status Status, bodyLen int, opaque uint32, cas uint64) {
	_ = buf[HeaderSize-1]
	buf[0] = MagicResponse
	buf[1] = byte(opcode)
	binary.BigEndian.PutUint16(buf[2:4], uint16(keyLen))
	buf[4] = byte(extrasLen)
	buf[5] = 0
	binary.BigEndian.PutUint16(buf[6:8], uint16(status))
	binary.BigEndian.PutUint32(buf[8:12], uint32(bodyLen))
	binary.BigEndian.PutUint32(buf[12:16], opaque)
	binary.BigEndian.PutUint64(buf[16:24], cas)
}

// SetExtras is the 8-byte extras block on a binary set/add/replace
// request: 4-byte flags, 4-byte expiry.
type SetExtras struct {
	Flags   uint32
	Exptime uint32
}

// DecodeSetExtras parses an 8-byte extras block.
func DecodeSetExtras(buf []byte) SetExtras {
	_ = buf[7]
	return SetExtras{
		Flags:   binary.BigEndian.Uint32(buf[0:4]),
		Exptime: binary.BigEndian.Uint32(buf[4:8]),
	}
}

// EncodeSetExtras serializes flags/exptime into an 8-byte buffer.
func EncodeSetExtras(flags, exptime uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], flags)
	binary.BigEndian.PutUint32(buf[4:8], exptime)
	return buf
}

// EncodeGetExtras builds the 4-byte extras block of a GET response: flags.
func EncodeGetExtras(flags uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, flags)
	return buf
}

// ArithExtras is the 20-byte extras block on incr/decr requests: delta,
// initial value, expiry.
type ArithExtras struct {
	Delta   uint64
	Initial uint64
	Exptime uint32
}

// DecodeArithExtras parses a 20-byte incr/decr extras block.
func DecodeArithExtras(buf []byte) ArithExtras {
	_ = buf[19]
	return ArithExtras{
		Delta:   binary.BigEndian.Uint64(buf[0:8]),
		Initial: binary.BigEndian.Uint64(buf[8:16]),
		Exptime: binary.BigEndian.Uint32(buf[16:20]),
	}
}
