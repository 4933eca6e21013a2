package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeSplitsOnSpaces(t *testing.T) {
	fields := Tokenize([]byte("set foo 0 0 3"))
	require.Len(t, fields, 5)
	assert.Equal(t, "set", string(fields[0]))
	assert.Equal(t, "foo", string(fields[1]))
	assert.Equal(t, "3", string(fields[4]))
}

func TestTokenizeCollapsesRepeatedSpaces(t *testing.T) {
	fields := Tokenize([]byte("get  a   b"))
	require.Len(t, fields, 3)
	assert.Equal(t, "a", string(fields[1]))
	assert.Equal(t, "b", string(fields[2]))
}

func TestTokenizeEmptyLine(t *testing.T) {
	fields := Tokenize([]byte(""))
	assert.Empty(t, fields)
}

func TestHasNoreplyStripsTrailingToken(t *testing.T) {
	fields, noreply := HasNoreply([][]byte{[]byte("a"), []byte("b"), []byte("noreply")})
	assert.True(t, noreply)
	require.Len(t, fields, 2)
	assert.Equal(t, "b", string(fields[1]))
}

func TestHasNoreplyWithoutTrailingToken(t *testing.T) {
	fields, noreply := HasNoreply([][]byte{[]byte("a"), []byte("b")})
	assert.False(t, noreply)
	assert.Len(t, fields, 2)
}

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderSize)
	EncodeResponseHeader(buf, OpGet, 3, 0, StatusKeyNotFound, 10, 42, 99)

	hdr := DecodeHeader(buf)
	assert.Equal(t, MagicResponse, hdr.Magic)
	assert.Equal(t, OpGet, hdr.Opcode)
	assert.Equal(t, uint16(3), hdr.KeyLength)
	assert.Equal(t, StatusKeyNotFound, hdr.Status)
	assert.Equal(t, uint32(10), hdr.BodyLength)
	assert.Equal(t, uint32(42), hdr.Opaque)
	assert.Equal(t, uint64(99), hdr.CAS)
}

func TestSetExtrasRoundTrip(t *testing.T) {
	buf := EncodeSetExtras(7, 300)
	extras := DecodeSetExtras(buf)
	assert.Equal(t, uint32(7), extras.Flags)
	assert.Equal(t, uint32(300), extras.Exptime)
}

func TestArithExtrasDecode(t *testing.T) {
	buf := make([]byte, 20)
	buf[7] = 5   // delta low byte
	buf[15] = 10 // initial low byte
	buf[19] = 60 // exptime low byte
	extras := DecodeArithExtras(buf)
	assert.Equal(t, uint64(5), extras.Delta)
	assert.Equal(t, uint64(10), extras.Initial)
	assert.Equal(t, uint32(60), extras.Exptime)
}

func TestQuietOpcodes(t *testing.T) {
	assert.True(t, OpGetQ.IsQuiet())
	assert.True(t, OpSetQ.IsQuiet())
	assert.False(t, OpGet.IsQuiet())
	assert.False(t, OpSet.IsQuiet())
}
