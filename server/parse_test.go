package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

func TestCheckKeyRejectsEmptyAndOverlong(t *testing.T) {
	assert.Error(t, checkKey(nil))
	assert.NoError(t, checkKey([]byte("ok")))

	overlong := make([]byte, MaxKeyLength+1)
	assert.Error(t, checkKey(overlong))

	atLimit := make([]byte, MaxKeyLength)
	assert.NoError(t, checkKey(atLimit))
}

func TestParseStoreFieldsBasic(t *testing.T) {
	meta, _, noreply, err := parseStoreFields(fields("foo", "5", "0", "3"), false)
	require.NoError(t, err)
	assert.False(t, noreply)
	assert.Equal(t, "foo", string(meta.Key))
	assert.Equal(t, uint32(5), meta.Flags)
	assert.Equal(t, 3, meta.Bytes)
}

func TestParseStoreFieldsWithCAS(t *testing.T) {
	meta, cas, _, err := parseStoreFields(fields("foo", "0", "0", "3", "77"), true)
	require.NoError(t, err)
	assert.Equal(t, "foo", string(meta.Key))
	assert.Equal(t, uint64(77), cas)
}

func TestParseStoreFieldsNoreply(t *testing.T) {
	_, _, noreply, err := parseStoreFields(fields("foo", "0", "0", "3", "noreply"), false)
	require.NoError(t, err)
	assert.True(t, noreply)
}

func TestParseStoreFieldsWrongArity(t *testing.T) {
	_, _, _, err := parseStoreFields(fields("foo", "0"), false)
	assert.Error(t, err)
}

func TestParseStoreFieldsBadNumber(t *testing.T) {
	_, _, _, err := parseStoreFields(fields("foo", "notanumber", "0", "3"), false)
	assert.Error(t, err)
}

func TestParseDeleteFields(t *testing.T) {
	key, noreply, err := parseDeleteFields(fields("foo"))
	require.NoError(t, err)
	assert.Equal(t, "foo", string(key))
	assert.False(t, noreply)

	_, _, err = parseDeleteFields(fields("foo", "bar", "baz"))
	assert.Error(t, err)
}

func TestParseTouchFields(t *testing.T) {
	key, exptime, noreply, err := parseTouchFields(fields("foo", "100"))
	require.NoError(t, err)
	assert.Equal(t, "foo", string(key))
	assert.Equal(t, int64(100), exptime)
	assert.False(t, noreply)
}

func TestParseGatFields(t *testing.T) {
	exptime, keys, err := parseGatFields(fields("60", "a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, int64(60), exptime)
	require.Len(t, keys, 3)
	assert.Equal(t, "c", string(keys[2]))
}

func TestParseGatFieldsRequiresAtLeastOneKey(t *testing.T) {
	_, _, err := parseGatFields(fields("60"))
	assert.Error(t, err)
}

func TestParseArithFields(t *testing.T) {
	key, delta, noreply, err := parseArithFields(fields("counter", "5"))
	require.NoError(t, err)
	assert.Equal(t, "counter", string(key))
	assert.Equal(t, uint64(5), delta)
	assert.False(t, noreply)
}

func TestParseArithFieldsInvalidDelta(t *testing.T) {
	_, _, _, err := parseArithFields(fields("counter", "-5"))
	assert.Error(t, err)
}
