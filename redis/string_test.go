package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// S1: a TTL'd overwrite that expires must read back as a miss.
func TestScenarioS1StringTTLExpiry(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set([]byte("a"), []byte("1"), 0))
	ret, err := s.SetVX([]byte("a"), []byte("1"), []byte("2"), time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, ret)

	time.Sleep(5 * time.Millisecond)

	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestSetGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set([]byte("k"), []byte("hello"), 0))
	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(v))
}

func TestGetMissingKey(t *testing.T) {
	s := openTestStore(t)
	v, err := s.Get([]byte("nope"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestGetSet(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set([]byte("k"), []byte("old"), 0))
	old, err := s.GetSet([]byte("k"), []byte("new"))
	require.NoError(t, err)
	require.Equal(t, "old", string(old))

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "new", string(v))
}

func TestSetNX(t *testing.T) {
	s := openTestStore(t)
	ok, err := s.SetNX([]byte("k"), []byte("1"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SetNX([]byte("k"), []byte("2"))
	require.NoError(t, err)
	require.False(t, ok)

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
}

func TestSetXX(t *testing.T) {
	s := openTestStore(t)

	ret, err := s.SetXX([]byte("k"), []byte("v"), 0)
	require.NoError(t, err)
	require.Equal(t, 0, ret)

	require.NoError(t, s.Set([]byte("k"), []byte("v1"), 0))
	ret, err = s.SetXX([]byte("k"), []byte("v2"), 0)
	require.NoError(t, err)
	require.Equal(t, 1, ret)

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))
}

func TestSetVXOnMissingKey(t *testing.T) {
	s := openTestStore(t)
	ret, err := s.SetVX([]byte("k"), []byte("expected"), []byte("v"), 0)
	require.NoError(t, err)
	require.Equal(t, 0, ret)
}

func TestSetVXMismatch(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set([]byte("k"), []byte("v1"), 0))

	ret, err := s.SetVX([]byte("k"), []byte("wrong"), []byte("v2"), 0)
	require.NoError(t, err)
	require.Equal(t, -1, ret)

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))
}

func TestDelVX(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set([]byte("k"), []byte("v"), 0))

	ret, err := s.DelVX([]byte("k"), []byte("wrong"))
	require.NoError(t, err)
	require.Equal(t, -1, ret)

	ret, err = s.DelVX([]byte("k"), []byte("v"))
	require.NoError(t, err)
	require.Equal(t, 1, ret)

	ret, err = s.DelVX([]byte("k"), []byte("v"))
	require.NoError(t, err)
	require.Equal(t, 0, ret)
}

func TestSetBitAndGetBit(t *testing.T) {
	s := openTestStore(t)
	old, err := s.SetBit([]byte("k"), 7, 1)
	require.NoError(t, err)
	require.Equal(t, byte(0), old)

	bit, err := s.GetBit([]byte("k"), 7)
	require.NoError(t, err)
	require.Equal(t, byte(1), bit)

	bit, err = s.GetBit([]byte("k"), 0)
	require.NoError(t, err)
	require.Equal(t, byte(0), bit)
}

func TestSetRangeGrowsPayload(t *testing.T) {
	s := openTestStore(t)
	n, err := s.SetRange([]byte("k"), 5, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 7, n)

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, append(make([]byte, 5), "hi"...), v)
}

func TestGetRangeNegativeIndices(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set([]byte("k"), []byte("hello world"), 0))

	v, err := s.GetRange([]byte("k"), -5, -1)
	require.NoError(t, err)
	require.Equal(t, "world", string(v))
}

func TestMSetMGetMSetNX(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.MSet(map[string][]byte{"a": []byte("1"), "b": []byte("2")}))

	vs, err := s.MGet([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("1"), []byte("2"), nil}, vs)

	ok, err := s.MSetNX(map[string][]byte{"a": []byte("x"), "d": []byte("y")})
	require.NoError(t, err)
	require.False(t, ok)

	v, err := s.Get([]byte("d"))
	require.NoError(t, err)
	require.Nil(t, v)

	ok, err = s.MSetNX(map[string][]byte{"d": []byte("y"), "e": []byte("z")})
	require.NoError(t, err)
	require.True(t, ok)
}
