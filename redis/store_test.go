package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lsmredis/lsmredis/lsm"
)

func openTestStore(t *testing.T) *Store {
	dir := t.TempDir()
	s, err := Open(dir, &lsm.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDelAcrossTypes(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set([]byte("str"), []byte("v"), 0))
	_, err := s.HSet([]byte("hash"), []byte("f"), []byte("v"))
	require.NoError(t, err)
	_, err = s.ZAdd([]byte("zset"), []ZMember{{Member: []byte("m"), Score: 1}})
	require.NoError(t, err)

	n, err := s.Del([][]byte{[]byte("str"), []byte("hash"), []byte("zset"), []byte("missing")})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	v, err := s.Get([]byte("str"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestTypeMismatch(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set([]byte("k"), []byte("v"), 0))

	_, err := s.HSet([]byte("k"), []byte("f"), []byte("v"))
	require.Error(t, err)

	_, err = s.ZAdd([]byte("k"), []ZMember{{Member: []byte("m"), Score: 1}})
	require.Error(t, err)
}

func TestTypeFreeAfterDelete(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set([]byte("k"), []byte("v"), 0))
	_, err := s.Del([][]byte{[]byte("k")})
	require.NoError(t, err)

	added, err := s.ZAdd([]byte("k"), []ZMember{{Member: []byte("m"), Score: 1}})
	require.NoError(t, err)
	require.Equal(t, 1, added)
}

func TestExpiredStringReadsAsNil(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set([]byte("k"), []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Nil(t, v)
}
