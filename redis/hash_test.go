package redis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// S2: hset/hset/hget/del/hget lifecycle.
func TestScenarioS2HashLifecycle(t *testing.T) {
	s := openTestStore(t)

	created, err := s.HSet([]byte("h"), []byte("f1"), []byte("v1"))
	require.NoError(t, err)
	require.True(t, created)

	created, err = s.HSet([]byte("h"), []byte("f2"), []byte("v2"))
	require.NoError(t, err)
	require.True(t, created)

	v, err := s.HGet([]byte("h"), []byte("f1"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))

	n, err := s.Del([][]byte{[]byte("h")})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	v, err = s.HGet([]byte("h"), []byte("f1"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestHSetOverwriteDoesNotBumpCount(t *testing.T) {
	s := openTestStore(t)

	created, err := s.HSet([]byte("h"), []byte("f"), []byte("1"))
	require.NoError(t, err)
	require.True(t, created)

	created, err = s.HSet([]byte("h"), []byte("f"), []byte("2"))
	require.NoError(t, err)
	require.False(t, created)

	n, err := s.HLen([]byte("h"))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestHMSetHMGetHGetAll(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.HMSet([]byte("h"), map[string][]byte{"a": []byte("1"), "b": []byte("2")}))

	vs, err := s.HMGet([]byte("h"), [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("1"), []byte("2"), nil}, vs)

	all, err := s.HGetAll([]byte("h"))
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, all)
}

func TestHDel(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.HMSet([]byte("h"), map[string][]byte{"a": []byte("1"), "b": []byte("2")}))

	n, err := s.HDel([]byte("h"), [][]byte{[]byte("a"), []byte("missing")})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.HLen([]byte("h"))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestHGetOnMissingHash(t *testing.T) {
	s := openTestStore(t)
	v, err := s.HGet([]byte("nope"), []byte("f"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestHashRecreateAfterDeleteUsesFreshVersion(t *testing.T) {
	s := openTestStore(t)
	_, err := s.HSet([]byte("h"), []byte("f"), []byte("1"))
	require.NoError(t, err)
	_, err = s.Del([][]byte{[]byte("h")})
	require.NoError(t, err)

	v, err := s.HGet([]byte("h"), []byte("f"))
	require.NoError(t, err)
	require.Nil(t, v)

	_, err = s.HSet([]byte("h"), []byte("g"), []byte("2"))
	require.NoError(t, err)
	all, err := s.HGetAll([]byte("h"))
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"g": []byte("2")}, all)
}
