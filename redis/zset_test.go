package redis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func members(zs []ZMember) []string {
	out := make([]string, len(zs))
	for i, z := range zs {
		out[i] = string(z.Member)
	}
	return out
}

// S3: ties broken by member bytewise order.
func TestScenarioS3ZAddTieBreak(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ZAdd([]byte("z"), []ZMember{
		{Member: []byte("a"), Score: 1},
		{Member: []byte("b"), Score: 2},
		{Member: []byte("a"), Score: 2},
		{Member: []byte("c"), Score: 3},
	})
	require.NoError(t, err)

	got, err := s.ZRange([]byte("z"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, members(got))
	require.Equal(t, []float64{2, 2, 3}, []float64{got[0].Score, got[1].Score, got[2].Score})
}

// S4: zrangebyscore open/closed bound combinations.
func TestScenarioS4ZRangeByScoreBounds(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ZAdd([]byte("z"), []ZMember{
		{Member: []byte("a"), Score: 1},
		{Member: []byte("b"), Score: 2},
		{Member: []byte("c"), Score: 3},
	})
	require.NoError(t, err)

	got, err := s.ZRangeByScore([]byte("z"), 2, 3, true, false)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, members(got))

	got, err = s.ZRangeByScore([]byte("z"), 2, 3, true, true)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, members(got))
}

// S6: zinterstore with per-key weights.
func TestScenarioS6ZInterStoreWeighted(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ZAdd([]byte("A"), []ZMember{{Member: []byte("x"), Score: 1}, {Member: []byte("y"), Score: 2}})
	require.NoError(t, err)
	_, err = s.ZAdd([]byte("B"), []ZMember{{Member: []byte("y"), Score: 3}, {Member: []byte("z"), Score: 4}})
	require.NoError(t, err)

	n, err := s.ZInterStore([]byte("D"), [][]byte{[]byte("A"), []byte("B")}, []float64{2, 3}, AggregateSum)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	score, ok, err := s.ZScore([]byte("D"), []byte("y"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 13.0, score)
}

func TestZAddRejectsNaN(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ZAdd([]byte("z"), []ZMember{{Member: []byte("a"), Score: math.NaN()}})
	require.Error(t, err)
}

func TestZRankAndZRevRank(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ZAdd([]byte("z"), []ZMember{
		{Member: []byte("a"), Score: 1},
		{Member: []byte("b"), Score: 2},
		{Member: []byte("c"), Score: 3},
	})
	require.NoError(t, err)

	rank, ok, err := s.ZRank([]byte("z"), []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, rank)

	rank, ok, err = s.ZRevRank([]byte("z"), []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, rank)

	_, ok, err = s.ZRank([]byte("z"), []byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestZRangeByLexBounds(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ZAdd([]byte("z"), []ZMember{
		{Member: []byte("a"), Score: 0},
		{Member: []byte("ab"), Score: 0},
		{Member: []byte("b"), Score: 0},
		{Member: []byte("c"), Score: 0},
	})
	require.NoError(t, err)

	got, err := s.ZRangeByLex([]byte("z"), []byte("a"), []byte("b"), false, true)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("ab"), []byte("b")}, got)

	got, err = s.ZRangeByLex([]byte("z"), []byte("a"), []byte("b"), true, true)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("ab"), []byte("b")}, got)
}

func TestZRemAndZCard(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ZAdd([]byte("z"), []ZMember{{Member: []byte("a"), Score: 1}, {Member: []byte("b"), Score: 2}})
	require.NoError(t, err)

	card, err := s.ZCard([]byte("z"))
	require.NoError(t, err)
	require.Equal(t, 2, card)

	n, err := s.ZRem([]byte("z"), [][]byte{[]byte("a"), []byte("missing")})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.ZRange([]byte("z"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, members(got))

	card, err = s.ZCard([]byte("z"))
	require.NoError(t, err)
	require.Equal(t, 1, card)
}

func TestZCardOnMissingKey(t *testing.T) {
	s := openTestStore(t)
	card, err := s.ZCard([]byte("nope"))
	require.NoError(t, err)
	require.Equal(t, 0, card)
}

func TestZRemRangeByRankScoreLex(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ZAdd([]byte("z"), []ZMember{
		{Member: []byte("a"), Score: 1},
		{Member: []byte("b"), Score: 2},
		{Member: []byte("c"), Score: 3},
	})
	require.NoError(t, err)

	n, err := s.ZRemRangeByRank([]byte("z"), 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.ZRange([]byte("z"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, members(got))

	n, err = s.ZRemRangeByScore([]byte("z"), 3, 3, true, true)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err = s.ZRange([]byte("z"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, members(got))
}

func TestZIncrBy(t *testing.T) {
	s := openTestStore(t)
	score, err := s.ZIncrBy([]byte("z"), []byte("a"), 5)
	require.NoError(t, err)
	require.Equal(t, 5.0, score)

	score, err = s.ZIncrBy([]byte("z"), []byte("a"), -2)
	require.NoError(t, err)
	require.Equal(t, 3.0, score)
}

func TestZUnionStoreAggregateMax(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ZAdd([]byte("A"), []ZMember{{Member: []byte("x"), Score: 1}})
	require.NoError(t, err)
	_, err = s.ZAdd([]byte("B"), []ZMember{{Member: []byte("x"), Score: 5}})
	require.NoError(t, err)

	n, err := s.ZUnionStore([]byte("D"), [][]byte{[]byte("A"), []byte("B")}, nil, AggregateMax)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	score, ok, err := s.ZScore([]byte("D"), []byte("x"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5.0, score)
}

func TestScoreUpdateMovesScoreIndexRow(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ZAdd([]byte("z"), []ZMember{{Member: []byte("a"), Score: 1}})
	require.NoError(t, err)
	_, err = s.ZAdd([]byte("z"), []ZMember{{Member: []byte("a"), Score: 9}})
	require.NoError(t, err)

	got, err := s.ZRangeByScore([]byte("z"), 1, 1, true, true)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = s.ZRangeByScore([]byte("z"), 9, 9, true, true)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, members(got))
}
