package sstable

import (
	"bytes"
	"fmt"
	"os"
	"testing"

	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/stretchr/testify/require"
)

type memWriterCloser struct {
	bytes.Buffer
}

func writeTable(t *testing.T, o *base.Options, n int) []byte {
	t.Helper()
	var buf memWriterCloser
	w := NewWriter(&buf, o)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val := []byte(fmt.Sprintf("value-%05d", i))
		require.NoError(t, w.Set(key, val))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type fileFromBytes struct {
	data []byte
}

func (f *fileFromBytes) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, fmt.Errorf("sstable test: EOF")
	}
	n := copy(p, f.data[off:])
	return n, nil
}
func (f *fileFromBytes) Read(p []byte) (int, error)  { return 0, nil }
func (f *fileFromBytes) Write(p []byte) (int, error) { return 0, nil }
func (f *fileFromBytes) Close() error                { return nil }
func (f *fileFromBytes) Sync() error                 { return nil }
func (f *fileFromBytes) Stat() (os.FileInfo, error)  { return nil, nil }

func TestWriterReaderRoundTrip(t *testing.T) {
	o := &base.Options{BlockSize: 128, BlockRestartInterval: 4}
	data := writeTable(t, o, 200)

	r, err := NewReader(&fileFromBytes{data: data}, int64(len(data)), o)
	require.NoError(t, err)

	for i := 0; i < 200; i += 17 {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val, err := r.Get(key)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("value-%05d", i), string(val))
	}

	_, err = r.Get([]byte("zzz-missing"))
	require.Error(t, err)
}

func TestWriterReaderWithBloomFilter(t *testing.T) {
	o := &base.Options{BlockSize: 256, BlockRestartInterval: 8, FilterPolicy: NewBloomPolicy(10)}
	data := writeTable(t, o, 500)

	r, err := NewReader(&fileFromBytes{data: data}, int64(len(data)), o)
	require.NoError(t, err)

	for i := 0; i < 500; i += 31 {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val, err := r.Get(key)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("value-%05d", i), string(val))
	}
}

func TestIteratorOrder(t *testing.T) {
	o := &base.Options{BlockSize: 64, BlockRestartInterval: 2}
	data := writeTable(t, o, 50)
	r, err := NewReader(&fileFromBytes{data: data}, int64(len(data)), o)
	require.NoError(t, err)

	it, err := r.NewIter()
	require.NoError(t, err)
	count := 0
	for ok := it.First(); ok; ok = it.Next() {
		require.Equal(t, fmt.Sprintf("key-%05d", count), string(it.Key()))
		count++
	}
	require.Equal(t, 50, count)
}
