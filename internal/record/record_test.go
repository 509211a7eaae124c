package record

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	records := []string{"", "hello", strings.Repeat("x", 3*blockSize+17)}
	for _, rec := range records {
		require.NoError(t, w.WriteRecord([]byte(rec)))
	}

	r := NewReader(&buf)
	for _, want := range records {
		got, err := r.Next()
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
	_, err := r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteRecord([]byte("payload")))

	corrupted := buf.Bytes()
	corrupted[8] ^= 0xff

	r := NewReader(bytes.NewReader(corrupted))
	_, err := r.Next()
	require.Error(t, err)
}

func TestReaderTruncatedTailIsClean(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteRecord([]byte("first")))
	require.NoError(t, w.WriteRecord([]byte("second")))

	full := buf.Bytes()
	truncated := full[:len(full)-3]

	r := NewReader(bytes.NewReader(truncated))
	got, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, "first", string(got))

	_, err = r.Next()
	require.Error(t, err)
}
