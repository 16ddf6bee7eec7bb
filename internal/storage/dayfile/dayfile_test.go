package dayfile

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/salesdb/internal/storage/types"
)

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	day := types.Day{
		"apples": {{Quantity: 10, Price: 2.0, Timestamp: 100}, {Quantity: 5, Price: 3.0, Timestamp: 101}},
		"café":   {{Quantity: 1, Price: 0, Timestamp: 102}},
	}

	require.NoError(t, Write(dir, 42, day))

	got, err := Read(dir, 42)
	require.NoError(t, err)
	assert.Equal(t, day, got)
}

func TestRead_MissingFile(t *testing.T) {
	_, err := Read(t.TempDir(), 1)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRead_WrongDayID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, 1, types.Day{}))
	require.NoError(t, os.Rename(Path(dir, 1), Path(dir, 2)))

	_, err := Read(dir, 2)
	assert.Error(t, err)
}

func TestDecode_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, 5, types.Day{"x": {{Quantity: 1, Price: 1, Timestamp: 1}}}))

	data := buf.Bytes()
	_, _, err := Decode(bytes.NewReader(data[:len(data)-3]))
	assert.Error(t, err)
}

func TestEncode_EmptyDay(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, 3, types.Day{}))
	assert.Equal(t, 8, buf.Len())

	id, day, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, id)
	assert.Empty(t, day)
}

func TestParseName(t *testing.T) {
	id, ok := ParseName(Name(17))
	assert.True(t, ok)
	assert.Equal(t, 17, id)

	for _, bad := range []string{"day_.bin", "day_x.bin", "dia_1.bin", "day_1.parquet", "day_-1.bin"} {
		_, ok := ParseName(bad)
		assert.False(t, ok, bad)
	}
}

func TestRemove_MissingIsNotError(t *testing.T) {
	assert.NoError(t, Remove(t.TempDir(), 99))
}
