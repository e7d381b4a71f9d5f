package sortcoll_test

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/grailbio/bamkit/sortcoll"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type int64Codec struct{}

func (int64Codec) Encode(w io.Writer, v interface{}) error {
	return binary.Write(w, binary.LittleEndian, v.(int64))
}

func (int64Codec) Decode(r io.Reader) (interface{}, error) {
	var v int64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func less(a, b interface{}) bool { return a.(int64) < b.(int64) }

func TestAllInMemory(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "sortcoll")
	defer cleanup()

	c := sortcoll.New(dir, int64Codec{}, less, 1000)
	for _, v := range []int64{5, 3, 9, 1, 7} {
		require.NoError(t, c.Add(v))
	}
	it, err := c.Finish()
	require.NoError(t, err)
	defer it.Close()

	var got []int64
	for it.Scan() {
		got = append(got, it.Value().(int64))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int64{1, 3, 5, 7, 9}, got)
}

func TestSpillsAcrossMultipleRuns(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "sortcoll")
	defer cleanup()

	c := sortcoll.New(dir, int64Codec{}, less, 3)
	values := []int64{9, 2, 7, 1, 8, 3, 6, 4, 5, 0}
	for _, v := range values {
		require.NoError(t, c.Add(v))
	}
	assert.Equal(t, len(values), c.Len())

	it, err := c.Finish()
	require.NoError(t, err)
	defer it.Close()

	var got []int64
	for it.Scan() {
		got = append(got, it.Value().(int64))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestEmptyCollection(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "sortcoll")
	defer cleanup()

	c := sortcoll.New(dir, int64Codec{}, less, 10)
	it, err := c.Finish()
	require.NoError(t, err)
	defer it.Close()
	assert.False(t, it.Scan())
	require.NoError(t, it.Err())
}
