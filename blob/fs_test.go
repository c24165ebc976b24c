package blob

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAndRetrieve(t *testing.T) {
	s := New(t.TempDir())
	obj := Object{OwnerDir: "alice", UUID: "uuid-1", Size: 11}

	n, err := s.Store(strings.NewReader("hello world"), obj)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.True(t, s.Exists(obj))

	got, err := s.RetrieveString(obj)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestStoreBoundsOversizedBody(t *testing.T) {
	s := New(t.TempDir())
	obj := Object{OwnerDir: "alice", UUID: "uuid-2", Size: 5}

	n, err := s.Store(strings.NewReader("hello world"), obj)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	got, err := s.RetrieveString(obj)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestStoreShortBody(t *testing.T) {
	s := New(t.TempDir())
	obj := Object{OwnerDir: "shared", UUID: "uuid-3", Size: 100}

	n, err := s.Store(strings.NewReader("short"), obj)
	require.NoError(t, err, "a short source is not an error")
	assert.Equal(t, int64(5), n)

	// Reads stop at the actual content even though the declared size is
	// larger.
	got, err := s.RetrieveString(obj)
	require.NoError(t, err)
	assert.Equal(t, "short", got)
}

func TestRetrieveBounded(t *testing.T) {
	s := New(t.TempDir())
	obj := Object{OwnerDir: "alice", UUID: "uuid-4", Size: 11}
	require.NoError(t, s.StoreBytes([]byte("hello world"), obj))

	// Declared size smaller than the file caps the read.
	r, err := s.Retrieve(Object{OwnerDir: "alice", UUID: "uuid-4", Size: 4})
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hell", string(data))
}

func TestDeleteIdempotent(t *testing.T) {
	s := New(t.TempDir())
	obj := Object{OwnerDir: "alice", UUID: "uuid-5", Size: 3}
	require.NoError(t, s.StoreBytes([]byte("abc"), obj))

	require.NoError(t, s.Delete(obj))
	assert.False(t, s.Exists(obj))
	require.NoError(t, s.Delete(obj), "deleting an absent object is a no-op")
}

func TestRetrieveMissing(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Retrieve(Object{OwnerDir: "alice", UUID: "nope", Size: 1})
	assert.Error(t, err)
}
