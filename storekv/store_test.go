package storekv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testStoreRoundTrip(t *testing.T, s Store) {
	t.Helper()

	_, err := s.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put("a", []byte("1")))
	require.NoError(t, s.Put("b", []byte("2")))

	v, err := s.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	seen := make(map[string]string)
	require.NoError(t, s.ForEach(func(key string, value []byte) error {
		seen[key] = string(value)
		return nil
	}))
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)

	require.NoError(t, s.Delete("a"))
	_, err = s.Get("a")
	require.ErrorIs(t, err, ErrNotFound)

	require.True(t, s.Connected())
	require.NoError(t, s.Disconnect())
	require.False(t, s.Connected())
}

func TestMemStoreRoundTrip(t *testing.T) {
	testStoreRoundTrip(t, NewMemStore())
}

func TestBoltStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBolt(dir)
	require.NoError(t, err)
	testStoreRoundTrip(t, s)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSQLite(dir)
	require.NoError(t, err)
	testStoreRoundTrip(t, s)
}

func TestBoltAndSQLiteAgreeOnStoredValues(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()

	bolt, err := OpenBolt(dir1)
	require.NoError(t, err)
	sqlite, err := OpenSQLite(dir2)
	require.NoError(t, err)

	entries := map[string][]byte{
		KeyMnemonic: []byte("abandon abandon about"),
		KeyNodes:    []byte(`{"nodes":{}}`),
	}
	for k, v := range entries {
		require.NoError(t, bolt.Put(k, v))
		require.NoError(t, sqlite.Put(k, v))
	}

	for k, want := range entries {
		gotBolt, err := bolt.Get(k)
		require.NoError(t, err)
		gotSQLite, err := sqlite.Get(k)
		require.NoError(t, err)
		require.Equal(t, want, gotBolt)
		require.Equal(t, want, gotSQLite)
	}
}
