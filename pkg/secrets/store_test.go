package secrets

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/sqlite"
)

func TestCipher(t *testing.T) {
	c := cipher{key: []byte("test_key")}

	sealed, err := c.seal("test_value")
	require.NoError(t, err)
	t.Logf("sealed value: %s", sealed)
	opened, err := c.open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "test_value", opened)

	again, err := c.seal("test_value")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "random salt and nonce")

	_, err = cipher{key: []byte("other")}.open(sealed)
	assert.Equal(t, errcode.Auth, errcode.Of(err))

	_, err = c.open("not base64!")
	assert.Equal(t, errcode.Corrupt, errcode.Of(err))
	_, err = c.open("c2hvcnQ=")
	assert.Equal(t, errcode.Corrupt, errcode.Of(err))
}

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.db")
	s, err := Open(path, []byte("test_key"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("db/password", "hunter2"))
	require.NoError(t, s.Set("db/user", "admin"))
	require.NoError(t, s.Set("api/token", "tok-123"))

	t.Run("get", func(t *testing.T) {
		v, err := s.Get("db/password")
		require.NoError(t, err)
		assert.Equal(t, "hunter2", v)

		_, err = s.Get("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("replace", func(t *testing.T) {
		require.NoError(t, s.Set("db/user", "root"))
		v, err := s.Get("db/user")
		require.NoError(t, err)
		assert.Equal(t, "root", v)
	})

	t.Run("list", func(t *testing.T) {
		keys, err := s.List("")
		require.NoError(t, err)
		assert.Equal(t, []string{"api/token", "db/password", "db/user"}, keys)
		keys, err = s.List("*")
		require.NoError(t, err)
		assert.Equal(t, []string{"api/token", "db/password", "db/user"}, keys)
		keys, err = s.List("db/")
		require.NoError(t, err)
		assert.Equal(t, []string{"db/password", "db/user"}, keys)
		keys, err = s.List("none")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("stored encrypted", func(t *testing.T) {
		c, err := sqlite.Open(path, sqlite.ReadOnly())
		require.NoError(t, err)
		defer c.Close()
		st, err := c.Prepare("SELECT sval FROM sqlbind_secrets WHERE skey = 'db/password'")
		require.NoError(t, err)
		defer st.Close()
		row, err := st.Step()
		require.NoError(t, err)
		require.True(t, row)
		raw, err := sqlite.Get[string](st.Row(), 0)
		require.NoError(t, err)
		assert.NotContains(t, raw, "hunter2")
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete("api/token"))
		assert.ErrorIs(t, s.Delete("api/token"), ErrNotFound)
		_, err := s.Get("api/token")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := Open(path, []byte("wrong"))
		require.NoError(t, err)
		defer other.Close()
		_, err = other.Get("db/password")
		require.Error(t, err)
		assert.Equal(t, errcode.Auth, errcode.Of(err))
	})
}

func TestStore_Register(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "secrets.db"), []byte("key"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Set("greeting", "hello"))

	c, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, s.Register(c))

	st, err := c.Prepare("SELECT secret('greeting') || ', world'")
	require.NoError(t, err)
	defer st.Close()
	row, err := st.Step()
	require.NoError(t, err)
	require.True(t, row)
	v, err := sqlite.Get[string](st.Row(), 0)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", v)

	miss, err := c.Prepare("SELECT secret('nope')")
	require.NoError(t, err)
	defer miss.Close()
	_, err = miss.Step()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret not found")

	assert.Equal(t, errcode.Misuse, errcode.Of(s.Register(s.c)))
}

func TestNew_EmptyKey(t *testing.T) {
	c, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer c.Close()
	_, err = New(c, nil)
	require.Error(t, err)
}
