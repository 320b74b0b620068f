package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sqlbind/pkg/sqlite"
)

func TestMemoryProvider(t *testing.T) {
	src := map[string]string{"sec1": "val1", "sec2": "val2"}
	m := NewMemoryProvider(src)
	src["sec1"] = "changed"

	t.Run("get existing secret", func(t *testing.T) {
		val, err := m.Get("sec1")
		require.NoError(t, err)
		assert.Equal(t, "val1", val)
	})

	t.Run("get non-existing secret", func(t *testing.T) {
		_, err := m.Get("sec3")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("register", func(t *testing.T) {
		c, err := sqlite.Open(":memory:")
		require.NoError(t, err)
		defer c.Close()
		require.NoError(t, m.Register(c))

		st, err := c.Prepare("SELECT secret('sec2'), length(secret('sec1'))")
		require.NoError(t, err)
		defer st.Close()
		row, err := st.Step()
		require.NoError(t, err)
		require.True(t, row)
		var v string
		var n int64
		require.NoError(t, st.Row().Scan(&v, &n))
		assert.Equal(t, "val2", v)
		assert.Equal(t, int64(4), n)
	})
}
