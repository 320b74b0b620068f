package sqlite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/memory"
)

type byLength struct{ closed int }

func (b *byLength) Compare(x, y string) int { return len(x) - len(y) }
func (b *byLength) Close() error {
	b.closed++
	return nil
}

func TestRegisterCollation(t *testing.T) {
	c := openMem(t)
	require.NoError(t, c.Exec(`CREATE TABLE words (w TEXT);
		INSERT INTO words VALUES ('bb'), ('a'), ('ccc'), ('dddd')`))

	t.Run("func", func(t *testing.T) {
		require.NoError(t, RegisterCollation(c, "reverse", func(a, b string) int { return strings.Compare(b, a) }))
		res := queryColumn[string](t, c, "SELECT w FROM words ORDER BY w COLLATE reverse")
		assert.Equal(t, []string{"dddd", "ccc", "bb", "a"}, res)
	})

	t.Run("comparer", func(t *testing.T) {
		cmp := &byLength{}
		require.NoError(t, RegisterCollation(c, "by_length", cmp))
		res := queryColumn[string](t, c, "SELECT w FROM words ORDER BY w COLLATE by_length DESC")
		assert.Equal(t, []string{"dddd", "ccc", "bb", "a"}, res)
		assert.Equal(t, int64(1), queryValue[int64](t, c, "SELECT 'xy' = 'ab' COLLATE by_length"))
	})

	t.Run("panic orders as equal", func(t *testing.T) {
		require.NoError(t, RegisterCollation(c, "broken", func(a, b string) int { panic("no order") }))
		assert.Equal(t, int64(1), queryValue[int64](t, c, "SELECT 'x' = 'y' COLLATE broken"))
	})

	t.Run("not a comparison", func(t *testing.T) {
		err := RegisterCollation(c, "bad", func(a, b int) int { return a - b })
		assert.Equal(t, errcode.Misuse, errcode.Of(err))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := c.Prepare("SELECT w FROM words ORDER BY w COLLATE missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no such collation sequence")
	})
}

func TestCreateCollation_Owned(t *testing.T) {
	before := memory.Handles.Len()
	c, err := Open(":memory:")
	require.NoError(t, err)

	owned, borrowed := &byLength{}, &byLength{}
	require.NoError(t, CreateCollation(c, "owned_len", owned))
	require.NoError(t, RegisterCollation(c, "borrowed_len", borrowed))
	assert.Equal(t, int64(1), queryValue[int64](t, c, "SELECT 'zz' < 'abc' COLLATE owned_len"))
	assert.Zero(t, owned.closed)

	require.NoError(t, c.Close())
	assert.Equal(t, 1, owned.closed)
	assert.Zero(t, borrowed.closed)
	assert.Equal(t, before, memory.Handles.Len())
}

func TestCollation_Clamp(t *testing.T) {
	coll := &collation{name: "t", cmp: func(a, b string) int { return len(a) - len(b) }}
	assert.Equal(t, int32(-1), coll.compare("a", "abcdef"))
	assert.Equal(t, int32(1), coll.compare("abcdef", "a"))
	assert.Equal(t, int32(0), coll.compare("ab", "cd"))
}
