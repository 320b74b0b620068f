package sqlite

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sqlbind/pkg/errcode"
)

func TestTx(t *testing.T) {
	c := openMem(t)
	require.NoError(t, c.Exec("CREATE TABLE t (v INTEGER)"))
	count := func() int64 { return queryValue[int64](t, c, "SELECT count(*) FROM t") }

	t.Run("commit", func(t *testing.T) {
		tx, err := c.Begin(Immediate)
		require.NoError(t, err)
		assert.False(t, c.AutoCommit())
		require.NoError(t, c.Exec("INSERT INTO t VALUES (1)"))
		require.NoError(t, tx.Commit())
		assert.True(t, c.AutoCommit())
		assert.False(t, tx.Active())
		assert.Equal(t, int64(1), count())

		assert.Equal(t, errcode.Misuse, errcode.Of(tx.Commit()), "already committed")
		assert.Equal(t, errcode.Misuse, errcode.Of(tx.Rollback()))
	})

	t.Run("rollback", func(t *testing.T) {
		tx, err := c.Begin(Deferred)
		require.NoError(t, err)
		require.NoError(t, c.Exec("INSERT INTO t VALUES (2)"))
		require.NoError(t, tx.Rollback())
		assert.True(t, c.AutoCommit())
		assert.Equal(t, int64(1), count())
	})

	t.Run("nested begin", func(t *testing.T) {
		tx, err := c.Begin(Exclusive)
		require.NoError(t, err)
		defer tx.Rollback()
		_, err = c.Begin(Deferred)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "within a transaction")
	})

	t.Run("savepoints", func(t *testing.T) {
		tx, err := c.Begin(Deferred)
		require.NoError(t, err)
		require.NoError(t, c.Exec("INSERT INTO t VALUES (10)"))
		require.NoError(t, tx.Savepoint("sp one"))
		require.NoError(t, c.Exec("INSERT INTO t VALUES (11)"))
		require.NoError(t, tx.RollbackTo("sp one"))
		require.NoError(t, c.Exec("INSERT INTO t VALUES (12)"))
		require.NoError(t, tx.Release("sp one"))
		require.NoError(t, tx.Commit())
		assert.Equal(t, []int64{1, 10, 12}, queryColumn[int64](t, c, "SELECT v FROM t ORDER BY v"))

		assert.Error(t, tx.Savepoint("late"), "finished transaction")
	})

	t.Run("standalone savepoint", func(t *testing.T) {
		sp, err := c.Savepoint("outer")
		require.NoError(t, err)
		require.NoError(t, c.Exec("INSERT INTO t VALUES (20)"))
		inner, err := c.Savepoint("inner")
		require.NoError(t, err)
		require.NoError(t, c.Exec("INSERT INTO t VALUES (21)"))
		require.NoError(t, inner.Rollback())
		require.NoError(t, sp.Commit())
		assert.Equal(t, []int64{1, 10, 12, 20}, queryColumn[int64](t, c, "SELECT v FROM t ORDER BY v"))
		assert.True(t, c.AutoCommit())
	})
}

func TestConn_WithTx(t *testing.T) {
	c := openMem(t)
	require.NoError(t, c.Exec("CREATE TABLE t (v INTEGER)"))
	count := func() int64 { return queryValue[int64](t, c, "SELECT count(*) FROM t") }

	err := c.WithTx(Deferred, func(*Tx) error { return c.Exec("INSERT INTO t VALUES (1)") })
	require.NoError(t, err)
	assert.Equal(t, int64(1), count())

	errFail := errors.New("fail")
	err = c.WithTx(Immediate, func(*Tx) error {
		require.NoError(t, c.Exec("INSERT INTO t VALUES (2)"))
		return errFail
	})
	assert.ErrorIs(t, err, errFail)
	assert.Equal(t, int64(1), count())

	assert.Panics(t, func() {
		_ = c.WithTx(Deferred, func(*Tx) error {
			require.NoError(t, c.Exec("INSERT INTO t VALUES (3)"))
			panic("oops")
		})
	})
	assert.True(t, c.AutoCommit(), "rolled back on panic")
	assert.Equal(t, int64(1), count())

	err = c.WithTx(Deferred, func(tx *Tx) error {
		require.NoError(t, c.Exec("INSERT INTO t VALUES (4)"))
		return tx.Rollback()
	})
	require.NoError(t, err, "finished inside")
	assert.Equal(t, int64(1), count())
}

func TestTxMode_String(t *testing.T) {
	assert.Equal(t, "DEFERRED", Deferred.String())
	assert.Equal(t, "IMMEDIATE", Immediate.String())
	assert.Equal(t, "EXCLUSIVE", Exclusive.String())
}
