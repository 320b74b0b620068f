package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		wb, err := Load("testdata/workbook.yml")
		require.NoError(t, err)
		assert.Equal(t, "testdata/workbook.yml", wb.Name())
		assert.Equal(t, "/tmp/sqlbind.db", wb.DB)
		assert.Equal(t, []string{"crypto", "stats"}, wb.Extensions)
		assert.Equal(t, []string{"db/password"}, wb.Secrets)
		require.Len(t, wb.Scripts, 3)

		seed := wb.Scripts[1]
		assert.Equal(t, "seed", seed.Name)
		assert.Equal(t, "INSERT INTO users (name, score) VALUES (:name, :score);\n", seed.SQL, "sql from file")
		assert.Equal(t, map[string]any{"name": "alice", ":score": 4.5}, seed.Params)

		packs, err := wb.Packs()
		require.NoError(t, err)
		require.Len(t, packs, 2)
		assert.Equal(t, "crypto", packs[0].Name)
		assert.Equal(t, "stats", packs[1].Name)
	})

	t.Run("toml", func(t *testing.T) {
		wb, err := Load("testdata/workbook.toml")
		require.NoError(t, err)
		assert.Empty(t, wb.DB)
		require.Len(t, wb.Scripts, 2)
		assert.Equal(t, "SELECT hex(sha3_256(:v))", wb.Scripts[1].SQL)
		assert.Equal(t, map[string]any{"v": "abc"}, wb.Scripts[1].Params)
		packs, err := wb.Packs()
		require.NoError(t, err)
		assert.Len(t, packs, 6)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := Load("testdata/nope.yml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := Load("testdata/bad-field.yml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "field unknown not found")
	})

	t.Run("unknown format", func(t *testing.T) {
		fname := filepath.Join(t.TempDir(), "workbook.json")
		require.NoError(t, os.WriteFile(fname, []byte("{}"), 0o600))
		_, err := Load(fname)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown workbook format")
	})

	t.Run("all problems reported", func(t *testing.T) {
		_, err := Load("testdata/invalid.yml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `duplicate script name "ONE"`)
		assert.Contains(t, err.Error(), "script #3 has no name")
		assert.Contains(t, err.Error(), `script "empty" has no sql`)
		assert.Contains(t, err.Error(), `unknown extension pack "nope"`)
	})

	t.Run("missing script file", func(t *testing.T) {
		_, err := Load("testdata/missing-file.yml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `script "one" file testdata/nowhere.sql not found`)
	})

	t.Run("sql and file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "q.sql"), []byte("SELECT 1"), 0o600))
		fname := filepath.Join(dir, "wb.yaml")
		require.NoError(t, os.WriteFile(fname, []byte("scripts:\n  - name: q\n    sql: SELECT 2\n    file: q.sql\n"), 0o600))
		_, err := Load(fname)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has both sql and file")
	})

	t.Run("no scripts", func(t *testing.T) {
		fname := filepath.Join(t.TempDir(), "wb")
		require.NoError(t, os.WriteFile(fname, []byte("db: x.db\n"), 0o600))
		_, err := Load(fname)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no scripts defined")
	})
}

func TestWorkbook_Select(t *testing.T) {
	wb, err := Load("testdata/workbook.yml")
	require.NoError(t, err)

	tbl := []struct {
		name  string
		names []string
		want  []string
		err   string
	}{
		{name: "all", names: nil, want: []string{"schema", "seed", "report"}},
		{name: "workbook order", names: []string{"report", "schema"}, want: []string{"schema", "report"}},
		{name: "case and dups", names: []string{"SEED", "seed"}, want: []string{"seed"}},
		{name: "unknown", names: []string{"seed", "nope", "other"}, err: "scripts not found: nope, other"},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			res, err := wb.Select(tt.names...)
			if tt.err != "" {
				require.EqualError(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			names := make([]string, 0, len(res))
			for _, s := range res {
				names = append(names, s.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	t.Run("copy", func(t *testing.T) {
		res, err := wb.Select()
		require.NoError(t, err)
		res[0].Name = "changed"
		assert.Equal(t, "schema", wb.Scripts[0].Name)
	})
}
