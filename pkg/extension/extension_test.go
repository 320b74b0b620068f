package extension

import (
	"encoding/hex"
	"testing"

	"github.com/cespare/xxhash"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/sqlite"
)

func openWith(t *testing.T, packs ...Pack) *sqlite.Conn {
	t.Helper()
	c, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	require.NoError(t, Register(c, packs...))
	return c
}

func query[T any](t *testing.T, c *sqlite.Conn, sql string, args ...any) T {
	t.Helper()
	st, err := c.Prepare(sql)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.BindAll(args...))
	row, err := st.Step()
	require.NoError(t, err)
	require.True(t, row)
	v, err := sqlite.Get[T](st.Row(), 0)
	require.NoError(t, err)
	return v
}

func queryErr(t *testing.T, c *sqlite.Conn, sql string, args ...any) error {
	t.Helper()
	st, err := c.Prepare(sql)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.BindAll(args...))
	_, err = st.Step()
	return err
}

func TestByName(t *testing.T) {
	tbl := []struct {
		name  string
		names []string
		want  []string
		err   bool
	}{
		{name: "single", names: []string{"crypto"}, want: []string{"crypto"}},
		{name: "dedup", names: []string{" UUID ", "geo", "uuid"}, want: []string{"uuid", "geo"}},
		{name: "all", names: []string{"all"}, want: []string{"crypto", "compress", "uuid", "geo", "msgpack", "stats"}},
		{name: "all after one", names: []string{"stats", "all"}, want: []string{"stats", "crypto", "compress", "uuid", "geo", "msgpack"}},
		{name: "none", names: nil, want: nil},
		{name: "unknown", names: []string{"nope"}, err: true},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			packs, err := ByName(tt.names...)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			var names []string
			for _, p := range packs {
				names = append(names, p.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestRegister_All(t *testing.T) {
	c := openWith(t)
	assert.Len(t, query[[]byte](t, c, "SELECT sha3_256('x')"), 32)
	assert.Len(t, query[[]byte](t, c, "SELECT uuid_new()"), 16)
	assert.Equal(t, int64(3), query[int64](t, c, "SELECT msgpack_len(msgpack_group(v)) FROM (SELECT 1 AS v UNION ALL SELECT 2 UNION ALL SELECT 3)"))
}

func TestCrypto(t *testing.T) {
	c := openWith(t, Crypto)
	data := []byte("hello world")

	want3 := sha3.Sum256(data)
	assert.Equal(t, want3[:], query[[]byte](t, c, "SELECT sha3_256(?)", data))
	assert.Equal(t, want3[:], query[[]byte](t, c, "SELECT sha3_256('hello world')"), "text hashed as bytes")

	wantB := blake3.Sum256(data)
	assert.Equal(t, hex.EncodeToString(wantB[:]), query[string](t, c, "SELECT lower(hex(blake3(?)))", data))

	assert.Equal(t, int64(xxhash.Sum64(data)), query[int64](t, c, "SELECT xxhash64(?)", data)) //nolint:gosec
	assert.Equal(t, int64(xxhash.Sum64(nil)), query[int64](t, c, "SELECT xxhash64(x'')"))     //nolint:gosec
}

func TestCompress(t *testing.T) {
	c := openWith(t, Compress)
	require.NoError(t, c.Exec("CREATE TABLE docs (body BLOB)"))
	require.NoError(t, c.ExecArgs("INSERT INTO docs VALUES (zstd_compress(?))", []byte(repeat("sqlbind ", 500))))

	assert.Less(t, query[int64](t, c, "SELECT length(body) FROM docs"), int64(4000))
	assert.Equal(t, repeat("sqlbind ", 500), query[string](t, c, "SELECT CAST(zstd_decompress(body) AS TEXT) FROM docs"))
	assert.Nil(t, query[[]byte](t, c, "SELECT zstd_compress(NULL)"))

	err := queryErr(t, c, "SELECT zstd_decompress(x'00010203')")
	require.Error(t, err)
	assert.Equal(t, errcode.Corrupt, errcode.Of(err))
}

func TestUUID(t *testing.T) {
	c := openWith(t, UUID)

	u := uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
	assert.Equal(t, u.String(), query[string](t, c, "SELECT uuid_str(?)", u))
	assert.Equal(t, u, query[uuid.UUID](t, c, "SELECT uuid_blob('7d444840-9dc0-11d1-b245-5ffdce74fad2')"))
	assert.Equal(t, int64(36), query[int64](t, c, "SELECT length(uuid_str(uuid_new()))"))
	assert.Equal(t, int64(0), query[int64](t, c, "SELECT uuid_new() = uuid_new()"))

	err := queryErr(t, c, "SELECT uuid_blob('not-a-uuid')")
	assert.Equal(t, errcode.Mismatch, errcode.Of(err))
}

func TestGeo(t *testing.T) {
	c := openWith(t, Geo)

	assert.Equal(t, "Point", query[string](t, c, "SELECT geo_type(geo_point(1, 2))"))

	// one degree of longitude on the equator, orb.EarthRadius is 6378137 m
	d := query[float64](t, c, "SELECT geo_distance(geo_point(0, 0), geo_point(1, 0))")
	assert.InDelta(t, 111319.49, d, 0.01)

	// great circle along the 60th parallel, shorter than the flat-earth approximation (5009377 m)
	d = query[float64](t, c, "SELECT geo_distance(geo_point(0, 60), geo_point(90, 60))")
	assert.InDelta(t, 4609698.05, d, 0.01)

	require.NoError(t, c.Exec(`CREATE TABLE places (lon REAL, lat REAL);
		INSERT INTO places VALUES (-122.4, 37.7), (-122.6, 37.9), (-122.5, 37.5)`))
	b := query[[]byte](t, c, "SELECT geo_bound(lon, lat) FROM places")
	g, err := wkb.Unmarshal(b)
	require.NoError(t, err)
	poly, ok := g.(orb.Polygon)
	require.True(t, ok)
	assert.Equal(t, orb.Bound{Min: orb.Point{-122.6, 37.5}, Max: orb.Point{-122.4, 37.9}}, poly.Bound())

	assert.Nil(t, query[[]byte](t, c, "SELECT geo_bound(lon, lat) FROM places WHERE 0"))

	err = queryErr(t, c, "SELECT geo_distance(geo_point(0, 0), x'0102')")
	assert.Equal(t, errcode.Mismatch, errcode.Of(err))
}

func TestMsgpack(t *testing.T) {
	c := openWith(t, Msgpack)

	js := query[string](t, c, `SELECT msgpack_json(msgpack_group(v)) FROM
		(SELECT 1 AS v UNION ALL SELECT 'two' UNION ALL SELECT 2.5 UNION ALL SELECT NULL)`)
	assert.JSONEq(t, `[1, "two", 2.5, null]`, js)

	assert.Equal(t, "[]", query[string](t, c, "SELECT msgpack_json(msgpack_group(1)) WHERE 0"))

	err := queryErr(t, c, "SELECT msgpack_len(x'')")
	assert.Equal(t, errcode.Mismatch, errcode.Of(err))
}

func TestStats(t *testing.T) {
	c := openWith(t, Stats)
	require.NoError(t, c.Exec(`CREATE TABLE m (v REAL);
		INSERT INTO m VALUES (2), (4), (4), (4), (5), (5), (7), (9), (NULL)`))

	assert.InDelta(t, 4.571428, query[float64](t, c, "SELECT stats_var(v) FROM m"), 1e-5)
	assert.InDelta(t, 2.13809, query[float64](t, c, "SELECT stats_stddev(v) FROM m"), 1e-5)
	assert.Nil(t, query[*float64](t, c, "SELECT stats_var(v) FROM m WHERE v = 2"))

	st, err := c.Prepare("SELECT stats_var(v) OVER (ORDER BY rowid ROWS 1 PRECEDING) FROM m WHERE v IS NOT NULL")
	require.NoError(t, err)
	defer st.Close()
	var res []*float64
	require.NoError(t, st.ForEach(func(r sqlite.Row) error {
		v, err := sqlite.Get[*float64](r, 0)
		res = append(res, v)
		return err
	}))
	require.Len(t, res, 8)
	assert.Nil(t, res[0])
	require.NotNil(t, res[1])
	assert.InDelta(t, 2.0, *res[1], 1e-9) // (2, 4)
	assert.InDelta(t, 0.0, *res[2], 1e-9) // (4, 4)
	assert.InDelta(t, 2.0, *res[7], 1e-9) // (7, 9)
}

func repeat(s string, n int) string {
	res := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		res = append(res, s...)
	}
	return string(res)
}
