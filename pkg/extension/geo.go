package extension

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geo"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/sqlite"
)

// boundAgg is geo_bound(lon, lat), the bounding box of all points as a WKB polygon.
// It is pointer-free and lives in the engine's aggregate buffer.
type boundAgg struct {
	bound orb.Bound
	seen  bool
}

func (a *boundAgg) Step(lon, lat float64) {
	p := orb.Point{lon, lat}
	if !a.seen {
		a.bound, a.seen = p.Bound(), true
		return
	}
	a.bound = a.bound.Extend(p)
}

func (a *boundAgg) Value() ([]byte, error) {
	if !a.seen {
		return nil, nil
	}
	return wkb.Marshal(a.bound.ToPolygon())
}

// registerGeo adds geo_point(lon, lat) making a WKB point, geo_type(wkb), geo_distance(a, b)
// in meters between two WKB points by haversine and the geo_bound aggregate.
func registerGeo(c *sqlite.Conn) error {
	err := sqlite.RegisterFunction(c, "geo_point", func(lon, lat float64) ([]byte, error) {
		return wkb.Marshal(orb.Point{lon, lat})
	}, sqlite.Deterministic(), sqlite.Innocuous())
	if err != nil {
		return err
	}

	err = sqlite.RegisterFunction(c, "geo_type", func(b []byte) (string, error) {
		g, err := decodeGeometry(b)
		if err != nil {
			return "", err
		}
		return g.GeoJSONType(), nil
	}, sqlite.Deterministic(), sqlite.Innocuous())
	if err != nil {
		return err
	}

	err = sqlite.RegisterFunction(c, "geo_distance", func(a, b []byte) (float64, error) {
		pa, err := decodePoint(a)
		if err != nil {
			return 0, err
		}
		pb, err := decodePoint(b)
		if err != nil {
			return 0, err
		}
		return geo.DistanceHaversine(pa, pb), nil
	}, sqlite.Deterministic(), sqlite.Innocuous())
	if err != nil {
		return err
	}

	return sqlite.CreateAggregate[boundAgg](c, "geo_bound", sqlite.Deterministic())
}

func decodeGeometry(b []byte) (orb.Geometry, error) {
	if len(b) == 0 {
		return nil, errcode.New(errcode.Mismatch, "empty geometry")
	}
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, errcode.New(errcode.Mismatch, "can't decode geometry: %v", err)
	}
	return g, nil
}

func decodePoint(b []byte) (orb.Point, error) {
	g, err := decodeGeometry(b)
	if err != nil {
		return orb.Point{}, err
	}
	p, ok := g.(orb.Point)
	if !ok {
		return orb.Point{}, errcode.New(errcode.Mismatch, "%s is not a point", g.GeoJSONType())
	}
	return p, nil
}
