package extension

import (
	"math"

	"github.com/umputun/sqlbind/pkg/sqlite"
)

// variance is stats_var(x), the sample variance. NULLs are skipped. It has Inverse,
// so it works as a sliding window function.
type variance struct {
	n          int64
	sum, sumSq float64
}

func (v *variance) Step(x *float64) {
	if x == nil {
		return
	}
	v.n++
	v.sum += *x
	v.sumSq += *x * *x
}

func (v *variance) Inverse(x *float64) {
	if x == nil {
		return
	}
	v.n--
	v.sum -= *x
	v.sumSq -= *x * *x
}

// Value is NULL for fewer than two values
func (v *variance) Value() *float64 {
	if v.n < 2 {
		return nil
	}
	mean := v.sum / float64(v.n)
	res := max((v.sumSq-float64(v.n)*mean*mean)/float64(v.n-1), 0)
	return &res
}

// stddev is stats_stddev(x), the sample standard deviation
type stddev struct {
	variance
}

func (s *stddev) Value() *float64 {
	res := s.variance.Value()
	if res != nil {
		*res = math.Sqrt(*res)
	}
	return res
}

func registerStats(c *sqlite.Conn) error {
	if err := sqlite.CreateAggregate[variance](c, "stats_var", sqlite.Deterministic()); err != nil {
		return err
	}
	return sqlite.CreateAggregate[stddev](c, "stats_stddev", sqlite.Deterministic())
}
