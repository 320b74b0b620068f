package extension

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/sqlite"
)

// packAgg is msgpack_group(v), the group's values packed as a msgpack array
type packAgg struct {
	values []any
}

func (a *packAgg) Step(v any) { a.values = append(a.values, v) }

func (a *packAgg) Value() ([]byte, error) {
	if a.values == nil {
		a.values = []any{}
	}
	return msgpack.Marshal(a.values)
}

// registerMsgpack adds the msgpack_group aggregate, msgpack_json(blob) rendering packed data as JSON
// and msgpack_len(blob) counting the elements of a packed array.
func registerMsgpack(c *sqlite.Conn) error {
	if err := sqlite.CreateAggregate[packAgg](c, "msgpack_group"); err != nil {
		return err
	}

	err := sqlite.RegisterFunction(c, "msgpack_json", func(b []byte) (string, error) {
		v, err := unpack(b)
		if err != nil {
			return "", err
		}
		res, err := json.Marshal(v)
		if err != nil {
			return "", errcode.New(errcode.Mismatch, "can't render msgpack as json: %v", err)
		}
		return string(res), nil
	}, sqlite.Deterministic(), sqlite.Innocuous())
	if err != nil {
		return err
	}

	return sqlite.RegisterFunction(c, "msgpack_len", func(b []byte) (int64, error) {
		v, err := unpack(b)
		if err != nil {
			return 0, err
		}
		arr, ok := v.([]any)
		if !ok {
			return 0, errcode.New(errcode.Mismatch, "msgpack value is not an array")
		}
		return int64(len(arr)), nil
	}, sqlite.Deterministic(), sqlite.Innocuous())
}

func unpack(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, errcode.New(errcode.Mismatch, "empty msgpack data")
	}
	var v any
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return nil, errcode.New(errcode.Mismatch, "can't decode msgpack: %v", err)
	}
	return v, nil
}
