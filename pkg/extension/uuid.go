package extension

import (
	"github.com/google/uuid"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/sqlite"
)

// registerUUID adds uuid_new() returning a random UUID as a 16-byte blob, uuid_str(blob)
// formatting it and uuid_blob(text) parsing it back.
func registerUUID(c *sqlite.Conn) error {
	if err := sqlite.RegisterFunction(c, "uuid_new", uuid.New); err != nil {
		return err
	}
	if err := sqlite.RegisterFunction(c, "uuid_str", func(u uuid.UUID) string { return u.String() },
		sqlite.Deterministic(), sqlite.Innocuous()); err != nil {
		return err
	}
	return sqlite.RegisterFunction(c, "uuid_blob", func(s string) (uuid.UUID, error) {
		u, err := uuid.Parse(s)
		if err != nil {
			return uuid.Nil, errcode.New(errcode.Mismatch, "can't parse uuid %q: %v", s, err)
		}
		return u, nil
	}, sqlite.Deterministic(), sqlite.Innocuous())
}
