package extension

import (
	"github.com/cespare/xxhash"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"

	"github.com/umputun/sqlbind/pkg/sqlite"
)

// sha3Func is sha3_256(data), a stateless function object
type sha3Func struct{}

func (sha3Func) Call(data []byte) [32]byte { return sha3.Sum256(data) }

// registerCrypto adds sha3_256, blake3 and xxhash64. Text arguments are hashed as their UTF-8 bytes.
func registerCrypto(c *sqlite.Conn) error {
	if err := sqlite.CreateStatelessFunction[sha3Func](c, "sha3_256", sqlite.Deterministic(), sqlite.Innocuous()); err != nil {
		return err
	}
	err := sqlite.RegisterFunction(c, "blake3", func(data sqlite.BlobView) [32]byte {
		return blake3.Sum256(data.Bytes())
	}, sqlite.Deterministic(), sqlite.Innocuous())
	if err != nil {
		return err
	}
	return sqlite.RegisterFunction(c, "xxhash64", func(data sqlite.BlobView) int64 {
		return int64(xxhash.Sum64(data.Bytes())) //nolint:gosec // the bit pattern is the hash
	}, sqlite.Deterministic(), sqlite.Innocuous())
}
