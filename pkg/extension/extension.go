// Package extension provides packs of ready-made SQL functions built on the binding layer:
// hashing, compression, UUIDs, geometry, msgpack and statistics.
package extension

import (
	"fmt"
	"log"
	"strings"

	"github.com/umputun/sqlbind/pkg/sqlite"
)

// Pack is a named group of SQL functions registered together.
type Pack struct {
	Name     string
	register func(c *sqlite.Conn) error
}

// Register adds the pack's functions to c.
func (p Pack) Register(c *sqlite.Conn) error {
	if err := p.register(c); err != nil {
		return fmt.Errorf("can't register %s pack: %w", p.Name, err)
	}
	return nil
}

// available packs
var (
	Crypto   = Pack{Name: "crypto", register: registerCrypto}
	Compress = Pack{Name: "compress", register: registerCompress}
	UUID     = Pack{Name: "uuid", register: registerUUID}
	Geo      = Pack{Name: "geo", register: registerGeo}
	Msgpack  = Pack{Name: "msgpack", register: registerMsgpack}
	Stats    = Pack{Name: "stats", register: registerStats}
)

// All returns every pack.
func All() []Pack { return []Pack{Crypto, Compress, UUID, Geo, Msgpack, Stats} }

// ByName resolves pack names, "all" standing for every pack. Duplicates are dropped.
func ByName(names ...string) ([]Pack, error) {
	var res []Pack
	seen := map[string]bool{}
	add := func(p Pack) {
		if !seen[p.Name] {
			seen[p.Name] = true
			res = append(res, p)
		}
	}

	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "all" {
			for _, p := range All() {
				add(p)
			}
			continue
		}
		found := false
		for _, p := range All() {
			if p.Name == name {
				add(p)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown extension pack %q", name)
		}
	}
	return res, nil
}

// Register adds packs to c, all of them if none given.
func Register(c *sqlite.Conn, packs ...Pack) error {
	if len(packs) == 0 {
		packs = All()
	}
	for _, p := range packs {
		if err := p.Register(c); err != nil {
			return err
		}
		log.Printf("[DEBUG] extension pack %s loaded on %s", p.Name, c.Name())
	}
	return nil
}
