// Package secrets keeps encrypted key/value pairs in a SQLite table. Values are sealed and opened
// by SQL functions registered on the store connection, plaintext never lands in the table.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/stringutils"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/sqlite"
)

// ErrNotFound is returned for a key missing from the store.
var ErrNotFound = errors.New("secret not found")

const schema = `CREATE TABLE IF NOT EXISTS sqlbind_secrets (skey TEXT PRIMARY KEY, sval TEXT NOT NULL)`

// Store is an encrypted secrets table. It is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	c     *sqlite.Conn
	owned bool
}

// Open opens the database at path and makes a store on it, closed by Store.Close.
func Open(path string, key []byte) (*Store, error) {
	c, err := sqlite.Open(path, sqlite.WithBusyTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("can't open secrets database: %w", err)
	}
	s, err := New(c, key)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New makes a store on c, creating the table and registering secret_seal and secret_open
// bound to key. The caller keeps owning c.
func New(c *sqlite.Conn, key []byte) (*Store, error) {
	if len(key) == 0 {
		return nil, errors.New("empty secrets key")
	}
	cp := cipher{key: append([]byte{}, key...)}
	if err := sqlite.RegisterFunction(c, "secret_seal", cp.seal, sqlite.DirectOnly()); err != nil {
		return nil, err
	}
	if err := sqlite.RegisterFunction(c, "secret_open", cp.open, sqlite.DirectOnly(), sqlite.Deterministic()); err != nil {
		return nil, err
	}
	if err := c.Exec(schema); err != nil {
		return nil, fmt.Errorf("can't create secrets table: %w", err)
	}
	log.Printf("[INFO] secrets store on %s", c.Name())
	return &Store{c: c}, nil
}

// Get returns the decrypted value of key.
func (s *Store) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.c.Prepare("SELECT secret_open(sval) FROM sqlbind_secrets WHERE skey = ?")
	if err != nil {
		return "", err
	}
	defer st.Close()
	if err = st.BindAt(1, key); err != nil {
		return "", err
	}
	row, err := st.Step()
	if err != nil {
		return "", fmt.Errorf("can't get secret for %s: %w", key, err)
	}
	if !row {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return sqlite.Get[string](st.Row(), 0)
}

// Set stores value under key, replacing the old one.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.c.ExecArgs("INSERT OR REPLACE INTO sqlbind_secrets (skey, sval) VALUES (?, secret_seal(?))", key, value); err != nil {
		return fmt.Errorf("can't set secret for %s: %w", key, err)
	}
	return nil
}

// Delete removes key. A missing key fails with ErrNotFound.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.c.ExecArgs("DELETE FROM sqlbind_secrets WHERE skey = ?", key); err != nil {
		return fmt.Errorf("can't delete secret for %s: %w", key, err)
	}
	if s.c.Changes() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// List returns the sorted keys starting with prefix, all keys for an empty prefix or "*".
func (s *Store) List(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.c.Prepare("SELECT skey FROM sqlbind_secrets ORDER BY skey")
	if err != nil {
		return nil, err
	}
	defer st.Close()

	var keys []string
	err = st.ForEach(func(r sqlite.Row) error {
		k, err := sqlite.Get[string](r, 0)
		keys = append(keys, k)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("can't list secrets: %w", err)
	}
	if prefix == "" || prefix == "*" {
		return keys, nil
	}
	return stringutils.Filter(keys, func(k string) bool { return strings.HasPrefix(k, prefix) }), nil
}

// Register makes secret(key) available on another connection, e.g. for workbook scripts.
func (s *Store) Register(c *sqlite.Conn) error {
	if c == s.c {
		return errcode.New(errcode.Misuse, "can't register secret() on the store connection")
	}
	return sqlite.RegisterFunction(c, "secret", lookup{get: s.Get}, sqlite.DirectOnly())
}

// Close closes the connection if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Close()
}

// lookup is the secret() SQL function
type lookup struct {
	get func(key string) (string, error)
}

func (l lookup) Call(key string) (string, error) { return l.get(key) }

type cipher struct {
	key []byte
}

// seal encrypts data with NaCl secretbox under a key derived from the store key and a random salt.
// The result is base64 of nonce, salt and the sealed box.
func (c cipher) seal(data string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	naclKey := new([32]byte)
	copy(naclKey[:], deriveKey(c.key, salt))

	nonce := new([24]byte)
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}

	out := make([]byte, 24+16)
	copy(out, nonce[:])
	copy(out[24:], salt)

	sealed := secretbox.Seal(out, []byte(data), nonce, naclKey)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// open reverses seal. A value sealed under another key fails with errcode.Auth.
func (c cipher) open(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errcode.New(errcode.Corrupt, "can't decode secret: %v", err)
	}
	if len(sealed) < 24+16+secretbox.Overhead {
		return "", errcode.New(errcode.Corrupt, "sealed secret too short, %d bytes", len(sealed))
	}

	nonce := new([24]byte)
	copy(nonce[:], sealed[:24])
	naclKey := new([32]byte)
	copy(naclKey[:], deriveKey(c.key, sealed[24:40]))

	decrypted, ok := secretbox.Open(nil, sealed[40:], nonce, naclKey)
	if !ok {
		return "", errcode.New(errcode.Auth, "failed to decrypt")
	}
	return string(decrypted), nil
}

// deriveKey makes a 32-byte key with Argon2id: 1 pass, 64 MiB, 4 threads.
func deriveKey(key, salt []byte) []byte {
	return argon2.IDKey(key, salt, 1, 64*1024, 4, 32)
}
