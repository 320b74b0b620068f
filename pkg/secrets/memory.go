package secrets

import (
	"fmt"

	"github.com/umputun/sqlbind/pkg/sqlite"
)

// MemoryProvider keeps secrets in memory, for inline secrets passed from the command line and for tests.
type MemoryProvider struct {
	secrets map[string]string
}

// NewMemoryProvider creates a new MemoryProvider with the given secrets.
func NewMemoryProvider(secrets map[string]string) *MemoryProvider {
	res := &MemoryProvider{secrets: make(map[string]string, len(secrets))}
	for k, v := range secrets {
		res.secrets[k] = v
	}
	return res
}

// Get returns the secret for the given key.
func (m *MemoryProvider) Get(key string) (string, error) {
	if val, ok := m.secrets[key]; ok {
		return val, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Register makes secret(key) available on c.
func (m *MemoryProvider) Register(c *sqlite.Conn) error {
	return sqlite.RegisterFunction(c, "secret", lookup{get: m.Get}, sqlite.DirectOnly())
}
