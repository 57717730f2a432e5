package studio

import (
	"errors"
	"strings"
	"sync"
)

// ErrCredentialRequired is returned by every generation operation while no
// credential is selected. The caller must prompt for one.
var ErrCredentialRequired = errors.New("studio: credential required")

// Credentials holds the generation credential selected by the user. It is
// passed explicitly to whoever starts a generation and is safe for concurrent
// use.
type Credentials struct {
	mu  sync.RWMutex
	key string
}

// Select makes key the active credential. A blank key is refused.
func (c *Credentials) Select(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrCredentialRequired
	}
	c.mu.Lock()
	c.key = key
	c.mu.Unlock()
	return nil
}

// Clear forgets the active credential.
func (c *Credentials) Clear() {
	c.mu.Lock()
	c.key = ""
	c.mu.Unlock()
}

// Key returns the active credential or [ErrCredentialRequired].
func (c *Credentials) Key() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.key == "" {
		return "", ErrCredentialRequired
	}
	return c.key, nil
}

// Selected reports whether a credential is active.
func (c *Credentials) Selected() bool {
	_, err := c.Key()
	return err == nil
}

// reject clears the credential if it is still key, so a rejection that
// arrives late does not discard a credential selected in the meantime.
func (c *Credentials) reject(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != key {
		return false
	}
	c.key = ""
	return true
}
