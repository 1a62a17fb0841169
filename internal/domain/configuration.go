package domain

import (
	"strings"
	"sync"
)

// FixturesKey names the fixtures to install when a SessionFactory starts,
// as a comma separated list.
const FixturesKey = "fixtures"

// Configuration is an ordered set of string properties. Keys keep the
// position of their first Add.
type Configuration struct {
	mu     sync.RWMutex
	keys   []string
	values map[string]string
}

// NewConfiguration returns an empty configuration.
func NewConfiguration() *Configuration {
	return &Configuration{values: make(map[string]string)}
}

// Add sets key to value.
func (c *Configuration) Add(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Get returns the value of key.
func (c *Configuration) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.values[key]
	return v, ok
}

// List returns the comma separated values of key with blanks dropped.
func (c *Configuration) List(key string) []string {
	v, ok := c.Get(key)
	if !ok {
		return nil
	}

	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Keys returns the keys in insertion order.
func (c *Configuration) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]string(nil), c.keys...)
}
