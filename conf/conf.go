// Package conf loads simulator configuration from flat `key = value` files
// and provides typed, validating accessors. Configuration errors terminate
// with a diagnostic naming the offending key and value.
package conf

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Conf is a loaded configuration.
type Conf struct {
	values map[string]string
}

// Load reads the configuration file at path.
func Load(path string) *Conf {
	values, err := godotenv.Read(path)
	if err != nil {
		panic(fmt.Sprintf("cannot load configuration %s: %v", path, err))
	}

	return &Conf{values: values}
}

// FromMap builds a configuration from an in-memory key-value map.
func FromMap(values map[string]string) *Conf {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}

	return &Conf{values: copied}
}

// String returns the value for key, reporting whether it is present.
func (c *Conf) String(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// MustString returns the value for a mandatory key.
func (c *Conf) MustString(key string) string {
	v, ok := c.values[key]
	if !ok {
		panic(fmt.Sprintf("mandatory configuration key %q is missing", key))
	}

	return v
}

// Bool returns the boolean value for key, reporting whether it is present.
func (c *Conf) Bool(key string) (bool, bool) {
	v, ok := c.values[key]
	if !ok {
		return false, false
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		panic(fmt.Sprintf("key %q is not a boolean (see %q)", key, v))
	}

	return b, true
}

// MustInt returns the integer value for a mandatory key.
func (c *Conf) MustInt(key string) int {
	v := c.MustString(key)

	n, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("key %q is not an integer (see %q)", key, v))
	}

	return n
}

// MustIntAtLeast returns the integer value for a mandatory key, requiring
// it to be at least min.
func (c *Conf) MustIntAtLeast(key string, min int) int {
	n := c.MustInt(key)
	if n < min {
		panic(fmt.Sprintf("key %q must be at least %d (see %d)", key, min, n))
	}

	return n
}

// MustPowerOfTwo returns the integer value for a mandatory key, requiring
// it to be a positive power of two.
func (c *Conf) MustPowerOfTwo(key string) int {
	n := c.MustInt(key)
	if n < 1 || bits.OnesCount(uint(n)) != 1 {
		panic(fmt.Sprintf("key %q must be a power of two (see %d)", key, n))
	}

	return n
}

// MustSize returns the value for a mandatory key as a byte count or plain
// quantity. Values accept K, M, and G suffixes scaling by powers of 1024.
func (c *Conf) MustSize(key string) uint64 {
	v := c.MustString(key)

	var scale uint64 = 1
	upper := strings.ToUpper(v)
	switch {
	case strings.HasSuffix(upper, "K"):
		scale = 1 << 10
	case strings.HasSuffix(upper, "M"):
		scale = 1 << 20
	case strings.HasSuffix(upper, "G"):
		scale = 1 << 30
	}
	if scale != 1 {
		v = v[:len(v)-1]
	}

	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("key %q is not a size (see %q)", key, c.values[key]))
	}

	return n * scale
}

// MustSizeAtLeast returns the size value for a mandatory key, requiring it
// to be at least min.
func (c *Conf) MustSizeAtLeast(key string, min uint64) uint64 {
	n := c.MustSize(key)
	if n < min {
		panic(fmt.Sprintf("key %q must be at least %d (see %d)", key, min, n))
	}

	return n
}
