package hdal

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds the tunables of the data access layer
type Config struct {
	// ObjectCacheTTL is the lifetime of the volatile copy of an object (0 disables the copy)
	ObjectCacheTTL time.Duration
	// ListCacheTTLMin and ListCacheTTLMax bound the random lifetime of a cached query result.
	// The randomness spreads the expiry of lists that were cached at the same time.
	ListCacheTTLMin time.Duration
	ListCacheTTLMax time.Duration
	// SaveRetries is the number of retries of a save or delete that lost a race against another writer
	SaveRetries int
	// ReadRetries is the number of retries while loading a list whose objects vanish concurrently
	ReadRetries int
	// RelationCacheTTL is the lifetime of the relation mapping and descriptors in the volatile store (0 = no expiry)
	RelationCacheTTL time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		ObjectCacheTTL:   60 * time.Second,
		ListCacheTTLMin:  300 * time.Second,
		ListCacheTTLMax:  600 * time.Second,
		SaveRetries:      5,
		ReadRetries:      5,
		RelationCacheTTL: 0,
	}
}

// normalize replaces invalid values with defaults
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.ObjectCacheTTL < 0 {
		c.ObjectCacheTTL = 0
	}
	if c.ListCacheTTLMin <= 0 {
		c.ListCacheTTLMin = def.ListCacheTTLMin
	}
	if c.ListCacheTTLMax < c.ListCacheTTLMin {
		c.ListCacheTTLMax = c.ListCacheTTLMin
	}
	if c.SaveRetries < 0 {
		c.SaveRetries = 0
	}
	if c.ReadRetries < 0 {
		c.ReadRetries = 0
	}
	return c
}

// String returns a formatted string representation of the configuration
func (c Config) String() string {
	var sb strings.Builder

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s %s\n", name+":", value))
	}
	ttl := func(d time.Duration) string {
		if d <= 0 {
			return "no expiry"
		}
		return d.String()
	}

	sb.WriteString("\n--- Data Access Layer ---\n")
	addField("Object Cache TTL", ttl(c.ObjectCacheTTL))
	addField("List Cache TTL", fmt.Sprintf("%s - %s", c.ListCacheTTLMin, c.ListCacheTTLMax))
	addField("Save Retries", strconv.Itoa(c.SaveRetries))
	addField("Read Retries", strconv.Itoa(c.ReadRetries))
	addField("Relation Cache TTL", ttl(c.RelationCacheTTL))

	return sb.String()
}
