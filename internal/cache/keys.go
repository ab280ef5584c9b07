package cache

import (
	"fmt"
	"strings"
)

// KeyGenerator builds namespaced badger keys for the daemon's persistent
// probe cache. Every key is rooted at a configurable prefix so a single
// badger instance could in principle host other state without collision.
type KeyGenerator struct {
	Prefix string
}

// NewKeyGenerator creates a new key generator with the given prefix.
func NewKeyGenerator(prefix string) *KeyGenerator {
	if prefix == "" {
		prefix = "cellmodemd"
	}
	return &KeyGenerator{Prefix: prefix}
}

// ProbeResultKey addresses a cached ProbeResult, keyed by physical-device
// path so re-plugging the same hardware reuses the prior classification
// instead of re-running the probe dialogue.
func (kg *KeyGenerator) ProbeResultKey(physicalDevicePath string) string {
	return fmt.Sprintf("%s:probe:%s", kg.Prefix, physicalDevicePath)
}

// DeviceIdentifierKey addresses a cached DeviceIdentifier for a physical
// device. The daemon does not read or write this key.
func (kg *KeyGenerator) DeviceIdentifierKey(physicalDevicePath string) string {
	return fmt.Sprintf("%s:devid:%s", kg.Prefix, physicalDevicePath)
}

// PluginGrabKey addresses a cached name of the plugin that won the grab
// vote for a physical device. The daemon does not read or write this
// key; every reappearance re-runs the vote.
func (kg *KeyGenerator) PluginGrabKey(physicalDevicePath string) string {
	return fmt.Sprintf("%s:plugin:%s", kg.Prefix, physicalDevicePath)
}

// AllPattern returns a prefix pattern matching every key this generator
// produces, for bulk invalidation.
func (kg *KeyGenerator) AllPattern() string {
	return fmt.Sprintf("%s:*", kg.Prefix)
}

// ProbePattern matches only cached probe results, for invalidating
// classifications without dropping device-identifier/plugin-grab memory.
func (kg *KeyGenerator) ProbePattern() string {
	return fmt.Sprintf("%s:probe:*", kg.Prefix)
}

// ValidateKey checks if a key follows the expected namespaced format.
func (kg *KeyGenerator) ValidateKey(key string) bool {
	return strings.HasPrefix(key, kg.Prefix+":")
}
