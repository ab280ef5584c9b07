package plugin

import (
	"context"
	"strings"

	"github.com/xx25/cellmodemd/internal/modemd/port"
	"github.com/xx25/cellmodemd/internal/modemd/probe"
)

// vendorRestricted wraps a Plugin, additionally rejecting any port
// whose non-empty VendorID isn't in an operator-supplied allow list
// (ports with no VendorID, i.e. not USB-backed, are not filtered) — the
// config-layer counterpart to a plugin's own hardcoded VidPids/
// VendorFilters (spec.md §4.4's "vendor/product string filters", here
// applied from config.PluginConfig.VendorFilters instead of a
// plugin's built-in table).
type vendorRestricted struct {
	Plugin
	allowed map[string]bool
}

// WithVendorFilter restricts p to ports whose VendorID (lowercase hex,
// no "0x" prefix; compared case-insensitively) appears in
// allowedVendorIDs; ports with an empty VendorID are passed through to
// p. An empty allowedVendorIDs returns p unchanged.
func WithVendorFilter(p Plugin, allowedVendorIDs []string) Plugin {
	if len(allowedVendorIDs) == 0 {
		return p
	}
	allowed := make(map[string]bool, len(allowedVendorIDs))
	for _, v := range allowedVendorIDs {
		allowed[strings.ToLower(v)] = true
	}
	return &vendorRestricted{Plugin: p, allowed: allowed}
}

func (v *vendorRestricted) SupportsPort(ctx context.Context, p *port.Port, existing *Existing, result *probe.Result) (Vote, int) {
	if p.VendorID != "" && !v.allowed[strings.ToLower(p.VendorID)] {
		return VoteUnsupported, 0
	}
	return v.Plugin.SupportsPort(ctx, p, existing, result)
}
