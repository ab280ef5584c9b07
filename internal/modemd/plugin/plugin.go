// Package plugin implements the Plugin contract and PluginRegistry of
// spec.md §4.4: a declarative filter set (subsystems, vid/pid allow
// list, vendor/product string filters, allowed_single_at) plus a
// two-phase supports/grab vote.
//
// Grounded on mm-plugin-generic.c's supports_port/grab_port shape
// (_examples/original_source/plugins/mm-plugin-generic.c) and
// mm-plugin-novatel.c's declarative filter table
// (_examples/original_source/plugins/novatel/mm-plugin-novatel.c).
// The spec places dynamic dispatch for plugins out of scope for a
// loaded-.so ABI (§9 "REDESIGN FLAGS"); a Plugin here is a Go
// interface value registered at build time, not a runtime-loaded
// shared object.
package plugin

import (
	"context"

	"github.com/xx25/cellmodemd/internal/modemd/modemerr"
	"github.com/xx25/cellmodemd/internal/modemd/port"
	"github.com/xx25/cellmodemd/internal/modemd/probe"
)

// Vote is the outcome of a plugin's supports_port call.
type Vote int

const (
	VoteUnsupported Vote = iota
	VoteInProgress
	VoteSupported
)

// VendorProductFilter narrows a plugin to one vendor's string
// descriptors, independent of the numeric vid/pid allow list
// (spec.md §4.4: "optional (vendor-id, vendor-string, product-string)
// filters").
type VendorProductFilter struct {
	VendorID      string
	VendorString  string
	ProductString string
}

// VidPid is one allowed (vendor, product) pair.
type VidPid struct {
	VendorID  string
	ProductID string
}

// Existing describes the modem-in-progress a port may be added to,
// when a sibling port on the same physical device already grabbed.
// Plugins only need to know whether one exists, which plugin name owns
// it, and how many AT ports it already holds (for AllowedSingleAT
// enforcement); the concrete assembly.Modem type would create an
// import cycle (assembly depends on plugin results), so this is the
// minimal view a Plugin needs.
type Existing struct {
	PluginName string
	// ATPortCount is the number of ports already grabbed as port.KindAT
	// by PluginName for this physical device (spec.md §4.4:
	// "allowed_single_at").
	ATPortCount int
}

// Plugin is the contract every vendor (or the generic fallback)
// implements (spec.md §4.4).
type Plugin interface {
	// Name identifies the plugin; used to break support-level ties in a
	// stable order (spec.md §4.4: "the generic plugin loses all ties").
	Name() string

	// Subsystems lists kernel subsystems this plugin considers, e.g.
	// {"tty"} or {"tty", "net"}. Empty means no restriction.
	Subsystems() []port.Subsystem

	// VidPids lists allowed (vendor, product) pairs; empty means all.
	VidPids() []VidPid

	// VendorFilters lists vendor/product string filters; empty means no
	// restriction beyond VidPids.
	VendorFilters() []VendorProductFilter

	// AllowedSingleAT reports whether this plugin refuses to manage more
	// than one AT port per modem (spec.md §4.4: "allowed_single_at").
	AllowedSingleAT() bool

	// SupportsPort votes on whether this plugin should own p. existing is
	// non-nil when a sibling port already grabbed into a modem this
	// plugin name owns. A plugin needing a probe result it doesn't have
	// returns VoteInProgress; Registry.Vote passes that on to its caller
	// and does not re-run the vote itself.
	SupportsPort(ctx context.Context, p *port.Port, existing *Existing, result *probe.Result) (Vote, int)

	// GrabPort claims p, returning the plugin-assigned port.Kind it
	// should carry (e.g. KindAT, KindQCDM, KindNet). Called only after
	// the registry has picked this plugin as the winner; GrabPort itself
	// never re-derives the vote.
	GrabPort(ctx context.Context, p *port.Port, existing *Existing, result *probe.Result) (port.Kind, error)
}

// candidate pairs a plugin with its vote for one SupportsPort round.
type candidate struct {
	plugin Plugin
	level  int
}

// Registry holds the loaded set of plugins and runs the two-phase vote
// of spec.md §4.4.
type Registry struct {
	plugins []Plugin
}

// NewRegistry creates a Registry over plugins, in priority order for
// ties: the first registered plugin wins a level tie over later ones,
// except the plugin named "generic" which always loses ties regardless
// of registration order (spec.md §4.4: "the generic plugin loses all
// ties").
func NewRegistry(plugins ...Plugin) *Registry {
	return &Registry{plugins: plugins}
}

// Vote runs supports_port across every registered plugin and picks a
// winner: highest support level, ties broken by registration order,
// with the generic plugin always losing ties. Returns VoteInProgress
// if any plugin that would otherwise be in contention needs a probe
// result it doesn't have; VoteUnsupported if no plugin supports p at
// all.
func (r *Registry) Vote(ctx context.Context, p *port.Port, existing *Existing, result *probe.Result) (Vote, Plugin) {
	var inProgress bool
	var candidates []candidate

	for _, pl := range r.plugins {
		if !subsystemAllowed(pl, p.Subsystem) {
			continue
		}
		if !vidPidAllowed(pl, p.VendorID, p.ProductID) {
			continue
		}
		vote, level := pl.SupportsPort(ctx, p, existing, result)
		switch vote {
		case VoteInProgress:
			inProgress = true
		case VoteSupported:
			candidates = append(candidates, candidate{plugin: pl, level: level})
		}
	}

	if len(candidates) == 0 {
		if inProgress {
			return VoteInProgress, nil
		}
		return VoteUnsupported, nil
	}

	winner := candidates[0]
	for _, c := range candidates[1:] {
		if c.level > winner.level {
			winner = c
			continue
		}
		if c.level == winner.level && winner.plugin.Name() == "generic" && c.plugin.Name() != "generic" {
			winner = c
		}
	}
	return VoteSupported, winner.plugin
}

// Grab runs GrabPort for the winning plugin after Vote has picked it.
// It centrally enforces two invariants no individual Plugin
// implementation is trusted to self-police: spec.md §3's "a port
// classified with probe level 0 shall not be grabbed", and spec.md
// §4.4's "allowed_single_at" — a plugin that returns true from
// AllowedSingleAT refuses a second AT port once it already holds one
// on the same physical device.
func (r *Registry) Grab(ctx context.Context, p *port.Port, winner Plugin, existing *Existing, result *probe.Result) (port.Kind, error) {
	if result != nil && result.Level() == 0 {
		return port.KindUnknown, modemerr.New(modemerr.UnsupportedPort, "probe level 0: port may not be grabbed")
	}

	kind, err := winner.GrabPort(ctx, p, existing, result)
	if err != nil {
		return port.KindUnknown, err
	}
	if kind == port.KindAT && winner.AllowedSingleAT() && existing != nil && existing.PluginName == winner.Name() && existing.ATPortCount > 0 {
		return port.KindUnknown, modemerr.New(modemerr.UnsupportedPort, "plugin "+winner.Name()+" does not allow a second AT port per modem")
	}
	return kind, nil
}

func subsystemAllowed(pl Plugin, s port.Subsystem) bool {
	subs := pl.Subsystems()
	if len(subs) == 0 {
		return true
	}
	for _, allowed := range subs {
		if allowed == s {
			return true
		}
	}
	return false
}

func vidPidAllowed(pl Plugin, vendorID, productID string) bool {
	pairs := pl.VidPids()
	if len(pairs) == 0 {
		return true
	}
	for _, vp := range pairs {
		if vp.VendorID == vendorID && vp.ProductID == productID {
			return true
		}
	}
	return false
}
