package plugin

import (
	"context"

	"github.com/xx25/cellmodemd/internal/modemd/modemerr"
	"github.com/xx25/cellmodemd/internal/modemd/port"
	"github.com/xx25/cellmodemd/internal/modemd/probe"
)

// Generic is the fallback plugin with no vid/pid restriction, grounded
// on mm-plugin-generic.c: any tty port with a non-zero probed
// capability level is supported, at the level probe.Result.Level()
// derives from the bitset (graded per capability, not a single flat
// level).
type Generic struct{}

// NewGeneric constructs the generic fallback plugin.
func NewGeneric() *Generic { return &Generic{} }

func (g *Generic) Name() string                            { return "generic" }
func (g *Generic) Subsystems() []port.Subsystem            { return []port.Subsystem{port.SubsystemTTY} }
func (g *Generic) VidPids() []VidPid                       { return nil }
func (g *Generic) VendorFilters() []VendorProductFilter    { return nil }
func (g *Generic) AllowedSingleAT() bool                   { return false }

func (g *Generic) SupportsPort(ctx context.Context, p *port.Port, existing *Existing, result *probe.Result) (Vote, int) {
	if result == nil {
		return VoteInProgress, 0
	}
	level := result.Level()
	if level == 0 {
		return VoteUnsupported, 0
	}
	return VoteSupported, level
}

func (g *Generic) GrabPort(ctx context.Context, p *port.Port, existing *Existing, result *probe.Result) (port.Kind, error) {
	if result == nil {
		return port.KindUnknown, modemerr.New(modemerr.UnsupportedPort, "no probe result available")
	}
	switch {
	case result.Has(probe.CapGSMAT):
		return port.KindAT, nil
	case result.Has(probe.CapCDMAIS707A), result.Has(probe.CapCDMAIS707P),
		result.Has(probe.CapCDMAIS856), result.Has(probe.CapCDMAIS856A):
		return port.KindAT, nil
	case result.Has(probe.CapQCDM):
		return port.KindQCDM, nil
	default:
		return port.KindUnknown, modemerr.New(modemerr.UnsupportedPort, "no recognized capability")
	}
}
