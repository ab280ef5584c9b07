package plugin

import (
	"context"

	"github.com/xx25/cellmodemd/internal/modemd/port"
	"github.com/xx25/cellmodemd/internal/modemd/probe"
)

// Novatel is a declarative, vid/pid-restricted plugin grounded on
// mm-plugin-novatel.c (_examples/original_source/plugins/novatel/mm-plugin-novatel.c):
// subsystems tty and net, a single allowed product (Novatel E362,
// 0x1410:0x9010), and allowed_single_at set — this plugin refuses to
// manage more than one AT port per modem.
type Novatel struct{}

// NewNovatel constructs the Novatel plugin with its declarative filter
// table.
func NewNovatel() *Novatel { return &Novatel{} }

func (n *Novatel) Name() string { return "novatel" }

func (n *Novatel) Subsystems() []port.Subsystem {
	return []port.Subsystem{port.SubsystemTTY, port.SubsystemNet}
}

func (n *Novatel) VidPids() []VidPid {
	return []VidPid{{VendorID: "1410", ProductID: "9010"}}
}

func (n *Novatel) VendorFilters() []VendorProductFilter { return nil }

func (n *Novatel) AllowedSingleAT() bool { return true }

func (n *Novatel) SupportsPort(ctx context.Context, p *port.Port, existing *Existing, result *probe.Result) (Vote, int) {
	if p.Subsystem == port.SubsystemNet {
		return VoteSupported, 5
	}
	if result == nil {
		return VoteInProgress, 0
	}
	if result.Level() == 0 {
		return VoteUnsupported, 0
	}
	// vid/pid match already narrowed candidacy to this device; any
	// non-zero capability on a matching device beats the generic
	// plugin's level by one since this is a known-good vendor match.
	return VoteSupported, result.Level() + 1
}

func (n *Novatel) GrabPort(ctx context.Context, p *port.Port, existing *Existing, result *probe.Result) (port.Kind, error) {
	if p.Subsystem == port.SubsystemNet {
		return port.KindNet, nil
	}
	if result.Has(probe.CapQCDM) && !result.Has(probe.CapGSMAT) {
		return port.KindQCDM, nil
	}
	return port.KindAT, nil
}
