package plugin

import (
	"context"
	"testing"

	"github.com/xx25/cellmodemd/internal/modemd/port"
	"github.com/xx25/cellmodemd/internal/modemd/probe"
)

func TestWithVendorFilterRejectsUnlistedVendor(t *testing.T) {
	g := NewGeneric()
	restricted := WithVendorFilter(g, []string{"1410"})

	p := &port.Port{KernelName: "ttyUSB0", Subsystem: port.SubsystemTTY, VendorID: "05c6"}
	result := &probe.Result{Capabilities: probe.CapGSMAT}

	vote, _ := restricted.SupportsPort(context.Background(), p, nil, result)
	if vote != VoteUnsupported {
		t.Fatalf("vote = %v, want VoteUnsupported for an unlisted vendor", vote)
	}
}

func TestWithVendorFilterAllowsListedVendor(t *testing.T) {
	g := NewGeneric()
	restricted := WithVendorFilter(g, []string{"1410"})

	p := &port.Port{KernelName: "ttyUSB0", Subsystem: port.SubsystemTTY, VendorID: "1410"}
	result := &probe.Result{Capabilities: probe.CapGSMAT}

	vote, _ := restricted.SupportsPort(context.Background(), p, nil, result)
	if vote != VoteSupported {
		t.Fatalf("vote = %v, want VoteSupported for a listed vendor", vote)
	}
}

func TestWithVendorFilterEmptyListLeavesPluginUnchanged(t *testing.T) {
	g := NewGeneric()
	if WithVendorFilter(g, nil) != Plugin(g) {
		t.Fatal("expected WithVendorFilter with an empty list to return the plugin unchanged")
	}
}

func TestWithVendorFilterCaseInsensitive(t *testing.T) {
	g := NewGeneric()
	restricted := WithVendorFilter(g, []string{"12D1"})

	p := &port.Port{KernelName: "ttyUSB0", Subsystem: port.SubsystemTTY, VendorID: "12d1"}
	result := &probe.Result{Capabilities: probe.CapGSMAT}

	vote, _ := restricted.SupportsPort(context.Background(), p, nil, result)
	if vote != VoteSupported {
		t.Fatalf("vote = %v, want VoteSupported", vote)
	}
}
