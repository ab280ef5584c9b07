package plugin

import (
	"context"
	"testing"

	"github.com/xx25/cellmodemd/internal/modemd/modemerr"
	"github.com/xx25/cellmodemd/internal/modemd/port"
	"github.com/xx25/cellmodemd/internal/modemd/probe"
)

func TestRegistryVoteUnsupportedWithNoCapability(t *testing.T) {
	r := NewRegistry(NewGeneric())
	p := &port.Port{KernelName: "ttyUSB0", Subsystem: port.SubsystemTTY}
	result := &probe.Result{}

	vote, winner := r.Vote(context.Background(), p, nil, result)
	if vote != VoteUnsupported {
		t.Fatalf("vote = %v, want VoteUnsupported", vote)
	}
	if winner != nil {
		t.Fatalf("expected nil winner, got %v", winner)
	}
}

func TestRegistryVoteInProgressWithoutProbeResult(t *testing.T) {
	r := NewRegistry(NewGeneric())
	p := &port.Port{KernelName: "ttyUSB0", Subsystem: port.SubsystemTTY}

	vote, _ := r.Vote(context.Background(), p, nil, nil)
	if vote != VoteInProgress {
		t.Fatalf("vote = %v, want VoteInProgress", vote)
	}
}

func TestRegistryNovatelBeatsGenericOnMatchingVidPid(t *testing.T) {
	r := NewRegistry(NewGeneric(), NewNovatel())
	p := &port.Port{
		KernelName: "ttyUSB2",
		Subsystem:  port.SubsystemTTY,
		VendorID:   "1410",
		ProductID:  "9010",
	}
	result := &probe.Result{Capabilities: probe.CapGSMAT}

	vote, winner := r.Vote(context.Background(), p, nil, result)
	if vote != VoteSupported {
		t.Fatalf("vote = %v, want VoteSupported", vote)
	}
	if winner.Name() != "novatel" {
		t.Fatalf("winner = %s, want novatel", winner.Name())
	}
}

func TestRegistryGenericWinsWhenVidPidDoesNotMatchNovatel(t *testing.T) {
	r := NewRegistry(NewGeneric(), NewNovatel())
	p := &port.Port{
		KernelName: "ttyUSB0",
		Subsystem:  port.SubsystemTTY,
		VendorID:   "05c6",
		ProductID:  "9premium",
	}
	result := &probe.Result{Capabilities: probe.CapGSMAT}

	vote, winner := r.Vote(context.Background(), p, nil, result)
	if vote != VoteSupported {
		t.Fatalf("vote = %v, want VoteSupported", vote)
	}
	if winner.Name() != "generic" {
		t.Fatalf("winner = %s, want generic (novatel excluded by vid/pid)", winner.Name())
	}
}

func TestRegistryGrabRejectsLevelZero(t *testing.T) {
	r := NewRegistry(NewGeneric())
	p := &port.Port{KernelName: "ttyUSB0", Subsystem: port.SubsystemTTY}
	result := &probe.Result{Capabilities: 0}

	_, err := r.Grab(context.Background(), p, NewGeneric(), nil, result)
	if !modemerr.Is(err, modemerr.UnsupportedPort) {
		t.Fatalf("expected UnsupportedPort, got %v", err)
	}
}

func TestRegistryGrabRejectsSecondATPortWhenAllowedSingleAT(t *testing.T) {
	r := NewRegistry(NewNovatel())
	n := NewNovatel()
	result := &probe.Result{Capabilities: probe.CapGSMAT}

	first := &port.Port{KernelName: "ttyUSB0", Subsystem: port.SubsystemTTY, VendorID: "1410", ProductID: "9010"}
	kind, err := r.Grab(context.Background(), first, n, nil, result)
	if err != nil {
		t.Fatalf("unexpected error on first grab: %v", err)
	}
	if kind != port.KindAT {
		t.Fatalf("kind = %v, want KindAT", kind)
	}

	existing := &Existing{PluginName: n.Name(), ATPortCount: 1}
	second := &port.Port{KernelName: "ttyUSB1", Subsystem: port.SubsystemTTY, VendorID: "1410", ProductID: "9010"}
	_, err = r.Grab(context.Background(), second, n, existing, result)
	if !modemerr.Is(err, modemerr.UnsupportedPort) {
		t.Fatalf("expected UnsupportedPort for a second AT port, got %v", err)
	}
}

func TestRegistryGrabAllowsSecondNetPortWhenAllowedSingleAT(t *testing.T) {
	r := NewRegistry(NewNovatel())
	n := NewNovatel()

	existing := &Existing{PluginName: n.Name(), ATPortCount: 1}
	netPort := &port.Port{KernelName: "wwan0", Subsystem: port.SubsystemNet, VendorID: "1410", ProductID: "9010"}
	kind, err := r.Grab(context.Background(), netPort, n, existing, nil)
	if err != nil {
		t.Fatalf("unexpected error grabbing a net port alongside an existing AT port: %v", err)
	}
	if kind != port.KindNet {
		t.Fatalf("kind = %v, want KindNet", kind)
	}
}

func TestNovatelNetPortGrabsAsKindNet(t *testing.T) {
	n := NewNovatel()
	p := &port.Port{KernelName: "wwan0", Subsystem: port.SubsystemNet, VendorID: "1410", ProductID: "9010"}

	kind, err := n.GrabPort(context.Background(), p, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != port.KindNet {
		t.Fatalf("kind = %v, want KindNet", kind)
	}
}
