package modem

import (
	"context"
	"testing"
	"time"

	"github.com/xx25/cellmodemd/internal/modemd/assembly"
	"github.com/xx25/cellmodemd/internal/modemd/modemerr"
	"github.com/xx25/cellmodemd/internal/modemd/port"
)

type fakeQueue struct {
	responses    map[string]string
	unresponsive chan struct{}
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		responses:    make(map[string]string),
		unresponsive: make(chan struct{}),
	}
}

func (f *fakeQueue) Send(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if resp, ok := f.responses[cmd]; ok {
		return resp, nil
	}
	return "", modemerr.New(modemerr.ProtocolReject, "ERROR")
}

func (f *fakeQueue) Unresponsive() <-chan struct{} { return f.unresponsive }

func testModem() *Modem {
	roles := assembly.Roles{Primary: &port.Port{KernelName: "ttyUSB0", Kind: port.KindAT}}
	return New(Identity{PhysicalDevicePath: "/sys/dev/1", VendorID: "12d1", ProductID: "1506"}, roles)
}

func TestEnableFromDisabled(t *testing.T) {
	m := testModem()
	m.state = StateDisabled
	q := newFakeQueue()
	q.responses["AT+CPIN?"] = "+CPIN: READY\nOK"
	q.responses["AT+GMI"] = "Acme\nOK"
	q.responses["AT+GMM"] = "Widget\nOK"

	if err := m.Enable(context.Background(), q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State() != StateEnabled {
		t.Fatalf("state = %v, want enabled", m.State())
	}
}

func TestEnableSimLockedJumpsToDisabled(t *testing.T) {
	m := testModem()
	q := newFakeQueue()
	q.responses["AT+CPIN?"] = "+CPIN: SIM PIN\nOK"

	err := m.Enable(context.Background(), q)
	if !modemerr.Is(err, modemerr.SimLocked) {
		t.Fatalf("expected SimLocked, got %v", err)
	}
	if m.State() != StateDisabled {
		t.Fatalf("state = %v, want disabled", m.State())
	}
	if got := m.UnlockRequired(); got != "SIM PIN" {
		t.Fatalf("UnlockRequired = %q, want %q", got, "SIM PIN")
	}
}

func TestFullLifecycleToConnected(t *testing.T) {
	m := testModem()
	q := newFakeQueue()
	q.responses["AT+CPIN?"] = "+CPIN: READY\nOK"
	q.responses["ATD*99#"] = "CONNECT"

	if err := m.Enable(context.Background(), q); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := m.StartSearch(); err != nil {
		t.Fatalf("start search: %v", err)
	}
	if err := m.MarkRegistered(); err != nil {
		t.Fatalf("mark registered: %v", err)
	}
	if err := m.Connect(context.Background(), q); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if m.State() != StateConnected {
		t.Fatalf("state = %v, want connected", m.State())
	}

	if err := m.Disable(context.Background(), q); err != nil {
		t.Fatalf("disable from connected: %v", err)
	}
	if m.State() != StateDisabled {
		t.Fatalf("state = %v, want disabled", m.State())
	}
}

func TestInvalidateForcesSyntheticDisabled(t *testing.T) {
	m := testModem()
	q := newFakeQueue()
	q.responses["AT+CPIN?"] = "+CPIN: READY\nOK"

	if err := m.Enable(context.Background(), q); err != nil {
		t.Fatalf("enable: %v", err)
	}

	var got StateChange
	m.onStateChange = func(sc StateChange) { got = sc }
	m.Invalidate("unresponsive")

	if m.Valid() {
		t.Fatal("expected valid=false after Invalidate")
	}
	if m.State() != StateDisabled {
		t.Fatalf("state = %v, want disabled", m.State())
	}
	if got.New != StateDisabled || got.Reason != "unresponsive" {
		t.Fatalf("unexpected state change observed: %+v", got)
	}

	// second call is a no-op
	m.Invalidate("something-else")
	if m.InvalidReason() != "unresponsive" {
		t.Fatalf("expected first reason to stick, got %q", m.InvalidReason())
	}
}

func TestWatchWatchdogInvalidatesOnUnresponsive(t *testing.T) {
	m := testModem()
	q := newFakeQueue()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.WatchWatchdog(ctx, q)

	close(q.unresponsive)

	deadline := time.After(time.Second)
	for m.Valid() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for watchdog invalidation")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCardInfoPrefers3GPPVariant(t *testing.T) {
	m := testModem()
	q := newFakeQueue()
	q.responses["AT+CPIN?"] = "+CPIN: READY\nOK"
	q.responses["AT+GMM"] = "X\nOK"
	q.responses["AT+CGMM"] = "Y\nOK"

	if err := m.Enable(context.Background(), q); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if got := m.CardInfo().Model; got != "Y" {
		t.Fatalf("Model = %q, want %q (3GPP variant preferred)", got, "Y")
	}
}

func TestCardInfoFallsBackToV25terWhen3GPPEmpty(t *testing.T) {
	m := testModem()
	q := newFakeQueue()
	q.responses["AT+CPIN?"] = "+CPIN: READY\nOK"
	q.responses["AT+GMM"] = "X\nOK"

	if err := m.Enable(context.Background(), q); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if got := m.CardInfo().Model; got != "X" {
		t.Fatalf("Model = %q, want %q (fallback to V.25ter)", got, "X")
	}
}

func TestDeviceIdentifierDeterministic(t *testing.T) {
	m1 := testModem()
	m2 := testModem()
	q := newFakeQueue()
	q.responses["AT+CPIN?"] = "+CPIN: READY\nOK"
	q.responses["ATI"] = "modelX\nOK"
	q.responses["AT+GSN"] = "SN123\nOK"

	ctx := context.Background()
	if err := m1.Enable(ctx, q); err != nil {
		t.Fatalf("enable m1: %v", err)
	}
	if err := m2.Enable(ctx, q); err != nil {
		t.Fatalf("enable m2: %v", err)
	}

	id1 := m1.DeviceIdentifier()
	id2 := m2.DeviceIdentifier()
	if id1 != id2 {
		t.Fatalf("expected identical identity tuples to hash equal, got %q vs %q", id1, id2)
	}
	if id1 == "" {
		t.Fatal("expected non-empty device identifier")
	}
}
