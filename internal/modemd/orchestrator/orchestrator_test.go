package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xx25/cellmodemd/internal/modemd/command"
	"github.com/xx25/cellmodemd/internal/modemd/modem"
	"github.com/xx25/cellmodemd/internal/modemd/plugin"
	"github.com/xx25/cellmodemd/internal/modemd/port"
	"github.com/xx25/cellmodemd/internal/modemd/probe"
	"github.com/xx25/cellmodemd/internal/modemd/surface"
)

// fakeStream is a minimal command.Stream: Write remembers the last
// command; Subscribe replies with the canned response for that command,
// if any, then blocks until ctx is cancelled.
type fakeStream struct {
	mu        sync.Mutex
	responses map[string]string
	lastCmd   string
}

func (f *fakeStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.lastCmd = strings.TrimRight(string(p), "\r")
	f.mu.Unlock()
	return len(p), nil
}

func (f *fakeStream) Subscribe(ctx context.Context) (<-chan []byte, <-chan error, error) {
	data := make(chan []byte, 1)
	errs := make(chan error)
	f.mu.Lock()
	resp := f.responses[f.lastCmd]
	f.mu.Unlock()
	go func() {
		if resp != "" {
			select {
			case data <- []byte(resp):
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return data, errs, nil
}

// fakeOpener hands out one fakeStream per kernel port name.
type fakeOpener struct {
	streams map[string]*fakeStream
}

func (o *fakeOpener) Open(p *port.Port) (command.Stream, error) {
	return o.streams[p.KernelName], nil
}

type recordingSink struct {
	mu     sync.Mutex
	states []surface.StateChangedSignal
}

func (s *recordingSink) StateChanged(sc surface.StateChangedSignal) {
	s.mu.Lock()
	s.states = append(s.states, sc)
	s.mu.Unlock()
}
func (s *recordingSink) PropertiesChanged(surface.PropertiesChangedSignal) {}

func (s *recordingSink) snapshot() []surface.StateChangedSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]surface.StateChangedSignal, len(s.states))
	copy(out, s.states)
	return out
}

func atResponses() map[string]string {
	return map[string]string{
		"AT":       "OK\r\n",
		"AT+CGMR":  "GSM,1\r\nOK\r\n",
		"AT$QCDMG": "ERROR\r\n",
		"AT+CAD?":  "ERROR\r\n",
		"AT+CPIN?": "+CPIN: READY\r\nOK\r\n",
		"AT+GMI":   "Acme\r\nOK\r\n",
		"AT+GMM":   "Widget\r\nOK\r\n",
		"AT+GMR":   "1.0\r\nOK\r\n",
		"AT+CGMI":  "Acme\r\nOK\r\n",
		"AT+CGMM":  "Widget2\r\nOK\r\n",
		"AT+CGMR":  "1.1\r\nOK\r\n",
		"ATI":      "modelX\r\nOK\r\n",
		"ATI1":     "modelX1\r\nOK\r\n",
		"AT+GSN":   "SN123\r\nOK\r\n",
		"AT+CGSN":  "SN123\r\nOK\r\n",
	}
}

func waitForState(t *testing.T, sink *recordingSink, want modem.State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		for _, sc := range sink.snapshot() {
			if sc.New == want {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %v; got %+v", want, sink.snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPipelineAssemblesAndEnablesModem(t *testing.T) {
	opener := &fakeOpener{streams: map[string]*fakeStream{
		"ttyUSB0": {responses: atResponses()},
	}}
	sink := &recordingSink{}
	registry := plugin.NewRegistry(genericPluginForTest{})
	prober := probe.NewProber(nil, nil)

	p := New(registry, prober, opener, sink, 0)

	ports := []*port.Port{
		{KernelName: "ttyUSB0", Subsystem: port.SubsystemTTY, DeviceFile: "/dev/ttyUSB0", PhysicalDevicePath: "/sys/dev/1", Flags: port.RolePrimary},
	}
	p.HandleAdd(context.Background(), "/sys/dev/1", ports)

	waitForState(t, sink, modem.StateEnabled, time.Second)

	p.mu.Lock()
	_, stillActive := p.active["/sys/dev/1"]
	p.mu.Unlock()
	if !stillActive {
		t.Fatal("expected an active modem to be tracked after HandleAdd")
	}
}

func TestPipelineHandleRemoveInvalidatesAndClearsActive(t *testing.T) {
	opener := &fakeOpener{streams: map[string]*fakeStream{
		"ttyUSB0": {responses: atResponses()},
	}}
	sink := &recordingSink{}
	registry := plugin.NewRegistry(genericPluginForTest{})
	prober := probe.NewProber(nil, nil)

	p := New(registry, prober, opener, sink, 0)

	ports := []*port.Port{
		{KernelName: "ttyUSB0", Subsystem: port.SubsystemTTY, DeviceFile: "/dev/ttyUSB0", PhysicalDevicePath: "/sys/dev/1", Flags: port.RolePrimary},
	}
	p.HandleAdd(context.Background(), "/sys/dev/1", ports)
	waitForState(t, sink, modem.StateEnabled, time.Second)

	p.HandleRemove(context.Background(), "/sys/dev/1", nil)

	p.mu.Lock()
	_, stillActive := p.active["/sys/dev/1"]
	p.mu.Unlock()
	if stillActive {
		t.Fatal("expected the active modem to be cleared after HandleRemove")
	}
}

func TestParseTimezoneExtractsQuarterHourOffset(t *testing.T) {
	tz := parseTimezone(`+CCLK: "24/07/31,10:00:00+32"` + "\r\nOK\r\n")
	if tz == nil || tz["offset"] != 480 {
		t.Fatalf("parseTimezone = %+v, want offset=480", tz)
	}
}

func TestParseTimezoneNegativeOffset(t *testing.T) {
	tz := parseTimezone(`+CCLK: "24/07/31,10:00:00-20"` + "\r\nOK\r\n")
	if tz == nil || tz["offset"] != -300 {
		t.Fatalf("parseTimezone = %+v, want offset=-300", tz)
	}
}

// genericPluginForTest is a minimal always-AT plugin standing in for
// plugin.Generic, avoiding an import-cycle-free dependency on its exact
// capability-to-Kind mapping.
type genericPluginForTest struct{}

func (genericPluginForTest) Name() string                       { return "generic" }
func (genericPluginForTest) Subsystems() []port.Subsystem        { return []port.Subsystem{port.SubsystemTTY} }
func (genericPluginForTest) VidPids() []plugin.VidPid            { return nil }
func (genericPluginForTest) VendorFilters() []plugin.VendorProductFilter { return nil }
func (genericPluginForTest) AllowedSingleAT() bool               { return false }

func (genericPluginForTest) SupportsPort(ctx context.Context, p *port.Port, existing *plugin.Existing, result *probe.Result) (plugin.Vote, int) {
	if result == nil || result.Level() == 0 {
		return plugin.VoteUnsupported, 0
	}
	return plugin.VoteSupported, result.Level()
}

func (genericPluginForTest) GrabPort(ctx context.Context, p *port.Port, existing *plugin.Existing, result *probe.Result) (port.Kind, error) {
	return port.KindAT, nil
}
