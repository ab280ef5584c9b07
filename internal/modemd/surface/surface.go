// Package surface implements the ExternalSurface adapter (spec.md §6):
// the interface translating Modem state and lifecycle events into
// bus-facing object-manager signals. spec.md §1 scopes the actual bus
// dispatch (D-Bus, gRPC, whatever) out of this exercise; only the
// interface contract is specified, grounded on mm-manager.h's
// property/signal surface shape from original_source/.
package surface

import (
	"sync"

	"github.com/xx25/cellmodemd/internal/modemd/modem"
)

// Properties is the snapshot of exported modem properties (spec.md §6).
type Properties struct {
	State               modem.State
	Valid               bool
	MasterDevice        string
	Driver              string
	Plugin              string
	EquipmentIdentifier string
	DeviceIdentifier    string
	UnlockRequired      string
	UnlockRetries       int
	PinRetryCounts      modem.PinRetryCounts
	HwVid               string
	HwPid               string
	NetworkTimezone     map[string]int
}

// Snapshot reads m's current properties into a Properties value.
func Snapshot(m *modem.Modem) Properties {
	id := m.Identity()
	return Properties{
		State:               m.State(),
		Valid:                m.Valid(),
		MasterDevice:        id.PhysicalDevicePath,
		Driver:              id.Driver,
		Plugin:              id.PluginName,
		EquipmentIdentifier: m.EquipmentIdentifier(),
		DeviceIdentifier:    m.DeviceIdentifier(),
		UnlockRequired:      m.UnlockRequired(),
		UnlockRetries:       m.UnlockRetries(),
		PinRetryCounts:      m.PinRetryCounts(),
		HwVid:               id.VendorID,
		HwPid:               id.ProductID,
		NetworkTimezone:     m.NetworkTimezone(),
	}
}

// StateChangedSignal mirrors modem.StateChange for the exported bus
// signal (spec.md §6: "StateChanged(old, new, reason)").
type StateChangedSignal struct {
	MasterDevice string
	Old          modem.State
	New          modem.State
	Reason       string
}

// PropertiesChangedSignal mirrors spec.md §6's "PropertiesChanged
// (interface, changed-properties, invalidated-properties)". Changed
// carries the new property values; Invalidated names properties the
// observer should treat as stale without a value (e.g. NetworkTimezone
// cleared by a PollScheduler exhaustion).
type PropertiesChangedSignal struct {
	MasterDevice string
	Interface    string
	Changed      map[string]interface{}
	Invalidated  []string
}

// Sink receives the signals an ExternalSurface emits. The daemon wires
// a real Sink to whatever bus transport it chooses; tests use a
// recording Sink of their own.
type Sink interface {
	StateChanged(StateChangedSignal)
	PropertiesChanged(PropertiesChangedSignal)
}

// Surface adapts one Modem's lifecycle callback into Sink signals
// (spec.md §6). It is the only place that knows how to translate an
// internal modem.StateChange into the externally visible shape.
type Surface struct {
	sink         Sink
	masterDevice string
}

// Attach returns a Surface that emits onto sink for the modem at
// masterDevice. It does not hook into a Modem itself: the caller
// forwards state changes by invoking NotifyStateChange, e.g. from a
// modem.WithOnStateChange callback.
func Attach(masterDevice string, sink Sink) *Surface {
	return &Surface{sink: sink, masterDevice: masterDevice}
}

// NotifyStateChange forwards a modem.StateChange as a StateChangedSignal.
func (s *Surface) NotifyStateChange(sc modem.StateChange) {
	s.sink.StateChanged(StateChangedSignal{
		MasterDevice: s.masterDevice,
		Old:          sc.Old,
		New:          sc.New,
		Reason:       sc.Reason,
	})
}

// NotifyTimezoneChanged reports a PollScheduler timezone update: either
// a populated map (Changed) or an empty one, which is surfaced as an
// Invalidated property per spec.md §8 scenario 6 ("retry budget
// exhausted; NetworkTimezone property is invalidated, not set to an
// empty map").
func (s *Surface) NotifyTimezoneChanged(tz map[string]int) {
	if len(tz) == 0 {
		s.sink.PropertiesChanged(PropertiesChangedSignal{
			MasterDevice: s.masterDevice,
			Interface:    "org.freedesktop.ModemManager1.Modem.Time",
			Invalidated:  []string{"NetworkTimezone"},
		})
		return
	}
	s.sink.PropertiesChanged(PropertiesChangedSignal{
		MasterDevice: s.masterDevice,
		Interface:    "org.freedesktop.ModemManager1.Modem.Time",
		Changed:      map[string]interface{}{"NetworkTimezone": tz},
	})
}

// Root is the object-manager-level surface (spec.md §6: root-object
// methods ScanDevices()/SetLogging(level), independent of any single
// modem).
type Root struct {
	mu         sync.Mutex
	scanFunc   func()
	logLevel   string
	setLogging func(level string)
}

// NewRoot builds a Root surface. scanFunc is invoked by ScanDevices
// (normally a re-trigger of udev enumeration); setLogging is invoked
// by SetLogging with the requested level.
func NewRoot(scanFunc func(), setLogging func(level string)) *Root {
	return &Root{scanFunc: scanFunc, setLogging: setLogging, logLevel: "info"}
}

// ScanDevices re-triggers device discovery (spec.md §6).
func (r *Root) ScanDevices() {
	if r.scanFunc != nil {
		r.scanFunc()
	}
}

// SetLogging changes the daemon's log level at runtime (spec.md §6).
func (r *Root) SetLogging(level string) {
	r.mu.Lock()
	r.logLevel = level
	r.mu.Unlock()
	if r.setLogging != nil {
		r.setLogging(level)
	}
}

// LogLevel returns the most recently requested log level.
func (r *Root) LogLevel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logLevel
}
