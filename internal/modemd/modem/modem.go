// Package modem implements the Modem data model and lifecycle state
// machine of spec.md §4.6-§4.7: a coherent per-physical-device object
// assembled from a set of probed, role-assigned ports, driven through
// initialize/enable/connect/disable states, with card-info collection,
// SIM-lock tracking, and a deterministic device identifier.
//
// The state-machine guard shape (attempt a transition, roll back to
// the previous stable state or jump to disabled on a fatal guard) is
// grounded on the teacher's former modem.go initModem sequencing
// (ATZ/ATE0/ATV1/ATX4/ATS0 issued in order, bailing to a closed state
// on the first failure); the vendor-override-table shape for
// polymorphism is spec.md §9's explicit design note, with its shape
// grounded on mm-generic-gsm.c's per-vendor hook pointers in
// original_source/.
package modem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xx25/cellmodemd/internal/modemd/assembly"
	"github.com/xx25/cellmodemd/internal/modemd/modemerr"
)

// Queue is the subset of command.Queue the lifecycle needs from the
// primary port's command queue. A local interface keeps this package
// decoupled from the concrete portstream-backed type, matching the
// probe package's own Queue interface.
type Queue interface {
	Send(ctx context.Context, cmd string, timeout time.Duration) (string, error)
	Unresponsive() <-chan struct{}
}

// Hooks is the vendor-override table spec.md §9 calls for: "a Modem is
// a value with fixed fields plus a vendor-override table of function
// pointers/closures ... for hooks the generic code calls." Every field
// may be nil, meaning "use the generic behavior."
type Hooks struct {
	// CustomInit runs after the generic SIM-unlock guard succeeds and
	// before the modem enters `enabled`.
	CustomInit func(ctx context.Context, q Queue) error
	// ParseUnsolicited gives a vendor plugin first refusal on an
	// unsolicited response line; returning true means it handled the
	// line and the generic parser should not also process it.
	ParseUnsolicited func(line string) (handled bool)
	// CustomDisconnect runs during the `disabling` drain, before the
	// generic radio power-down.
	CustomDisconnect func(ctx context.Context, q Queue) error
}

// Identity is the fixed, assembly-time identity of a Modem (spec.md
// §3: "physical-device path (identity), vendor/product, driver,
// plugin-name").
type Identity struct {
	PhysicalDevicePath string
	VendorID           string
	ProductID          string
	Driver             string
	PluginName         string
}

// StateChange is reported to an observer (normally the ExternalSurface
// adapter's StateChanged signal) on every transition, including
// synthetic invalidation transitions.
type StateChange struct {
	Old    State
	New    State
	Reason string
}

// Modem is a coherent, single-physical-device modem object. All
// mutation goes through its exported methods, which hold mu for the
// duration of any state read/write (spec.md §5: "no mutation of shared
// modem state may straddle a suspension point without re-validating").
type Modem struct {
	mu sync.Mutex

	identity Identity
	roles    assembly.Roles
	hooks    Hooks

	state         State
	valid         bool
	invalidReason string

	manufacturer, model, revision string
	rawATI, rawATI1, rawGSN       string
	cardInfo                      CardInfo
	cardInfoDone                  bool

	equipmentIdentifier string
	unlockRequired       string
	pinRetryCounts       PinRetryCounts
	unlockRetries        int

	networkTimezone map[string]int

	onStateChange func(StateChange)
}

// Option configures a Modem at construction time.
type Option func(*Modem)

// WithHooks installs the vendor-override table.
func WithHooks(h Hooks) Option { return func(m *Modem) { m.hooks = h } }

// WithOnStateChange installs the state-change observer.
func WithOnStateChange(f func(StateChange)) Option {
	return func(m *Modem) { m.onStateChange = f }
}

// New assembles a Modem from an Identity and a completed role
// assignment (assembly.AssignRoles output). It starts in state
// `unknown`, valid, per spec.md §3 lifecycle: "a Modem exists from the
// moment at least one supported port is grabbed."
func New(identity Identity, roles assembly.Roles, opts ...Option) *Modem {
	m := &Modem{
		identity:       identity,
		roles:          roles,
		state:          StateUnknown,
		valid:          true,
		pinRetryCounts: make(PinRetryCounts),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State reports the current lifecycle state.
func (m *Modem) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Valid reports the orthogonal valid flag (spec.md §4.6).
func (m *Modem) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid
}

// Identity returns the modem's fixed identity.
func (m *Modem) Identity() Identity { return m.identity }

// Roles returns the modem's assigned ports.
func (m *Modem) Roles() assembly.Roles { return m.roles }

// DeviceIdentifier computes spec.md §3's deterministic hash: "given
// (vid, pid, ATI, ATI1, GSN, revision, model, manf); recomputed
// whenever any input changes." It is cheap to call repeatedly; no
// caching is needed beyond fetchCardInfo's own memoization of its
// inputs.
func (m *Modem) DeviceIdentifier() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return computeDeviceIdentifier(
		m.identity.VendorID, m.identity.ProductID,
		m.rawATI, m.rawATI1, m.rawGSN,
		m.revision, m.model, m.manufacturer,
	)
}

// UnlockRequired, PinRetryCounts, and UnlockRetries expose the SIM-lock
// facility tracking spec.md §3 and §6 require on the external surface.
func (m *Modem) UnlockRequired() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlockRequired
}

func (m *Modem) PinRetryCounts() PinRetryCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(PinRetryCounts, len(m.pinRetryCounts))
	for k, v := range m.pinRetryCounts {
		out[k] = v
	}
	return out
}

func (m *Modem) UnlockRetries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlockRetries
}

// EquipmentIdentifier returns the raw serial/IMEI query response
// (AT+GSN), exposed on the external surface as EquipmentIdentifier
// (spec.md §6).
func (m *Modem) EquipmentIdentifier() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rawGSN
}

// CardInfo returns the manufacturer/model/revision/serial collected by
// Enable's first fan-out, or the zero value if not yet enabled.
func (m *Modem) CardInfo() CardInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cardInfo
}

// NetworkTimezone returns the current timezone property (spec.md §6:
// "map with optional keys offset, dst_offset, leap_seconds"). An empty
// map means unavailable, matching PollScheduler's exhaustion behavior
// (spec.md §4.8, §8 scenario 6).
func (m *Modem) NetworkTimezone() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.networkTimezone))
	for k, v := range m.networkTimezone {
		out[k] = v
	}
	return out
}

// SetNetworkTimezone installs (or clears, with an empty map) the
// timezone property; called by PollScheduler's result handler.
func (m *Modem) SetNetworkTimezone(tz map[string]int) {
	m.mu.Lock()
	m.networkTimezone = tz
	m.mu.Unlock()
}

// transition moves the modem from one of the allowed `from` states to
// `to`, firing the state-change observer. It fails with InvalidState
// if the modem is not currently in one of the allowed states.
func (m *Modem) transition(from []State, to State, reason string) error {
	m.mu.Lock()
	ok := false
	for _, f := range from {
		if m.state == f {
			ok = true
			break
		}
	}
	if !ok {
		cur := m.state
		m.mu.Unlock()
		return modemerr.New(modemerr.InvalidState, fmt.Sprintf("cannot transition to %s from %s", to, cur))
	}
	old := m.state
	m.state = to
	cb := m.onStateChange
	m.mu.Unlock()

	if cb != nil {
		cb(StateChange{Old: old, New: to, Reason: reason})
	}
	return nil
}

// Invalidate sets valid=false and forces a synthetic transition to
// `disabled`, regardless of current state (spec.md §4.6: "on
// valid=false the external observer sees a synthetic transition to
// disabled immediately"). Safe to call more than once; subsequent
// calls are no-ops.
func (m *Modem) Invalidate(reason string) {
	m.mu.Lock()
	if !m.valid {
		m.mu.Unlock()
		return
	}
	m.valid = false
	m.invalidReason = reason
	old := m.state
	m.state = StateDisabled
	cb := m.onStateChange
	m.mu.Unlock()

	if cb != nil && old != StateDisabled {
		cb(StateChange{Old: old, New: StateDisabled, Reason: reason})
	}
}

// InvalidReason returns the reason Invalidate was called with, or ""
// if the modem is still valid.
func (m *Modem) InvalidReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidReason
}

// WatchWatchdog launches a goroutine that invalidates m when q's
// watchdog fires. Per spec.md §7: "Watchdog-triggered invalidation is
// deferred to the next loop tick so that any caller currently holding
// the queue receives its own Timeout before the modem disappears" —
// here modeled as invalidation running on its own goroutine rather
// than inline in the CommandQueue's dispatch path, so a concurrent
// Send's result delivery is never blocked by it. The caller should
// bound its own goroutine's lifetime by cancelling ctx when the port
// is removed.
func (m *Modem) WatchWatchdog(ctx context.Context, q Queue) {
	go func() {
		select {
		case <-q.Unresponsive():
			m.Invalidate("unresponsive")
		case <-ctx.Done():
		}
	}()
}
