package modem

import (
	"context"
	"strings"
	"time"

	"github.com/xx25/cellmodemd/internal/modemd/modemerr"
)

const guardTimeout = 5 * time.Second

// Enable drives unknown/disabled → enabling → enabled. The guard
// checks SIM lock state via AT+CPIN?; a locked SIM jumps back to
// `disabled` with SimLocked (a fatal guard, spec.md §4.6). On success
// it runs the vendor CustomInit hook (if any), then on first entry to
// `enabled` fans out the card-info queries (spec.md §4.7).
func (m *Modem) Enable(ctx context.Context, q Queue) error {
	if err := m.transition([]State{StateUnknown, StateDisabled}, StateEnabling, "enable"); err != nil {
		return err
	}

	locked, facility, err := checkSIMLock(ctx, q)
	if err != nil {
		m.transition([]State{StateEnabling}, StateDisabled, "enable-guard-failed")
		return err
	}
	if locked {
		m.setUnlockState(facility, m.PinRetryCounts())
		m.transition([]State{StateEnabling}, StateDisabled, "sim-locked")
		return modemerr.New(modemerr.SimLocked, "SIM requires "+facility)
	}
	m.setUnlockState("", m.PinRetryCounts())

	if m.hooks.CustomInit != nil {
		if err := m.hooks.CustomInit(ctx, q); err != nil {
			m.transition([]State{StateEnabling}, StateDisabled, "custom-init-failed")
			return modemerr.Wrap(modemerr.ProtocolReject, "custom init", err)
		}
	}

	if err := m.transition([]State{StateEnabling}, StateEnabled, "enabled"); err != nil {
		return err
	}

	m.fetchCardInfo(ctx, q)
	return nil
}

// checkSIMLock issues AT+CPIN? and classifies the response, grounded
// on mm-modem-base.c's unlock_required/pin_retry_counts shape. "READY"
// means unlocked; any other non-empty facility name (SIM PIN, SIM PUK,
// ...) means locked pending that facility.
func checkSIMLock(ctx context.Context, q Queue) (locked bool, facility string, err error) {
	resp, err := q.Send(ctx, "AT+CPIN?", guardTimeout)
	if err != nil {
		if modemerr.Is(err, modemerr.ProtocolReject) {
			return false, "", nil
		}
		return false, "", err
	}
	facility = extractCPINFacility(resp)
	if facility == "" || facility == "READY" {
		return false, "", nil
	}
	return true, facility, nil
}

func extractCPINFacility(resp string) string {
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "+CPIN:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "+CPIN:"))
		}
	}
	return strings.TrimSpace(resp)
}

// StartSearch drives enabled → searching, the start of network
// attachment.
func (m *Modem) StartSearch() error {
	return m.transition([]State{StateEnabled}, StateSearching, "searching")
}

// MarkRegistered completes searching → registered. No task in the
// daemon calls StartSearch or MarkRegistered; callers drive them.
func (m *Modem) MarkRegistered() error {
	return m.transition([]State{StateSearching}, StateRegistered, "registered")
}

// Connect drives registered → connecting → connected.
func (m *Modem) Connect(ctx context.Context, q Queue) error {
	if err := m.transition([]State{StateRegistered}, StateConnecting, "connecting"); err != nil {
		return err
	}
	if _, err := q.Send(ctx, "ATD*99#", guardTimeout); err != nil {
		m.transition([]State{StateConnecting}, StateRegistered, "connect-failed")
		return modemerr.Wrap(modemerr.ProtocolReject, "connect", err)
	}
	return m.transition([]State{StateConnecting}, StateConnected, "connected")
}

// Disconnect rolls connected back to registered, the inverse of
// Connect, without powering down the radio.
func (m *Modem) Disconnect(ctx context.Context, q Queue) error {
	if err := m.transition([]State{StateConnected}, StateRegistered, "disconnect"); err != nil {
		return err
	}
	_, _ = q.Send(ctx, "ATH", guardTimeout)
	return nil
}

// Disable drains in-flight commands and powers down the radio,
// reachable from any stable non-disabled state (spec.md §4.6 diagram:
// every post-enable state has a disabling edge back to disabled).
func (m *Modem) Disable(ctx context.Context, q Queue) error {
	from := []State{StateEnabled, StateSearching, StateRegistered, StateConnecting, StateConnected}
	if err := m.transition(from, StateDisabling, "disable"); err != nil {
		return err
	}

	if m.hooks.CustomDisconnect != nil {
		_ = m.hooks.CustomDisconnect(ctx, q)
	}
	_, _ = q.Send(ctx, "ATH", guardTimeout)

	return m.transition([]State{StateDisabling}, StateDisabled, "disabled")
}
