package modem

// PinRetryCounts tracks, per SIM facility name, the number of PIN/PUK
// attempts remaining, grounded on mm-modem-base.c's
// mm_modem_base_set_pin_retry_counts (_examples/original_source/src/mm-modem-base.c:448),
// generalized from a GArray of (name, count) pairs to a Go map.
type PinRetryCounts map[string]int

// NotSupportedRetries is the sentinel spec.md §3 calls "or 'not
// supported'" for a facility whose retry count the modem cannot report.
const NotSupportedRetries = -1

// setUnlockState mirrors mm_modem_base_set_unlock_required +
// mm_modem_base_set_pin_retry_counts: unlockRequired names the
// currently-blocking facility ("" if none); counts holds every
// facility's remaining attempts. unlockRetries is derived to satisfy
// spec.md §3's invariant: "For any facility name reported in
// pin_retry_counts, if that facility matches unlock_required, the
// scalar unlock_retries equals that count; otherwise unlock_retries is
// 0 or 'not supported'."
func (m *Modem) setUnlockState(unlockRequired string, counts PinRetryCounts) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unlockRequired = unlockRequired
	m.pinRetryCounts = counts

	if unlockRequired == "" {
		m.unlockRetries = 0
		return
	}
	if count, ok := counts[unlockRequired]; ok {
		m.unlockRetries = count
		return
	}
	m.unlockRetries = NotSupportedRetries
}
