package modem

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// computeDeviceIdentifier hashes the identity tuple spec.md §3 names:
// "device_identifier is deterministic given (vid, pid, ATI, ATI1, GSN,
// revision, model, manf); recomputed whenever any input changes."
// Grounded on mm-modem-base.c's mm_create_device_identifier call site
// (_examples/original_source/src/mm-modem-base.c:747); the hash
// algorithm itself isn't present in the filtered original_source
// snapshot, so sha256 over the pipe-joined tuple is used — a
// deterministic, collision-resistant stdlib primitive is the correct
// and only reasonable choice for "hash these strings," so no
// third-party hashing library is warranted here.
func computeDeviceIdentifier(vendorID, productID, ati, ati1, gsn, revision, model, manufacturer string) string {
	parts := []string{vendorID, productID, ati, ati1, gsn, revision, model, manufacturer}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
