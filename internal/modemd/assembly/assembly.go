// Package assembly implements ModemAssembly (spec.md §4.6 precedence
// rules): turning a classified, role-flagged set of ports belonging to
// one physical device into a Roles assignment (primary, backup
// primaries, secondary, data, diag).
//
// Grounded on the teacher's former modem.go initialization shape for
// the overall "given related inputs, build one coherent struct"
// pattern; the precedence algorithm itself has no analogue in the
// teacher (FidoNet nodes have no port roles) and is built directly
// from spec.md §4.6 and mm-generic-gsm.c's primary/secondary/data port
// selection in original_source/.
package assembly

import (
	"github.com/xx25/cellmodemd/internal/modemd/modemerr"
	"github.com/xx25/cellmodemd/internal/modemd/port"
)

// Roles is the outcome of running the precedence algorithm over a
// physical device's ports: a fresh assignment, never a mutation of the
// input ports' Flags (per the Open Question decision recorded in
// DESIGN.md — role flags are advisory input, recomputed authoritative
// output lives here).
type Roles struct {
	Primary         *port.Port
	BackupPrimaries []*port.Port
	Secondary       *port.Port
	Data            *port.Port
	Diag            *port.Port
}

// AssignRoles runs spec.md §4.6 rules 1-6 over ports, all of which must
// belong to the same physical device. Ports not classified as AT, net,
// or QCDM (i.e. KindUnknown or KindIgnored) are not eligible for any
// role and are silently excluded from consideration.
func AssignRoles(ports []*port.Port) (Roles, error) {
	var roles Roles

	var atPorts []*port.Port
	var netPorts []*port.Port
	var qcdmPorts []*port.Port
	for _, p := range ports {
		switch p.Kind {
		case port.KindAT:
			atPorts = append(atPorts, p)
		case port.KindNet:
			netPorts = append(netPorts, p)
		case port.KindQCDM:
			qcdmPorts = append(qcdmPorts, p)
		}
	}

	// Rule 1: first flagged primary is primary; additional primaries
	// become backup-primaries.
	for _, p := range atPorts {
		if !p.Flags.Has(port.RolePrimary) {
			continue
		}
		if roles.Primary == nil {
			roles.Primary = p
		} else {
			roles.BackupPrimaries = append(roles.BackupPrimaries, p)
		}
	}

	// Rule 2: first port flagged secondary is secondary. An explicit
	// secondary flag trumps a none-flagged port even if the latter
	// appeared earlier in the list, since we only consider
	// RoleSecondary-flagged ports here in the first place. If no port
	// is explicitly flagged secondary, the first backup-primary fills
	// the role instead (spec.md §8 scenario 3: two primaries, no
	// secondary ⇒ the second primary becomes secondary).
	for _, p := range atPorts {
		if p.Flags.Has(port.RoleSecondary) {
			roles.Secondary = p
			break
		}
	}
	if roles.Secondary == nil && len(roles.BackupPrimaries) > 0 {
		roles.Secondary = roles.BackupPrimaries[0]
		roles.BackupPrimaries = roles.BackupPrimaries[1:]
	}

	// Rule 3: first ppp-data-flagged port is data; else a net-subsystem
	// port; else the primary AT port.
	for _, p := range atPorts {
		if p.Flags.Has(port.RolePPPData) {
			roles.Data = p
			break
		}
	}
	if roles.Data == nil && len(netPorts) > 0 {
		roles.Data = netPorts[0]
	}
	if roles.Data == nil {
		roles.Data = roles.Primary
	}

	// Rule 4: first QCDM-capable port becomes diag.
	if len(qcdmPorts) > 0 {
		roles.Diag = qcdmPorts[0]
	}

	// Rule 5: if no primary exists but a secondary does, promote
	// secondary to primary and clear secondary.
	if roles.Primary == nil && roles.Secondary != nil {
		roles.Primary = roles.Secondary
		roles.Secondary = nil
		if roles.Data == nil {
			roles.Data = roles.Primary
		}
	}

	// Rule 6: fail with NoPrimary if neither exists.
	if roles.Primary == nil {
		return Roles{}, modemerr.New(modemerr.NoPrimary, "no primary or secondary AT port among assembled ports")
	}

	return roles, nil
}
