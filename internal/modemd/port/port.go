// Package port holds the Port data model: the record DeviceBus creates
// for each kernel-exposed tty/net interface, before it is classified by
// Probe and (possibly) grabbed by a plugin.
package port

import "fmt"

// Subsystem names the kernel subsystem a Port belongs to.
type Subsystem string

const (
	SubsystemTTY   Subsystem = "tty"
	SubsystemNet   Subsystem = "net"
	SubsystemOther Subsystem = "other"
)

// Kind is assigned post-probe (spec.md §3).
type Kind int

const (
	KindUnknown Kind = iota
	KindAT
	KindQCDM
	KindNet
	KindIgnored
)

func (k Kind) String() string {
	switch k {
	case KindAT:
		return "at"
	case KindQCDM:
		return "qcdm"
	case KindNet:
		return "net"
	case KindIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// RoleFlags is the set of AT-port roles a plugin or udev rule may assign
// before assembly runs its precedence algorithm (spec.md §4.6).
type RoleFlags int

const (
	RoleNone      RoleFlags = 0
	RolePrimary   RoleFlags = 1 << 0
	RoleSecondary RoleFlags = 1 << 1
	RolePPPData   RoleFlags = 1 << 2
)

func (r RoleFlags) Has(f RoleFlags) bool { return r&f != 0 }

// Port is a single kernel-exposed communication interface. Ports are
// created by DeviceBus and owned exclusively by either the probe
// pipeline (while classifying) or a Modem (after grab) — never both at
// once.
type Port struct {
	// KernelName is the stable kernel identifier, e.g. "ttyUSB2" or "wwan0".
	KernelName string
	// Subsystem is the kernel subsystem this interface belongs to.
	Subsystem Subsystem
	// PhysicalDevicePath is the parent node shared by every port of one
	// physical modem (spec.md glossary: Physical-device path).
	PhysicalDevicePath string
	// VendorID / ProductID are the 16-bit USB vid/pid, "" if not USB-backed.
	VendorID  string
	ProductID string
	// Driver is the kernel driver name bound to this interface.
	Driver string
	// DeviceFile is the /dev node path. Optional: bluetooth-backed ports
	// may have none.
	DeviceFile string

	// Kind classifies the port; zero value is KindUnknown until Probe runs.
	Kind Kind
	// Flags carries any role flags the udev layer or a plugin assigned
	// before assembly (spec.md §4.6 precedence consumes these).
	Flags RoleFlags
}

// String renders an identifying label for logs, never embedding the
// full Port value (vendor/product strings can be arbitrarily long on
// malformed descriptors).
func (p *Port) String() string {
	return fmt.Sprintf("%s(%s)", p.KernelName, p.Subsystem)
}

// IsAT reports whether this port has been classified as an AT command port.
func (p *Port) IsAT() bool { return p.Kind == KindAT }
