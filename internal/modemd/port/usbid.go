package port

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiscoverUSBIdentity finds the USB vendor:product IDs and physical-device
// path for a tty device by following sysfs symlinks, e.g.
// /dev/ttyUSB0 -> vid "12d1", pid "1506", physical path
// "/sys/devices/.../1-1" (the USB device node, shared by every sibling
// interface of a multi-port modem). Returns an error if the device is not
// USB-backed; callers should treat that as "leave VendorID/ProductID
// empty" rather than fatal.
func DiscoverUSBIdentity(deviceFile string) (vendor, productID, physicalDevicePath string, err error) {
	devName := filepath.Base(deviceFile)

	devicePath := filepath.Join("/sys/class/tty", devName, "device")
	resolved, err := filepath.EvalSymlinks(devicePath)
	if err != nil {
		return "", "", "", fmt.Errorf("resolve device path: %w", err)
	}

	for dir := resolved; dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		vendorFile := filepath.Join(dir, "idVendor")
		vendorData, err := os.ReadFile(vendorFile)
		if err != nil {
			continue
		}
		vendor = strings.TrimSpace(string(vendorData))

		productFile := filepath.Join(dir, "idProduct")
		productData, err := os.ReadFile(productFile)
		if err != nil {
			return "", "", "", fmt.Errorf("found idVendor but not idProduct in %s", dir)
		}
		productID = strings.TrimSpace(string(productData))

		return vendor, productID, dir, nil
	}

	return "", "", "", fmt.Errorf("USB device identity not found for %s", deviceFile)
}
