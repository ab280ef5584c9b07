package logging

import (
	"log/slog"
	"time"
)

// Common field helpers for consistent structured logging across the
// daemon's packages.

// Port creates port-identity fields (kernel name plus the physical-device
// path that groups sibling ports together).
func Port(kernelName, physicalDevicePath string) []any {
	return []any{
		slog.String("port", kernelName),
		slog.String("physical_device", physicalDevicePath),
	}
}

// Duration logs a duration in milliseconds.
func Duration(name string, d time.Duration) slog.Attr {
	return slog.Int64(name+"_ms", d.Milliseconds())
}

// Err creates an error field.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Count creates a count field.
func Count(name string, count int) slog.Attr {
	return slog.Int(name+"_count", count)
}

// State creates a lifecycle-state field.
func State(state string) slog.Attr {
	return slog.String("state", state)
}

// DeviceIdentifier creates a device-identifier field.
func DeviceIdentifier(id string) slog.Attr {
	return slog.String("device_identifier", id)
}

// Plugin creates a plugin-name field.
func Plugin(name string) slog.Attr {
	return slog.String("plugin", name)
}

// Command creates an AT-command field, truncated for readability since
// some commands carry long parameter strings.
func Command(raw string) slog.Attr {
	if len(raw) > 64 {
		raw = raw[:64] + "..."
	}
	return slog.String("command", raw)
}

// RetryAttempt creates a retry-attempt counter field.
func RetryAttempt(attempt, max int) []any {
	return []any{
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", max),
	}
}
