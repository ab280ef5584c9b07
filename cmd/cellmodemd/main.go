// Command cellmodemd is the cellular-modem management daemon: it
// discovers modem hardware, probes and classifies its ports, assembles
// coherent Modem objects, drives their lifecycle, and exposes state
// through an ExternalSurface adapter.
//
// Flag parsing, config-then-daemon construction, and signal handling
// are grounded on the teacher's former cmd/testdaemon/main.go shape
// (load config, initialize logging, construct the daemon, run until
// SIGINT/SIGTERM).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/xx25/cellmodemd/internal/cache"
	"github.com/xx25/cellmodemd/internal/config"
	"github.com/xx25/cellmodemd/internal/logging"
	"github.com/xx25/cellmodemd/internal/modemd/devicebus"
	"github.com/xx25/cellmodemd/internal/modemd/orchestrator"
	"github.com/xx25/cellmodemd/internal/modemd/plugin"
	"github.com/xx25/cellmodemd/internal/modemd/port"
	"github.com/xx25/cellmodemd/internal/modemd/probe"
	"github.com/xx25/cellmodemd/internal/modemd/surface"
)

func main() {
	configPath := flag.String("config", "/etc/cellmodemd/config.yaml", "path to daemon config file")
	scanInterval := flag.Duration("scan-interval", 5*time.Second, "device re-scan interval")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cellmodemd: load config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Initialize(logging.FromStruct(cfg.Logging)); err != nil {
		fmt.Fprintf(os.Stderr, "cellmodemd: initialize logging: %v\n", err)
		os.Exit(1)
	}
	logging.Info("cellmodemd starting", "config", *configPath)

	probeCache, err := buildCache(cfg.Cache)
	if err != nil {
		logging.Fatalf("build probe cache: %v", err)
	}
	if probeCache != nil {
		defer probeCache.Close()
	}

	registry := buildRegistry(cfg.Plugins)
	keys := cache.NewKeyGenerator("cellmodemd")
	prober := probe.NewProber(probeCache, keys)

	sink := logSink{}
	pipeline := orchestrator.New(registry, prober, nil, sink, cfg.Watchdog.MaxConsecutiveTimeouts)

	bus := devicebus.New(pipeline, cfg.SettleWindow)
	defer bus.Close()

	scanner := &sysfsScanner{bus: bus}

	root := surface.NewRoot(scanner.scan, func(level string) {
		logging.Info("log level change requested", "level", level)
		if strings.EqualFold(level, "err") {
			level = "error"
		}
		lc := logging.FromStruct(cfg.Logging)
		lc.Level = level
		if err := logging.GetLogger().Reload(lc); err != nil {
			logging.Warn("log level change failed", "error", err)
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scanner.scan()
	ticker := time.NewTicker(*scanInterval)
	defer ticker.Stop()

	logging.Info("cellmodemd ready")
	for {
		select {
		case <-ctx.Done():
			logging.Info("cellmodemd shutting down")
			return
		case <-ticker.C:
			root.ScanDevices()
		}
	}
}

// buildCache constructs the badger-backed probe cache, or nil if
// caching is disabled in config.
func buildCache(cc config.CacheConfig) (cache.Cache, error) {
	if !cc.Enabled {
		return nil, nil
	}
	return cache.New(&cache.Config{
		Enabled:              cc.Enabled,
		BadgerPath:           cc.Path,
		BadgerMaxMemoryMB:    cc.MaxMemoryMB,
		BadgerValueLogMaxMB:  cc.ValueLogMaxMB,
		BadgerCompactL0:      cc.CompactL0,
		BadgerNumGoroutines:  cc.NumGoroutines,
		BadgerGCInterval:     cc.GCInterval,
		BadgerGCDiscardRatio: cc.GCDiscardRatio,
		BadgerMaxDiskMB:      cc.MaxDiskMB,
	})
}

// buildRegistry wires the generic fallback plugin and the Novatel
// vendor plugin, honoring the config's allow/deny list and per-plugin
// vendor-ID restriction (spec.md §4.4).
func buildRegistry(pc config.PluginConfig) *plugin.Registry {
	candidates := []plugin.Plugin{plugin.NewNovatel(), plugin.NewGeneric()}

	denied := make(map[string]bool, len(pc.Deny))
	for _, name := range pc.Deny {
		denied[name] = true
	}
	var allowed map[string]bool
	if len(pc.Allow) > 0 {
		allowed = make(map[string]bool, len(pc.Allow))
		for _, name := range pc.Allow {
			allowed[name] = true
		}
	}

	var enabled []plugin.Plugin
	for _, p := range candidates {
		if denied[p.Name()] {
			continue
		}
		if allowed != nil && !allowed[p.Name()] {
			continue
		}
		enabled = append(enabled, plugin.WithVendorFilter(p, pc.VendorFilters[p.Name()]))
	}
	return plugin.NewRegistry(enabled...)
}

// logSink is the default ExternalSurface sink: it logs every state and
// property change via structured logging, standing in for the actual
// bus dispatch spec.md §1 scopes out of this exercise.
type logSink struct{}

func (logSink) StateChanged(sc surface.StateChangedSignal) {
	logging.Info("modem state changed",
		"master_device", sc.MasterDevice,
		"old", sc.Old.String(),
		"new", sc.New.String(),
		"reason", sc.Reason,
	)
}

func (logSink) PropertiesChanged(pc surface.PropertiesChangedSignal) {
	logging.With(
		slog.String("master_device", pc.MasterDevice),
		slog.String("interface", pc.Interface),
	).Info("modem properties changed", "changed", pc.Changed, "invalidated", pc.Invalidated)
}

// sysfsScanner enumerates tty devices under /sys/class/tty, grouping by
// the parent device node so multi-interface USB modems are grouped
// under one physical-device path (spec.md §4.5's input). It polls
// rather than subscribing to kernel uevents directly — a reasonable
// substitute when no udev/netlink listener is wired, and the
// DeviceBus's debounce/settle logic tolerates either source equally
// well.
type sysfsScanner struct {
	bus *devicebus.Bus

	mu    sync.Mutex
	known map[string]*port.Port // kernel name -> last seen Port
}

const sysClassTTY = "/sys/class/tty"

func (s *sysfsScanner) scan() {
	entries, err := os.ReadDir(sysClassTTY)
	if err != nil {
		return
	}

	s.mu.Lock()
	if s.known == nil {
		s.known = make(map[string]*port.Port)
	}
	previous := s.known
	current := make(map[string]*port.Port, len(entries))
	s.mu.Unlock()

	for _, entry := range entries {
		name := entry.Name()
		p := readTTYPort(name)
		if p == nil {
			continue
		}
		current[name] = p
	}

	s.mu.Lock()
	s.known = current
	s.mu.Unlock()

	for name, p := range current {
		if _, existed := previous[name]; !existed {
			s.bus.Ingest(devicebus.Event{Kind: devicebus.EventAdd, Port: p})
		}
	}
	for name, p := range previous {
		if _, stillThere := current[name]; !stillThere {
			s.bus.Ingest(devicebus.Event{Kind: devicebus.EventRemove, Port: p})
		}
	}
}

// readTTYPort builds a Port for one /sys/class/tty/<name> entry, using
// port.DiscoverUSBIdentity for the vendor/product/physical-device-path
// triple. Ports with no USB backing (DiscoverUSBIdentity erroring) are
// still reported, with an empty VendorID/ProductID and the tty's own
// sysfs path standing in for PhysicalDevicePath, so non-USB modems
// (e.g. a fixed serial header) are not silently dropped.
func readTTYPort(name string) *port.Port {
	deviceFile := filepath.Join("/dev", name)
	vendor, product, physicalDevicePath, err := port.DiscoverUSBIdentity(deviceFile)
	if err != nil {
		physicalDevicePath = filepath.Join(sysClassTTY, name)
	}

	return &port.Port{
		KernelName:         name,
		Subsystem:          port.SubsystemTTY,
		PhysicalDevicePath: physicalDevicePath,
		VendorID:           vendor,
		ProductID:          product,
		Driver:             readDriverName(name),
		DeviceFile:         deviceFile,
	}
}

func readDriverName(name string) string {
	devPath, err := filepath.EvalSymlinks(filepath.Join(sysClassTTY, name, "device"))
	if err != nil {
		return ""
	}
	link, err := filepath.EvalSymlinks(filepath.Join(devPath, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(link)
}
