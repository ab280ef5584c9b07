// Package orchestrator wires the per-stage packages into the single
// pipeline spec.md §2 describes: DeviceBus delivers a settled port set
// for one physical device; each tty port is probed and the
// PluginRegistry then votes on each port;
// winning ports are grabbed and handed to assembly.AssignRoles; a
// resulting Roles value becomes a Modem; the Modem's lifecycle and
// poll tasks are driven to completion, with every transition forwarded
// onto an ExternalSurface sink.
//
// This package has no direct teacher precedent (the teacher has no
// analogous cross-cutting pipeline — its closest shape is
// cmd/testdaemon/main.go's top-level wiring of resolver, scheduler,
// and API server); it is new glue code assembling packages each
// individually grounded on the teacher or the example pack, per
// DESIGN.md.
package orchestrator

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xx25/cellmodemd/internal/logging"
	"github.com/xx25/cellmodemd/internal/modemd/assembly"
	"github.com/xx25/cellmodemd/internal/modemd/command"
	"github.com/xx25/cellmodemd/internal/modemd/devicebus"
	"github.com/xx25/cellmodemd/internal/modemd/modem"
	"github.com/xx25/cellmodemd/internal/modemd/plugin"
	"github.com/xx25/cellmodemd/internal/modemd/poll"
	"github.com/xx25/cellmodemd/internal/modemd/port"
	"github.com/xx25/cellmodemd/internal/modemd/portstream"
	"github.com/xx25/cellmodemd/internal/modemd/probe"
	"github.com/xx25/cellmodemd/internal/modemd/surface"
)

// StreamOpener opens a PortStream for a kernel-exposed port's device
// file. A local interface so this package doesn't force a concrete
// portstream.Open call on tests.
type StreamOpener interface {
	Open(p *port.Port) (command.Stream, error)
}

// defaultOpener opens a real serial stream via portstream.Open.
type defaultOpener struct{}

func (defaultOpener) Open(p *port.Port) (command.Stream, error) {
	cfg := portstream.DefaultConfig(p.DeviceFile)
	return portstream.Open(cfg)
}

// activeModem bundles a Modem with the per-device resources the
// orchestrator must tear down when its physical device disappears.
type activeModem struct {
	modem     *modem.Modem
	queues    map[string]*command.Queue // port.KernelName -> Queue
	scheduler *poll.Scheduler
	surface   *surface.Surface
}

var _ devicebus.Handler = (*Pipeline)(nil)

// Pipeline implements devicebus.Handler, driving the full assembly
// pipeline per physical device.
type Pipeline struct {
	registry *plugin.Registry
	prober   *probe.Prober
	opener   StreamOpener
	sink     surface.Sink
	watchdog int

	settleTimeout time.Duration

	mu     sync.Mutex
	active map[string]*activeModem // physicalDevicePath -> activeModem
}

// New builds a Pipeline. watchdogThreshold is forwarded to every
// command.Queue it creates (spec.md §4.2).
func New(registry *plugin.Registry, prober *probe.Prober, opener StreamOpener, sink surface.Sink, watchdogThreshold int) *Pipeline {
	if opener == nil {
		opener = defaultOpener{}
	}
	return &Pipeline{
		registry:      registry,
		prober:        prober,
		opener:        opener,
		sink:          sink,
		watchdog:      watchdogThreshold,
		settleTimeout: 10 * time.Second,
		active:        make(map[string]*activeModem),
	}
}

// HandleAdd implements devicebus.Handler: runs the vote/probe/grab/
// assemble/lifecycle sequence for one physical device's settled port
// set (spec.md §2's pipeline diagram).
func (p *Pipeline) HandleAdd(ctx context.Context, physicalDevicePath string, ports []*port.Port) {
	correlationID := devicebus.CorrelationID(ctx)
	log := logging.With("correlation_id", correlationID, "physical_device_path", physicalDevicePath)

	p.mu.Lock()
	if _, ok := p.active[physicalDevicePath]; ok {
		p.mu.Unlock()
		log.Debug("device add settled, already assembled, ignoring")
		return
	}
	p.mu.Unlock()

	log.Info("device add settled", "port_count", len(ports))

	var grabbed []*port.Port
	queues := make(map[string]*command.Queue)
	var existing *plugin.Existing

	for _, prt := range ports {
		portLog := log.With("kernel_name", prt.KernelName, "subsystem", string(prt.Subsystem))

		stream, err := p.opener.Open(prt)
		if err != nil {
			portLog.Warn("failed to open port", "error", err)
			continue
		}
		q := command.NewQueue(stream, command.WithWatchdogThreshold(p.watchdog))

		result, err := p.probeForVote(ctx, physicalDevicePath, prt, q)
		if err != nil {
			portLog.Warn("probe failed, skipping port", "error", err)
			q.Close()
			continue
		}
		if result != nil {
			portLog.Debug("probe classification", "capabilities", result.Capabilities, "level", result.Level())
		}

		vote, winner := p.registry.Vote(ctx, prt, existing, result)
		if vote != plugin.VoteSupported {
			portLog.Debug("plugin vote did not support port", "vote", vote)
			q.Close()
			continue
		}

		kind, err := p.registry.Grab(ctx, prt, winner, existing, result)
		if err != nil {
			portLog.Warn("plugin grab rejected port", "plugin", winner.Name(), "error", err)
			q.Close()
			continue
		}
		portLog.Info("port grabbed", "plugin", winner.Name(), "kind", kind.String())

		prt.Kind = kind
		atCount := 0
		if existing != nil && existing.PluginName == winner.Name() {
			atCount = existing.ATPortCount
		}
		if kind == port.KindAT {
			atCount++
		}
		existing = &plugin.Existing{PluginName: winner.Name(), ATPortCount: atCount}
		grabbed = append(grabbed, prt)
		queues[prt.KernelName] = q
	}

	if len(grabbed) == 0 {
		log.Info("no port grabbed for device, nothing to assemble")
		return
	}

	roles, err := assembly.AssignRoles(grabbed)
	if err != nil {
		log.Warn("assembly failed, tearing down grabbed ports", "error", err)
		for _, q := range queues {
			q.Close()
		}
		return
	}
	log.Info("modem assembled", "primary", roles.Primary.KernelName, "plugin", existing.PluginName)

	primaryQueue := queues[roles.Primary.KernelName]
	sfc := surface.Attach(physicalDevicePath, p.sink)

	m := modem.New(
		modem.Identity{
			PhysicalDevicePath: physicalDevicePath,
			VendorID:           roles.Primary.VendorID,
			ProductID:          roles.Primary.ProductID,
			Driver:             roles.Primary.Driver,
			PluginName:         existing.PluginName,
		},
		roles,
		modem.WithOnStateChange(func(sc modem.StateChange) {
			log.Info("modem state changed", "old", sc.Old.String(), "new", sc.New.String(), "reason", sc.Reason)
			sfc.NotifyStateChange(sc)
		}),
	)
	m.WatchWatchdog(ctx, primaryQueue)

	go func() {
		select {
		case <-primaryQueue.Unresponsive():
			log.Warn("primary queue watchdog tripped, modem will be invalidated")
		case <-ctx.Done():
		}
	}()

	scheduler := poll.NewScheduler()
	p.registerPolls(scheduler, m, primaryQueue, sfc)

	p.mu.Lock()
	p.active[physicalDevicePath] = &activeModem{modem: m, queues: queues, scheduler: scheduler, surface: sfc}
	p.mu.Unlock()

	go func() {
		if err := m.Enable(ctx, primaryQueue); err != nil {
			log.Warn("modem enable failed", "error", err)
		}
		scheduler.SyncGuards()
	}()
}

// HandleRemove implements devicebus.Handler: invalidates the modem (if
// any) assembled for this physical device and tears down its queues
// and poll tasks.
func (p *Pipeline) HandleRemove(ctx context.Context, physicalDevicePath string, remainingPorts []*port.Port) {
	correlationID := devicebus.CorrelationID(ctx)
	log := logging.With("correlation_id", correlationID, "physical_device_path", physicalDevicePath)

	if len(remainingPorts) > 0 {
		log.Debug("port removed, siblings remain, leaving modem assembled", "remaining_count", len(remainingPorts))
		return
	}

	p.mu.Lock()
	am, ok := p.active[physicalDevicePath]
	if ok {
		delete(p.active, physicalDevicePath)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	log.Info("device removed, invalidating modem")
	am.modem.Invalidate("device removed")
	am.scheduler.StopAll()
	for _, q := range am.queues {
		q.Close()
	}
}

// probeForVote runs Probe.Probe for every tty port before the vote, so
// plugins that need a capability classification already have it; the
// probe runs eagerly here rather than lazily per plugin (simpler, and
// the Prober memoizes per physical device already). Non-tty ports get
// a nil result.
func (p *Pipeline) probeForVote(ctx context.Context, physicalDevicePath string, prt *port.Port, q *command.Queue) (*probe.Result, error) {
	if prt.Subsystem != port.SubsystemTTY {
		return nil, nil
	}
	result, err := p.prober.Probe(ctx, physicalDevicePath, q)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// registerPolls wires the network-timezone PollScheduler task
// (one-shot, guarded on state=registered-or-later). No signal-quality
// task is registered.
func (p *Pipeline) registerPolls(scheduler *poll.Scheduler, m *modem.Modem, q *command.Queue, sfc *surface.Surface) {
	log := logging.With("physical_device_path", m.Identity().PhysicalDevicePath)

	guard := func() bool {
		switch m.State() {
		case modem.StateRegistered, modem.StateConnecting, modem.StateConnected:
			return true
		default:
			return false
		}
	}

	scheduler.Register(poll.Task{
		Name:     "network-timezone",
		Interval: poll.DefaultInterval,
		OneShot:  true,
		Guard:    guard,
		Body: func(ctx context.Context) poll.Result {
			resp, err := q.Send(ctx, "AT+CCLK?", 2*time.Second)
			if err != nil {
				log.Debug("network-timezone poll failed", "error", err)
				return poll.Result{Retry: true}
			}
			tz := parseTimezone(resp)
			if tz == nil {
				log.Debug("network-timezone poll returned no parseable offset")
				return poll.Result{Retry: true}
			}
			log.Info("network timezone resolved", "offset_minutes", tz["offset"])
			m.SetNetworkTimezone(tz)
			sfc.NotifyTimezoneChanged(tz)
			return poll.Result{Success: true}
		},
		OnUnavailable: func() {
			log.Warn("network-timezone poll exhausted retries, invalidating property")
			m.SetNetworkTimezone(nil)
			sfc.NotifyTimezoneChanged(nil)
		},
	})
}

// parseTimezone extracts the quarter-hour UTC offset from an AT+CCLK?
// response of the form `+CCLK: "24/07/31,10:00:00+32"` (spec.md §6:
// "NetworkTimezone ... map with optional keys offset, dst_offset,
// leap_seconds"; only offset is derivable from +CCLK here). Returns
// nil if no offset field is present.
func parseTimezone(resp string) map[string]int {
	idx := strings.LastIndexAny(resp, "+-")
	if idx < 0 || idx == len(resp)-1 {
		return nil
	}
	digits := strings.TrimRight(resp[idx+1:], "\"\r\nOK \t")
	quarterHours, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	offsetMinutes := quarterHours * 15
	if resp[idx] == '-' {
		offsetMinutes = -offsetMinutes
	}
	return map[string]int{"offset": offsetMinutes}
}
