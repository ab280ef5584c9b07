// Package probe implements the classification dialogue of spec.md §4.3:
// given a CommandQueue, emit a ProbeResult capability bitset within a
// bounded wall-clock budget, caching the result by physical-device path
// and serializing concurrent probes of sibling ports on the same
// physical device (single-flight per physical device).
//
// The dialogue shape — mode-enter ping, then capability-detection
// commands classified by response pattern — is grounded on the
// teacher's response classifiers (formerly modem/at_commands.go, now
// folded into command.ATFramer) and on mm-plugin-generic.c's
// generic_probe/grab sequence from original_source/, which issues a
// plain "AT" first to confirm responsiveness before anything vendor
// specific.
package probe

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xx25/cellmodemd/internal/cache"
	"github.com/xx25/cellmodemd/internal/modemd/modemerr"
)

// Capability is one bit of a ProbeResult bitset (spec.md §3).
type Capability uint8

const (
	CapGSMAT Capability = 1 << iota
	CapCDMAIS707A
	CapCDMAIS707P
	CapCDMAIS856
	CapCDMAIS856A
	CapQCDM
)

// Result is a ProbeResult: the capability bitset produced for one
// physical device, plus the time it was produced (zero when restored
// from the persistent cache).
type Result struct {
	Capabilities Capability
	ProbedAt     time.Time
}

// Has reports whether cap is present in the bitset.
func (r Result) Has(cap Capability) bool { return r.Capabilities&cap != 0 }

// Level derives the support level from the bitset: 0 means unsupported,
// higher is a better match. GSM-AT ranks above the CDMA variants since
// it is the common case; QCDM is diagnostic-only and ranks lowest of
// the "supported" tiers. The IS-707 pair and the IS-856 pair each add
// once, so the two CDMA families stack while the variants within one
// family do not.
func (r Result) Level() int {
	if r.Capabilities == 0 {
		return 0
	}
	level := 0
	if r.Has(CapGSMAT) {
		level += 3
	}
	if r.Has(CapCDMAIS707A) || r.Has(CapCDMAIS707P) {
		level += 2
	}
	if r.Has(CapCDMAIS856) || r.Has(CapCDMAIS856A) {
		level += 2
	}
	if r.Has(CapQCDM) {
		level += 1
	}
	return level
}

// Queue is the subset of command.Queue the probe dialogue needs. A
// local interface keeps probe tests independent of the command
// package's concrete type.
type Queue interface {
	Send(ctx context.Context, cmd string, timeout time.Duration) (string, error)
}

// attemptTimeout is the per-attempt wall-clock budget (spec.md §4.3:
// "default ≈100 ms × number of attempts").
const attemptTimeout = 100 * time.Millisecond

// Prober runs classification dialogues and caches their results by
// physical-device path, so sibling ports of one modem are classified
// once (spec.md §4.3).
type Prober struct {
	cache cache.Cache
	keys  *cache.KeyGenerator
	ttl   time.Duration

	sf singleflight.Group

	mu   sync.Mutex
	memo map[string]Result
}

// NewProber creates a Prober. c provides cross-restart persistence for
// probe results (e.g. a badger-backed cache.Cache) and may be nil, in
// which case results still memoize for this process's lifetime.
func NewProber(c cache.Cache, keys *cache.KeyGenerator) *Prober {
	if keys == nil {
		keys = cache.NewKeyGenerator("")
	}
	return &Prober{
		cache: c,
		keys:  keys,
		ttl:   0,
		memo:  make(map[string]Result),
	}
}

// Probe runs (or reuses a cached/in-flight) classification for
// physicalDevicePath over q. Concurrent callers for the same physical
// device share one dialogue via singleflight (spec.md §4.3:
// "single-flight per physical device"), grounded on the teacher's use
// of golang.org/x/sync/singleflight in its WHOIS resolver
// (internal/testing/services/whois_resolver.go).
func (p *Prober) Probe(ctx context.Context, physicalDevicePath string, q Queue) (Result, error) {
	if cached, ok := p.lookupCached(ctx, physicalDevicePath); ok {
		return cached, nil
	}

	v, err, _ := p.sf.Do(physicalDevicePath, func() (interface{}, error) {
		if cached, ok := p.lookupCached(ctx, physicalDevicePath); ok {
			return cached, nil
		}
		result, err := p.dialogue(ctx, q)
		if err != nil {
			return Result{}, err
		}
		p.store(ctx, physicalDevicePath, result)
		return result, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// dialogue runs the three-step classification described in spec.md
// §4.3: mode-enter ping, capability-detection commands, and a
// garbage/silence fallback to capability bitset 0.
func (p *Prober) dialogue(ctx context.Context, q Queue) (Result, error) {
	if _, err := q.Send(ctx, "AT", attemptTimeout); err != nil {
		if modemerr.Is(err, modemerr.Cancelled) {
			return Result{}, err
		}
		return Result{Capabilities: 0, ProbedAt: time.Now()}, nil
	}

	var caps Capability

	if resp, err := q.Send(ctx, "AT+CGMR", attemptTimeout); err == nil && resp != "" {
		caps |= CapGSMAT
	}
	if resp, err := q.Send(ctx, "AT$QCDMG", attemptTimeout); err == nil && resp != "" {
		caps |= CapQCDM
	}
	if resp, err := q.Send(ctx, "AT+CAD?", attemptTimeout); err == nil && resp != "" {
		caps |= CapCDMAIS707A
	}

	return Result{Capabilities: caps, ProbedAt: time.Now()}, nil
}

type cachedResult struct {
	Capabilities uint8 `json:"capabilities"`
}

func (p *Prober) lookupCached(ctx context.Context, physicalDevicePath string) (Result, bool) {
	p.mu.Lock()
	if r, ok := p.memo[physicalDevicePath]; ok {
		p.mu.Unlock()
		return r, true
	}
	p.mu.Unlock()

	if p.cache == nil {
		return Result{}, false
	}
	raw, err := p.cache.Get(ctx, p.keys.ProbeResultKey(physicalDevicePath))
	if err != nil || raw == nil {
		return Result{}, false
	}
	var cr cachedResult
	if err := json.Unmarshal(raw, &cr); err != nil {
		return Result{}, false
	}
	r := Result{Capabilities: Capability(cr.Capabilities)}
	p.mu.Lock()
	p.memo[physicalDevicePath] = r
	p.mu.Unlock()
	return r, true
}

func (p *Prober) store(ctx context.Context, physicalDevicePath string, result Result) {
	p.mu.Lock()
	p.memo[physicalDevicePath] = result
	p.mu.Unlock()

	if p.cache == nil {
		return
	}
	raw, err := json.Marshal(cachedResult{Capabilities: uint8(result.Capabilities)})
	if err != nil {
		return
	}
	_ = p.cache.Set(ctx, p.keys.ProbeResultKey(physicalDevicePath), raw, p.ttl)
}

// Invalidate drops the cached result for a physical device. The
// daemon's pipeline does not call it on removal, so a re-plugged
// device reuses its cached classification (see cache.ProbeResultKey).
func (p *Prober) Invalidate(ctx context.Context, physicalDevicePath string) {
	p.mu.Lock()
	delete(p.memo, physicalDevicePath)
	p.mu.Unlock()

	if p.cache == nil {
		return
	}
	_ = p.cache.Delete(ctx, p.keys.ProbeResultKey(physicalDevicePath))
}
