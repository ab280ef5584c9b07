// Package command implements CommandQueue (spec.md §4.2): a FIFO,
// single-in-flight command queue over a PortStream, with per-command
// timeout, a response cache, and a consecutive-timeout watchdog.
//
// The single-goroutine, channel-serialized dispatch loop is grounded on
// warthog618-modem's AT driver (cmdCh/cmdLoop in
// _examples/other_examples/271d09ff_warthog618-modem__at-at.go.go); the
// per-command read-until-terminal-token timeout loop is grounded on the
// teacher's modem.sendATLocked/readResponseLocked.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xx25/cellmodemd/internal/modemd/modemerr"
)

// Writer is the subset of portstream.Stream a Queue needs to send bytes.
type Writer interface {
	Write(p []byte) (int, error)
}

// Subscriber is the subset of portstream.Stream a Queue needs to receive
// bytes. Declared locally so fakes in tests need not depend on the
// portstream package.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan []byte, <-chan error, error)
}

// Stream is the full dependency a Queue requires from a PortStream.
type Stream interface {
	Writer
	Subscriber
}

type request struct {
	cmd      string
	timeout  time.Duration
	cacheKey string
	ctx      context.Context
	resultCh chan result
}

type result struct {
	response string
	err      error
}

// Queue serializes commands on a single Stream. Create one per AT port;
// never share a Queue across ports.
type Queue struct {
	stream Stream
	framer Framer

	watchdogThreshold int
	unresponsive      chan struct{}
	unresponsiveOnce  sync.Once

	reqCh  chan request
	closed chan struct{}

	cacheMu sync.Mutex
	cache   map[string]string
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithFramer overrides the default ATFramer, e.g. for QCDM ports that
// frame responses differently.
func WithFramer(f Framer) Option {
	return func(q *Queue) { q.framer = f }
}

// WithWatchdogThreshold sets the consecutive-timeout count that trips
// Unresponsive(); 0 disables the watchdog (spec.md §4.2).
func WithWatchdogThreshold(n int) Option {
	return func(q *Queue) { q.watchdogThreshold = n }
}

// NewQueue creates a Queue over stream and starts its dispatch loop.
// Call Close when the owning port is removed or grabbed away.
func NewQueue(stream Stream, opts ...Option) *Queue {
	q := &Queue{
		stream:       stream,
		framer:       ATFramer{},
		reqCh:        make(chan request),
		closed:       make(chan struct{}),
		unresponsive: make(chan struct{}),
		cache:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.loop()
	return q
}

// Unresponsive is closed once the consecutive-timeout counter reaches
// the watchdog threshold (spec.md §4.2 "PortUnresponsive signal"). The
// enclosing Modem should select on this and mark itself invalid via a
// deferred task.
func (q *Queue) Unresponsive() <-chan struct{} {
	return q.unresponsive
}

// Closed reports whether the queue has been closed.
func (q *Queue) Closed() <-chan struct{} {
	return q.closed
}

// Send enqueues cmd and blocks until it completes, times out, ctx is
// cancelled, or the queue is closed. Send never consults the response
// cache; use SendCached for that.
func (q *Queue) Send(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	return q.send(ctx, cmd, timeout, "")
}

// SendCached behaves like Send but memoizes successful responses under
// cacheKey.
func (q *Queue) SendCached(ctx context.Context, cmd string, timeout time.Duration, cacheKey string) (string, error) {
	return q.send(ctx, cmd, timeout, cacheKey)
}

func (q *Queue) send(ctx context.Context, cmd string, timeout time.Duration, cacheKey string) (string, error) {
	if cacheKey != "" {
		q.cacheMu.Lock()
		cached, ok := q.cache[cacheKey]
		q.cacheMu.Unlock()
		if ok {
			return cached, nil
		}
	}

	req := request{
		cmd:      cmd,
		timeout:  timeout,
		cacheKey: cacheKey,
		ctx:      ctx,
		resultCh: make(chan result, 1),
	}

	select {
	case <-q.closed:
		return "", modemerr.New(modemerr.Cancelled, "queue closed")
	case <-ctx.Done():
		return "", modemerr.Wrap(modemerr.Cancelled, "send", ctx.Err())
	case q.reqCh <- req:
	}

	select {
	case res := <-req.resultCh:
		if res.err == nil && cacheKey != "" {
			q.cacheMu.Lock()
			q.cache[cacheKey] = res.response
			q.cacheMu.Unlock()
		}
		return res.response, res.err
	case <-ctx.Done():
		return "", modemerr.Wrap(modemerr.Cancelled, "send", ctx.Err())
	case <-q.closed:
		return "", modemerr.New(modemerr.Cancelled, "queue closed")
	}
}

// loop is the single goroutine that owns the stream: it processes one
// request at a time (single-in-flight, spec.md §4.2), so no mutex is
// needed around the write/read sequence.
func (q *Queue) loop() {
	consecutiveTimeouts := 0

	for {
		select {
		case <-q.closed:
			return
		case req := <-q.reqCh:
			resp, err := q.execute(req)
			if modemerr.Is(err, modemerr.Timeout) {
				consecutiveTimeouts++
				if q.watchdogThreshold > 0 && consecutiveTimeouts >= q.watchdogThreshold {
					q.unresponsiveOnce.Do(func() { close(q.unresponsive) })
				}
			} else {
				consecutiveTimeouts = 0
			}
			select {
			case req.resultCh <- result{response: resp, err: err}:
			default:
			}
		}
	}
}

// execute runs a single command to completion or timeout. It owns the
// stream exclusively for the duration of the call (single-in-flight).
func (q *Queue) execute(req request) (string, error) {
	if _, err := q.stream.Write([]byte(req.cmd + "\r")); err != nil {
		return "", modemerr.Wrap(modemerr.Io, "write command", err)
	}

	ctx, cancel := context.WithTimeout(req.ctx, req.timeout)
	defer cancel()

	data, errs, err := q.stream.Subscribe(ctx)
	if err != nil {
		return "", modemerr.Wrap(modemerr.Io, "subscribe", err)
	}

	var buf []byte
	for {
		select {
		case chunk, ok := <-data:
			if !ok {
				continue
			}
			buf = append(buf, chunk...)
			if complete, success, reason := q.framer.Frame(string(buf)); complete {
				resp := normalizeLineEndings(string(buf))
				if success {
					return resp, nil
				}
				return resp, modemerr.New(modemerr.ProtocolReject, reason)
			}
		case err := <-errs:
			if modemerr.Is(err, modemerr.Io) {
				return normalizeLineEndings(string(buf)), modemerr.Wrap(modemerr.Io, "stream error", err)
			}
		case <-ctx.Done():
			if len(buf) > 0 {
				if complete, success, reason := q.framer.Frame(string(buf)); complete {
					resp := normalizeLineEndings(string(buf))
					if success {
						return resp, nil
					}
					return resp, modemerr.New(modemerr.ProtocolReject, reason)
				}
			}
			if req.ctx.Err() != nil {
				return normalizeLineEndings(string(buf)), modemerr.Wrap(modemerr.Cancelled, "send", req.ctx.Err())
			}
			return normalizeLineEndings(string(buf)), modemerr.New(modemerr.Timeout, fmt.Sprintf("no terminal response to %q within timeout", req.cmd))
		}
	}
}

// Close tears down the dispatch loop. Any command currently in flight
// resolves its waiter with Cancelled (spec.md §4.2: cancellation
// resolves the waiter, and the queue swallows the eventual matching
// response best-effort — execute keeps reading until its response or
// timeout and its result is then discarded).
func (q *Queue) Close() {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
}
