// Package portstream implements PortStream (spec.md §4.1): a
// byte-oriented duplex stream over a character device. It opens the
// device in exclusive mode, configures line parameters for tty ports,
// and emits inbound bytes to a single subscriber. No AT parsing lives
// here — that is CommandQueue's and Probe's concern.
package portstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mfkenney/go-serial/v2"

	"github.com/xx25/cellmodemd/internal/modemd/modemerr"
)

// Config configures the tty line parameters. Stream has no separate
// path for net-subsystem ports (the spec scopes net transport out of
// the core, §1 Non-goals); it handles the tty case only, grounded on
// the teacher's modem.Config.
type Config struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
}

// DefaultConfig mirrors the teacher's modem.DefaultConfig serial settings.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		BaudRate:    115200,
		ReadTimeout: 1 * time.Second,
	}
}

// StatusBits mirrors the teacher's ModemStatus, renamed to stay
// port-generic rather than modem-specific.
type StatusBits struct {
	DCD bool
	DSR bool
	CTS bool
	RI  bool
}

// Stream is a scoped acquisition guard over one character device: the
// descriptor is released unconditionally on every exit path (Close is
// idempotent and safe to defer). At most one subscriber may read from a
// Stream at a time (spec.md §4.1: "non-shared").
type Stream struct {
	cfg Config

	mu        sync.Mutex
	sp        *serial.Port
	reader    *bufio.Reader
	closed    bool
	subscribed bool
}

// Open opens the character device in exclusive mode and configures line
// parameters, following the teacher's modem.Open sequencing (DTR high,
// brief settle delay).
func Open(cfg Config) (*Stream, error) {
	if cfg.Device == "" {
		return nil, modemerr.New(modemerr.Io, "device path is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 1 * time.Second
	}

	sp, err := serial.Open(cfg.Device,
		serial.WithBaudrate(cfg.BaudRate),
		serial.WithDataBits(8),
		serial.WithParity(serial.NoParity),
		serial.WithStopBits(serial.OneStopBit),
		serial.WithReadTimeout(int(cfg.ReadTimeout.Milliseconds())),
		serial.WithHUPCL(true),
	)
	if err != nil {
		return nil, modemerr.Wrap(modemerr.Io, fmt.Sprintf("open %s", cfg.Device), err)
	}

	if err := sp.SetDTR(true); err != nil {
		sp.Close()
		return nil, modemerr.Wrap(modemerr.Io, "set DTR", err)
	}
	time.Sleep(100 * time.Millisecond)

	return &Stream{
		cfg:    cfg,
		sp:     sp,
		reader: bufio.NewReader(sp),
	}, nil
}

// Write writes bytes to the underlying device.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, modemerr.New(modemerr.Io, "stream closed")
	}
	n, err := s.sp.Write(p)
	if err != nil {
		return n, modemerr.Wrap(modemerr.Io, "write", err)
	}
	return n, nil
}

// Subscribe starts a goroutine that reads inbound bytes and pushes them
// to the returned channel until ctx is cancelled, the stream is closed,
// or an I/O error occurs (reported via the returned error channel, after
// which the byte channel is closed). Only one subscriber may be active
// at a time; a second call returns an error.
func (s *Stream) Subscribe(ctx context.Context) (<-chan []byte, <-chan error, error) {
	s.mu.Lock()
	if s.subscribed {
		s.mu.Unlock()
		return nil, nil, modemerr.New(modemerr.InvalidState, "stream already has a subscriber")
	}
	if s.closed {
		s.mu.Unlock()
		return nil, nil, modemerr.New(modemerr.Io, "stream closed")
	}
	s.subscribed = true
	reader := s.reader
	s.mu.Unlock()

	data := make(chan []byte)
	errs := make(chan error, 1)

	go func() {
		defer func() {
			close(data)
			s.mu.Lock()
			s.subscribed = false
			s.mu.Unlock()
		}()
		buf := make([]byte, 256)
		for {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			default:
			}

			n, err := reader.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case data <- chunk:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			if err != nil {
				if err == io.EOF {
					errs <- modemerr.New(modemerr.Io, "disconnected")
					return
				} else if !isTimeout(err) {
					errs <- modemerr.Wrap(modemerr.Io, "read", err)
					return
				}
			}
		}
	}()

	return data, errs, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// Status reads the current modem control line status bits.
func (s *Stream) Status() (StatusBits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return StatusBits{}, modemerr.New(modemerr.Io, "stream closed")
	}
	bits, err := s.sp.GetModemStatusBits()
	if err != nil {
		return StatusBits{}, modemerr.Wrap(modemerr.Io, "get status bits", err)
	}
	return StatusBits{DCD: bits.DCD, DSR: bits.DSR, CTS: bits.CTS, RI: bits.RI}, nil
}

// Reset flushes input/output buffers and recreates the line reader,
// discarding any stale buffered data, following the teacher's
// FlushBuffers/sendATLocked idiom.
func (s *Stream) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return modemerr.New(modemerr.Io, "stream closed")
	}
	if err := s.sp.ResetInputBuffer(); err != nil {
		return modemerr.Wrap(modemerr.Io, "reset input buffer", err)
	}
	if err := s.sp.ResetOutputBuffer(); err != nil {
		return modemerr.Wrap(modemerr.Io, "reset output buffer", err)
	}
	s.reader = bufio.NewReader(s.sp)
	return nil
}

// SetDTR raises or drops DTR, used by the hangup/power-off paths.
func (s *Stream) SetDTR(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return modemerr.New(modemerr.Io, "stream closed")
	}
	if err := s.sp.SetDTR(on); err != nil {
		return modemerr.Wrap(modemerr.Io, "set DTR", err)
	}
	return nil
}

// Close releases the descriptor unconditionally. Safe to call more than
// once and safe to defer immediately after a successful Open (spec.md
// §4.1: "On close, releases the descriptor unconditionally on every
// exit path").
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sp.Close()
}
