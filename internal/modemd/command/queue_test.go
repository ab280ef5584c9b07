package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xx25/cellmodemd/internal/modemd/modemerr"
)

// fakeStream is an in-memory Stream double, mirroring the loopback
// io.ReadWriter style used to test warthog618-modem's AT driver and
// jaracil's vmodem without real hardware.
type fakeStream struct {
	mu       sync.Mutex
	reply    []byte
	silent   bool
	dataCh   chan []byte
	errCh    chan error
	writeLog [][]byte
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		dataCh: make(chan []byte, 8),
		errCh:  make(chan error, 1),
	}
}

func (f *fakeStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.writeLog = append(f.writeLog, append([]byte(nil), p...))
	reply := f.reply
	silent := f.silent
	f.mu.Unlock()

	if !silent && reply != nil {
		f.dataCh <- reply
	}
	return len(p), nil
}

func (f *fakeStream) Subscribe(ctx context.Context) (<-chan []byte, <-chan error, error) {
	return f.dataCh, f.errCh, nil
}

func TestQueueSendSuccess(t *testing.T) {
	fs := newFakeStream()
	fs.reply = []byte("OK\r\n")

	q := NewQueue(fs)
	defer q.Close()

	resp, err := q.Send(context.Background(), "ATE0", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == "" {
		t.Fatal("expected non-empty response")
	}
}

func TestQueueSendProtocolReject(t *testing.T) {
	fs := newFakeStream()
	fs.reply = []byte("ERROR\r\n")

	q := NewQueue(fs)
	defer q.Close()

	_, err := q.Send(context.Background(), "AT+BOGUS", time.Second)
	if !modemerr.Is(err, modemerr.ProtocolReject) {
		t.Fatalf("expected ProtocolReject, got %v", err)
	}
}

func TestQueueSendTimeout(t *testing.T) {
	fs := newFakeStream()
	fs.silent = true

	q := NewQueue(fs)
	defer q.Close()

	_, err := q.Send(context.Background(), "AT", 50*time.Millisecond)
	if !modemerr.Is(err, modemerr.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestQueueSendCancellationNotTimeout(t *testing.T) {
	fs := newFakeStream()
	fs.silent = true

	q := NewQueue(fs, WithWatchdogThreshold(2))
	defer q.Close()

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := q.Send(ctx, "AT", 200*time.Millisecond)
		if !modemerr.Is(err, modemerr.Cancelled) {
			t.Fatalf("attempt %d: expected Cancelled, got %v", i, err)
		}
	}

	select {
	case <-q.Unresponsive():
		t.Fatal("cancellation should not count toward the consecutive-timeout watchdog")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueueWatchdogTrips(t *testing.T) {
	fs := newFakeStream()
	fs.silent = true

	q := NewQueue(fs, WithWatchdogThreshold(3))
	defer q.Close()

	for i := 0; i < 3; i++ {
		_, err := q.Send(context.Background(), "AT", 20*time.Millisecond)
		if !modemerr.Is(err, modemerr.Timeout) {
			t.Fatalf("attempt %d: expected Timeout, got %v", i, err)
		}
	}

	select {
	case <-q.Unresponsive():
	case <-time.After(time.Second):
		t.Fatal("expected Unresponsive to fire after 3 consecutive timeouts")
	}
}

func TestQueueResponseCache(t *testing.T) {
	fs := newFakeStream()
	fs.reply = []byte("OK\r\n")

	q := NewQueue(fs)
	defer q.Close()

	ctx := context.Background()
	if _, err := q.SendCached(ctx, "ATI", time.Second, "ati"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writesBefore := len(fs.writeLog)
	if _, err := q.SendCached(ctx, "ATI", time.Second, "ati"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fs.writeLog) != writesBefore {
		t.Fatalf("expected cached response to avoid retransmission, writes went from %d to %d", writesBefore, len(fs.writeLog))
	}
}

func TestQueueSingleInFlight(t *testing.T) {
	fs := newFakeStream()
	fs.reply = []byte("OK\r\n")

	q := NewQueue(fs)
	defer q.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Send(context.Background(), "AT", time.Second)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error from concurrent send: %v", err)
		}
	}
}
