package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ai-call-orchestrator-service/internal/models"
)

// fakeConn delivers scripted events and fails when told to.
type fakeConn struct {
	events chan models.TranscriptEvent
	drop   chan error
	done   chan struct{}

	mu     sync.Mutex
	sent   [][]byte
	closes int
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan models.TranscriptEvent, 16),
		drop:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, frame)
	return nil
}

func (c *fakeConn) Receive(cb Callback) error {
	for {
		select {
		case ev := <-c.events:
			cb.OnTranscript(ev)
		case err := <-c.drop:
			return err
		case <-c.done:
			return nil
		}
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// fakeDialer hands out conns; failFrom marks the dial index from which dials fail.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	dials    []time.Time
	opts     []Options
	failFrom int
	failTo   int
	fatal    bool
}

func (d *fakeDialer) Name() string { return "fake" }

func (d *fakeDialer) Dial(ctx context.Context, opts Options) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.dials)
	d.dials = append(d.dials, time.Now())
	d.opts = append(d.opts, opts)
	if n >= d.failFrom && n < d.failTo {
		if d.fatal {
			return nil, fmt.Errorf("%w: unauthorized", ErrPermanent)
		}
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type recorder struct {
	mu     sync.Mutex
	texts  []string
	errs   []error
	onText func(string)
	errCh  chan error
}

func newRecorder() *recorder {
	return &recorder{errCh: make(chan error, 4)}
}

func (r *recorder) OnTranscript(ev models.TranscriptEvent) {
	r.mu.Lock()
	r.texts = append(r.texts, ev.Text)
	hook := r.onText
	r.mu.Unlock()
	if hook != nil {
		hook(ev.Text)
	}
}

func (r *recorder) OnSpeechStarted() {}
func (r *recorder) OnUtteranceEnd()  {}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.errCh <- err
}

func (r *recorder) textCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

var testOpts = Options{Language: "en-US", Model: "nova-2-phonecall", EndpointingMs: 300}

func TestStream_OpenFailureIsSynchronous(t *testing.T) {
	d := &fakeDialer{failFrom: 0, failTo: 100}
	s := NewStream(d, ReconnectPolicy{MaxAttempts: 3, Unit: time.Millisecond})

	err := s.Open(context.Background(), testOpts, newRecorder())
	if !errors.Is(err, ErrAdapterUnavailable) {
		t.Fatalf("expected ErrAdapterUnavailable, got %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Errorf("connect failure must not enter the reconnect path, dials=%d", d.dialCount())
	}
}

func TestStream_SubmitAudio_NotConnected(t *testing.T) {
	d := &fakeDialer{failFrom: 100}
	s := NewStream(d, DefaultReconnectPolicy())

	if err := s.SubmitAudio(models.AudioFrame("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("before open: expected ErrNotConnected, got %v", err)
	}

	if err := s.Open(context.Background(), testOpts, newRecorder()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SubmitAudio(models.AudioFrame("x")); err != nil {
		t.Errorf("after open: unexpected error %v", err)
	}
	waitFor(t, func() bool { return d.conn(0).sentCount() == 1 })

	s.Close()
	if err := s.SubmitAudio(models.AudioFrame("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("after close: expected ErrNotConnected, got %v", err)
	}
}

func TestStream_OpenIdempotent(t *testing.T) {
	d := &fakeDialer{failFrom: 100}
	s := NewStream(d, DefaultReconnectPolicy())
	defer s.Close()

	for i := 0; i < 3; i++ {
		if err := s.Open(context.Background(), testOpts, newRecorder()); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
	}
	if d.dialCount() != 1 {
		t.Errorf("expected 1 dial, got %d", d.dialCount())
	}
}

func TestStream_DeliversInOrder(t *testing.T) {
	d := &fakeDialer{failFrom: 100}
	s := NewStream(d, DefaultReconnectPolicy())
	defer s.Close()
	rec := newRecorder()
	s.Open(context.Background(), testOpts, rec)

	want := []string{"what", "what are", "what are your hours"}
	for _, w := range want {
		d.conn(0).events <- models.TranscriptEvent{Text: w}
	}
	waitFor(t, func() bool { return rec.textCount() == len(want) })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, w := range want {
		if rec.texts[i] != w {
			t.Errorf("event %d: got %q, want %q", i, rec.texts[i], w)
		}
	}
}

func TestStream_ReconnectsWithLinearBackoff(t *testing.T) {
	unit := 10 * time.Millisecond
	// dial 0 ok, dial 1 fails, dial 2 ok
	d := &fakeDialer{failFrom: 1, failTo: 2}
	s := NewStream(d, ReconnectPolicy{MaxAttempts: 3, Unit: unit})
	defer s.Close()
	rec := newRecorder()
	s.Open(context.Background(), testOpts, rec)

	dropped := time.Now()
	d.conn(0).drop <- errors.New("connection reset")

	waitFor(t, func() bool { return d.dialCount() == 3 })

	d.mu.Lock()
	first, second := d.dials[1], d.dials[2]
	for i, o := range d.opts {
		if o != testOpts {
			t.Errorf("dial %d used different options: %+v", i, o)
		}
	}
	d.mu.Unlock()

	if first.Sub(dropped) < unit {
		t.Errorf("first retry after %v, want >= %v", first.Sub(dropped), unit)
	}
	if second.Sub(first) < 2*unit {
		t.Errorf("second retry after %v, want >= %v", second.Sub(first), 2*unit)
	}

	// events flow over the new connection
	d.conn(1).events <- models.TranscriptEvent{Text: "back"}
	waitFor(t, func() bool { return rec.textCount() == 1 })

	select {
	case err := <-rec.errCh:
		t.Errorf("unexpected terminal error: %v", err)
	default:
	}
}

func TestStream_ReconnectExhausted(t *testing.T) {
	d := &fakeDialer{failFrom: 1, failTo: 100}
	s := NewStream(d, ReconnectPolicy{MaxAttempts: 3, Unit: time.Millisecond})
	defer s.Close()
	rec := newRecorder()
	s.Open(context.Background(), testOpts, rec)

	d.conn(0).drop <- errors.New("connection reset")

	select {
	case err := <-rec.errCh:
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Errorf("expected ErrReconnectExhausted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected terminal error")
	}

	time.Sleep(20 * time.Millisecond)
	if d.dialCount() != 4 {
		t.Errorf("expected 1 connect + 3 retries, got %d dials", d.dialCount())
	}
	if err := s.SubmitAudio(models.AudioFrame("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after failure, got %v", err)
	}
}

func TestStream_CloseInsideCallback(t *testing.T) {
	d := &fakeDialer{failFrom: 100}
	s := NewStream(d, DefaultReconnectPolicy())
	rec := newRecorder()
	rec.onText = func(string) { s.Close() }
	s.Open(context.Background(), testOpts, rec)

	d.conn(0).events <- models.TranscriptEvent{Text: "bye"}
	waitFor(t, func() bool { return d.conn(0).closeCount() >= 1 })

	s.Close()
	time.Sleep(20 * time.Millisecond)
	if d.conn(0).closeCount() != 1 {
		t.Errorf("expected connection released once, got %d", d.conn(0).closeCount())
	}
	if d.dialCount() != 1 {
		t.Errorf("close must not trigger reconnects, dials=%d", d.dialCount())
	}
	select {
	case err := <-rec.errCh:
		t.Errorf("close must not surface an error, got %v", err)
	default:
	}
}

func TestStream_PermanentDialFailureStopsRetrying(t *testing.T) {
	d := &fakeDialer{failFrom: 1, failTo: 100, fatal: true}
	s := NewStream(d, ReconnectPolicy{MaxAttempts: 3, Unit: time.Millisecond})
	defer s.Close()
	rec := newRecorder()
	s.Open(context.Background(), testOpts, rec)

	d.conn(0).drop <- errors.New("connection reset")

	select {
	case err := <-rec.errCh:
		if !errors.Is(err, ErrReconnectExhausted) || !errors.Is(err, ErrPermanent) {
			t.Errorf("expected exhausted wrapping permanent, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected terminal error")
	}
	if d.dialCount() != 2 {
		t.Errorf("expected a single retry, got %d dials", d.dialCount())
	}
}

func TestStream_PermanentReceiveErrorFailsImmediately(t *testing.T) {
	d := &fakeDialer{failFrom: 100}
	s := NewStream(d, ReconnectPolicy{MaxAttempts: 3, Unit: time.Millisecond})
	defer s.Close()
	rec := newRecorder()
	s.Open(context.Background(), testOpts, rec)

	d.conn(0).drop <- fmt.Errorf("%w: invalid argument", ErrPermanent)

	select {
	case err := <-rec.errCh:
		if !errors.Is(err, ErrPermanent) {
			t.Errorf("expected ErrPermanent, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected terminal error")
	}
	if d.dialCount() != 1 {
		t.Errorf("expected no redial, got %d dials", d.dialCount())
	}
}
