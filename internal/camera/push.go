package camera

import (
	"context"
	"errors"
	"sync"
)

var errNoFrame = errors.New("stream has no frame yet")

// PushDevice is a camera whose frames are delivered by a remote client,
// typically the player's browser. Open announces the request through the
// open hook; the client answers with Push or Deny. One stream at a time.
type PushDevice struct {
	mu     sync.Mutex
	active *pushStream
	onOpen func(Constraints)
}

// NewPushDevice returns an idle device.
func NewPushDevice() *PushDevice {
	return &PushDevice{}
}

// OnOpen registers fn to be called, outside any lock, each time a stream is
// requested.
func (d *PushDevice) OnOpen(fn func(Constraints)) {
	d.mu.Lock()
	d.onOpen = fn
	d.mu.Unlock()
}

// Open starts a stream that becomes ready on the first pushed frame. An open
// stream whose context has ended is replaced rather than reported busy.
func (d *PushDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	stale := d.active
	if stale != nil && stale.owner.Err() == nil {
		d.mu.Unlock()
		return nil, ErrDeviceBusy
	}
	s := &pushStream{
		device: d,
		owner:  ctx,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	d.active = s
	hook := d.onOpen
	d.mu.Unlock()

	// A stream whose opener has given up may not have been closed yet; it
	// must not keep the device from its next owner.
	if stale != nil {
		stale.fail(stale.owner.Err())
	}
	if hook != nil {
		hook(c)
	}
	return s, nil
}

// Push delivers a frame to the open stream.
func (d *PushDevice) Push(frame []byte) error {
	s := d.current()
	if s == nil {
		return ErrNoActiveStream
	}
	return s.push(frame)
}

// Deny fails the open stream with ErrPermissionDenied.
func (d *PushDevice) Deny() error {
	s := d.current()
	if s == nil {
		return ErrNoActiveStream
	}
	s.fail(ErrPermissionDenied)
	return nil
}

// Active reports whether a stream is currently held open.
func (d *PushDevice) Active() bool {
	return d.current() != nil
}

func (d *PushDevice) current() *pushStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *PushDevice) release(s *pushStream) {
	d.mu.Lock()
	if d.active == s {
		d.active = nil
	}
	d.mu.Unlock()
}

type pushStream struct {
	device *PushDevice
	owner  context.Context

	mu     sync.Mutex
	frame  []byte
	err    error
	closed bool

	ready     chan struct{}
	done      chan struct{}
	readyOnce sync.Once
	doneOnce  sync.Once
}

func (s *pushStream) push(frame []byte) error {
	if len(frame) == 0 {
		return errNoFrame
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNoActiveStream
	}
	s.frame = append(s.frame[:0], frame...)
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	return nil
}

func (s *pushStream) fail(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *pushStream) Ready() <-chan struct{} { return s.ready }

func (s *pushStream) Done() <-chan struct{} { return s.done }

func (s *pushStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *pushStream) Frame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frame) == 0 {
		return nil, errNoFrame
	}
	return append([]byte(nil), s.frame...), nil
}

func (s *pushStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.device.release(s)
	return nil
}
