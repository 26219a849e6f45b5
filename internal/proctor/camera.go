package proctor

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrStreamClosed      = errors.New("stream closed")
)

type Frame struct {
	Seq        int
	CapturedAt time.Time
	Data       []byte
}

// Camera hands out a FrameStream. The caller owns the stream and must Close it.
type Camera interface {
	Open(ctx context.Context) (FrameStream, error)
}

type FrameStream interface {
	Frame(ctx context.Context) (Frame, error)
	Close() error
}

// StaticCamera serves the same payload on every frame. It stands in for a
// real capture device in the agent and in tests, and counts opens and closes.
type StaticCamera struct {
	payload []byte
	openErr error
	now     func() time.Time

	mu     sync.Mutex
	opened int
	closed int
}

func NewStaticCamera(payload []byte) *StaticCamera {
	return &StaticCamera{payload: payload, now: time.Now}
}

// FailOpen makes every Open return err.
func (c *StaticCamera) FailOpen(err error) {
	c.mu.Lock()
	c.openErr = err
	c.mu.Unlock()
}

func (c *StaticCamera) Open(ctx context.Context) (FrameStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.opened++
	return &staticStream{camera: c}, nil
}

// Counts returns how many streams were opened and closed.
func (c *StaticCamera) Counts() (opened, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened, c.closed
}

type staticStream struct {
	camera *StaticCamera

	mu     sync.Mutex
	seq    int
	closed bool
}

func (s *staticStream) Frame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Frame{}, ErrStreamClosed
	}
	s.seq++
	return Frame{Seq: s.seq, CapturedAt: s.camera.now(), Data: s.camera.payload}, nil
}

func (s *staticStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.closed = true

	s.camera.mu.Lock()
	s.camera.closed++
	s.camera.mu.Unlock()
	return nil
}
