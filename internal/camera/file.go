package camera

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// FileDevice serves the same still image as every frame. Useful for kiosks
// and local runs without a browser camera.
type FileDevice struct {
	path string
}

// NewFileDevice returns a device backed by the image at path.
func NewFileDevice(path string) *FileDevice {
	return &FileDevice{path: path}
}

// Open reads the file; a missing file means there is no device.
func (d *FileDevice) Open(ctx context.Context, _ Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, d.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read camera file: %w", err)
	}
	ready := make(chan struct{})
	close(ready)
	return &staticStream{frame: data, ready: ready, done: make(chan struct{})}, nil
}

type staticStream struct {
	frame []byte
	ready chan struct{}
	done  chan struct{}
}

func (s *staticStream) Ready() <-chan struct{} { return s.ready }
func (s *staticStream) Done() <-chan struct{}  { return s.done }
func (s *staticStream) Err() error             { return nil }
func (s *staticStream) Frame() ([]byte, error) { return s.frame, nil }
func (s *staticStream) Close() error           { return nil }
