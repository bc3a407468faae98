// Package camera acquires a single selfie still from a camera device.
//
// A Capturer opens a device stream, waits for it to deliver a first frame,
// lets it settle, samples one frame and re-encodes it as a JPEG data URL.
// The stream is released on every exit path.
package camera

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // frames may arrive as PNG
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrCameraUnavailable wraps every capture failure.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrPermissionDenied is reported when the user refuses camera access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNoDevice is reported when no camera exists.
	ErrNoDevice = errors.New("no camera device")
	// ErrDeviceBusy is reported when a stream is already open.
	ErrDeviceBusy = errors.New("camera device busy")
	// ErrNoActiveStream is returned when a frame arrives with no open stream.
	ErrNoActiveStream = errors.New("no active camera stream")
)

// Constraints describe the requested stream.
type Constraints struct {
	FacingMode  string `json:"facing_mode"`
	IdealWidth  int    `json:"ideal_width"`
	IdealHeight int    `json:"ideal_height"`
}

// Device opens live video streams.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open video stream. Close must be safe to call more than once.
type Stream interface {
	// Ready is closed once the stream has produced its first frame.
	Ready() <-chan struct{}
	// Done is closed when the stream fails; Err then reports why.
	Done() <-chan struct{}
	Err() error
	// Frame returns the most recent encoded frame.
	Frame() ([]byte, error)
	Close() error
}

// Options tune the capture.
type Options struct {
	Constraints    Constraints
	SettleDelay    time.Duration
	AcquireTimeout time.Duration
	JPEGQuality    int
}

// DefaultOptions matches a front-facing 720p request.
func DefaultOptions() Options {
	return Options{
		Constraints: Constraints{
			FacingMode:  "user",
			IdealWidth:  1280,
			IdealHeight: 720,
		},
		SettleDelay:    500 * time.Millisecond,
		AcquireTimeout: 20 * time.Second,
		JPEGQuality:    90,
	}
}

// Capturer takes one still per call. It holds no state between calls.
type Capturer struct {
	device Device
	opts   Options
	logger zerolog.Logger
}

// NewCapturer wires a capturer to a device.
func NewCapturer(device Device, opts Options, logger zerolog.Logger) *Capturer {
	def := DefaultOptions()
	if opts.Constraints == (Constraints{}) {
		opts.Constraints = def.Constraints
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = def.AcquireTimeout
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = def.JPEGQuality
	}
	return &Capturer{
		device: device,
		opts:   opts,
		logger: logger.With().Str("component", "camera").Logger(),
	}
}

// Capture returns a JPEG data URL. Any failure wraps ErrCameraUnavailable.
func (c *Capturer) Capture(ctx context.Context) (string, error) {
	if c.device == nil {
		return "", unavailable(ErrNoDevice)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, c.opts.AcquireTimeout)
	defer cancel()

	stream, err := c.device.Open(acquireCtx, c.opts.Constraints)
	if err != nil {
		return "", unavailable(err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			c.logger.Warn().Err(cerr).Msg("camera stream close failed")
		}
	}()

	select {
	case <-stream.Ready():
	case <-stream.Done():
		return "", unavailable(stream.Err())
	case <-acquireCtx.Done():
		return "", unavailable(fmt.Errorf("waiting for first frame: %w", acquireCtx.Err()))
	}

	if c.opts.SettleDelay > 0 {
		timer := time.NewTimer(c.opts.SettleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-stream.Done():
			return "", unavailable(stream.Err())
		case <-ctx.Done():
			return "", unavailable(ctx.Err())
		}
	}

	raw, err := stream.Frame()
	if err != nil {
		return "", unavailable(err)
	}
	photo, err := encodeStill(raw, c.opts.JPEGQuality)
	if err != nil {
		return "", unavailable(err)
	}

	c.logger.Debug().Int("bytes", len(photo)).Msg("selfie captured")
	return photo, nil
}

func unavailable(err error) error {
	if err == nil {
		err = ErrNoDevice
	}
	return fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
}

// encodeStill decodes a raw frame and re-encodes it as a JPEG data URL.
func encodeStill(raw []byte, quality int) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode still: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeFrame accepts either a data URL or bare base64 and returns the raw bytes.
func DecodeFrame(s string) ([]byte, error) {
	if payload, ok := cutDataURL(s); ok {
		s = payload
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode frame payload: %w", err)
	}
	return raw, nil
}

func cutDataURL(s string) (string, bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", false
	}
	_, payload, found := strings.Cut(s, ",")
	return payload, found
}
