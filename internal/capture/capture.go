// Package capture is the boundary to the region-capture collaborator. Pixel
// grabbing itself lives in the desktop shell.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrCancelled means the user dismissed the capture (escape).
var ErrCancelled = errors.New("capture cancelled")

// Rect is a screen region in physical pixels. The zero Rect means "let the
// user pick".
type Rect struct {
	X, Y, W, H int
}

func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Capturer produces an image file for a region.
type Capturer interface {
	Capture(ctx context.Context, r Rect) (path string, err error)
}

// Static hands out a file the shell already captured.
type Static string

func (s Static) Capture(ctx context.Context, _ Rect) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := string(s)
	if path == "" {
		return "", ErrCancelled
	}
	st, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("captured file: %w", err)
	}
	if st.IsDir() {
		return "", fmt.Errorf("captured file %s is a directory", path)
	}
	return path, nil
}

// Cancelled is a Capturer for a capture the user dismissed.
type Cancelled struct{}

func (Cancelled) Capture(context.Context, Rect) (string, error) { return "", ErrCancelled }

// Func adapts a plain function.
type Func func(ctx context.Context, r Rect) (string, error)

func (f Func) Capture(ctx context.Context, r Rect) (string, error) { return f(ctx, r) }
