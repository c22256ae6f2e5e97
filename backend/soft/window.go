// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"fmt"

	"github.com/devblok/korurt/gfx"
)

// NewWindow creates a headless window backed by an image. onPresent,
// if set, is called on the queue goroutine with the presented pixels.
func (b *Backend) NewWindow(extent gfx.Extent, format gfx.Format, onPresent func(Surface)) (*Window, error) {
	img, err := b.NewImage(gfx.ImageDesc{
		Name:      "window",
		Extent:    extent,
		Format:    format,
		Usage:     gfx.UsageRenderTarget | gfx.UsageTransferSrc,
		Residency: gfx.DeviceLocal,
		Sampler:   gfx.DefaultSampler,
	})
	if err != nil {
		return nil, fmt.Errorf("soft.NewWindow(): %w", err)
	}
	return &Window{image: img.(*Image), onPresent: onPresent}, nil
}

// Window implements gfx.Window without a display.
type Window struct {
	image     *Image
	onPresent func(Surface)
}

// Extent implements gfx.Window
func (w *Window) Extent() gfx.Extent {
	return w.image.extent
}

// Present implements gfx.Window
func (w *Window) Present() error {
	w.image.mu.RLock()
	defer w.image.mu.RUnlock()
	if w.image.released {
		return fmt.Errorf("soft.Present(): %w", gfx.ErrReleased)
	}
	if w.onPresent != nil {
		w.onPresent(w.image.Surface())
	}
	return nil
}

// Image returns the image the window presents.
func (w *Window) Image() *Image {
	return w.image
}

// Release implements gfx.Releasable
func (w *Window) Release() {
	w.image.Release()
}
