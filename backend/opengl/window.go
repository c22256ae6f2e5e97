// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package opengl

import (
	"sync"

	"github.com/devblok/korurt/gfx"
	"github.com/go-gl/gl/v4.5-core/gl"
)

// Window implements gfx.Window on the default framebuffer of the context.
// The windowing layer provides the buffer swap.
type Window struct {
	backend *Backend

	mu     sync.Mutex
	extent gfx.Extent
	swapFn func()
}

// NewWindow creates a window target presenting through swap, which is
// called on the GL thread.
func (b *Backend) NewWindow(extent gfx.Extent, swap func()) *Window {
	return &Window{
		backend: b,
		extent:  extent,
		swapFn:  swap,
	}
}

// Extent implements gfx.Window
func (w *Window) Extent() gfx.Extent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.extent
}

// Resize records a new drawable size, reported by the windowing layer.
func (w *Window) Resize(extent gfx.Extent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.extent = extent
}

func (w *Window) swap() {
	if w.swapFn != nil {
		w.swapFn()
	}
}

// Present implements gfx.Window. Passes into the window swap when they
// end; Present flushes the commands queued so far.
func (w *Window) Present() error {
	return w.backend.do(gl.Flush)
}
