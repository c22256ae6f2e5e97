// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package component

import (
	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/resource"
)

// Handle is a resource handle local to one Registry. Buffers take the
// handles [0, len(buffers)), images follow them.
type Handle int

// NewRegistry creates an empty component registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Registry owns the components of one renderer and resolves
// resource handles to them. Buffers must all be added before
// the first image, so that image handles never shift.
type Registry struct {
	buffers []*Buffer
	images  []*Image
	shared  map[Component]bool
}

// Add appends c and returns its handle. The registry takes ownership
// and releases c with itself.
func (r *Registry) Add(c Component) Handle {
	switch v := c.(type) {
	case *Buffer:
		if len(r.images) > 0 {
			gfx.Violation("component.Registry.Add", "buffer %q added after %d images", v.Name(), len(r.images))
		}
		r.buffers = append(r.buffers, v)
		return Handle(len(r.buffers) - 1)
	case *Image:
		r.images = append(r.images, v)
		return Handle(len(r.buffers) + len(r.images) - 1)
	}
	gfx.Violation("component.Registry.Add", "unsupported component %T", c)
	return -1
}

// AddShared appends a component owned by someone else. It is
// resolved like any other component but never released by r.
func (r *Registry) AddShared(c Component) Handle {
	h := r.Add(c)
	if r.shared == nil {
		r.shared = make(map[Component]bool)
	}
	r.shared[c] = true
	return h
}

// Shared reports whether the component behind h is borrowed.
func (r *Registry) Shared(h Handle) bool {
	return r.shared[r.Get(h)]
}

// Borrows reports whether r binds c as a shared component.
func (r *Registry) Borrows(c Component) bool {
	return r.shared[c]
}

// Get returns the component behind h. An out of range handle is fatal.
func (r *Registry) Get(h Handle) Component {
	if h < 0 || int(h) >= len(r.buffers)+len(r.images) {
		gfx.Violation("component.Registry.Get", "invalid resource handle %d", h)
	}
	if int(h) < len(r.buffers) {
		return r.buffers[h]
	}
	return r.images[int(h)-len(r.buffers)]
}

// Buffer returns the buffer behind h.
func (r *Registry) Buffer(h Handle) *Buffer {
	b, ok := r.Get(h).(*Buffer)
	if !ok {
		gfx.Violation("component.Registry.Buffer", "resource handle %d is not a buffer", h)
	}
	return b
}

// Image returns the image behind h.
func (r *Registry) Image(h Handle) *Image {
	i, ok := r.Get(h).(*Image)
	if !ok {
		gfx.Violation("component.Registry.Image", "resource handle %d is not an image", h)
	}
	return i
}

// Buffers returns all buffers in insertion order.
func (r *Registry) Buffers() []*Buffer {
	return r.buffers
}

// Images returns all images in insertion order.
func (r *Registry) Images() []*Image {
	return r.images
}

// ComponentsOf returns all components of type t in insertion order. The
// position of a component in the result is its binding slot.
func (r *Registry) ComponentsOf(t resource.Type) []Component {
	var out []Component
	switch t {
	case resource.TypeBuffer:
		for _, b := range r.buffers {
			out = append(out, b)
		}
	case resource.TypeImage:
		for _, i := range r.images {
			out = append(out, i)
		}
	}
	return out
}

// Len returns the number of components.
func (r *Registry) Len() int {
	return len(r.buffers) + len(r.images)
}

// Release releases every owned component.
func (r *Registry) Release() {
	for _, i := range r.images {
		if !r.shared[i] {
			i.Release()
		}
	}
	for _, b := range r.buffers {
		if !r.shared[b] {
			b.Release()
		}
	}
	r.buffers = nil
	r.images = nil
	r.shared = nil
}
