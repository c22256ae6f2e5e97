// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package gfx defines the boundary between the runtime and a native graphics
// backend. Backends implement these interfaces; everything above them
// (components, renderers, the device and the scheduler) is written once
// against this package.
package gfx

// Releasable defines any memory-occupying item that can be freed.
type Releasable interface {

	// Release releases memory occupied by the implementing structure.
	Release()
}

// Capabilities describes how a backend is able to order work
// across submissions.
type Capabilities struct {

	// WaitSemaphores is set when cross-submission waits are passed as
	// a wait list at submission time. When unset, waits are recorded
	// into the consumer's command stream as a GPU fence wait.
	WaitSemaphores bool

	// MultiQueue is set when queues returned by NewQueue execute
	// independently of each other.
	MultiQueue bool

	// PersistentMapping is set when host-visible memory stays mapped
	// for the lifetime of the object.
	PersistentMapping bool
}

// Backend describes a native graphics API that resources and
// renderers are realized against.
type Backend interface {
	Releasable

	// Name returns a short backend identifier, such as "vulkan".
	Name() string

	// Capabilities reports the synchronization features of the backend.
	Capabilities() Capabilities

	// NewBuffer creates a native buffer with the requested residency.
	// Fails with ErrOutOfMemory when the memory class is unavailable.
	NewBuffer(desc BufferDesc) (Buffer, error)

	// NewImage creates a native image with the requested residency,
	// translating format, extent and sampler at the same time.
	NewImage(desc ImageDesc) (Image, error)

	// NewQueue returns a queue to submit command streams to. Backends
	// without independent queues may hand out views of a single queue.
	NewQueue() (Queue, error)
}

// Buffer is a native GPU buffer.
type Buffer interface {
	Releasable

	// Size returns the size of the buffer in bytes.
	Size() int

	// Residency returns where the buffer memory lives.
	Residency() Residency

	// Map returns the persistent host mapping of the buffer. Device
	// local buffers can never be mapped and return ErrNotMappable.
	Map() ([]byte, error)

	// Upload copies data into the buffer at offset through a transfer path.
	Upload(offset int, data []byte) error

	// Download copies the buffer contents into dst through a transfer path.
	Download(dst []byte) error
}

// Image is a native GPU image together with its sampler.
type Image interface {
	Releasable

	// Extent returns the dimensions of the image.
	Extent() Extent

	// Format returns the pixel format of the image.
	Format() Format

	// Residency returns where the image memory lives.
	Residency() Residency

	// Map returns the persistent host mapping of the image pixels.
	// Device local images return ErrNotMappable.
	Map() ([]byte, error)

	// Upload replaces the image pixels through a transfer path.
	Upload(data []byte) error

	// Download copies the image pixels into dst through a transfer path.
	Download(dst []byte) error
}

// Sync is a native synchronization primitive: a fence, an event,
// or a semaphore paired with a fence.
type Sync interface {
	Releasable

	// Signalled polls the primitive without blocking.
	Signalled() bool

	// Wait blocks the calling goroutine until the primitive is
	// signalled. The timeout is the driver maximum.
	Wait() error
}

// Queue accepts command streams for execution on the GPU timeline.
// Streams submitted to one queue execute in submission order.
type Queue interface {
	Releasable

	// Submit hands cmds to the GPU. Execution of cmds does not start
	// before every primitive in wait is signalled. Submit never blocks
	// on the wait list.
	Submit(cmds *Commands, wait []Sync) error

	// NewSync returns a primitive that is signalled once all work
	// submitted to the queue so far has completed.
	NewSync() (Sync, error)

	// WaitIdle blocks until all submitted work has completed.
	WaitIdle() error
}

// Shader is a backend specific program. Compilation and pipeline
// state live in the backend; the runtime only passes shaders through.
type Shader interface {

	// Name identifies the shader in logs.
	Name() string
}

// Window is an on-screen output provided by the windowing layer.
type Window interface {

	// Extent returns the current drawable size.
	Extent() Extent

	// Present shows the last completed pass.
	Present() error
}

// Target is the output of a render pass. Exactly one of Window
// and Images is set.
type Target struct {
	Window Window
	Images []Image
}

// IsWindow reports whether the target is an on-screen window.
func (t Target) IsWindow() bool {
	return t.Window != nil
}

// Extent returns the size of the target.
func (t Target) Extent() Extent {
	if t.Window != nil {
		return t.Window.Extent()
	}
	if len(t.Images) > 0 {
		return t.Images[0].Extent()
	}
	return Extent{}
}
