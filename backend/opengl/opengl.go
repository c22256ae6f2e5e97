// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package opengl implements gfx.Backend on OpenGL 4.5. A GL context is
// bound to one thread, so every GL call runs on a single locked goroutine;
// queues post their work to it in submission order. Cross-submission
// waits are recorded as glWaitSync on fence sync objects.
package opengl

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/devblok/korurt/gfx"
	"github.com/go-gl/gl/v4.5-core/gl"
	"github.com/sirupsen/logrus"
)

// Name is the backend name used in configuration.
const Name = "opengl"

// PushConstantBinding is the uniform block binding push constants are
// written to.
const PushConstantBinding = 15

const (
	callDepth = 256

	// glTextureMaxAnisotropy is GL_TEXTURE_MAX_ANISOTROPY, core in 4.6
	glTextureMaxAnisotropy = 0x84FE
)

// NewBackend starts the GL thread, makes the context current on it through
// makeCurrent and loads the GL entry points.
func NewBackend(makeCurrent func() error, log logrus.FieldLogger) (*Backend, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := &Backend{
		calls: make(chan func(), callDepth),
		done:  make(chan struct{}),
		fbos:  make(map[string]uint32),
		log:   log.WithField("backend", Name),
	}

	ready := make(chan error, 1)
	go b.loop(makeCurrent, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return b, nil
}

// Backend implements gfx.Backend on a GL context.
type Backend struct {
	log   logrus.FieldLogger
	calls chan func()
	done  chan struct{}

	mu       sync.Mutex
	released bool
	queues   []*Queue

	// GL thread only
	version string
	vao     uint32
	push    uint32
	fbos    map[string]uint32
}

func (b *Backend) loop(makeCurrent func() error, ready chan<- error) {
	runtime.LockOSThread()
	defer close(b.done)

	if err := makeCurrent(); err != nil {
		ready <- fmt.Errorf("opengl.NewBackend(): %w", err)
		return
	}
	if err := gl.Init(); err != nil {
		ready <- fmt.Errorf("gl.Init(): %w", err)
		return
	}
	b.version = gl.GoStr(gl.GetString(gl.VERSION))
	gl.CreateVertexArrays(1, &b.vao)
	gl.CreateBuffers(1, &b.push)
	gl.NamedBufferStorage(b.push, 128, nil, gl.DYNAMIC_STORAGE_BIT)
	b.log.WithField("version", b.version).Info("context ready")
	ready <- nil

	for fn := range b.calls {
		fn()
	}
}

// do runs fn on the GL thread and waits for it.
func (b *Backend) do(fn func()) error {
	done := make(chan struct{})
	if err := b.post(func() {
		fn()
		close(done)
	}); err != nil {
		return err
	}
	<-done
	return nil
}

// post queues fn on the GL thread.
func (b *Backend) post(fn func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return gfx.ErrReleased
	}
	b.calls <- fn
	return nil
}

// Version returns the GL version string of the context.
func (b *Backend) Version() string {
	return b.version
}

// Name implements gfx.Backend
func (b *Backend) Name() string {
	return Name
}

// Capabilities implements gfx.Backend
func (b *Backend) Capabilities() gfx.Capabilities {
	return gfx.Capabilities{
		WaitSemaphores:    false,
		MultiQueue:        false,
		PersistentMapping: true,
	}
}

// glError drains the GL error queue, translating out of memory.
func glError(op string) error {
	var first uint32
	for e := gl.GetError(); e != gl.NO_ERROR; e = gl.GetError() {
		if first == 0 {
			first = e
		}
	}
	switch first {
	case gl.NO_ERROR:
		return nil
	case gl.OUT_OF_MEMORY:
		return fmt.Errorf("%s: %w", op, gfx.ErrOutOfMemory)
	}
	return fmt.Errorf("%s: GL error 0x%x", op, first)
}

// NewBuffer implements gfx.Backend
func (b *Backend) NewBuffer(desc gfx.BufferDesc) (gfx.Buffer, error) {
	if desc.Size <= 0 {
		return nil, fmt.Errorf("opengl.NewBuffer(%s): invalid size %d", desc.Name, desc.Size)
	}
	buf := &Buffer{
		backend:   b,
		name:      desc.Name,
		size:      desc.Size,
		usage:     desc.Usage,
		residency: desc.Residency,
	}
	var err error
	if derr := b.do(func() {
		buf.id, buf.mapped, err = createStorage(desc.Size, desc.Residency)
	}); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, fmt.Errorf("opengl.NewBuffer(%s): %w", desc.Name, err)
	}
	return buf, nil
}

// createStorage allocates immutable buffer storage. Host visible storage is
// persistently and coherently mapped.
func createStorage(size int, r gfx.Residency) (uint32, []byte, error) {
	var id uint32
	gl.CreateBuffers(1, &id)

	flags := uint32(gl.DYNAMIC_STORAGE_BIT)
	if r == gfx.HostVisible {
		flags |= gl.MAP_READ_BIT | gl.MAP_WRITE_BIT | gl.MAP_PERSISTENT_BIT | gl.MAP_COHERENT_BIT
	}
	gl.NamedBufferStorage(id, size, nil, flags)
	if err := glError("gl.NamedBufferStorage()"); err != nil {
		gl.DeleteBuffers(1, &id)
		return 0, nil, err
	}
	if r != gfx.HostVisible {
		return id, nil, nil
	}

	ptr := gl.MapNamedBufferRange(id, 0, size, gl.MAP_READ_BIT|gl.MAP_WRITE_BIT|gl.MAP_PERSISTENT_BIT|gl.MAP_COHERENT_BIT)
	if ptr == nil {
		err := glError("gl.MapNamedBufferRange()")
		gl.DeleteBuffers(1, &id)
		if err == nil {
			err = errors.New("gl.MapNamedBufferRange(): no mapping")
		}
		return 0, nil, err
	}
	return id, unsafeBytes(ptr, size), nil
}

// NewImage implements gfx.Backend. Host visible images keep a persistently
// mapped pixel buffer that is unpacked into the texture when the image is
// bound and packed back after passes rendering into it.
func (b *Backend) NewImage(desc gfx.ImageDesc) (gfx.Image, error) {
	pf, ok := formats[desc.Format]
	if !ok || desc.Extent.Width <= 0 || desc.Extent.Height <= 0 {
		return nil, fmt.Errorf("opengl.NewImage(%s): invalid %s %s image", desc.Name, desc.Extent, desc.Format)
	}
	img := &Image{
		backend:   b,
		name:      desc.Name,
		extent:    desc.Extent,
		format:    desc.Format,
		pf:        pf,
		residency: desc.Residency,
	}

	var err error
	if derr := b.do(func() {
		err = img.create(desc.Sampler)
	}); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, fmt.Errorf("opengl.NewImage(%s): %w", desc.Name, err)
	}
	return img, nil
}

// NewQueue implements gfx.Backend
func (b *Backend) NewQueue() (gfx.Queue, error) {
	q := &Queue{backend: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, fmt.Errorf("opengl.NewQueue(): %w", gfx.ErrReleased)
	}
	b.queues = append(b.queues, q)
	return q, nil
}

func (b *Backend) removeQueue(q *Queue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, o := range b.queues {
		if o == q {
			b.queues = append(b.queues[:i], b.queues[i+1:]...)
			return
		}
	}
}

// Release implements gfx.Backend. It finishes outstanding work and stops
// the GL thread; the context itself belongs to the windowing layer.
func (b *Backend) Release() {
	b.mu.Lock()
	queues := append([]*Queue(nil), b.queues...)
	b.mu.Unlock()
	for _, q := range queues {
		q.Release()
	}

	_ = b.do(func() {
		for _, fbo := range b.fbos {
			gl.DeleteFramebuffers(1, &fbo)
		}
		gl.DeleteBuffers(1, &b.push)
		gl.DeleteVertexArrays(1, &b.vao)
		gl.Finish()
	})

	b.mu.Lock()
	if !b.released {
		b.released = true
		close(b.calls)
	}
	b.mu.Unlock()
	<-b.done
	b.log.Info("context released")
}
