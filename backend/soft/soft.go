// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package soft is a headless software backend. Every queue is executed by
// its own goroutine, so queues run concurrently the way hardware queues do,
// while work within one queue runs in submission order. Shaders are Go
// functions wrapped in a Program.
package soft

import (
	"fmt"
	"sync"

	"github.com/devblok/korurt/gfx"
	"github.com/sirupsen/logrus"
)

// Name is the backend name used in configuration.
const Name = "soft"

const queueDepth = 256

// Option configures a Backend.
type Option func(*Backend)

// WithCommandStreamWaits makes the backend report no wait semaphore
// support, so cross-queue waits are recorded into command streams.
func WithCommandStreamWaits() Option {
	return func(b *Backend) {
		b.caps.WaitSemaphores = false
	}
}

// WithMemoryLimit caps the bytes allocatable in memory class r.
// A zero limit makes the class unavailable.
func WithMemoryLimit(r gfx.Residency, bytes int) Option {
	return func(b *Backend) {
		b.limits[r] = bytes
	}
}

// WithLogger sets the logger used for backend events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Backend) {
		b.log = l
	}
}

// New creates a software backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		caps: gfx.Capabilities{
			WaitSemaphores:    true,
			MultiQueue:        true,
			PersistentMapping: true,
		},
		limits: make(map[gfx.Residency]int),
		used:   make(map[gfx.Residency]int),
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithField("backend", Name)
	return b
}

// Backend implements gfx.Backend in memory.
type Backend struct {
	caps gfx.Capabilities
	log  logrus.FieldLogger

	mu     sync.Mutex
	nextID uint64
	limits map[gfx.Residency]int
	used   map[gfx.Residency]int
	queues []*Queue
}

// Name implements gfx.Backend
func (b *Backend) Name() string {
	return Name
}

// Capabilities implements gfx.Backend
func (b *Backend) Capabilities() gfx.Capabilities {
	return b.caps
}

func (b *Backend) allocate(op, name string, r gfx.Residency, size int) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit, ok := b.limits[r]; ok && b.used[r]+size > limit {
		return 0, fmt.Errorf("%s(%s): %d bytes of %s memory, %d of %d in use: %w",
			op, name, size, r, b.used[r], limit, gfx.ErrOutOfMemory)
	}
	b.used[r] += size
	b.nextID++
	return b.nextID, nil
}

func (b *Backend) free(r gfx.Residency, size int) {
	b.mu.Lock()
	b.used[r] -= size
	b.mu.Unlock()
}

// Allocated returns the bytes currently allocated in memory class r.
func (b *Backend) Allocated(r gfx.Residency) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used[r]
}

// NewBuffer implements gfx.Backend
func (b *Backend) NewBuffer(desc gfx.BufferDesc) (gfx.Buffer, error) {
	if desc.Size < 0 {
		return nil, fmt.Errorf("soft.NewBuffer(%s): negative size %d", desc.Name, desc.Size)
	}
	id, err := b.allocate("soft.NewBuffer", desc.Name, desc.Residency, desc.Size)
	if err != nil {
		return nil, err
	}
	b.log.WithFields(logrus.Fields{
		"buffer":    desc.Name,
		"size":      desc.Size,
		"residency": desc.Residency,
	}).Trace("buffer created")

	return &Buffer{
		memory: memory{
			backend:   b,
			id:        id,
			name:      desc.Name,
			residency: desc.Residency,
			data:      make([]byte, desc.Size),
		},
		usage: desc.Usage,
	}, nil
}

// NewImage implements gfx.Backend
func (b *Backend) NewImage(desc gfx.ImageDesc) (gfx.Image, error) {
	if desc.Extent.Width <= 0 || desc.Extent.Height <= 0 || desc.Format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("soft.NewImage(%s): invalid %s %s image", desc.Name, desc.Extent, desc.Format)
	}
	size := desc.Extent.Bytes(desc.Format)
	id, err := b.allocate("soft.NewImage", desc.Name, desc.Residency, size)
	if err != nil {
		return nil, err
	}
	b.log.WithFields(logrus.Fields{
		"image":     desc.Name,
		"extent":    desc.Extent,
		"format":    desc.Format,
		"residency": desc.Residency,
	}).Trace("image created")

	return &Image{
		memory: memory{
			backend:   b,
			id:        id,
			name:      desc.Name,
			residency: desc.Residency,
			data:      make([]byte, size),
		},
		extent:  desc.Extent,
		format:  desc.Format,
		usage:   desc.Usage,
		sampler: desc.Sampler,
	}, nil
}

// NewQueue implements gfx.Backend
func (b *Backend) NewQueue() (gfx.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	q := &Queue{
		id:      b.nextID,
		backend: b,
		log:     b.log.WithField("queue", b.nextID),
		work:    make(chan submission, queueDepth),
		done:    make(chan struct{}),
	}
	b.queues = append(b.queues, q)
	go q.run()
	return q, nil
}

func (b *Backend) removeQueue(q *Queue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.queues {
		if b.queues[i] == q {
			b.queues = append(b.queues[:i], b.queues[i+1:]...)
			return
		}
	}
}

// Release implements gfx.Releasable. Queues still alive are drained
// and stopped.
func (b *Backend) Release() {
	b.mu.Lock()
	queues := append([]*Queue(nil), b.queues...)
	b.mu.Unlock()

	for _, q := range queues {
		q.Release()
	}
	b.log.Debug("backend released")
}
