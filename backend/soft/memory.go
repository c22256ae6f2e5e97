// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"fmt"
	"sync"

	"github.com/devblok/korurt/gfx"
)

// memory is a block of backend memory guarded for queue workers.
// Mapped access by the host bypasses the lock.
type memory struct {
	backend   *Backend
	id        uint64
	name      string
	residency gfx.Residency

	mu       sync.RWMutex
	data     []byte
	released bool
}

// Residency returns the memory class.
func (m *memory) Residency() gfx.Residency {
	return m.residency
}

// Map returns the persistent mapping of host-visible memory.
func (m *memory) Map() ([]byte, error) {
	if m.residency != gfx.HostVisible {
		return nil, fmt.Errorf("soft.Map(%s): %w", m.name, gfx.ErrNotMappable)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.released {
		return nil, fmt.Errorf("soft.Map(%s): %w", m.name, gfx.ErrReleased)
	}
	return m.data, nil
}

func (m *memory) upload(offset int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return fmt.Errorf("soft.Upload(%s): %w", m.name, gfx.ErrReleased)
	}
	if offset < 0 || offset+len(data) > len(m.data) {
		return fmt.Errorf("soft.Upload(%s): range [%d:%d] out of bounds of %d bytes", m.name, offset, offset+len(data), len(m.data))
	}
	copy(m.data[offset:], data)
	return nil
}

// Download copies the contents into dst.
func (m *memory) Download(dst []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.released {
		return fmt.Errorf("soft.Download(%s): %w", m.name, gfx.ErrReleased)
	}
	copy(dst, m.data)
	return nil
}

// Release implements gfx.Releasable
func (m *memory) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.released = true
	m.backend.free(m.residency, len(m.data))
	m.data = nil
}

// Buffer implements gfx.Buffer
type Buffer struct {
	memory
	usage gfx.Usage
}

// Size implements gfx.Buffer
func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Usage returns the usage the buffer was created with.
func (b *Buffer) Usage() gfx.Usage {
	return b.usage
}

// Upload implements gfx.Buffer
func (b *Buffer) Upload(offset int, data []byte) error {
	return b.upload(offset, data)
}

// Image implements gfx.Image
type Image struct {
	memory
	extent  gfx.Extent
	format  gfx.Format
	usage   gfx.Usage
	sampler gfx.Sampler
}

// Extent implements gfx.Image
func (i *Image) Extent() gfx.Extent {
	return i.extent
}

// Format implements gfx.Image
func (i *Image) Format() gfx.Format {
	return i.format
}

// Sampler returns the sampler description the image was created with.
func (i *Image) Sampler() gfx.Sampler {
	return i.sampler
}

// Upload implements gfx.Image
func (i *Image) Upload(data []byte) error {
	if len(data) != i.extent.Bytes(i.format) {
		return fmt.Errorf("soft.Upload(%s): %d bytes for %s %s image", i.name, len(data), i.extent, i.format)
	}
	return i.upload(0, data)
}

// Surface returns a view of the pixels. It is only safe to use
// while no queue is writing the image.
func (i *Image) Surface() Surface {
	return Surface{Extent: i.extent, Format: i.format, Pix: i.data}
}
