// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package component

import (
	"fmt"

	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/resource"
)

// RealizeBuffer creates a native buffer for res and fills it with the payload.
func RealizeBuffer(b gfx.Backend, res *resource.Buffer) (*Buffer, error) {
	native, err := b.NewBuffer(gfx.BufferDesc{
		Name:      res.Name(),
		Size:      res.Size(),
		Usage:     bufferUsage(res),
		Residency: res.Access().Residency(),
	})
	if err != nil {
		return nil, fmt.Errorf("component.RealizeBuffer(%s): %w", res.Name(), err)
	}

	buf := &Buffer{
		backend: b,
		res:     res,
		native:  native,
	}
	if err := buf.fill(res.Bytes()); err != nil {
		native.Release()
		return nil, fmt.Errorf("component.RealizeBuffer(%s): %w", res.Name(), err)
	}
	return buf, nil
}

// Buffer is a realized buffer resource.
type Buffer struct {
	backend gfx.Backend
	res     *resource.Buffer
	native  gfx.Buffer

	// mapped is the persistent mapping of dynamic buffers
	mapped []byte
}

func (b *Buffer) fill(data []byte) error {
	if b.res.Access().Dynamic() {
		mapped, err := b.native.Map()
		if err != nil {
			return err
		}
		b.mapped = mapped
		copy(b.mapped, data)
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	return b.native.Upload(0, data)
}

// Resource implements Component
func (b *Buffer) Resource() resource.Resource {
	return b.res
}

// Type implements Component
func (b *Buffer) Type() resource.Type {
	return resource.TypeBuffer
}

// Access implements Component
func (b *Buffer) Access() resource.Access {
	return b.res.Access()
}

// Name returns the resource name.
func (b *Buffer) Name() string {
	return b.res.Name()
}

// Size returns the size in bytes, which always equals the resource size.
func (b *Buffer) Size() int {
	return b.res.Size()
}

// Native returns the backend buffer.
func (b *Buffer) Native() gfx.Buffer {
	return b.native
}

// Map returns the persistent mapping. Static buffers are never
// host visible and return gfx.ErrNotMappable.
func (b *Buffer) Map() ([]byte, error) {
	if !b.res.Access().Dynamic() {
		return nil, fmt.Errorf("component.Buffer.Map(%s): %w", b.res.Name(), gfx.ErrNotMappable)
	}
	return b.mapped, nil
}

// Write copies data into the mapping at offset. The GPU may still be
// reading the previous contents; avoiding that race is up to the caller.
func (b *Buffer) Write(offset int, data []byte) error {
	mapped, err := b.Map()
	if err != nil {
		return err
	}
	checkRange("component.Buffer.Write", offset, len(data), len(mapped))
	copy(mapped[offset:], data)
	return nil
}

// DynamicCopy copies the mapped contents into dst and returns the
// number of bytes copied.
func (b *Buffer) DynamicCopy(dst []byte) (int, error) {
	mapped, err := b.Map()
	if err != nil {
		return 0, err
	}
	return copy(dst, mapped), nil
}

// Download copies the contents into dst through the backend transfer path.
// It works for every access mode.
func (b *Buffer) Download(dst []byte) error {
	return b.native.Download(dst)
}

// Resize replaces the native buffer with one of size bytes, keeping the
// leading contents, then updates the resource. Resizing a fixed access
// buffer is a contract violation.
func (b *Buffer) Resize(size int) error {
	if !b.res.Access().Variable() {
		gfx.Violation("component.Buffer.Resize", "resize of %s buffer %q", b.res.Access(), b.res.Name())
	}
	if size == b.res.Size() {
		return nil
	}

	keep := make([]byte, size)
	if b.res.Access().Dynamic() {
		copy(keep, b.mapped)
	} else {
		old := make([]byte, b.res.Size())
		if err := b.native.Download(old); err != nil {
			return fmt.Errorf("component.Buffer.Resize(%s): %w", b.res.Name(), err)
		}
		copy(keep, old)
	}

	native, err := b.backend.NewBuffer(gfx.BufferDesc{
		Name:      b.res.Name(),
		Size:      size,
		Usage:     bufferUsage(b.res),
		Residency: b.res.Access().Residency(),
	})
	if err != nil {
		return fmt.Errorf("component.Buffer.Resize(%s): %w", b.res.Name(), err)
	}

	old, oldMapped := b.native, b.mapped
	b.native = native
	b.mapped = nil
	if err := b.fill(keep); err != nil {
		b.native, b.mapped = old, oldMapped
		native.Release()
		return fmt.Errorf("component.Buffer.Resize(%s): %w", b.res.Name(), err)
	}
	old.Release()
	b.res.Resize(size)
	return nil
}

// Release implements gfx.Releasable
func (b *Buffer) Release() {
	b.mapped = nil
	b.native.Release()
}
