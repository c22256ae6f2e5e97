// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package opengl

import (
	"fmt"

	"github.com/devblok/korurt/gfx"
	"github.com/go-gl/gl/v4.5-core/gl"
)

// Buffer implements gfx.Buffer on immutable buffer storage.
type Buffer struct {
	backend   *Backend
	name      string
	size      int
	usage     gfx.Usage
	residency gfx.Residency
	id        uint32
	mapped    []byte
	released  bool
}

// Size implements gfx.Buffer
func (b *Buffer) Size() int {
	return b.size
}

// Residency implements gfx.Buffer
func (b *Buffer) Residency() gfx.Residency {
	return b.residency
}

// ID returns the GL buffer name.
func (b *Buffer) ID() uint32 {
	return b.id
}

// Map implements gfx.Buffer
func (b *Buffer) Map() ([]byte, error) {
	if b.released {
		return nil, fmt.Errorf("opengl.Map(%s): %w", b.name, gfx.ErrReleased)
	}
	if b.residency != gfx.HostVisible {
		return nil, fmt.Errorf("opengl.Map(%s): %w", b.name, gfx.ErrNotMappable)
	}
	return b.mapped, nil
}

// Upload implements gfx.Buffer
func (b *Buffer) Upload(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > b.size {
		return fmt.Errorf("opengl.Upload(%s): range [%d:%d] out of bounds of %d bytes", b.name, offset, offset+len(data), b.size)
	}
	if len(data) == 0 {
		return nil
	}
	var err error
	if derr := b.backend.do(func() {
		gl.NamedBufferSubData(b.id, offset, len(data), gl.Ptr(data))
		err = glError("gl.NamedBufferSubData()")
	}); derr != nil {
		return derr
	}
	return err
}

// Download implements gfx.Buffer
func (b *Buffer) Download(dst []byte) error {
	n := len(dst)
	if n > b.size {
		n = b.size
	}
	if n == 0 {
		return nil
	}
	var err error
	if derr := b.backend.do(func() {
		gl.MemoryBarrier(gl.BUFFER_UPDATE_BARRIER_BIT)
		gl.GetNamedBufferSubData(b.id, 0, n, gl.Ptr(dst))
		err = glError("gl.GetNamedBufferSubData()")
	}); derr != nil {
		return derr
	}
	return err
}

// Release implements gfx.Buffer
func (b *Buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	_ = b.backend.post(func() {
		if b.mapped != nil {
			gl.UnmapNamedBuffer(b.id)
		}
		gl.DeleteBuffers(1, &b.id)
	})
}

// Image implements gfx.Image as a texture with its own sampler object.
type Image struct {
	backend   *Backend
	name      string
	extent    gfx.Extent
	format    gfx.Format
	pf        pixelFormat
	residency gfx.Residency
	texture   uint32
	sampler   uint32
	pbo       uint32
	mapped    []byte
	released  bool
}

// create runs on the GL thread.
func (i *Image) create(s gfx.Sampler) error {
	gl.CreateTextures(gl.TEXTURE_2D, 1, &i.texture)
	gl.TextureStorage2D(i.texture, 1, i.pf.internal, int32(i.extent.Width), int32(i.extent.Height))
	if err := glError("gl.TextureStorage2D()"); err != nil {
		gl.DeleteTextures(1, &i.texture)
		return err
	}

	gl.CreateSamplers(1, &i.sampler)
	gl.SamplerParameteri(i.sampler, gl.TEXTURE_MIN_FILTER, filter(s.Min))
	gl.SamplerParameteri(i.sampler, gl.TEXTURE_MAG_FILTER, filter(s.Mag))
	gl.SamplerParameteri(i.sampler, gl.TEXTURE_WRAP_S, wrap(s.AddressU))
	gl.SamplerParameteri(i.sampler, gl.TEXTURE_WRAP_T, wrap(s.AddressV))
	if s.MaxAnisotropy > 1 {
		gl.SamplerParameterf(i.sampler, glTextureMaxAnisotropy, s.MaxAnisotropy)
	}

	if i.residency == gfx.HostVisible {
		var err error
		if i.pbo, i.mapped, err = createStorage(i.size(), gfx.HostVisible); err != nil {
			i.destroy()
			return err
		}
	}
	return nil
}

func (i *Image) size() int {
	return i.extent.Bytes(i.format)
}

// Extent implements gfx.Image
func (i *Image) Extent() gfx.Extent {
	return i.extent
}

// Format implements gfx.Image
func (i *Image) Format() gfx.Format {
	return i.format
}

// Residency implements gfx.Image
func (i *Image) Residency() gfx.Residency {
	return i.residency
}

// Texture returns the GL texture name.
func (i *Image) Texture() uint32 {
	return i.texture
}

// Sampler returns the GL sampler name.
func (i *Image) Sampler() uint32 {
	return i.sampler
}

// Map implements gfx.Image. The mapping is the image's pixel buffer.
func (i *Image) Map() ([]byte, error) {
	if i.released {
		return nil, fmt.Errorf("opengl.Map(%s): %w", i.name, gfx.ErrReleased)
	}
	if i.residency != gfx.HostVisible {
		return nil, fmt.Errorf("opengl.Map(%s): %w", i.name, gfx.ErrNotMappable)
	}
	return i.mapped, nil
}

// unpack copies the pixel buffer into the texture. GL thread only.
func (i *Image) unpack() {
	if i.pbo == 0 {
		return
	}
	gl.MemoryBarrier(gl.PIXEL_BUFFER_BARRIER_BIT)
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, i.pbo)
	gl.TextureSubImage2D(i.texture, 0, 0, 0, int32(i.extent.Width), int32(i.extent.Height), i.pf.format, i.pf.xtype, nil)
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, 0)
}

// pack copies the texture into the pixel buffer. GL thread only.
func (i *Image) pack() {
	if i.pbo == 0 {
		return
	}
	gl.MemoryBarrier(gl.FRAMEBUFFER_BARRIER_BIT | gl.TEXTURE_UPDATE_BARRIER_BIT)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, i.pbo)
	gl.GetTextureImage(i.texture, 0, i.pf.format, i.pf.xtype, int32(i.size()), nil)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)
}

// Upload implements gfx.Image
func (i *Image) Upload(data []byte) error {
	if len(data) != i.size() {
		return fmt.Errorf("opengl.Upload(%s): %d bytes for %s %s image", i.name, len(data), i.extent, i.format)
	}
	var err error
	if derr := i.backend.do(func() {
		gl.TextureSubImage2D(i.texture, 0, 0, 0, int32(i.extent.Width), int32(i.extent.Height), i.pf.format, i.pf.xtype, gl.Ptr(data))
		err = glError("gl.TextureSubImage2D()")
	}); derr != nil {
		return derr
	}
	return err
}

// Download implements gfx.Image
func (i *Image) Download(dst []byte) error {
	if len(dst) < i.size() {
		return fmt.Errorf("opengl.Download(%s): %d bytes for %s %s image", i.name, len(dst), i.extent, i.format)
	}
	var err error
	if derr := i.backend.do(func() {
		gl.MemoryBarrier(gl.TEXTURE_UPDATE_BARRIER_BIT)
		gl.GetTextureImage(i.texture, 0, i.pf.format, i.pf.xtype, int32(i.size()), gl.Ptr(dst))
		err = glError("gl.GetTextureImage()")
	}); derr != nil {
		return derr
	}
	return err
}

func (i *Image) destroy() {
	i.backend.dropFramebuffers(i.texture)
	if i.pbo != 0 {
		gl.UnmapNamedBuffer(i.pbo)
		gl.DeleteBuffers(1, &i.pbo)
	}
	gl.DeleteSamplers(1, &i.sampler)
	gl.DeleteTextures(1, &i.texture)
}

// Release implements gfx.Image
func (i *Image) Release() {
	if i.released {
		return
	}
	i.released = true
	_ = i.backend.post(i.destroy)
}
