// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"fmt"

	"github.com/devblok/korurt/gfx"
	vk "github.com/vulkan-go/vulkan"
)

// Buffer implements gfx.Buffer
type Buffer struct {
	backend   *Backend
	name      string
	size      int
	residency gfx.Residency
	buffer    vk.Buffer
	memory    *Memory
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

// Native returns the buffer handle, for descriptor writes.
func (b *Buffer) Native() vk.Buffer {
	return b.buffer
}

// Map implements gfx.Buffer
func (b *Buffer) Map() ([]byte, error) {
	if b.released {
		return nil, fmt.Errorf("vulkan.Map(%s): %w", b.name, gfx.ErrReleased)
	}
	if b.residency != gfx.HostVisible {
		return nil, fmt.Errorf("vulkan.Map(%s): %w", b.name, gfx.ErrNotMappable)
	}
	return b.memory.mapped[:b.size], nil
}

// Upload implements gfx.Buffer through a staging buffer.
func (b *Buffer) Upload(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > b.size {
		return fmt.Errorf("vulkan.Upload(%s): range [%d:%d] out of bounds of %d bytes", b.name, offset, offset+len(data), b.size)
	}
	if len(data) == 0 {
		return nil
	}
	return b.backend.staging(len(data), func(staging vk.Buffer, mapped []byte) error {
		copy(mapped, data)
		return b.backend.singleTime(func(cmd vk.CommandBuffer) {
			memoryBarrier(cmd)
			vk.CmdCopyBuffer(cmd, staging, b.buffer, 1, []vk.BufferCopy{{
				DstOffset: vk.DeviceSize(offset),
				Size:      vk.DeviceSize(len(data)),
			}})
			memoryBarrier(cmd)
		})
	})
}

// Download implements gfx.Buffer through a staging buffer.
func (b *Buffer) Download(dst []byte) error {
	n := len(dst)
	if n > b.size {
		n = b.size
	}
	if n == 0 {
		return nil
	}
	return b.backend.staging(n, func(staging vk.Buffer, mapped []byte) error {
		err := b.backend.singleTime(func(cmd vk.CommandBuffer) {
			memoryBarrier(cmd)
			vk.CmdCopyBuffer(cmd, b.buffer, staging, 1, []vk.BufferCopy{{
				Size: vk.DeviceSize(n),
			}})
			memoryBarrier(cmd)
		})
		copy(dst, mapped)
		return err
	})
}

// Release implements gfx.Buffer
func (b *Buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	vk.DestroyBuffer(b.backend.device, b.buffer, nil)
	b.memory.Release()
}

// Image implements gfx.Image together with its view and sampler.
type Image struct {
	backend   *Backend
	name      string
	extent    gfx.Extent
	format    gfx.Format
	vkFormat  vk.Format
	residency gfx.Residency
	rowPitch  int
	image     vk.Image
	view      vk.ImageView
	sampler   vk.Sampler
	memory    *Memory
	released  bool
}

func (i *Image) createView() error {
	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    i.image,
		ViewType: vk.ImageViewType2d,
		Format:   i.vkFormat,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: colorRange,
	}
	if err := vk.Error(vk.CreateImageView(i.backend.device, &ivci, nil, &i.view)); err != nil {
		return fmt.Errorf("vk.CreateImageView(%s): %s", i.name, err)
	}
	return nil
}

func (i *Image) createSampler(s gfx.Sampler) error {
	sci := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               filter(s.Mag),
		MinFilter:               filter(s.Min),
		AddressModeU:            addressMode(s.AddressU),
		AddressModeV:            addressMode(s.AddressV),
		AddressModeW:            addressMode(s.AddressU),
		BorderColor:             vk.BorderColorFloatOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}
	if s.MaxAnisotropy > 1 {
		sci.AnisotropyEnable = vk.True
		sci.MaxAnisotropy = s.MaxAnisotropy
	}
	if err := vk.Error(vk.CreateSampler(i.backend.device, &sci, nil, &i.sampler)); err != nil {
		return fmt.Errorf("vk.CreateSampler(%s): %s", i.name, err)
	}
	return nil
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

// Native returns the image handle.
func (i *Image) Native() vk.Image {
	return i.image
}

// View returns the image view covering the whole image.
func (i *Image) View() vk.ImageView {
	return i.view
}

// Sampler returns the sampler created from the image description.
func (i *Image) Sampler() vk.Sampler {
	return i.sampler
}

func (i *Image) size() int {
	return i.extent.Bytes(i.format)
}

// Map implements gfx.Image. Only linear images whose rows are tightly
// packed can be exposed as a flat pixel slice.
func (i *Image) Map() ([]byte, error) {
	if i.released {
		return nil, fmt.Errorf("vulkan.Map(%s): %w", i.name, gfx.ErrReleased)
	}
	if i.residency != gfx.HostVisible {
		return nil, fmt.Errorf("vulkan.Map(%s): %w", i.name, gfx.ErrNotMappable)
	}
	if i.rowPitch != i.extent.Width*i.format.BytesPerPixel() {
		return nil, fmt.Errorf("vulkan.Map(%s): row pitch %d: %w", i.name, i.rowPitch, gfx.ErrUnsupported)
	}
	return i.memory.mapped[:i.size()], nil
}

// Upload implements gfx.Image through a staging buffer.
func (i *Image) Upload(data []byte) error {
	if len(data) != i.size() {
		return fmt.Errorf("vulkan.Upload(%s): %d bytes for %s %s image", i.name, len(data), i.extent, i.format)
	}
	return i.backend.staging(len(data), func(staging vk.Buffer, mapped []byte) error {
		copy(mapped, data)
		return i.backend.singleTime(func(cmd vk.CommandBuffer) {
			memoryBarrier(cmd)
			vk.CmdCopyBufferToImage(cmd, staging, i.image, vk.ImageLayoutGeneral, 1, []vk.BufferImageCopy{bufferImageCopy(i.extent)})
			memoryBarrier(cmd)
		})
	})
}

// Download implements gfx.Image through a staging buffer.
func (i *Image) Download(dst []byte) error {
	size := i.size()
	return i.backend.staging(size, func(staging vk.Buffer, mapped []byte) error {
		err := i.backend.singleTime(func(cmd vk.CommandBuffer) {
			memoryBarrier(cmd)
			vk.CmdCopyImageToBuffer(cmd, i.image, vk.ImageLayoutGeneral, staging, 1, []vk.BufferImageCopy{bufferImageCopy(i.extent)})
			memoryBarrier(cmd)
		})
		copy(dst, mapped)
		return err
	})
}

// Release implements gfx.Image
func (i *Image) Release() {
	if i.released {
		return
	}
	i.released = true
	device := i.backend.device
	if i.sampler != nil {
		vk.DestroySampler(device, i.sampler, nil)
	}
	if i.view != nil {
		vk.DestroyImageView(device, i.view, nil)
	}
	vk.DestroyImage(device, i.image, nil)
	if i.memory != nil {
		i.memory.Release()
	}
}
