// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vulkan implements gfx.Backend on Vulkan. All renderer queues
// share the device's graphics queue; cross-submission waits are recorded
// as event waits into the consumer's command buffer, and every submission
// signals a fence used for CPU waits.
package vulkan

import (
	"fmt"
	"unsafe"

	"github.com/devblok/korurt/gfx"
	vk "github.com/vulkan-go/vulkan"
)

// Name is the backend name used in configuration.
const Name = "vulkan"

func safeString(s string) string {
	return fmt.Sprintf("%s\x00", s)
}

func safeStrings(sgs []string) []string {
	safe := make([]string, 0, len(sgs))
	for _, s := range sgs {
		safe = append(safe, safeString(s))
	}
	return safe
}

// SliceUint32 reslices bytes into a uint32, that is used
// to submit vulkan shaders for processing.
func SliceUint32(data []byte) []uint32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}

var formats = map[gfx.Format]vk.Format{
	gfx.FormatRGBA8:   vk.FormatR8g8b8a8Unorm,
	gfx.FormatBGRA8:   vk.FormatB8g8r8a8Unorm,
	gfx.FormatR8:      vk.FormatR8Unorm,
	gfx.FormatRG8:     vk.FormatR8g8Unorm,
	gfx.FormatR32F:    vk.FormatR32Sfloat,
	gfx.FormatRGBA16F: vk.FormatR16g16b16a16Sfloat,
	gfx.FormatRGBA32F: vk.FormatR32g32b32a32Sfloat,
}

// Format translates a pixel format into its Vulkan equivalent.
func Format(f gfx.Format) (vk.Format, bool) {
	vf, ok := formats[f]
	return vf, ok
}

func filter(f gfx.Filter) vk.Filter {
	if f == gfx.FilterNearest {
		return vk.FilterNearest
	}
	return vk.FilterLinear
}

func addressMode(m gfx.AddressMode) vk.SamplerAddressMode {
	switch m {
	case gfx.AddressMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	case gfx.AddressClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	}
	return vk.SamplerAddressModeRepeat
}

func bufferUsage(u gfx.Usage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if u.Has(gfx.UsageVertex) {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if u.Has(gfx.UsageIndex) {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if u.Has(gfx.UsageUniform) {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if u.Has(gfx.UsageStorage) {
		flags |= vk.BufferUsageStorageBufferBit
	}
	// staging copies run in both directions for every buffer
	flags |= vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit
	return vk.BufferUsageFlags(flags)
}

func imageUsage(u gfx.Usage) vk.ImageUsageFlags {
	flags := vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit
	if u.Has(gfx.UsageSampled) {
		flags |= vk.ImageUsageSampledBit
	}
	if u.Has(gfx.UsageStorage) {
		flags |= vk.ImageUsageStorageBit
	}
	if u.Has(gfx.UsageRenderTarget) {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	return vk.ImageUsageFlags(flags)
}

func memoryProperties(r gfx.Residency) vk.MemoryPropertyFlagBits {
	if r == gfx.HostVisible {
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	return vk.MemoryPropertyDeviceLocalBit
}

var colorRange = vk.ImageSubresourceRange{
	AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
	BaseMipLevel:   0,
	LevelCount:     1,
	BaseArrayLayer: 0,
	LayerCount:     1,
}

func clearColor(c [4]float32) *vk.ClearColorValue {
	var color vk.ClearColorValue
	floats := (*[4]float32)(unsafe.Pointer(&color))
	*floats = c
	return &color
}
