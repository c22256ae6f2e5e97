// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"fmt"
	"unsafe"

	"github.com/devblok/korurt/gfx"
	vk "github.com/vulkan-go/vulkan"
)

// Memory defines a usable memory region.
type Memory struct {
	len    int
	device vk.Device
	memory vk.DeviceMemory
	mapped []byte
}

// Len returns the length of assigned memory.
func (m *Memory) Len() int {
	return m.len
}

// Get returns the vulkan memory handle.
func (m *Memory) Get() vk.DeviceMemory {
	return m.memory
}

// Map maps the entire memory region once and returns the mapping.
// Further calls return the same slice.
func (m *Memory) Map() ([]byte, error) {
	if m.mapped != nil {
		return m.mapped, nil
	}
	var ptr unsafe.Pointer
	if err := vk.Error(vk.MapMemory(m.device, m.memory, 0, vk.DeviceSize(m.len), 0, &ptr)); err != nil {
		return nil, fmt.Errorf("vk.MapMemory(): %s", err)
	}
	m.mapped = unsafe.Slice((*byte)(ptr), m.len)
	return m.mapped, nil
}

// Unmap removes the memory mapping if it was mapped.
func (m *Memory) Unmap() {
	if m.mapped != nil {
		vk.UnmapMemory(m.device, m.memory)
		m.mapped = nil
	}
}

// Release frees memory after unmapping it if previously mapped.
func (m *Memory) Release() {
	m.Unmap()
	vk.FreeMemory(m.device, m.memory, nil)
}

// NewMemoryAllocator creates a new memory allocator. Allocates for the logical device,
// reads memory properties of the physical device to influence allocation.
func NewMemoryAllocator(device vk.Device, phyDevice vk.PhysicalDevice) *MemoryAllocator {
	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(phyDevice, &memProperties)
	memProperties.Deref()
	for idx := uint32(0); idx < memProperties.MemoryTypeCount; idx++ {
		memProperties.MemoryTypes[idx].Deref()
	}

	return &MemoryAllocator{
		device:        device,
		memProperties: memProperties,
	}
}

// MemoryAllocator is responsible returning usable
// memory for any resources that may need it.
type MemoryAllocator struct {
	device        vk.Device
	memProperties vk.PhysicalDeviceMemoryProperties
}

// Malloc returns a usable memory chunk in the memory class r. Host visible
// chunks are mapped right away and stay mapped until released.
func (ma *MemoryAllocator) Malloc(req vk.MemoryRequirements, r gfx.Residency) (*Memory, error) {
	memTypeIdx, ok := ma.findMemoryType(req.MemoryTypeBits, vk.MemoryPropertyFlags(memoryProperties(r)))
	if !ok {
		return nil, fmt.Errorf("vulkan.Malloc(): no %s memory type: %w", r, gfx.ErrOutOfMemory)
	}

	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memTypeIdx,
	}

	var memory vk.DeviceMemory
	switch res := vk.AllocateMemory(ma.device, &mai, nil, &memory); res {
	case vk.Success:
	case vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfHostMemory:
		return nil, fmt.Errorf("vk.AllocateMemory(): %d bytes of %s memory: %w", req.Size, r, gfx.ErrOutOfMemory)
	default:
		return nil, fmt.Errorf("vk.AllocateMemory(): %s", vk.Error(res))
	}

	m := &Memory{
		len:    int(req.Size),
		device: ma.device,
		memory: memory,
	}
	if r == gfx.HostVisible {
		if _, err := m.Map(); err != nil {
			m.Release()
			return nil, err
		}
	}
	return m, nil
}

func (ma *MemoryAllocator) findMemoryType(filter uint32, prop vk.MemoryPropertyFlags) (uint32, bool) {
	for idx := uint32(0); idx < ma.memProperties.MemoryTypeCount; idx++ {
		if filter&(1<<idx) != 0 && (ma.memProperties.MemoryTypes[idx].PropertyFlags&prop) == prop {
			return idx, true
		}
	}
	return 0, false
}
