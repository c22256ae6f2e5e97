// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/devblok/korurt/gfx"
	"github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// Configuration selects and sets up the logical device.
type Configuration struct {
	DeviceIndex      int
	DeviceExtensions []string
}

// NewBackend creates a logical device on the configured physical device
// of instance. The swapchain extension is enabled when the instance has
// a surface.
func NewBackend(instance *Instance, cfg Configuration, log logrus.FieldLogger) (*Backend, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	devices := instance.AvailableDevices()
	if cfg.DeviceIndex < 0 || cfg.DeviceIndex >= len(devices) {
		return nil, fmt.Errorf("vulkan.NewBackend(): device %d of %d available", cfg.DeviceIndex, len(devices))
	}
	physicalDevice := devices[cfg.DeviceIndex]

	family, err := graphicsQueueFamily(physicalDevice, instance.Surface())
	if err != nil {
		return nil, err
	}

	extensions := cfg.DeviceExtensions
	if instance.Surface() != vk.NullSurface {
		extensions = append(extensions, vk.KhrSwapchainExtensionName)
	}

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: family,
		QueueCount:       1,
		PQueuePriorities: []float32{1},
	}}

	var device vk.Device
	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}
	if err := vk.Error(vk.CreateDevice(physicalDevice, &dci, nil, &device)); err != nil {
		return nil, errors.New("vk.CreateDevice(): " + err.Error())
	}

	var queue vk.Queue
	vk.GetDeviceQueue(device, family, 0, &queue)

	b := &Backend{
		instance:       instance,
		physicalDevice: physicalDevice,
		device:         device,
		family:         family,
		queue:          queue,
		allocator:      NewMemoryAllocator(device, physicalDevice),
		log:            log.WithField("backend", Name),
	}
	if b.transferPool, err = b.createCommandPool(); err != nil {
		vk.DestroyDevice(device, nil)
		return nil, err
	}
	b.log.WithField("device", cfg.DeviceIndex).Info("logical device created")
	return b, nil
}

func graphicsQueueFamily(pd vk.PhysicalDevice, surface vk.Surface) (uint32, error) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	if count == 0 {
		return 0, errors.New("vk.GetPhysicalDeviceQueueFamilyProperties(): no queuefamilies on GPU")
	}
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	for i := uint32(0); i < count; i++ {
		families[i].Deref()
		if families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 {
			continue
		}
		if surface != vk.NullSurface {
			var supportsPresent vk.Bool32
			vk.GetPhysicalDeviceSurfaceSupport(pd, i, surface, &supportsPresent)
			if !supportsPresent.B() {
				continue
			}
		}
		return i, nil
	}
	return 0, errors.New("vulkan error: could not find a suitable queue family")
}

// Backend implements gfx.Backend on a Vulkan logical device.
type Backend struct {
	instance       *Instance
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	family         uint32
	allocator      *MemoryAllocator
	log            logrus.FieldLogger

	// queueMu serializes access to queue and transferPool
	queueMu      sync.Mutex
	queue        vk.Queue
	transferPool vk.CommandPool
	last         *Sync
	retired      []retiredSync

	mu     sync.Mutex
	queues []*Queue
}

type retiredSync struct {
	sync  *Sync
	after *Sync
}

// Name implements gfx.Backend
func (b *Backend) Name() string {
	return Name
}

// Capabilities implements gfx.Backend. Queues are views of a single
// graphics queue, so waits are recorded as event waits.
func (b *Backend) Capabilities() gfx.Capabilities {
	return gfx.Capabilities{
		WaitSemaphores:    false,
		MultiQueue:        false,
		PersistentMapping: true,
	}
}

// Device returns the logical device, for creating pipelines.
func (b *Backend) Device() vk.Device {
	return b.device
}

// PhysicalDevice returns the physical device the backend runs on.
func (b *Backend) PhysicalDevice() vk.PhysicalDevice {
	return b.physicalDevice
}

func (b *Backend) createCommandPool() (vk.CommandPool, error) {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: b.family,
	}

	var commandPool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(b.device, &cpci, nil, &commandPool)); err != nil {
		return nil, errors.New("vk.CreateCommandPool(): " + err.Error())
	}
	return commandPool, nil
}

// NewBuffer implements gfx.Backend
func (b *Backend) NewBuffer(desc gfx.BufferDesc) (gfx.Buffer, error) {
	if desc.Size <= 0 {
		return nil, fmt.Errorf("vulkan.NewBuffer(%s): invalid size %d", desc.Name, desc.Size)
	}
	buffer, memory, err := b.createBuffer(desc.Size, bufferUsage(desc.Usage), desc.Residency)
	if err != nil {
		return nil, fmt.Errorf("vulkan.NewBuffer(%s): %w", desc.Name, err)
	}
	return &Buffer{
		backend:   b,
		name:      desc.Name,
		size:      desc.Size,
		residency: desc.Residency,
		buffer:    buffer,
		memory:    memory,
	}, nil
}

func (b *Backend) createBuffer(size int, usage vk.BufferUsageFlags, r gfx.Residency) (vk.Buffer, *Memory, error) {
	bci := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}

	var buffer vk.Buffer
	if err := vk.Error(vk.CreateBuffer(b.device, &bci, nil, &buffer)); err != nil {
		return nil, nil, fmt.Errorf("vk.CreateBuffer(): %s", err)
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(b.device, buffer, &req)
	req.Deref()

	memory, err := b.allocator.Malloc(req, r)
	if err != nil {
		vk.DestroyBuffer(b.device, buffer, nil)
		return nil, nil, err
	}
	if err := vk.Error(vk.BindBufferMemory(b.device, buffer, memory.Get(), 0)); err != nil {
		memory.Release()
		vk.DestroyBuffer(b.device, buffer, nil)
		return nil, nil, fmt.Errorf("vk.BindBufferMemory(): %s", err)
	}
	return buffer, memory, nil
}

// NewImage implements gfx.Backend. Images live in the general layout
// for their whole lifetime.
func (b *Backend) NewImage(desc gfx.ImageDesc) (gfx.Image, error) {
	format, ok := Format(desc.Format)
	if !ok || desc.Extent.Width <= 0 || desc.Extent.Height <= 0 {
		return nil, fmt.Errorf("vulkan.NewImage(%s): invalid %s %s image", desc.Name, desc.Extent, desc.Format)
	}

	tiling := vk.ImageTilingOptimal
	if desc.Residency == gfx.HostVisible {
		tiling = vk.ImageTilingLinear
	}
	ici := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  uint32(desc.Extent.Width),
			Height: uint32(desc.Extent.Height),
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        tiling,
		Usage:         imageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	img := &Image{
		backend:   b,
		name:      desc.Name,
		extent:    desc.Extent,
		format:    desc.Format,
		vkFormat:  format,
		residency: desc.Residency,
	}
	if err := vk.Error(vk.CreateImage(b.device, &ici, nil, &img.image)); err != nil {
		return nil, fmt.Errorf("vk.CreateImage(%s): %s", desc.Name, err)
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(b.device, img.image, &req)
	req.Deref()

	var err error
	if img.memory, err = b.allocator.Malloc(req, desc.Residency); err != nil {
		vk.DestroyImage(b.device, img.image, nil)
		return nil, fmt.Errorf("vulkan.NewImage(%s): %w", desc.Name, err)
	}
	if err := vk.Error(vk.BindImageMemory(b.device, img.image, img.memory.Get(), 0)); err != nil {
		img.Release()
		return nil, fmt.Errorf("vk.BindImageMemory(%s): %s", desc.Name, err)
	}
	if err := img.createView(); err != nil {
		img.Release()
		return nil, err
	}
	if err := img.createSampler(desc.Sampler); err != nil {
		img.Release()
		return nil, err
	}
	if desc.Residency == gfx.HostVisible {
		img.rowPitch = b.rowPitch(img.image)
	}
	if err := b.transitionLayout(img.image, vk.ImageLayoutUndefined, vk.ImageLayoutGeneral); err != nil {
		img.Release()
		return nil, err
	}
	return img, nil
}

func (b *Backend) rowPitch(img vk.Image) int {
	var layout vk.SubresourceLayout
	vk.GetImageSubresourceLayout(b.device, img, &vk.ImageSubresource{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	}, &layout)
	layout.Deref()
	return int(layout.RowPitch)
}

// NewQueue implements gfx.Backend
func (b *Backend) NewQueue() (gfx.Queue, error) {
	pool, err := b.createCommandPool()
	if err != nil {
		return nil, err
	}
	q := &Queue{
		backend: b,
		pool:    pool,
	}
	b.mu.Lock()
	b.queues = append(b.queues, q)
	b.mu.Unlock()
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

// submit hands command buffers to the device queue, signalling the fence
// of s. On failure s is destroyed. Callers hold queueMu.
func (b *Backend) submit(s *Sync, cmds []vk.CommandBuffer, wait []vk.Semaphore, signal []vk.Semaphore) error {
	si := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(wait)),
		PWaitSemaphores:      wait,
		CommandBufferCount:   uint32(len(cmds)),
		PCommandBuffers:      cmds,
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}
	if len(wait) > 0 {
		stages := make([]vk.PipelineStageFlags, len(wait))
		for i := range stages {
			stages[i] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		}
		si.PWaitDstStageMask = stages
	}
	if err := vk.Error(vk.QueueSubmit(b.queue, 1, []vk.SubmitInfo{si}, s.fence)); err != nil {
		s.destroy()
		return fmt.Errorf("vk.QueueSubmit(): %s", err)
	}
	if b.last != nil {
		b.last.unref()
	}
	s.ref()
	b.last = s
	b.collect()
	return nil
}

// retire schedules s for destruction once every submission made so far
// has completed. Callers hold queueMu.
func (b *Backend) retire(s *Sync) {
	after := b.last
	if after == nil {
		after = s
	}
	after.ref()
	b.retired = append(b.retired, retiredSync{sync: s, after: after})
}

// collect destroys retired syncs that can no longer be referenced by
// pending command buffers. Callers hold queueMu.
func (b *Backend) collect() {
	kept := b.retired[:0]
	for _, r := range b.retired {
		if !r.after.Signalled() {
			kept = append(kept, r)
			continue
		}
		r.sync.unref()
		r.after.unref()
	}
	b.retired = kept
}

// beginSingleTimeCommands allocates a one-off command buffer.
// Callers hold queueMu.
func (b *Backend) beginSingleTimeCommands() (vk.CommandBuffer, error) {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        b.transferPool,
		CommandBufferCount: 1,
	}

	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(b.device, &cbai, commandBuffers)); err != nil {
		return nil, fmt.Errorf("vk.AllocateCommandBuffers(): %s", err.Error())
	}
	commandBuffer := commandBuffers[0]

	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}

	if err := vk.Error(vk.BeginCommandBuffer(commandBuffer, &cbbi)); err != nil {
		vk.FreeCommandBuffers(b.device, b.transferPool, 1, []vk.CommandBuffer{commandBuffer})
		return nil, fmt.Errorf("vk.BeginCommandBuffer(): %s", err.Error())
	}

	return commandBuffer, nil
}

// endSingleTimeCommands submits commandBuffer and blocks until it completed.
// Callers hold queueMu.
func (b *Backend) endSingleTimeCommands(commandBuffer vk.CommandBuffer) error {
	defer vk.FreeCommandBuffers(b.device, b.transferPool, 1, []vk.CommandBuffer{commandBuffer})

	if err := vk.Error(vk.EndCommandBuffer(commandBuffer)); err != nil {
		return fmt.Errorf("vk.EndCommandBuffer(): %s", err.Error())
	}

	s, err := b.newSync()
	if err != nil {
		return err
	}
	if err := b.submit(s, []vk.CommandBuffer{commandBuffer}, nil, nil); err != nil {
		return err
	}
	defer s.unref()
	return s.Wait()
}

// singleTime records fn into a one-off command buffer and runs it to completion.
func (b *Backend) singleTime(fn func(cmd vk.CommandBuffer)) error {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()

	cmd, err := b.beginSingleTimeCommands()
	if err != nil {
		return err
	}
	fn(cmd)
	return b.endSingleTimeCommands(cmd)
}

func (b *Backend) transitionLayout(img vk.Image, old, new vk.ImageLayout) error {
	return b.singleTime(func(cmd vk.CommandBuffer) {
		imageBarrier(cmd, img, old, new)
	})
}

func imageBarrier(cmd vk.CommandBuffer, img vk.Image, old, new vk.ImageLayout) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		OldLayout:           old,
		NewLayout:           new,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange:    colorRange,
	}
	stage := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	vk.CmdPipelineBarrier(cmd, stage, stage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func memoryBarrier(cmd vk.CommandBuffer) {
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
	}
	stage := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	vk.CmdPipelineBarrier(cmd, stage, stage, 0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

// staging runs fn with a host visible buffer of size bytes.
func (b *Backend) staging(size int, fn func(buffer vk.Buffer, mapped []byte) error) error {
	buffer, memory, err := b.createBuffer(size, vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit), gfx.HostVisible)
	if err != nil {
		return err
	}
	defer func() {
		vk.DestroyBuffer(b.device, buffer, nil)
		memory.Release()
	}()
	return fn(buffer, memory.mapped[:size])
}

func bufferImageCopy(extent gfx.Extent) vk.BufferImageCopy {
	return vk.BufferImageCopy{
		ImageOffset: vk.Offset3D{},
		ImageExtent: vk.Extent3D{
			Width:  uint32(extent.Width),
			Height: uint32(extent.Height),
			Depth:  1,
		},
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
}

// WaitIdle blocks until the device queue drained.
func (b *Backend) WaitIdle() error {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	if err := vk.Error(vk.QueueWaitIdle(b.queue)); err != nil {
		return fmt.Errorf("vk.QueueWaitIdle(): %s", err)
	}
	b.collect()
	return nil
}

// Release implements gfx.Backend. The instance is left to the caller.
func (b *Backend) Release() {
	b.mu.Lock()
	queues := append([]*Queue(nil), b.queues...)
	b.mu.Unlock()
	for _, q := range queues {
		q.Release()
	}

	vk.DeviceWaitIdle(b.device)

	b.queueMu.Lock()
	b.collect()
	if b.last != nil {
		b.last.unref()
		b.last = nil
	}
	vk.DestroyCommandPool(b.device, b.transferPool, nil)
	b.queueMu.Unlock()

	vk.DestroyDevice(b.device, nil)
	b.log.Info("logical device destroyed")
}

const waitForever = math.MaxUint64
