// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"errors"
	"fmt"

	"github.com/devblok/korurt/gfx"
	vk "github.com/vulkan-go/vulkan"
)

type swapImage struct {
	image vk.Image
	view  vk.ImageView
}

// Window implements gfx.Window on the instance surface through a swapchain.
type Window struct {
	backend    *Backend
	size       uint32
	extent     gfx.Extent
	format     vk.Format
	colorspace vk.ColorSpace

	swapchain      vk.Swapchain
	images         []swapImage
	imageAvailable vk.Semaphore
	renderFinished vk.Semaphore
	index          uint32
	pending        bool
	outdated       bool
}

// NewWindow creates a swapchain of at least size images on the instance
// surface.
func (b *Backend) NewWindow(extent gfx.Extent, size uint32) (*Window, error) {
	surface := b.instance.Surface()
	if surface == vk.NullSurface {
		return nil, errors.New("vulkan.NewWindow(): instance has no surface")
	}

	var formatCount uint32
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(b.physicalDevice, surface, &formatCount, nil)); err != nil {
		return nil, errors.New("vk.GetPhysicalDeviceSurfaceFormats(): " + err.Error())
	}
	if formatCount == 0 {
		return nil, errors.New("vk.GetPhysicalDeviceSurfaceFormats(): no surface formats")
	}
	surfaceFormats := make([]vk.SurfaceFormat, formatCount)
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(b.physicalDevice, surface, &formatCount, surfaceFormats)); err != nil {
		return nil, errors.New("vk.GetPhysicalDeviceSurfaceFormats(): " + err.Error())
	}
	surfaceFormats[0].Deref()

	w := &Window{
		backend:    b,
		size:       size,
		extent:     extent,
		format:     surfaceFormats[0].Format,
		colorspace: surfaceFormats[0].ColorSpace,
	}

	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	if err := vk.Error(vk.CreateSemaphore(b.device, &sci, nil, &w.imageAvailable)); err != nil {
		return nil, errors.New("vk.CreateSemaphore(): " + err.Error())
	}
	if err := vk.Error(vk.CreateSemaphore(b.device, &sci, nil, &w.renderFinished)); err != nil {
		vk.DestroySemaphore(b.device, w.imageAvailable, nil)
		return nil, errors.New("vk.CreateSemaphore(): " + err.Error())
	}
	if err := w.createSwapchain(nil); err != nil {
		w.Release()
		return nil, err
	}
	return w, nil
}

func (w *Window) createSwapchain(oldSwapchain vk.Swapchain) error {
	device := w.backend.device
	surface := w.backend.instance.Surface()

	var surfaceCapabilities vk.SurfaceCapabilities
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceCapabilities(w.backend.physicalDevice, surface, &surfaceCapabilities)); err != nil {
		return errors.New("vk.GetPhysicalDeviceSurfaceCapabilities(): " + err.Error())
	}
	surfaceCapabilities.Deref()

	// In case swapchain is being recreated
	if oldSwapchain != nil {
		surfaceCapabilities.CurrentExtent.Deref()
		w.extent = gfx.Extent{
			Width:  int(surfaceCapabilities.CurrentExtent.Width),
			Height: int(surfaceCapabilities.CurrentExtent.Height),
		}
	}

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if surfaceCapabilities.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	scci := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         surface,
		MinImageCount:   w.size,
		ImageFormat:     w.format,
		ImageColorSpace: w.colorspace,
		ImageExtent: vk.Extent2D{
			Width:  uint32(w.extent.Width),
			Height: uint32(w.extent.Height),
		},
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     vk.SurfaceTransformIdentityBit,
		CompositeAlpha:   compositeAlpha,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		OldSwapchain:     oldSwapchain,
	}

	var swapchain vk.Swapchain
	if err := vk.Error(vk.CreateSwapchain(device, &scci, nil, &swapchain)); err != nil {
		return errors.New("vk.CreateSwapchain(): " + err.Error())
	}
	w.swapchain = swapchain

	var numImages uint32
	if err := vk.Error(vk.GetSwapchainImages(device, swapchain, &numImages, nil)); err != nil {
		return errors.New("vk.GetSwapchainImages(num): " + err.Error())
	}
	images := make([]vk.Image, numImages)
	if err := vk.Error(vk.GetSwapchainImages(device, swapchain, &numImages, images)); err != nil {
		return errors.New("vk.GetSwapchainImages(images): " + err.Error())
	}

	for idx, img := range images {
		ivci := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    img,
			ViewType: vk.ImageViewType2d,
			Format:   w.format,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleIdentity,
				G: vk.ComponentSwizzleIdentity,
				B: vk.ComponentSwizzleIdentity,
				A: vk.ComponentSwizzleIdentity,
			},
			SubresourceRange: colorRange,
		}
		var view vk.ImageView
		if err := vk.Error(vk.CreateImageView(device, &ivci, nil, &view)); err != nil {
			return fmt.Errorf("vk.CreateImageView(swapchain %d): %s", idx, err)
		}
		w.images = append(w.images, swapImage{image: img, view: view})
	}
	return nil
}

func (w *Window) destroySwapchain() {
	for _, img := range w.images {
		vk.DestroyImageView(w.backend.device, img.view, nil)
	}
	w.images = nil
	if w.swapchain != nil {
		vk.DestroySwapchain(w.backend.device, w.swapchain, nil)
		w.swapchain = nil
	}
}

func (w *Window) recreate() error {
	if err := w.backend.WaitIdle(); err != nil {
		return err
	}
	old := w.swapchain
	for _, img := range w.images {
		vk.DestroyImageView(w.backend.device, img.view, nil)
	}
	w.images = nil
	err := w.createSwapchain(old)
	vk.DestroySwapchain(w.backend.device, old, nil)
	w.outdated = false
	return err
}

// acquire selects the swapchain image the next pass renders into.
func (w *Window) acquire() error {
	if w.outdated {
		if err := w.recreate(); err != nil {
			return err
		}
	}
	res := vk.AcquireNextImage(w.backend.device, w.swapchain, waitForever, w.imageAvailable, nil, &w.index)
	if res == vk.ErrorOutOfDate {
		if err := w.recreate(); err != nil {
			return err
		}
		res = vk.AcquireNextImage(w.backend.device, w.swapchain, waitForever, w.imageAvailable, nil, &w.index)
	}
	if err := vk.Error(res); err != nil && res != vk.Suboptimal {
		return errors.New("vk.AcquireNextImage(): " + err.Error())
	}
	w.pending = true
	return nil
}

func (w *Window) current() swapImage {
	return w.images[w.index]
}

// present queues the acquired image for presentation.
// Callers hold backend.queueMu.
func (w *Window) present() error {
	if !w.pending {
		return nil
	}
	w.pending = false
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{w.renderFinished},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{w.swapchain},
		PImageIndices:      []uint32{w.index},
	}
	switch res := vk.QueuePresent(w.backend.queue, &presentInfo); res {
	case vk.Success:
	case vk.ErrorOutOfDate, vk.Suboptimal:
		w.outdated = true
	default:
		return errors.New("vk.QueuePresent(): " + vk.Error(res).Error())
	}
	return nil
}

// Extent implements gfx.Window
func (w *Window) Extent() gfx.Extent {
	return w.extent
}

// Present implements gfx.Window. Passes targeting the window present
// when their submission is made; Present flushes an image that was
// acquired but not yet presented.
func (w *Window) Present() error {
	w.backend.queueMu.Lock()
	defer w.backend.queueMu.Unlock()
	return w.present()
}

// Release destroys the swapchain and its semaphores.
func (w *Window) Release() {
	vk.DeviceWaitIdle(w.backend.device)
	w.destroySwapchain()
	vk.DestroySemaphore(w.backend.device, w.imageAvailable, nil)
	vk.DestroySemaphore(w.backend.device, w.renderFinished, nil)
}
