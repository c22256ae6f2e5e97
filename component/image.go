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

func imageDesc(res *resource.Image, extent gfx.Extent) gfx.ImageDesc {
	return gfx.ImageDesc{
		Name:      res.Name(),
		Extent:    extent,
		Format:    res.Format(),
		Usage:     imageUsage(res),
		Residency: res.Access().Residency(),
		Sampler:   res.Sampler(),
	}
}

// RealizeImage creates a native image with the resource dimensions, format
// and sampler, and fills it with the payload.
func RealizeImage(b gfx.Backend, res *resource.Image) (*Image, error) {
	native, err := b.NewImage(imageDesc(res, res.Dimensions()))
	if err != nil {
		return nil, fmt.Errorf("component.RealizeImage(%s): %w", res.Name(), err)
	}

	img := &Image{
		backend: b,
		res:     res,
		native:  native,
	}
	if err := img.fill(res.Bytes()); err != nil {
		native.Release()
		return nil, fmt.Errorf("component.RealizeImage(%s): %w", res.Name(), err)
	}
	return img, nil
}

// Image is a realized image resource.
type Image struct {
	backend gfx.Backend
	res     *resource.Image
	native  gfx.Image
	mapped  []byte
}

func (i *Image) fill(data []byte) error {
	if i.res.Access().Dynamic() {
		mapped, err := i.native.Map()
		if err != nil {
			return err
		}
		i.mapped = mapped
		copy(i.mapped, data)
		return nil
	}
	return i.native.Upload(data)
}

// Resource implements Component
func (i *Image) Resource() resource.Resource {
	return i.res
}

// Type implements Component
func (i *Image) Type() resource.Type {
	return resource.TypeImage
}

// Access implements Component
func (i *Image) Access() resource.Access {
	return i.res.Access()
}

// Name returns the resource name.
func (i *Image) Name() string {
	return i.res.Name()
}

// Dimensions returns the extent, which always equals the resource extent.
func (i *Image) Dimensions() gfx.Extent {
	return i.res.Dimensions()
}

// Format returns the pixel format.
func (i *Image) Format() gfx.Format {
	return i.res.Format()
}

// Size returns the image size in bytes.
func (i *Image) Size() int {
	return i.res.Dimensions().Bytes(i.res.Format())
}

// Native returns the backend image.
func (i *Image) Native() gfx.Image {
	return i.native
}

// Map returns the persistent mapping of a dynamic image.
func (i *Image) Map() ([]byte, error) {
	if !i.res.Access().Dynamic() {
		return nil, fmt.Errorf("component.Image.Map(%s): %w", i.res.Name(), gfx.ErrNotMappable)
	}
	return i.mapped, nil
}

// Write replaces the pixels of a dynamic image. data must cover the whole image.
func (i *Image) Write(data []byte) error {
	mapped, err := i.Map()
	if err != nil {
		return err
	}
	if len(data) != len(mapped) {
		gfx.Violation("component.Image.Write", "wrote %d bytes to %s %s image %q", len(data), i.res.Dimensions(), i.res.Format(), i.res.Name())
	}
	copy(mapped, data)
	return nil
}

// DynamicCopy copies the mapped pixels into dst and returns the
// number of bytes copied.
func (i *Image) DynamicCopy(dst []byte) (int, error) {
	mapped, err := i.Map()
	if err != nil {
		return 0, err
	}
	return copy(dst, mapped), nil
}

// Download reads the pixels back through the backend transfer path.
func (i *Image) Download(dst []byte) error {
	return i.native.Download(dst)
}

// Resize replaces the native image with one of the new extent. Pixel
// contents are not preserved across a resize.
func (i *Image) Resize(extent gfx.Extent) error {
	if !i.res.Access().Variable() {
		gfx.Violation("component.Image.Resize", "resize of %s image %q", i.res.Access(), i.res.Name())
	}
	if extent.Width <= 0 || extent.Height <= 0 {
		gfx.Violation("component.Image.Resize", "invalid extent %s for image %q", extent, i.res.Name())
	}
	if extent == i.res.Dimensions() {
		return nil
	}

	native, err := i.backend.NewImage(imageDesc(i.res, extent))
	if err != nil {
		return fmt.Errorf("component.Image.Resize(%s): %w", i.res.Name(), err)
	}

	old, oldMapped := i.native, i.mapped
	i.native = native
	i.mapped = nil
	if err := i.fill(make([]byte, extent.Bytes(i.res.Format()))); err != nil {
		i.native, i.mapped = old, oldMapped
		native.Release()
		return fmt.Errorf("component.Image.Resize(%s): %w", i.res.Name(), err)
	}
	old.Release()
	i.res.Resize(extent)
	return nil
}

// Release implements gfx.Releasable
func (i *Image) Release() {
	i.mapped = nil
	i.native.Release()
}
