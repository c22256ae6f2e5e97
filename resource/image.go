// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"fmt"
	"image"

	"github.com/devblok/korurt/gfx"
)

// NewImage creates an image resource. A nil payload creates a zeroed image,
// otherwise the payload must be exactly extent times pixel size long.
func NewImage(name string, access Access, extent gfx.Extent, format gfx.Format, data []byte) (*Image, error) {
	if extent.Width <= 0 || extent.Height <= 0 {
		return nil, fmt.Errorf("resource.NewImage(%s): invalid extent %s", name, extent)
	}
	if format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("resource.NewImage(%s): invalid format %s", name, format)
	}

	size := extent.Bytes(format)
	payload := make([]byte, size)
	if data != nil {
		if len(data) != size {
			return nil, fmt.Errorf("resource.NewImage(%s): payload is %d bytes, %s %s needs %d", name, len(data), extent, format, size)
		}
		copy(payload, data)
	}

	return &Image{
		name:    name,
		access:  access,
		usage:   gfx.UsageSampled,
		extent:  extent,
		format:  format,
		sampler: gfx.DefaultSampler,
		data:    payload,
	}, nil
}

// ImageFromImage creates an RGBA8 image resource from a decoded image.
func ImageFromImage(name string, access Access, img image.Image) (*Image, error) {
	bounds := img.Bounds()
	pixels, err := GetPixels(img, 0)
	if err != nil {
		return nil, err
	}
	return NewImage(name, access, gfx.Extent{Width: bounds.Dx(), Height: bounds.Dy()}, gfx.FormatRGBA8, pixels)
}

// Image is a two dimensional array of pixels with a sampler description.
type Image struct {
	name    string
	access  Access
	usage   gfx.Usage
	extent  gfx.Extent
	format  gfx.Format
	sampler gfx.Sampler
	data    []byte
}

// Type implements Resource
func (i *Image) Type() Type {
	return TypeImage
}

// Access implements Resource
func (i *Image) Access() Access {
	return i.access
}

// Name implements Resource
func (i *Image) Name() string {
	return i.name
}

// Bytes implements Resource
func (i *Image) Bytes() []byte {
	return i.data
}

// Dimensions returns the extent of the image.
func (i *Image) Dimensions() gfx.Extent {
	return i.extent
}

// Format returns the pixel format.
func (i *Image) Format() gfx.Format {
	return i.format
}

// Sampler returns the sampler description.
func (i *Image) Sampler() gfx.Sampler {
	return i.sampler
}

// Usage returns the ways the image is bound.
func (i *Image) Usage() gfx.Usage {
	return i.usage
}

// WithSampler sets the sampler description and returns the image.
func (i *Image) WithSampler(s gfx.Sampler) *Image {
	i.sampler = s
	return i
}

// WithUsage sets the usage flags and returns the image.
func (i *Image) WithUsage(u gfx.Usage) *Image {
	i.usage = u
	return i
}

// Resize changes the declared dimensions. The payload is reset to zero,
// pixels of a different extent are not meaningful.
func (i *Image) Resize(extent gfx.Extent) {
	if !i.access.Variable() {
		gfx.Violation("resource.Image.Resize", "resize of %s image %q", i.access, i.name)
	}
	i.extent = extent
	i.data = make([]byte, extent.Bytes(i.format))
}

func (i *Image) String() string {
	return fmt.Sprintf("image %q (%s, %s %s)", i.name, i.access, i.extent, i.format)
}
